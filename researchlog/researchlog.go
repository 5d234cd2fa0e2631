// Package researchlog writes a per-session research log as newline-delimited
// JSON, one entry per line, in <dir>/<session-id>.ndjson.
package researchlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MaxSessionIDLength bounds sanitized session ids.
const MaxSessionIDLength = 100

// ErrInvalidSessionID is returned for ids that sanitize to nothing.
var ErrInvalidSessionID = errors.New("invalid session id")

// Entry is one research log line.
type Entry struct {
	Time    time.Time      `json:"time"`
	Session string         `json:"session"`
	Kind    string         `json:"kind"`
	Step    int            `json:"step"`
	Phase   string         `json:"phase,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// SanitizeID keeps [A-Za-z0-9_-] and truncates to MaxSessionIDLength.
func SanitizeID(id string) (string, error) {
	var b strings.Builder
	for _, r := range id {
		if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == MaxSessionIDLength {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return b.String(), nil
}

// FileSink appends entries to per-session files under a directory. It is safe
// for concurrent use.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates the directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create research log dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the log file of a session.
func (s *FileSink) Path(sessionID string) (string, error) {
	id, err := SanitizeID(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+".ndjson"), nil
}

// Append writes one entry. Session is set from sessionID and Time defaults to
// now.
func (s *FileSink) Append(sessionID string, e Entry) error {
	path, err := s.Path(sessionID)
	if err != nil {
		return err
	}
	e.Session = sessionID
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode research log entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open research log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write research log: %w", err)
	}
	return f.Close()
}

// ReadAll returns all entries of a session. Malformed lines are skipped; a
// missing file yields no entries.
func (s *FileSink) ReadAll(sessionID string) ([]Entry, error) {
	path, err := s.Path(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open research log: %w", err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read research log: %w", err)
	}
	return out, nil
}

// Delete removes a session's log. A missing file is not an error.
func (s *FileSink) Delete(sessionID string) error {
	path, err := s.Path(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete research log: %w", err)
	}
	return nil
}
