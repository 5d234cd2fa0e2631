package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a short, prompt-friendly identifier: prefix + "_" + 8 hex chars
// of a random UUID (e.g. "f_1a2b3c4d"). An empty prefix yields a full UUID.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
