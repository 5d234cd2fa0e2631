// Package intervention lets a human steer a running research session.
//
// Commands are delivered through a Mailbox with a single slot: a newer
// command replaces an unread one, and reading empties the slot, so each
// command is applied at most once. The research loop polls the mailbox at the
// top of every iteration before any model call and hands the command to an
// Applier.
package intervention

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names an intervention command.
type Kind string

const (
	WrapUp                Kind = "wrap-up"
	SkipQuestion          Kind = "skip-question"
	SkipAllPending        Kind = "skip-all-pending"
	AddQuestion           Kind = "add-question"
	ForceAnswer           Kind = "force-answer"
	GenerateMoreQuestions Kind = "generate-more-questions"
	ExpandQuestion        Kind = "expand-question"
	GoDeeper              Kind = "go-deeper"
)

// ErrUnknownCommand is returned for an unsupported command kind.
var ErrUnknownCommand = errors.New("unknown intervention command")

// ErrQuestionNotFound is returned when a command names no existing question.
var ErrQuestionNotFound = errors.New("question not found")

// Command is one intervention. Commands that target a question identify it by
// QuestionID or, when empty, by its 1-based display Number.
type Command struct {
	Kind       Kind   `json:"kind"`
	QuestionID string `json:"questionId,omitempty"`
	Number     int    `json:"number,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Validate checks that the command carries what its kind needs.
func (c Command) Validate() error {
	switch c.Kind {
	case WrapUp, SkipAllPending, GenerateMoreQuestions, GoDeeper:
		return nil
	case SkipQuestion, ForceAnswer, ExpandQuestion:
		if c.QuestionID == "" && c.Number <= 0 {
			return fmt.Errorf("%s: question id or number required", c.Kind)
		}
		return nil
	case AddQuestion:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%s: text required", c.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
}

// String renders the command for logs.
func (c Command) String() string {
	switch {
	case c.QuestionID != "":
		return fmt.Sprintf("%s %s", c.Kind, c.QuestionID)
	case c.Number > 0:
		return fmt.Sprintf("%s #%d", c.Kind, c.Number)
	case c.Text != "":
		return fmt.Sprintf("%s %q", c.Kind, c.Text)
	default:
		return string(c.Kind)
	}
}
