package core

import (
	"encoding/json"
	"fmt"
)

// Observation is the raw, ephemeral result of one tool call. Observations are
// folded into facts or rendered as prompt text within the iteration that
// produced them and are never persisted.
type Observation struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args,omitempty"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duplicate  bool           `json:"duplicate,omitempty"`
	Internal   bool           `json:"internal,omitempty"`
}

// Failed reports whether the observation carries an error payload.
func (o Observation) Failed() bool {
	return o.Error != ""
}

// Text renders the observation payload as prompt text.
func (o Observation) Text() string {
	if o.Failed() {
		return "ERROR: " + o.Error
	}
	switch v := o.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Clone returns a copy with its own argument map. Data is treated as immutable.
func (o Observation) Clone() Observation {
	c := o
	if o.Args != nil {
		c.Args = make(map[string]any, len(o.Args))
		for k, v := range o.Args {
			c.Args[k] = v
		}
	}
	return c
}
