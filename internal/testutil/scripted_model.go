package testutil

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/researchmesh/model"
)

// Reply computes one scripted model response.
type Reply func(req model.Request) (model.Response, error)

// Text replies with fixed content.
func Text(content string) Reply {
	return func(model.Request) (model.Response, error) {
		return model.Response{Content: content}, nil
	}
}

// JSON replies with v encoded as JSON.
func JSON(v any) Reply {
	b, err := json.Marshal(v)
	return func(model.Request) (model.Response, error) {
		if err != nil {
			return model.Response{}, err
		}
		return model.Response{Content: string(b)}, nil
	}
}

// Tools replies with tool calls.
func Tools(calls ...model.ToolCall) Reply {
	return func(model.Request) (model.Response, error) {
		return model.Response{ToolCalls: calls}, nil
	}
}

// Fail replies with err.
func Fail(err error) Reply {
	return func(model.Request) (model.Response, error) { return model.Response{}, err }
}

// Call builds a tool call with JSON arguments.
func Call(id, name string, args map[string]any) model.ToolCall {
	raw, _ := json.Marshal(args)
	return model.ToolCall{ID: id, Type: "function", Function: model.ToolCallFunction{Name: name, Arguments: raw}}
}

// ErrNoScript is returned for requests that match no registered marker.
var ErrNoScript = errors.New("no script for request")

type script struct {
	marker  string
	replies []Reply
	calls   int
}

// ScriptedModel is a model.MockModel whose replies are keyed by a marker
// string found in the request (the phase marker of the system message, or
// any text of an auxiliary prompt). Each marker plays its replies in order and
// then repeats the last one.
type ScriptedModel struct {
	*model.MockModel
	mu      sync.Mutex
	scripts []*script
}

// NewScriptedModel creates an empty ScriptedModel.
func NewScriptedModel() *ScriptedModel {
	m := &ScriptedModel{MockModel: model.NewMockModel("scripted", "test")}
	m.SetHandler(m.respond)
	return m
}

// On registers replies for requests containing marker (chainable). Markers
// are matched in registration order.
func (m *ScriptedModel) On(marker string, replies ...Reply) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scripts {
		if s.marker == marker {
			s.replies = append(s.replies, replies...)
			return m
		}
	}
	m.scripts = append(m.scripts, &script{marker: marker, replies: replies})
	return m
}

// Calls returns how many requests matched marker.
func (m *ScriptedModel) Calls(marker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scripts {
		if s.marker == marker {
			return s.calls
		}
	}
	return 0
}

func (m *ScriptedModel) respond(req model.Request) (model.Response, error) {
	text := req.System() + "\n" + req.User()

	m.mu.Lock()
	var reply Reply
	for _, s := range m.scripts {
		if !strings.Contains(text, s.marker) || len(s.replies) == 0 {
			continue
		}
		i := s.calls
		if i >= len(s.replies) {
			i = len(s.replies) - 1
		}
		s.calls++
		reply = s.replies[i]
		break
	}
	m.mu.Unlock()

	if reply == nil {
		return model.Response{}, ErrNoScript
	}
	return reply(req)
}
