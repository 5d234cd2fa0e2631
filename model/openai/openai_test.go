package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/researchmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "local",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "searching",
      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "web_search", "arguments": "{\"query\":\"go generics\"}"}}]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newServer(t *testing.T, hits *int32, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateNonStreaming(t *testing.T) {
	var hits int32
	var captured map[string]any
	srv := newServer(t, &hits, &captured)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
		o.Model = "local"
	})

	tools := []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
		Name:        "web_search",
		Description: "Search the web",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
	}}}

	resp, err := model.Call(context.Background(), m, model.NewRequest("system text", "user text", tools))
	require.NoError(t, err)

	assert.Equal(t, "searching", resp.Content)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"go generics"}`, string(resp.ToolCalls[0].Function.Arguments))
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Len(t, captured["tools"], 1)
}

func TestGenerateUsesPerRequestEndpoint(t *testing.T) {
	var defaultHits, endpointHits int32
	def := newServer(t, &defaultHits, nil)
	alt := newServer(t, &endpointHits, nil)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = def.URL + "/"
	})

	req := model.NewRequest("s", "u", nil)
	req.Endpoint = alt.URL + "/"

	_, err := model.Call(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&defaultHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&endpointHits))
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "gpt-test"; o.APIKey = "x" })
	assert.Equal(t, model.Info{Name: "gpt-test", Provider: "openai", SupportsTools: true}, m.Info())
}
