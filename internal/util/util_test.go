package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\": [1, 2]}\n```\nthanks", `{"a": [1, 2]}`},
		{"think block", "<think>maybe {not json}</think>{\"ok\":true}", `{"ok":true}`},
		{"embedded", `The plan is {"q": "what is } in a string"} done`, `{"q": "what is } in a string"}`},
		{"array", `facts: [{"claim":"x"}]`, `[{"claim":"x"}]`},
		{"none", "no json here", ""},
		{"broken", `{"a": `, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}

func TestParseJSONAndStringList(t *testing.T) {
	r := ParseJSON("```\n{\"gaps\": [\"a\", \"\", 3, \"b\"], \"one\": \"c\"}\n```")
	require.True(t, r.Exists())
	assert.Equal(t, []string{"a", "b"}, StringList(r.Get("gaps")))
	assert.Equal(t, []string{"c"}, StringList(r.Get("one")))
	assert.Nil(t, StringList(r.Get("missing")))

	assert.False(t, ParseJSON("nothing").Exists())
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"depth": map[string]any{"type": "string", "enum": []string{"basic", "advanced"}},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"query": "x", "limit": float64(3)}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)

	require.Error(t, ValidateParameters(map[string]any{"query": "x", "limit": 1.5}, schema))
	require.Error(t, ValidateParameters(map[string]any{"query": "x", "depth": "deep"}, schema))

	decoded := map[string]any{"required": []any{"query"}}
	require.Error(t, ValidateParameters(map[string]any{}, decoded))
}

func TestCreateSchema(t *testing.T) {
	type args struct {
		Query string `json:"query" description:"search terms"`
		Limit int    `json:"limit,omitempty"`
	}
	s := CreateSchema(args{})
	assert.Equal(t, []string{"query"}, s["required"])
	props := s["properties"].(map[string]any)
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Q: {{.query}} <{{join \", \" .items}}> {{truncate 3 .long}}", map[string]any{
		"query": "a & b",
		"items": []string{"x", "y"},
		"long":  "abcdef",
	})
	require.NoError(t, err)
	assert.Equal(t, "Q: a & b <x, y> abc…", out)

	out, err = RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)
}
