package testutil

import (
	"context"
	"fmt"

	"github.com/hupe1980/researchmesh/similarity"
	"github.com/hupe1980/researchmesh/tool"
)

var queryParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
	},
	"required": []string{"query"},
}

// SearchTool returns a fake web_search tool. Each query yields one result
// whose URL is derived from the normalized query, so distinct queries give
// distinct sources.
func SearchTool() *tool.FunctionTool {
	return tool.NewFunctionTool("web_search", "Fake web search", queryParams,
		func(ctx context.Context, args map[string]any) (any, error) {
			q, _ := args["query"].(string)
			slug := similarity.Normalize(q)
			return map[string]any{
				"query": q,
				"results": []map[string]any{{
					"title":   "Result for " + q,
					"url":     fmt.Sprintf("https://%s.example.com/article", hostLabel(slug)),
					"snippet": "Evidence about " + q,
				}},
			}, nil
		})
}

// BlockingTool returns a web_search tool that blocks until its context ends.
func BlockingTool() *tool.FunctionTool {
	return tool.NewFunctionTool("web_search", "Search that never returns", queryParams,
		func(ctx context.Context, args map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
}

// Registry returns a tool.Registry holding tools.
func Registry(tools ...tool.Tool) *tool.Registry {
	return tool.NewRegistry().MustRegister(tools...)
}

func hostLabel(slug string) string {
	out := make([]rune, 0, len(slug))
	for _, r := range slug {
		if r == ' ' {
			r = '-'
		}
		out = append(out, r)
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return string(out)
}
