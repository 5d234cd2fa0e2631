package websearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/tool"
)

// ToolName is the name under which the search tool is registered.
const ToolName = "web_search"

// Options configures the web_search tool.
type Options struct {
	// MaxResults caps the number of results a single call may request.
	MaxResults int
}

// New returns the web_search tool backed by provider.
func New(provider Provider, optFns ...func(o *Options)) *tool.FunctionTool {
	opts := Options{MaxResults: DefaultMaxResults}
	for _, fn := range optFns {
		fn(&opts)
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query. Be specific; reformulate instead of repeating earlier searches.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of results (default %d)", opts.MaxResults),
			},
		},
		"required": []string{"query"},
	}

	return tool.NewFunctionTool(
		ToolName,
		"Search the web and return result titles, URLs and snippets",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			query = strings.TrimSpace(query)
			if query == "" {
				return nil, tool.NewToolError(ToolName, "query is empty", tool.CodeValidation)
			}

			n := opts.MaxResults
			if v, ok := args["max_results"].(float64); ok && int(v) > 0 && int(v) < n {
				n = int(v)
			}
			if v, ok := args["max_results"].(int); ok && v > 0 && v < n {
				n = v
			}

			results, err := provider.Search(ctx, query, n)
			if err != nil {
				return nil, err
			}
			return Response{Query: query, Provider: provider.Name(), Results: results}, nil
		},
	)
}
