package executor

import (
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/tool"
)

// Internal tool names. They are answered by the executor itself.
const (
	AssessProgressTool   = "assess_progress"
	RequestSynthesisTool = "request_synthesis"
)

// IsInternal reports whether name is handled without an external call.
func IsInternal(name string) bool {
	return name == AssessProgressTool || name == RequestSynthesisTool
}

var internalParams = map[string]map[string]any{
	AssessProgressTool: {
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string", "description": "What has been learned so far"},
			"gaps": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Knowledge gaps still open",
			},
		},
		"required": []string{"summary"},
	},
	RequestSynthesisTool: {
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Why the evidence is sufficient"},
		},
		"required": []string{"reason"},
	},
}

// InternalDefinitions returns the declarations of the internal tools.
func InternalDefinitions() []model.ToolDefinition {
	return []model.ToolDefinition{
		{Type: "function", Function: model.FunctionDefinition{
			Name:        AssessProgressTool,
			Description: "Record a short progress assessment and any knowledge gaps. Does not search.",
			Parameters:  internalParams[AssessProgressTool],
		}},
		{Type: "function", Function: model.FunctionDefinition{
			Name:        RequestSynthesisTool,
			Description: "Ask to stop gathering and write the final report. Only accepted once enough facts exist.",
			Parameters:  internalParams[RequestSynthesisTool],
		}},
	}
}

// Definitions merges the catalog's tools with the internal tools.
func Definitions(catalog tool.Catalog) []model.ToolDefinition {
	var defs []model.ToolDefinition
	if catalog != nil {
		defs = append(defs, catalog.Definitions()...)
	}
	return append(defs, InternalDefinitions()...)
}

func (e *Executor) runInternal(res *BatchResult, obs core.Observation) core.Observation {
	obs.Internal = true
	if err := util.ValidateParameters(obs.Args, internalParams[obs.ToolName]); err != nil {
		obs.Error = err.Error()
		return obs
	}

	switch obs.ToolName {
	case AssessProgressTool:
		summary, _ := obs.Args["summary"].(string)
		res.State.LogActivity("assessment", strings.TrimSpace(summary))
		added := 0
		if gaps, ok := obs.Args["gaps"].([]any); ok {
			for _, g := range gaps {
				if s, ok := g.(string); ok && res.State.AddGap(s) {
					added++
				}
			}
		}
		obs.Data = fmt.Sprintf("Progress recorded. %d new knowledge gap(s) noted.", added)

	case RequestSynthesisTool:
		have, need := len(res.State.GatheredFacts), e.opts.MinFactsForSynthesis
		if have < need {
			obs.Error = fmt.Sprintf("synthesis rejected: %d fact(s) gathered, at least %d required. Keep researching.", have, need)
			e.opts.Logger.Info("research.synthesis.rejected", "facts", have, "required", need)
			return obs
		}
		reason, _ := obs.Args["reason"].(string)
		res.State.LogActivity("synthesis-requested", strings.TrimSpace(reason))
		res.TransitionSignal = core.PhaseSynthesizing
		obs.Data = "Synthesis accepted. The final report will be written next."
	}
	return obs
}
