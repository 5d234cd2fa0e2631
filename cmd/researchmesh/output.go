package main

import (
	"fmt"
	"io"

	"github.com/hupe1980/researchmesh/core"
)

// printResult writes the final report and its sources, or the state as JSON.
func printResult(w io.Writer, state core.ResearchState) error {
	if jsonOutput {
		data, err := core.MarshalState(state)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if state.FinalReport != nil {
		fmt.Fprintln(w, *state.FinalReport)
	} else {
		fmt.Fprintf(w, "No report (%s).\n", state.Phase)
	}
	if len(state.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, c := range state.Citations {
			title := c.SourceTitle
			if title == "" {
				title = c.SourceURL
			}
			fmt.Fprintf(w, "  [%d] %s <%s>\n", i+1, title, c.SourceURL)
		}
	}
	if len(state.KnowledgeGaps) > 0 {
		fmt.Fprintln(w, "\nOpen gaps:")
		for _, g := range state.KnowledgeGaps {
			fmt.Fprintf(w, "  - %s\n", g)
		}
	}
	fmt.Fprintf(w, "\n%d steps, %d rounds, %d facts, %d tokens\n",
		state.CurrentStep, state.CurrentRound, len(state.GatheredFacts), state.Usage.TotalTokens)
	return nil
}
