package main

import (
	"bytes"
	"testing"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/intervention"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want intervention.Command
	}{
		{"/wrap", intervention.Command{Kind: intervention.WrapUp}},
		{"  /done ", intervention.Command{Kind: intervention.WrapUp}},
		{"/skip 2", intervention.Command{Kind: intervention.SkipQuestion, Number: 2}},
		{"/skip #3", intervention.Command{Kind: intervention.SkipQuestion, Number: 3}},
		{"/skip q_ab12", intervention.Command{Kind: intervention.SkipQuestion, QuestionID: "q_ab12"}},
		{"/skip-all", intervention.Command{Kind: intervention.SkipAllPending}},
		{"/add What about heat pump noise?", intervention.Command{Kind: intervention.AddQuestion, Text: "What about heat pump noise?"}},
		{"/force 1", intervention.Command{Kind: intervention.ForceAnswer, Number: 1}},
		{"/more", intervention.Command{Kind: intervention.GenerateMoreQuestions}},
		{"/expand 4", intervention.Command{Kind: intervention.ExpandQuestion, Number: 4}},
		{"/DEEPER", intervention.Command{Kind: intervention.GoDeeper}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, line := range []string{"wrap", "/unknown", "/skip", "/add", "/force   ", "/skip 0"} {
		t.Run(line, func(t *testing.T) {
			_, err := parseCommand(line)
			assert.Error(t, err)
		})
	}
}

func TestPrintResult(t *testing.T) {
	report := "Heat pumps use less energy [f_1]."
	state := core.NewResearchState("heat pumps", "m1", "c1", 10, 2)
	state.FinalReport = &report
	state.Citations = []core.Citation{
		{FactID: "f_1", SourceURL: "https://example.com/a", SourceTitle: "Study A"},
		{FactID: "f_2", SourceURL: "https://example.com/b"},
	}
	state.KnowledgeGaps = []string{"Stalled on: installation cost"}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, state))
	out := buf.String()
	assert.Contains(t, out, report)
	assert.Contains(t, out, "[1] Study A <https://example.com/a>")
	assert.Contains(t, out, "[2] https://example.com/b <https://example.com/b>")
	assert.Contains(t, out, "- Stalled on: installation cost")
}

func TestPrintResult_JSON(t *testing.T) {
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	state := core.NewResearchState("heat pumps", "m1", "c1", 10, 2)
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, state))

	got, err := core.UnmarshalState(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MessageID)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
