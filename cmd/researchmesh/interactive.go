package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/researchmesh/intervention"
)

// parseCommand turns a slash command typed during a run into an
// intervention. Questions are addressed by their 1-based number or their id.
func parseCommand(line string) (intervention.Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return intervention.Command{}, fmt.Errorf("commands start with '/': %q", line)
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	var cmd intervention.Command
	switch strings.ToLower(name) {
	case "wrap", "wrap-up", "done":
		cmd.Kind = intervention.WrapUp
	case "skip":
		cmd.Kind = intervention.SkipQuestion
	case "skip-all":
		cmd.Kind = intervention.SkipAllPending
	case "add":
		cmd.Kind = intervention.AddQuestion
		cmd.Text = arg
	case "force":
		cmd.Kind = intervention.ForceAnswer
	case "more":
		cmd.Kind = intervention.GenerateMoreQuestions
	case "expand":
		cmd.Kind = intervention.ExpandQuestion
	case "deeper":
		cmd.Kind = intervention.GoDeeper
	default:
		return intervention.Command{}, fmt.Errorf("unknown command /%s", name)
	}

	switch cmd.Kind {
	case intervention.SkipQuestion, intervention.ForceAnswer, intervention.ExpandQuestion:
		if arg == "" {
			return intervention.Command{}, fmt.Errorf("/%s needs a question number", name)
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil {
			cmd.Number = n
		} else {
			cmd.QuestionID = arg
		}
	}
	if err := cmd.Validate(); err != nil {
		return intervention.Command{}, err
	}
	return cmd, nil
}
