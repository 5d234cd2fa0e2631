package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/phase"
	"github.com/spf13/cobra"
)

var (
	researchProvider  string
	researchModel     string
	researchEndpoint  string
	researchSearch    string
	researchMaxSteps  int
	researchMaxRounds int
	researchQuiet     bool
)

var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Run a research session",
	Long: `Runs a research session for the query and prints the final report.

While the session runs, commands typed on stdin steer it:
  /wrap            stop gathering and write the report now
  /skip <n>        skip question n
  /skip-all        skip all pending questions
  /add <text>      add a question at the highest priority
  /force <n>       answer question n from the facts gathered so far
  /more            let the model propose more questions
  /expand <n>      split question n into sub-questions
  /deeper          add deeper follow-up questions

Ctrl+C cancels the session; the partial state is kept.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	f := researchCmd.Flags()
	f.StringVar(&researchProvider, "provider", "", "LLM provider (openai, anthropic, gemini)")
	f.StringVar(&researchModel, "model", "", "Model name")
	f.StringVar(&researchEndpoint, "endpoint", "", "Model endpoint, e.g. a local OpenAI-compatible server")
	f.StringVar(&researchSearch, "search", "", "Search provider (duckduckgo, tavily, brave)")
	f.IntVar(&researchMaxSteps, "max-steps", 0, "Step budget")
	f.IntVar(&researchMaxRounds, "max-rounds", 0, "Research rounds")
	f.BoolVarP(&researchQuiet, "quiet", "q", false, "Do not print progress")
}

func runResearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if researchProvider != "" {
		cfg.LLM.Provider = researchProvider
		cfg.LLM.APIKey = ""
	}
	if researchModel != "" {
		cfg.LLM.Model = researchModel
	}
	if researchEndpoint != "" {
		cfg.LLM.Endpoint = researchEndpoint
	}
	if researchSearch != "" {
		cfg.Search.Provider = researchSearch
		cfg.Search.APIKey = ""
	}
	if researchMaxSteps > 0 {
		cfg.Research.MaxSteps = researchMaxSteps
	}
	if researchMaxRounds > 0 {
		cfg.Research.MaxRounds = researchMaxRounds
	}
	cfg.ResolveAPIKeys()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	// Sync on a terminal stderr may fail with EINVAL.
	defer func() { _ = logging.Sync(logger) }()
	m, err := cfg.Model(ctx)
	if err != nil {
		return err
	}
	aux, err := cfg.AuxiliaryModel(ctx)
	if err != nil {
		return err
	}
	tools, err := cfg.Tools()
	if err != nil {
		return err
	}
	store, closer, err := cfg.Store()
	if err != nil {
		return err
	}
	defer closer.Close()
	sink, err := cfg.ResearchLog()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	eng, err := engine.New(m, cfg.EngineOptions(), func(o *engine.Options) {
		o.Tools = tools
		o.Store = store
		o.ResearchLog = sink
		o.Logger = logger
		o.AuxiliaryModel = aux
		if !researchQuiet {
			o.Callbacks = progressCallbacks(stderr)
		}
	})
	if err != nil {
		return err
	}

	run, err := eng.Start(ctx, engine.Request{Query: strings.Join(args, " ")})
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Research %s started. Type /wrap to finish early.\n", run.ID())

	go readCommands(cmd.InOrStdin(), run, stderr)

	state, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if err := printResult(cmd.OutOrStdout(), state); err != nil {
		return err
	}
	if state.Phase == core.PhaseError {
		return fmt.Errorf("research ended with error: %s", state.ErrorMessage)
	}
	return nil
}

// readCommands forwards stdin commands to run until it is done.
func readCommands(in io.Reader, run *engine.Run, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if err := run.Intervene(cmd); err != nil {
			fmt.Fprintln(out, "intervention:", err)
			return
		}
		fmt.Fprintf(out, "queued %s\n", cmd)
	}
}

func progressCallbacks(w io.Writer) []engine.Callback {
	return []engine.Callback{
		engine.NewFunctionCallback(engine.CallbackStepCompleted, func(_ context.Context, cc *engine.CallbackContext) error {
			st := cc.State
			fmt.Fprintf(w, "[%d/%d] %s (%d facts)\n", st.CurrentStep, st.MaxSteps, phase.ActiveSummary(st), len(st.GatheredFacts))
			return nil
		}),
		engine.NewFunctionCallback(engine.CallbackGuardrail, func(_ context.Context, cc *engine.CallbackContext) error {
			fmt.Fprintf(w, "  guardrail: %s (%v)\n", cc.Message, cc.Metadata["reason"])
			return nil
		}),
		engine.NewFunctionCallback(engine.CallbackIntervention, func(_ context.Context, cc *engine.CallbackContext) error {
			fmt.Fprintf(w, "  intervention: %s\n", cc.Message)
			return nil
		}),
	}
}
