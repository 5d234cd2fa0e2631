// Package config loads researchmesh settings from a YAML file with
// environment overrides and builds the engine, model, tools and logger they
// describe.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/researchmesh/engine"
	"gopkg.in/yaml.v3"
)

// Providers and search backends understood by Build.
var (
	ValidProviders       = []string{"openai", "anthropic", "gemini"}
	ValidSearchProviders = []string{"duckduckgo", "tavily", "brave"}
	ValidLogFormats      = []string{"text", "json"}
	ValidLogBackends     = []string{"slog", "zap"}
)

// Config is the file and environment configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Research ResearchConfig `yaml:"research"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key,omitempty"`
	// Endpoint overrides the provider base URL, e.g. a local
	// OpenAI-compatible server.
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	// AuxiliaryModel serves fact extraction and interventions when set.
	AuxiliaryModel string `yaml:"auxiliary_model,omitempty"`
}

// SearchConfig selects the web_search backend.
type SearchConfig struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key,omitempty"`
	MaxResults int           `yaml:"max_results"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	// TavilyDepth is "basic" or "advanced".
	TavilyDepth string `yaml:"tavily_depth,omitempty"`
	// Fetch enables the web_fetch tool.
	Fetch bool `yaml:"fetch"`
}

// ResearchConfig mirrors engine.Config.
type ResearchConfig struct {
	MaxSteps                int           `yaml:"max_steps"`
	MaxRounds               int           `yaml:"max_rounds"`
	MaxLoopIterations       int           `yaml:"max_loop_iterations"`
	MaxFacts                int           `yaml:"max_facts"`
	MaxParallelTools        int           `yaml:"max_parallel_tools"`
	ToolTimeout             time.Duration `yaml:"tool_timeout"`
	BatchTimeout            time.Duration `yaml:"batch_timeout"`
	SimilarityThreshold     float64       `yaml:"similarity_threshold"`
	NumericDivergence       float64       `yaml:"numeric_divergence"`
	MinFactsForSynthesis    int           `yaml:"min_facts_for_synthesis"`
	UnproductiveLimit       int           `yaml:"unproductive_limit"`
	TextOnlyLimit           int           `yaml:"text_only_limit"`
	MaxStepsPerQuestion     int           `yaml:"max_steps_per_question"`
	RoundSoftLanding        float64       `yaml:"round_soft_landing"`
	GlobalSoftLandingMargin int           `yaml:"global_soft_landing_margin"`
	ReadinessThreshold      int           `yaml:"readiness_threshold"`
	ContextTokenBudget      int           `yaml:"context_token_budget"`
	PersistDebounce         time.Duration `yaml:"persist_debounce"`
	MaxModelCalls           int           `yaml:"max_model_calls"`
}

// StorageConfig locates the session database and research logs. An empty
// DatabasePath keeps sessions in memory; an empty LogDir disables research
// logs.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	LogDir       string `yaml:"log_dir"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Backend string `yaml:"backend"`
}

// Default returns the default configuration.
func Default() *Config {
	ec := engine.DefaultConfig()
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".researchmesh")
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   4096,
		},
		Search: SearchConfig{
			Provider:    "duckduckgo",
			MaxResults:  5,
			CacheTTL:    15 * time.Minute,
			TavilyDepth: "basic",
			Fetch:       true,
		},
		Research: ResearchConfig{
			MaxSteps:                ec.MaxSteps,
			MaxRounds:               ec.MaxRounds,
			MaxLoopIterations:       ec.MaxLoopIterations,
			MaxFacts:                ec.MaxFacts,
			MaxParallelTools:        ec.MaxParallelTools,
			ToolTimeout:             ec.ToolTimeout,
			BatchTimeout:            ec.BatchTimeout,
			SimilarityThreshold:     ec.SimilarityThreshold,
			NumericDivergence:       ec.NumericDivergence,
			MinFactsForSynthesis:    ec.MinFactsForSynthesis,
			UnproductiveLimit:       ec.UnproductiveLimit,
			TextOnlyLimit:           ec.TextOnlyLimit,
			MaxStepsPerQuestion:     ec.MaxStepsPerQuestion,
			RoundSoftLanding:        ec.RoundSoftLanding,
			GlobalSoftLandingMargin: ec.GlobalSoftLandingMargin,
			ReadinessThreshold:      ec.ReadinessThreshold,
			ContextTokenBudget:      ec.ContextTokenBudget,
			PersistDebounce:         ec.PersistDebounce,
			MaxModelCalls:           ec.MaxModelCalls,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(base, "sessions.db"),
			LogDir:       filepath.Join(base, "logs"),
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Backend: "slog",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies RESEARCHMESH_* settings and provider API keys.
// Keys only fill in what the file left empty.
func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("RESEARCHMESH_PROVIDER", &c.LLM.Provider)
	setString("RESEARCHMESH_MODEL", &c.LLM.Model)
	setString("RESEARCHMESH_ENDPOINT", &c.LLM.Endpoint)
	setString("RESEARCHMESH_SEARCH_PROVIDER", &c.Search.Provider)
	setString("RESEARCHMESH_LOG_LEVEL", &c.Logging.Level)
	setString("RESEARCHMESH_DB", &c.Storage.DatabasePath)
	if err := errors.Join(
		setInt("RESEARCHMESH_MAX_STEPS", &c.Research.MaxSteps),
		setInt("RESEARCHMESH_MAX_ROUNDS", &c.Research.MaxRounds),
	); err != nil {
		return fmt.Errorf("environment override: %w", err)
	}
	c.ResolveAPIKeys()
	return nil
}

// ResolveAPIKeys fills empty provider API keys from the environment. Call it
// again after switching providers.
func (c *Config) ResolveAPIKeys() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if c.Search.APIKey == "" {
		switch c.Search.Provider {
		case "tavily":
			c.Search.APIKey = os.Getenv("TAVILY_API_KEY")
		case "brave":
			c.Search.APIKey = os.Getenv("BRAVE_API_KEY")
		}
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if !contains(ValidProviders, c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("invalid llm provider %q (valid: %v)", c.LLM.Provider, ValidProviders))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm model is required"))
	}
	// A local OpenAI-compatible endpoint usually needs no key.
	if c.LLM.APIKey == "" && c.LLM.Endpoint == "" {
		errs = append(errs, fmt.Errorf("no API key for provider %q (set %s)", c.LLM.Provider, apiKeyEnv(c.LLM.Provider)))
	}
	if !contains(ValidSearchProviders, c.Search.Provider) {
		errs = append(errs, fmt.Errorf("invalid search provider %q (valid: %v)", c.Search.Provider, ValidSearchProviders))
	} else if c.Search.Provider != "duckduckgo" && c.Search.APIKey == "" {
		errs = append(errs, fmt.Errorf("no API key for search provider %q (set %s)", c.Search.Provider, apiKeyEnv(c.Search.Provider)))
	}
	if !contains(ValidLogFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}
	if !contains(ValidLogBackends, c.Logging.Backend) {
		errs = append(errs, fmt.Errorf("invalid log backend %q", c.Logging.Backend))
	}
	if err := c.EngineConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EngineConfig converts the research section.
func (c *Config) EngineConfig() engine.Config {
	r := c.Research
	return engine.Config{
		MaxSteps:                r.MaxSteps,
		MaxRounds:               r.MaxRounds,
		MaxLoopIterations:       r.MaxLoopIterations,
		MaxFacts:                r.MaxFacts,
		MaxParallelTools:        r.MaxParallelTools,
		ToolTimeout:             r.ToolTimeout,
		BatchTimeout:            r.BatchTimeout,
		SimilarityThreshold:     r.SimilarityThreshold,
		NumericDivergence:       r.NumericDivergence,
		MinFactsForSynthesis:    r.MinFactsForSynthesis,
		UnproductiveLimit:       r.UnproductiveLimit,
		TextOnlyLimit:           r.TextOnlyLimit,
		MaxStepsPerQuestion:     r.MaxStepsPerQuestion,
		RoundSoftLanding:        r.RoundSoftLanding,
		GlobalSoftLandingMargin: r.GlobalSoftLandingMargin,
		ReadinessThreshold:      r.ReadinessThreshold,
		ContextTokenBudget:      r.ContextTokenBudget,
		PersistDebounce:         r.PersistDebounce,
		MaxModelCalls:           r.MaxModelCalls,
	}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "tavily":
		return "TAVILY_API_KEY"
	case "brave":
		return "BRAVE_API_KEY"
	default:
		return "an API key"
	}
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
