package config

import (
	"context"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/model/anthropic"
	"github.com/hupe1980/researchmesh/model/gemini"
	"github.com/hupe1980/researchmesh/model/openai"
	"github.com/hupe1980/researchmesh/researchlog"
	"github.com/hupe1980/researchmesh/session"
	"github.com/hupe1980/researchmesh/session/sqlite"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/hupe1980/researchmesh/tool/webfetch"
	"github.com/hupe1980/researchmesh/tool/websearch"
)

// Logger builds the configured logger.
func (c *Config) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	if c.Logging.Backend == "zap" {
		return logging.NewZapLogger(level, c.Logging.Format)
	}
	return logging.NewSlogLogger(level, c.Logging.Format, false), nil
}

// Model builds the main model.
func (c *Config) Model(ctx context.Context) (model.Model, error) {
	return c.buildModel(ctx, c.LLM.Model)
}

// AuxiliaryModel builds the model for auxiliary calls, or returns nil when
// the main model serves them too.
func (c *Config) AuxiliaryModel(ctx context.Context) (model.Model, error) {
	if c.LLM.AuxiliaryModel == "" || c.LLM.AuxiliaryModel == c.LLM.Model {
		return nil, nil
	}
	return c.buildModel(ctx, c.LLM.AuxiliaryModel)
}

func (c *Config) buildModel(ctx context.Context, name string) (model.Model, error) {
	llm := c.LLM
	switch llm.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.Model = name
			o.APIKey = llm.APIKey
			o.BaseURL = llm.Endpoint
			o.Temperature = llm.Temperature
			o.MaxCompletionTokens = llm.MaxTokens
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(name)
			o.APIKey = llm.APIKey
			o.BaseURL = llm.Endpoint
			o.Temperature = llm.Temperature
			o.MaxTokens = llm.MaxTokens
		}), nil
	case "gemini":
		m, err := gemini.NewModel(ctx, func(o *gemini.Options) {
			o.Model = name
			o.APIKey = llm.APIKey
			o.BaseURL = llm.Endpoint
			o.Temperature = float32(llm.Temperature)
			o.MaxOutputTokens = int32(llm.MaxTokens)
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", llm.Provider)
	}
}

// Tools builds the web_search tool, plus web_fetch when enabled.
func (c *Config) Tools() (*tool.Registry, error) {
	var provider websearch.Provider
	switch c.Search.Provider {
	case "tavily":
		provider = websearch.NewTavily(c.Search.APIKey, c.Search.TavilyDepth)
	case "brave":
		provider = websearch.NewBrave(c.Search.APIKey)
	case "duckduckgo":
		provider = websearch.NewDuckDuckGo()
	default:
		return nil, fmt.Errorf("unsupported search provider %q", c.Search.Provider)
	}
	if c.Search.CacheTTL > 0 {
		provider = websearch.NewCached(provider, c.Search.CacheTTL)
	}

	tools := []tool.Tool{websearch.New(provider, func(o *websearch.Options) {
		if c.Search.MaxResults > 0 {
			o.MaxResults = c.Search.MaxResults
		}
	})}
	if c.Search.Fetch {
		tools = append(tools, webfetch.New())
	}

	reg := tool.NewRegistry()
	if err := reg.Register(tools...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Store opens the session store. The returned closer releases it.
func (c *Config) Store() (session.Store, io.Closer, error) {
	if c.Storage.DatabasePath == "" {
		return session.NewInMemoryStore(), nopCloser{}, nil
	}
	st, err := sqlite.Open(c.Storage.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

// ResearchLog opens the research log sink, or returns nil when disabled.
func (c *Config) ResearchLog() (*researchlog.FileSink, error) {
	if c.Storage.LogDir == "" {
		return nil, nil
	}
	return researchlog.NewFileSink(c.Storage.LogDir)
}

// EngineOptions returns an engine option applying the research section and
// the endpoint. Collaborators (tools, store, logger) are set by the caller.
func (c *Config) EngineOptions() func(o *engine.Options) {
	return func(o *engine.Options) {
		o.Config = c.EngineConfig()
		o.Endpoint = c.LLM.Endpoint
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
