package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{"debug": LogLevelDebug, "INFO": LogLevelInfo, "": LogLevelInfo, "warning": LogLevelWarn, "error": LogLevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestResearchLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("engine").
		WithRun("run-1")

	l.Info("research.step.completed", "step", 3, "phase", "gathering")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "research.step.completed", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, float64(3), entry["step"])
	assert.Equal(t, "gathering", entry["phase"])
}

func TestResearchLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Error("research.tool.failed", "tool", "web_search", "error", "boom")
	assert.Contains(t, buf.String(), "research.tool.failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Warn("research.guardrail.triggered", "guardrail", "soft_landing")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "research.guardrail.triggered", entry.Message)
	assert.Equal(t, "soft_landing", entry.ContextMap()["guardrail"])
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
	l := NewDefaultSlogLogger()
	assert.Same(t, l, OrNoOp(l))
}

func TestScoped(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	Scoped(base, "run-7", "executor").Info("research.tool.executed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "run-7", entry["run_id"])

	assert.IsType(t, NoOpLogger{}, Scoped(nil, "run-7", "engine"))
	zl := NewZapAdapter(zap.NewNop())
	assert.Same(t, zl, Scoped(zl, "run-7", "engine"))
}

func TestSync(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	zl := NewZapAdapter(zap.New(core))
	zl.Info("research.run.finished")

	require.NoError(t, Sync(zl))
	assert.Equal(t, 1, logs.Len())
	assert.NoError(t, Sync(NoOpLogger{}))
	assert.NoError(t, Sync(NewDefaultSlogLogger()))
}
