package researchmesh

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestResearch_ModelFailureIsReportedInState(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.SetHandler(func(model.Request) (model.Response, error) {
		return model.Response{}, errors.New("connection refused")
	})

	var updates int
	mesh, err := New(m, func(o *Options) {
		o.OnStateUpdate = func(core.ResearchState) { updates++ }
	})
	require.NoError(t, err)

	state, err := mesh.Research(context.Background(), "  how do heat pumps work?  ")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseError, state.Phase)
	assert.Contains(t, state.ErrorMessage, "connection refused")
	assert.Equal(t, "how do heat pumps work?", state.OriginalQuery)
	assert.Positive(t, updates)

	stored, err := mesh.Load(context.Background(), state.MessageID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseError, stored.Phase)

	sums, err := mesh.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, state.MessageID, sums[0].MessageID)
}

func TestResearch_EmptyQuery(t *testing.T) {
	mesh, err := New(model.NewMockModel("mock", "test"))
	require.NoError(t, err)

	_, err = mesh.Research(context.Background(), "   ")
	assert.ErrorIs(t, err, engine.ErrEmptyQuery)
}

func TestCancel_UnknownRun(t *testing.T) {
	mesh, err := New(model.NewMockModel("mock", "test"))
	require.NoError(t, err)
	assert.ErrorIs(t, mesh.Cancel("nope"), engine.ErrRunNotFound)
}
