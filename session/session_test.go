package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hupe1980/researchmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*InMemoryStore)(nil)

func newState(id string) core.ResearchState {
	return core.NewResearchState("query "+id, id, "conv", 30, 3)
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	st := newState("m1")
	st.GatheredFacts = append(st.GatheredFacts, core.Fact{ID: "f_1", Claim: "c", SourceURL: "https://a.example.com"})
	require.NoError(t, s.Save(ctx, st))

	st.GatheredFacts[0].Claim = "mutated"
	loaded, err := s.Load(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "c", loaded.GatheredFacts[0].Claim, "store keeps its own copy")

	later := newState("m2")
	later.UpdatedAt = st.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.Save(ctx, later))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m2", list[0].MessageID)
	assert.Equal(t, 1, list[1].Facts)

	require.NoError(t, s.Delete(ctx, "m1"))
	_, err = s.Load(ctx, "m1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, s.Delete(ctx, "m1"), ErrNotFound)
	assert.Error(t, s.Save(ctx, core.ResearchState{}))
}

type recordingStore struct {
	mu     sync.Mutex
	saved  []core.ResearchState
	failOn int
}

func (r *recordingStore) Save(_ context.Context, st core.ResearchState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn > 0 && len(r.saved)+1 == r.failOn {
		r.failOn = 0
		return errors.New("disk full")
	}
	r.saved = append(r.saved, st)
	return nil
}

func (r *recordingStore) Load(context.Context, string) (core.ResearchState, error) {
	return core.ResearchState{}, ErrNotFound
}

func (r *recordingStore) List(context.Context) ([]Summary, error) { return nil, nil }

func (r *recordingStore) Delete(context.Context, string) error { return nil }

func (r *recordingStore) steps() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.saved))
	for i, s := range r.saved {
		out[i] = s.CurrentStep
	}
	return out
}

func TestDebouncer_Coalesces(t *testing.T) {
	rec := &recordingStore{}
	d := NewDebouncer(rec, func(o *DebouncerOptions) { o.Delay = 20 * time.Millisecond })

	st := newState("m1")
	for i := 1; i <= 5; i++ {
		st.CurrentStep = i
		d.Schedule(st)
	}

	require.Eventually(t, func() bool { return len(rec.steps()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{5}, rec.steps())
	require.NoError(t, d.Close(context.Background()))
}

func TestDebouncer_FlushAndSaveNow(t *testing.T) {
	rec := &recordingStore{}
	d := NewDebouncer(rec, func(o *DebouncerOptions) { o.Delay = time.Hour })

	st := newState("m1")
	st.CurrentStep = 1
	d.Schedule(st)
	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, []int{1}, rec.steps())

	st.CurrentStep = 2
	d.Schedule(st)
	st.CurrentStep = 3
	st.Finish(core.PhaseComplete, "")
	require.NoError(t, d.SaveNow(context.Background(), st))
	assert.Equal(t, []int{1, 3}, rec.steps(), "the terminal write replaces the queued one")

	require.NoError(t, d.Close(context.Background()))
	d.Schedule(st)
	require.NoError(t, d.Flush(context.Background()))
	assert.Len(t, rec.steps(), 2, "closed debouncer ignores new states")
}

func TestDebouncer_SaveErrorIsReturned(t *testing.T) {
	rec := &recordingStore{failOn: 1}
	d := NewDebouncer(rec, func(o *DebouncerOptions) { o.Delay = time.Hour })
	err := d.SaveNow(context.Background(), newState("m1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, d.Close(context.Background()))
}

func TestSummarize(t *testing.T) {
	st := newState("m1")
	st.Phase = core.PhaseGathering
	want := Summary{MessageID: "m1", ConversationID: "conv", Query: "query m1", Phase: core.PhaseGathering, UpdatedAt: st.UpdatedAt}
	if diff := cmp.Diff(want, Summarize(st)); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}
