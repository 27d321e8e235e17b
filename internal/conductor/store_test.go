package conductor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePersister implements Persister over a map, merging like the ledger does
type fakePersister struct {
	mu      sync.Mutex
	saved   map[string]types.PatternStats
	saves   int
	saveErr error
	loadErr error
}

func (f *fakePersister) SavePatterns(ctx context.Context, changes []PatternChange) (map[string]types.PatternStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if f.saved == nil {
		f.saved = make(map[string]types.PatternStats)
	}

	merged := make(map[string]types.PatternStats)
	for _, c := range changes {
		ps, ok := merged[c.Key]
		if !ok {
			ps, ok = f.saved[c.Key]
			if ok {
				ps = ps.Clone()
			} else {
				ps = types.NewPatternStats()
			}
		}
		c.Apply(&ps)
		merged[c.Key] = ps
	}
	for k, v := range merged {
		f.saved[k] = v.Clone()
	}
	return merged, nil
}

func (f *fakePersister) LoadPatterns(ctx context.Context) (map[string]types.PatternStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string]types.PatternStats, len(f.saved))
	for k, v := range f.saved {
		out[k] = v.Clone()
	}
	return out, nil
}

func (f *fakePersister) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakePersister) stored(key string) (types.PatternStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps, ok := f.saved[key]
	return ps, ok
}

func recordChange(key string, workers ...types.Worker) PatternChange {
	return PatternChange{Key: key, Workers: workers}
}

func outcomeChange(key string, success bool, duration float64) PatternChange {
	return PatternChange{Key: key, Outcome: &types.Outcome{Success: success, Duration: duration}}
}

func TestPatternChange_Apply(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		changes []PatternChange
		want    types.PatternStats
	}{
		{
			name:    "record counts workers",
			changes: []PatternChange{recordChange("k", types.WorkerLeadDeveloper, types.WorkerToolCurator)},
			want: types.PatternStats{
				Count: 1, SuccessRate: 0.5,
				Workers: map[types.Worker]int{types.WorkerLeadDeveloper: 1, types.WorkerToolCurator: 1},
			},
		},
		{
			name:    "first outcome seeds the average",
			changes: []PatternChange{outcomeChange("k", true, 40)},
			want: types.PatternStats{
				Outcomes: 1, SuccessRate: 0.6, AvgDuration: 40,
				Workers: map[types.Worker]int{},
			},
		},
		{
			name:    "later outcomes blend",
			changes: []PatternChange{outcomeChange("k", true, 40), outcomeChange("k", false, 10)},
			want: types.PatternStats{
				Outcomes: 2, SuccessRate: 0.48, AvgDuration: 31,
				Workers: map[types.Worker]int{},
			},
		},
		{
			name:    "negative duration counts as zero",
			changes: []PatternChange{outcomeChange("k", true, -5)},
			want: types.PatternStats{
				Outcomes: 1, SuccessRate: 0.6, AvgDuration: 0,
				Workers: map[types.Worker]int{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := types.NewPatternStats()
			for _, c := range tt.changes {
				c.At = at
				c.Apply(&ps)
			}
			tt.want.UpdatedAt = at
			assert.Equal(t, tt.want.Count, ps.Count)
			assert.Equal(t, tt.want.Outcomes, ps.Outcomes)
			assert.InDelta(t, tt.want.SuccessRate, ps.SuccessRate, 1e-9)
			assert.InDelta(t, tt.want.AvgDuration, ps.AvgDuration, 1e-9)
			assert.Equal(t, tt.want.Workers, ps.Workers)
			assert.Equal(t, tt.want.UpdatedAt, ps.UpdatedAt)
		})
	}
}

func TestMemoryStore_Apply(t *testing.T) {
	s := NewMemoryStore(nil)

	_, ok := s.Get("code_generation:6")
	assert.False(t, ok)

	stats := s.Apply(recordChange("code_generation:6", types.WorkerLeadDeveloper))
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, 1, stats.Workers[types.WorkerLeadDeveloper])
	assert.False(t, stats.UpdatedAt.IsZero())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.Pending(), "nothing is queued without a persister")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(nil)
	s.Apply(recordChange("k", types.WorkerToolCurator))

	got, ok := s.Get("k")
	require.True(t, ok)
	got.Workers[types.WorkerToolCurator] = 99

	snap := s.Snapshot()
	snap["k"].Workers[types.WorkerToolCurator] = 42

	again, _ := s.Get("k")
	assert.Equal(t, 1, again.Workers[types.WorkerToolCurator])
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{}
	s := NewMemoryStore(p)
	for i := 0; i < 3; i++ {
		s.Apply(recordChange("research_task:5"))
	}
	assert.Equal(t, 3, s.Pending())

	require.NoError(t, s.Save(ctx))
	assert.Equal(t, 1, p.saveCount())
	assert.Equal(t, 0, s.Pending())

	require.NoError(t, s.Save(ctx))
	assert.Equal(t, 1, p.saveCount(), "an empty save does not reach the persister")

	restored := NewMemoryStore(p)
	restored.Apply(recordChange("simple_query:2"))
	require.NoError(t, restored.Load(ctx))

	got, ok := restored.Get("research_task:5")
	require.True(t, ok)
	assert.Equal(t, 3, got.Count)

	_, ok = restored.Get("simple_query:2")
	assert.True(t, ok, "keys absent from storage should survive a load")
}

func TestMemoryStore_SaveMergesWithStored(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{}
	const key = "simple_query:2"

	// Both stores start from the same empty state
	stale := NewMemoryStore(p)
	fresh := NewMemoryStore(p)
	require.NoError(t, stale.Load(ctx))
	require.NoError(t, fresh.Load(ctx))

	stale.Apply(recordChange(key, types.WorkerResearchSpecialist))
	for i := 0; i < 5; i++ {
		fresh.Apply(outcomeChange(key, true, 4))
	}

	require.NoError(t, fresh.Save(ctx))
	require.NoError(t, stale.Save(ctx))

	stored, ok := p.stored(key)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Count)
	assert.Equal(t, 5, stored.Outcomes)
	assert.InDelta(t, 0.83616, stored.SuccessRate, 1e-9)
	assert.InDelta(t, 4.0, stored.AvgDuration, 1e-9)

	// The later saver adopts the merged stats
	got, _ := stale.Get(key)
	assert.Equal(t, stored.Outcomes, got.Outcomes)
	assert.InDelta(t, stored.SuccessRate, got.SuccessRate, 1e-9)
}

func TestMemoryStore_LoadReplaysPending(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{}
	const key = "debugging:4"

	other := NewMemoryStore(p)
	other.Apply(recordChange(key))
	other.Apply(recordChange(key))
	require.NoError(t, other.Save(ctx))

	s := NewMemoryStore(p)
	s.Apply(recordChange(key))
	require.NoError(t, s.Load(ctx))

	got, _ := s.Get(key)
	assert.Equal(t, 3, got.Count, "unsaved changes stay on top of loaded stats")
	assert.Equal(t, 1, s.Pending())
}

func TestMemoryStore_FailedSaveKeepsChanges(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	p := &fakePersister{saveErr: boom}
	s := NewMemoryStore(p)

	s.Apply(recordChange("k"))
	assert.ErrorIs(t, s.Save(ctx), boom)
	assert.Equal(t, 1, s.Pending())

	s.Apply(recordChange("k"))

	p.mu.Lock()
	p.saveErr = nil
	p.mu.Unlock()

	require.NoError(t, s.Save(ctx))
	stored, ok := p.stored("k")
	require.True(t, ok)
	assert.Equal(t, 2, stored.Count)
	assert.Equal(t, 0, s.Pending())
}

func TestMemoryStore_PersisterErrors(t *testing.T) {
	boom := errors.New("disk full")
	s := NewMemoryStore(&fakePersister{saveErr: boom, loadErr: boom})
	s.Apply(recordChange("k"))

	assert.ErrorIs(t, s.Save(context.Background()), boom)
	assert.ErrorIs(t, s.Load(context.Background()), boom)
}

func TestMemoryStore_NoPersister(t *testing.T) {
	s := NewMemoryStore(nil)
	s.Apply(recordChange("k"))
	assert.NoError(t, s.Save(context.Background()))
	assert.NoError(t, s.Load(context.Background()))
}
