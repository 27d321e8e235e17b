package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T) (*Manager, *conductor.Conductor, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.Init(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	c := conductor.NewConductor(conductor.Options{Store: conductor.NewMemoryStore(l)})
	t.Cleanup(func() {
		c.Close()
		l.Close()
	})
	return NewManager(c, l, 10, nil), c, l
}

func TestManager_AnalyzeRecords(t *testing.T) {
	ctx := context.Background()
	m, c, l := newTestManager(t)

	res, err := m.Analyze(ctx, "", "Research the top 5 vector database vendors", nil, false)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, DefaultSession, res.Session)
	assert.Equal(t, types.CategoryResearchTask, res.Decision.Category)

	rec, err := l.GetDecision(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultSession, rec.Session)
	assert.Equal(t, res.Decision.Category, rec.Decision.Category)

	stats, ok := c.Patterns()[res.Decision.PatternKey()]
	require.True(t, ok, "pattern should be counted")
	assert.Equal(t, 1, stats.Count)
}

func TestManager_DryRunDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	m, c, l := newTestManager(t)

	res, err := m.Analyze(ctx, "s1", "What is a closure?", nil, true)
	require.NoError(t, err)
	assert.Empty(t, res.ID)
	assert.Empty(t, c.Patterns())

	recent, err := l.RecentDecisions(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestManager_KnowledgeFromHistory(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	requests := []string{
		"Write a function to parse a react component tree",
		"Implement a function for the react project router",
		"Debug why the react app crashes on startup",
	}
	for _, r := range requests {
		_, err := m.Analyze(ctx, "web", r, nil, false)
		require.NoError(t, err)
	}

	k, err := m.Knowledge(ctx, "web")
	require.NoError(t, err)
	assert.Len(t, k.RecentPatterns, len(requests))
	require.NotNil(t, k.CurrentFocus)
	assert.Equal(t, "react", *k.CurrentFocus)

	other, err := m.Knowledge(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Empty(t, other.RecentPatterns, "sessions must not share history")
}

func TestManager_Learn(t *testing.T) {
	ctx := context.Background()
	m, _, l := newTestManager(t)

	res, err := m.Analyze(ctx, "s1", "Implement a function that reverses a string", nil, false)
	require.NoError(t, err)

	learned, err := m.Learn(ctx, res.ID, types.Outcome{Success: true, Duration: 12})
	require.NoError(t, err)

	assert.Equal(t, res.Decision.PatternKey(), learned.PatternKey)
	assert.Equal(t, 1, learned.Pattern.Outcomes)
	assert.InDelta(t, 0.6, learned.Pattern.SuccessRate, 1e-9)
	assert.InDelta(t, 12.0, learned.Pattern.AvgDuration, 1e-9)
	assert.InDelta(t, 0.6, learned.SessionSuccessRate, 1e-9)

	// The ledger replay agrees with the in-memory blend
	rates, err := l.SessionSuccessRates(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, learned.SessionSuccessRate, rates[string(learned.Category)], 1e-9)

	_, err = m.Learn(ctx, "no-such-decision", types.Outcome{Success: true})
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestManager_LearnOncePerDecision(t *testing.T) {
	ctx := context.Background()
	m, c, l := newTestManager(t)

	res, err := m.Analyze(ctx, "s1", "Implement a function that reverses a string", nil, false)
	require.NoError(t, err)
	_, err = m.Learn(ctx, res.ID, types.Outcome{Success: true, Duration: 12})
	require.NoError(t, err)
	before := c.Patterns()

	_, err = m.Learn(ctx, res.ID, types.Outcome{Success: false, Duration: 90})
	assert.ErrorIs(t, err, ledger.ErrAlreadyLearned)
	assert.Equal(t, before, c.Patterns())

	stats, err := l.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalOutcomes)
}

// failingStore is a ledger whose writes fail
type failingStore struct {
	*ledger.Ledger
	err error
}

func (s failingStore) RecordDecision(ctx context.Context, session, request string, d types.Decision) (string, error) {
	return "", s.err
}

func (s failingStore) RecordOutcome(ctx context.Context, decisionID string, o types.Outcome) error {
	return s.err
}

func TestManager_StoreFailureLeavesPatterns(t *testing.T) {
	ctx := context.Background()
	m, c, l := newTestManager(t)

	res, err := m.Analyze(ctx, "s1", "Implement a function that reverses a string", nil, false)
	require.NoError(t, err)
	before := c.Patterns()

	diskFull := errors.New("disk full")
	failing := NewManager(c, failingStore{Ledger: l, err: diskFull}, 10, nil)

	_, err = failing.Analyze(ctx, "s1", "Implement a function that reverses a string", nil, false)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, before, c.Patterns(), "a failed decision write must not count the pattern")

	_, err = failing.Learn(ctx, res.ID, types.Outcome{Success: true, Duration: 12})
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, before, c.Patterns(), "a failed outcome write must not move the stats")

	// The failed outcome can still be reported through a working store
	learned, err := m.Learn(ctx, res.ID, types.Outcome{Success: true, Duration: 12})
	require.NoError(t, err)
	assert.Equal(t, 1, learned.Pattern.Outcomes)
}

func TestMerge(t *testing.T) {
	focus := "api"
	derived := types.Knowledge{
		ExpertiseLevel: conductor.ExpertiseIntermediate,
		RecentPatterns: []string{"code_generation"},
		SuccessHistory: map[string]float64{"code_generation": 0.4, "debugging": 0.7},
		Preferences:    map[string]string{"style": "terse"},
	}

	t.Run("nil override", func(t *testing.T) {
		got := Merge(derived, nil)
		assert.Equal(t, derived, got)
	})

	t.Run("override wins", func(t *testing.T) {
		got := Merge(derived, &types.Knowledge{
			ExpertiseLevel:   conductor.ExpertiseExpert,
			CurrentFocus:     &focus,
			PreferredWorkers: []types.Worker{types.WorkerToolCurator},
			SuccessHistory:   map[string]float64{"code_generation": 0.9},
			Preferences:      map[string]string{"language": "go"},
		})

		assert.Equal(t, conductor.ExpertiseExpert, got.ExpertiseLevel)
		assert.Equal(t, &focus, got.CurrentFocus)
		assert.Equal(t, []string{"code_generation"}, got.RecentPatterns)
		assert.Equal(t, []types.Worker{types.WorkerToolCurator}, got.PreferredWorkers)
		assert.Equal(t, map[string]float64{"code_generation": 0.9, "debugging": 0.7}, got.SuccessHistory)
		assert.Equal(t, map[string]string{"style": "terse", "language": "go"}, got.Preferences)

		// derived maps are untouched
		assert.InDelta(t, 0.4, derived.SuccessHistory["code_generation"], 1e-9)
		assert.NotContains(t, derived.Preferences, "language")
	})
}
