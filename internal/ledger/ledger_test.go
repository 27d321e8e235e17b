package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestLedger(t *testing.T, pattern string) *Ledger {
	t.Helper()
	tmpfile, err := os.CreateTemp("", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })
	tmpfile.Close()

	l, err := Init(tmpfile.Name())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleDecision(category types.Category, complexity int) types.Decision {
	return types.NewDecision(category, types.ConfidenceMedium, "because",
		[]types.Worker{types.WorkerLeadDeveloper, types.WorkerResearchSpecialist},
		complexity, 42,
		map[string]any{"requires_web_access": true, "confidence_interval": "±8 minutes"},
		[]types.Worker{types.WorkerToolCurator})
}

func TestLedger_Init(t *testing.T) {
	l := newTestLedger(t, "ledger-test-*.db")

	// Verify schema creation by querying metadata
	var val string
	err := l.db.QueryRow("SELECT value FROM metadata WHERE key='schema_version'").Scan(&val)
	if err != nil {
		t.Errorf("Failed to query metadata: %v", err)
	}
	if val != "1" {
		t.Errorf("Expected schema version 1, got %s", val)
	}

	// Init is safe to run twice
	again, err := Init(l.Path())
	if err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	again.Close()
}

func TestLedger_Decisions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "ledger-decisions-*.db")

	d := sampleDecision(types.CategoryCodeGeneration, 6)
	id, err := l.RecordDecision(ctx, "s1", "write a parser", d)
	if err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a decision id")
	}

	got, err := l.GetDecision(ctx, id)
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if got.Session != "s1" || got.Request != "write a parser" {
		t.Errorf("unexpected record %+v", got)
	}
	if diff := cmp.Diff(d, got.Decision); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() {
		t.Errorf("expected created_at to be set")
	}

	_, err = l.GetDecision(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedger_RecentDecisions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "ledger-recent-*.db")

	requests := []string{"first", "second", "third", "fourth"}
	for _, r := range requests {
		if _, err := l.RecordDecision(ctx, "s1", r, sampleDecision(types.CategorySimpleQuery, 2)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.RecordDecision(ctx, "other", "elsewhere", sampleDecision(types.CategorySimpleQuery, 2)); err != nil {
		t.Fatal(err)
	}

	recent, err := l.RecentDecisions(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("RecentDecisions failed: %v", err)
	}

	var got []string
	for _, r := range recent {
		got = append(got, r.Request)
	}
	if diff := cmp.Diff([]string{"second", "third", "fourth"}, got); diff != "" {
		t.Errorf("recent decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_Outcomes(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "ledger-outcomes-*.db")

	codeID, _ := l.RecordDecision(ctx, "s1", "a", sampleDecision(types.CategoryCodeGeneration, 6))
	secondCodeID, _ := l.RecordDecision(ctx, "s1", "b", sampleDecision(types.CategoryCodeGeneration, 4))
	researchID, _ := l.RecordDecision(ctx, "s1", "c", sampleDecision(types.CategoryResearchTask, 5))

	if err := l.RecordOutcome(ctx, codeID, types.Outcome{Success: true, Duration: 30}); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if err := l.RecordOutcome(ctx, secondCodeID, types.Outcome{Success: false, Duration: 50}); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if err := l.RecordOutcome(ctx, researchID, types.Outcome{Success: true, Duration: 10}); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	if err := l.RecordOutcome(ctx, "missing", types.Outcome{Success: true}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown decision, got %v", err)
	}
	if err := l.RecordOutcome(ctx, codeID, types.Outcome{Success: false, Duration: 5}); !errors.Is(err, ErrAlreadyLearned) {
		t.Errorf("expected ErrAlreadyLearned for a second outcome, got %v", err)
	}

	rates, err := l.SessionSuccessRates(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionSuccessRates failed: %v", err)
	}
	expected := map[string]float64{"code_generation": 0.48, "research_task": 0.6}
	if diff := cmp.Diff(expected, rates, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("rates mismatch (-want +got):\n%s", diff)
	}

	empty, err := l.SessionSuccessRates(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no rates, got %v", empty)
	}
}

func TestLedger_Patterns(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "ledger-patterns-*.db")

	now := time.Now().UTC().Truncate(time.Second)
	changes := []conductor.PatternChange{
		{Key: "code_generation:6", Workers: []types.Worker{types.WorkerLeadDeveloper}, At: now},
		{Key: "code_generation:6", Workers: []types.Worker{types.WorkerLeadDeveloper}, At: now},
		{Key: "code_generation:6", Outcome: &types.Outcome{Success: true, Duration: 30}, At: now},
		{Key: "code_generation:6", Outcome: &types.Outcome{Success: false, Duration: 45}, At: now},
		{Key: "simple_query:2", At: now},
	}
	want := map[string]types.PatternStats{
		"code_generation:6": {
			Count: 2, Outcomes: 2, SuccessRate: 0.48, AvgDuration: 34.5,
			Workers:   map[types.Worker]int{types.WorkerLeadDeveloper: 2},
			UpdatedAt: now,
		},
		"simple_query:2": {
			Count: 1, SuccessRate: 0.5,
			Workers:   map[types.Worker]int{},
			UpdatedAt: now,
		},
	}

	merged, err := l.SavePatterns(ctx, changes)
	if err != nil {
		t.Fatalf("SavePatterns failed: %v", err)
	}
	approx := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(want, merged, approx); diff != "" {
		t.Errorf("merged patterns mismatch (-want +got):\n%s", diff)
	}

	loaded, err := l.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns failed: %v", err)
	}
	ignoreTime := cmpopts.IgnoreFields(types.PatternStats{}, "UpdatedAt")
	if diff := cmp.Diff(want, loaded, ignoreTime, approx); diff != "" {
		t.Errorf("patterns mismatch (-want +got):\n%s", diff)
	}
	if !loaded["code_generation:6"].UpdatedAt.Equal(now) {
		t.Errorf("expected updated_at %v, got %v", now, loaded["code_generation:6"].UpdatedAt)
	}

	// A later save builds on the stored row rather than replacing it
	merged, err = l.SavePatterns(ctx, []conductor.PatternChange{{Key: "simple_query:2", At: now}})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 1 || merged["simple_query:2"].Count != 2 {
		t.Errorf("expected only simple_query:2 with count 2, got %+v", merged)
	}
	loaded, _ = l.LoadPatterns(ctx)
	if loaded["simple_query:2"].Count != 2 {
		t.Errorf("expected count 2 after second save, got %d", loaded["simple_query:2"].Count)
	}
	if loaded["code_generation:6"].Outcomes != 2 {
		t.Errorf("untouched pattern changed: %+v", loaded["code_generation:6"])
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 patterns, got %d", len(loaded))
	}
}

func TestLedger_SharedByTwoConductors(t *testing.T) {
	ctx := context.Background()
	serveLedger := newTestLedger(t, "ledger-shared-*.db")
	cliLedger, err := Open(serveLedger.Path())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { cliLedger.Close() })

	// A long-running server and a short CLI invocation on the same file
	serve := conductor.NewConductor(conductor.Options{Store: conductor.NewMemoryStore(serveLedger)})
	cli := conductor.NewConductor(conductor.Options{Store: conductor.NewMemoryStore(cliLedger)})
	for _, c := range []*conductor.Conductor{serve, cli} {
		if err := c.LoadPatterns(ctx); err != nil {
			t.Fatalf("LoadPatterns failed: %v", err)
		}
	}

	d := serve.AnalyzeRequest(ctx, "What is a closure?", nil)
	for i := 0; i < 5; i++ {
		cli.LearnFromOutcome(ctx, d, types.Outcome{Success: true, Duration: 4}, nil)
	}

	// The CLI exits first; the server closes later with its older view
	if err := cli.Close(); err != nil {
		t.Fatalf("cli close failed: %v", err)
	}
	if err := serve.Close(); err != nil {
		t.Fatalf("serve close failed: %v", err)
	}

	loaded, err := serveLedger.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns failed: %v", err)
	}
	ps, ok := loaded[d.PatternKey()]
	if !ok {
		t.Fatalf("pattern %s not saved", d.PatternKey())
	}
	if ps.Count != 1 {
		t.Errorf("expected count 1, got %d", ps.Count)
	}
	if ps.Outcomes != 5 {
		t.Errorf("expected 5 outcomes, got %d", ps.Outcomes)
	}
	if diff := cmp.Diff(0.83616, ps.SuccessRate, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("success rate mismatch (-want +got):\n%s", diff)
	}
	if ps.AvgDuration != 4 {
		t.Errorf("expected avg duration 4, got %f", ps.AvgDuration)
	}
}

func TestLedger_Stats(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "ledger-stats-*.db")

	id1, _ := l.RecordDecision(ctx, "s1", "a", sampleDecision(types.CategoryCodeGeneration, 6))
	id2, _ := l.RecordDecision(ctx, "s1", "b", sampleDecision(types.CategoryCodeGeneration, 8))
	l.RecordDecision(ctx, "s2", "c", sampleDecision(types.CategoryResearchTask, 4))
	l.RecordOutcome(ctx, id1, types.Outcome{Success: true, Duration: 10})
	l.RecordOutcome(ctx, id2, types.Outcome{Success: false, Duration: 10})
	l.SavePatterns(ctx, []conductor.PatternChange{{Key: "code_generation:6"}})

	stats, err := l.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalDecisions != 3 {
		t.Errorf("Expected 3 decisions, got %d", stats.TotalDecisions)
	}
	if stats.Sessions != 2 {
		t.Errorf("Expected 2 sessions, got %d", stats.Sessions)
	}
	if stats.TotalOutcomes != 2 || stats.Successes != 1 {
		t.Errorf("Expected 2 outcomes with 1 success, got %d/%d", stats.TotalOutcomes, stats.Successes)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("Expected success rate 0.5, got %f", stats.SuccessRate)
	}
	if stats.AvgComplexity != 6 {
		t.Errorf("Expected average complexity 6, got %f", stats.AvgComplexity)
	}
	if stats.ByCategory[types.CategoryCodeGeneration] != 2 {
		t.Errorf("Expected 2 code decisions, got %d", stats.ByCategory[types.CategoryCodeGeneration])
	}
	if stats.Patterns != 1 {
		t.Errorf("Expected 1 pattern, got %d", stats.Patterns)
	}
}
