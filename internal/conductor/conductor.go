package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
	"go.uber.org/zap"
)

// Options configures a Conductor. Zero values select defaults.
type Options struct {
	// Model is consulted when no pattern matches; nil disables it
	Model           TextClassifier
	ClassifyTimeout time.Duration
	Templates       map[types.Category]WorkerTemplate
	// Store defaults to an unpersisted MemoryStore
	Store     PatternStore
	SaveEvery int
	Logger    *zap.Logger
}

// Conductor turns requests into decisions and learns from their outcomes
type Conductor struct {
	classifier *Classifier
	selector   *Selector
	store      PatternStore
	learner    *Learner
	logger     *zap.Logger
}

// Analysis is a decision together with the intermediate values behind it
type Analysis struct {
	Decision        types.Decision
	Classification  Classification
	Features        map[string]float64
	ConfidenceScore float64
}

// NewConductor creates a new conductor instance. Close must be called to
// stop the background saver.
func NewConductor(opts Options) *Conductor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore(nil)
	}

	return &Conductor{
		classifier: NewClassifier(opts.Model, opts.ClassifyTimeout, logger.Named("classifier")),
		selector:   NewSelector(opts.Templates),
		store:      store,
		learner:    NewLearner(store, opts.SaveEvery, logger.Named("learner")),
		logger:     logger,
	}
}

// AnalyzeRequest produces the decision for a request and records it in the
// pattern store. It never fails; classification problems degrade to
// simple_query.
func (c *Conductor) AnalyzeRequest(ctx context.Context, text string, knowledge *types.Knowledge) types.Decision {
	return c.Analyze(ctx, text, knowledge).Decision
}

// Analyze is AnalyzeRequest with the intermediate values exposed
func (c *Conductor) Analyze(ctx context.Context, text string, knowledge *types.Knowledge) Analysis {
	a := c.DryRun(ctx, text, knowledge)
	c.Record(a)
	return a
}

// Record counts an analysis produced by DryRun in the pattern store
func (c *Conductor) Record(a Analysis) types.PatternStats {
	stats := c.learner.Record(a.Decision)

	c.logger.Debug("request analyzed",
		zap.String("category", string(a.Decision.Category)),
		zap.String("source", a.Classification.Source),
		zap.Int("complexity", a.Decision.Complexity),
		zap.Stringer("confidence", a.Decision.Confidence),
		zap.Int("pattern_count", stats.Count))

	return stats
}

// DryRun analyzes a request without recording it
func (c *Conductor) DryRun(ctx context.Context, text string, knowledge *types.Knowledge) Analysis {
	k := knowledge.Normalized()

	// Step 1: Classify
	classification := c.classifier.Classify(ctx, text, k)
	category := classification.Category

	// Step 2: Score
	complexity, features := ScoreComplexity(category, text)
	confidence, score := EstimateConfidence(category, k)

	// Step 3: Assign workers
	selected, fallbacks := c.selector.Select(category, complexity, k.PreferredWorkers)

	// Step 4: Estimate
	duration, resources := EstimateResources(category, complexity)

	reasoning := buildReasoning(classification, complexity, confidence, score, selected)
	decision := types.NewDecision(category, confidence, reasoning, selected, complexity, duration, resources, fallbacks)

	return Analysis{
		Decision:        decision,
		Classification:  classification,
		Features:        features,
		ConfidenceScore: score,
	}
}

// Preview classifies with the pattern table only and scores complexity.
// matched is false when no pattern applied.
func (c *Conductor) Preview(text string) (classification Classification, matched bool, complexity int, features map[string]float64) {
	classification, matched = c.classifier.MatchPattern(text)
	category := classification.Category
	if !matched {
		category = types.CategorySimpleQuery
	}
	complexity, features = ScoreComplexity(category, text)
	return classification, matched, complexity, features
}

// LearnFromOutcome folds a task outcome into the decision's pattern
// statistics and, when knowledge is non-nil, its SuccessHistory.
func (c *Conductor) LearnFromOutcome(ctx context.Context, decision types.Decision, outcome types.Outcome, knowledge *types.Knowledge) types.PatternStats {
	return c.learner.Learn(decision, outcome, knowledge)
}

// LoadPatterns restores pattern statistics from the store's persister
func (c *Conductor) LoadPatterns(ctx context.Context) error {
	if err := c.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to restore patterns: %w", err)
	}
	return nil
}

// Patterns returns a copy of all pattern statistics
func (c *Conductor) Patterns() map[string]types.PatternStats {
	return c.store.Snapshot()
}

// Close stops the learner and saves pattern statistics
func (c *Conductor) Close() error {
	return c.learner.Close()
}

func buildReasoning(cl Classification, complexity int, level types.ConfidenceLevel, score float64, workers []types.Worker) string {
	var parts []string

	switch cl.Source {
	case SourcePattern:
		parts = append(parts, fmt.Sprintf("Classified as %s (matched %s pattern)", cl.Category, cl.Pattern))
	case SourceModel:
		parts = append(parts, fmt.Sprintf("Classified as %s by model", cl.Category))
	default:
		parts = append(parts, fmt.Sprintf("No pattern matched, defaulted to %s", cl.Category))
	}

	parts = append(parts, fmt.Sprintf("Complexity %d/10", complexity))
	parts = append(parts, fmt.Sprintf("Confidence %s (%.2f)", level, score))

	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = string(w)
	}
	parts = append(parts, "Assigned "+strings.Join(names, ", "))

	return strings.Join(parts, ". ")
}
