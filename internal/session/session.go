// Package session ties the conductor to the ledger: it rebuilds per-session
// knowledge from stored history, records decisions, and feeds outcomes back
// into learning.
package session

import (
	"context"
	"fmt"
	"maps"

	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/cammy/sanctuary/pkg/types"
	"go.uber.org/zap"
)

// DefaultSession is used when the caller names none
const DefaultSession = "default"

// Store is the persistence the manager needs; *ledger.Ledger implements it
type Store interface {
	RecordDecision(ctx context.Context, session, request string, d types.Decision) (string, error)
	GetDecision(ctx context.Context, id string) (*ledger.DecisionRecord, error)
	RecentDecisions(ctx context.Context, session string, n int) ([]ledger.DecisionRecord, error)
	RecordOutcome(ctx context.Context, decisionID string, o types.Outcome) error
	SessionSuccessRates(ctx context.Context, session string) (map[string]float64, error)
}

// Manager runs session-aware analysis and learning
type Manager struct {
	conductor    *conductor.Conductor
	store        Store
	historyLimit int
	logger       *zap.Logger
}

// Result is an analyzed request. ID is empty for dry runs.
type Result struct {
	ID             string                   `json:"decision_id,omitempty"`
	Session        string                   `json:"session"`
	Decision       types.Decision           `json:"decision"`
	Classification conductor.Classification `json:"-"`
	Knowledge      types.Knowledge          `json:"-"`
}

// Learned reports the effect of an outcome
type Learned struct {
	DecisionID         string             `json:"decision_id"`
	Category           types.Category     `json:"category"`
	PatternKey         string             `json:"pattern_key"`
	Pattern            types.PatternStats `json:"pattern"`
	SessionSuccessRate float64            `json:"session_success_rate"`
}

// NewManager creates a session manager
func NewManager(c *conductor.Conductor, store Store, historyLimit int, logger *zap.Logger) *Manager {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		conductor:    c,
		store:        store,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Knowledge rebuilds what is known about a session from the ledger
func (m *Manager) Knowledge(ctx context.Context, session string) (types.Knowledge, error) {
	session = normalize(session)

	records, err := m.store.RecentDecisions(ctx, session, m.historyLimit)
	if err != nil {
		return types.Knowledge{}, fmt.Errorf("failed to load session history: %w", err)
	}
	rates, err := m.store.SessionSuccessRates(ctx, session)
	if err != nil {
		return types.Knowledge{}, fmt.Errorf("failed to load session outcomes: %w", err)
	}

	history := make([]conductor.HistoryEntry, len(records))
	for i, r := range records {
		history[i] = conductor.HistoryEntry{Request: r.Request, Category: r.Decision.Category}
	}
	return conductor.BuildKnowledge(history, rates, m.historyLimit), nil
}

// Analyze classifies text for a session. override supplies caller-known
// context that takes precedence over derived knowledge. Unless dryRun is
// set the decision is recorded in the ledger and then the pattern store.
func (m *Manager) Analyze(ctx context.Context, session, text string, override *types.Knowledge, dryRun bool) (*Result, error) {
	session = normalize(session)

	derived, err := m.Knowledge(ctx, session)
	if err != nil {
		return nil, err
	}
	k := Merge(derived, override)

	a := m.conductor.DryRun(ctx, text, &k)
	result := &Result{
		Session:        session,
		Decision:       a.Decision,
		Classification: a.Classification,
		Knowledge:      k,
	}
	if dryRun {
		return result, nil
	}

	// The ledger write comes first so a failure leaves the patterns untouched
	id, err := m.store.RecordDecision(ctx, session, text, a.Decision)
	if err != nil {
		return nil, err
	}
	result.ID = id
	m.conductor.Record(a)

	m.logger.Info("decision recorded",
		zap.String("id", id),
		zap.String("session", session),
		zap.String("category", string(a.Decision.Category)))

	return result, nil
}

// Learn applies an outcome to a recorded decision. A decision takes one
// outcome; repeats fail with ledger.ErrAlreadyLearned and change nothing.
func (m *Manager) Learn(ctx context.Context, decisionID string, o types.Outcome) (*Learned, error) {
	rec, err := m.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	k, err := m.Knowledge(ctx, rec.Session)
	if err != nil {
		return nil, err
	}

	if err := m.store.RecordOutcome(ctx, decisionID, o); err != nil {
		return nil, err
	}
	stats := m.conductor.LearnFromOutcome(ctx, rec.Decision, o, &k)

	return &Learned{
		DecisionID:         decisionID,
		Category:           rec.Decision.Category,
		PatternKey:         rec.Decision.PatternKey(),
		Pattern:            stats,
		SessionSuccessRate: k.SuccessHistory[string(rec.Decision.Category)],
	}, nil
}

// Merge overlays caller-supplied knowledge on derived knowledge
func Merge(derived types.Knowledge, override *types.Knowledge) types.Knowledge {
	if override == nil {
		return derived
	}

	out := derived
	out.Preferences = maps.Clone(derived.Preferences)
	out.SuccessHistory = maps.Clone(derived.SuccessHistory)
	if out.Preferences == nil {
		out.Preferences = make(map[string]string)
	}
	if out.SuccessHistory == nil {
		out.SuccessHistory = make(map[string]float64)
	}

	if override.ExpertiseLevel != "" {
		out.ExpertiseLevel = override.ExpertiseLevel
	}
	if override.ProjectType != nil {
		out.ProjectType = override.ProjectType
	}
	if override.CurrentFocus != nil {
		out.CurrentFocus = override.CurrentFocus
	}
	if len(override.RecentPatterns) > 0 {
		out.RecentPatterns = append([]string(nil), override.RecentPatterns...)
	}
	if len(override.PreferredWorkers) > 0 {
		out.PreferredWorkers = append([]types.Worker(nil), override.PreferredWorkers...)
	}
	maps.Copy(out.Preferences, override.Preferences)
	maps.Copy(out.SuccessHistory, override.SuccessHistory)

	return out
}

func normalize(session string) string {
	if session == "" {
		return DefaultSession
	}
	return session
}
