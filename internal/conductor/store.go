package conductor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
)

// PatternStore holds learning statistics keyed by "category:complexity"
type PatternStore interface {
	Get(key string) (types.PatternStats, bool)
	// Apply folds a change into the stats for its key, creating them on
	// first use, and returns the result.
	Apply(change PatternChange) types.PatternStats
	Snapshot() map[string]types.PatternStats
	Save(ctx context.Context) error
	Load(ctx context.Context) error
}

// Persister is durable storage for pattern statistics.
//
// SavePatterns applies changes, in order, on top of whatever is stored and
// returns the resulting stats for every key it touched. Other processes may
// have saved since this one last loaded; their work must survive.
type Persister interface {
	SavePatterns(ctx context.Context, changes []PatternChange) (map[string]types.PatternStats, error)
	LoadPatterns(ctx context.Context) (map[string]types.PatternStats, error)
}

// PatternChange is one update to a pattern: a recorded decision when
// Outcome is nil, otherwise a learned outcome.
type PatternChange struct {
	Key     string
	Workers []types.Worker
	Outcome *types.Outcome
	At      time.Time
}

// Apply folds the change into s
func (c PatternChange) Apply(s *types.PatternStats) {
	if s.Workers == nil {
		s.Workers = make(map[types.Worker]int)
	}

	if c.Outcome == nil {
		s.Count++
		for _, w := range c.Workers {
			s.Workers[w]++
		}
	} else {
		actual := math.Max(0, c.Outcome.Duration)
		s.SuccessRate = BlendSuccessRate(s.SuccessRate, c.Outcome.Success)
		if s.Outcomes == 0 {
			s.AvgDuration = actual
		} else {
			s.AvgDuration = durationDecay*s.AvgDuration + (1-durationDecay)*actual
		}
		s.Outcomes++
	}

	s.UpdatedAt = c.At
}

// MemoryStore is a mutex-guarded in-memory PatternStore with optional
// persistence. Changes not yet saved are kept in order so a save can replay
// them onto the stored rows instead of overwriting them.
type MemoryStore struct {
	mu        sync.Mutex
	patterns  map[string]types.PatternStats
	pending   []PatternChange
	persister Persister
	now       func() time.Time

	// serializes saves so batches reach the persister in order
	saveMu sync.Mutex
}

// NewMemoryStore creates a store. p may be nil, making Save and Load no-ops.
func NewMemoryStore(p Persister) *MemoryStore {
	return &MemoryStore{
		patterns:  make(map[string]types.PatternStats),
		persister: p,
		now:       time.Now,
	}
}

// Get returns a copy of the stats for key
func (s *MemoryStore) Get(key string) (types.PatternStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.patterns[key]
	if !ok {
		return types.PatternStats{}, false
	}
	return stats.Clone(), true
}

// Apply folds change in under the store lock and queues it for the next save
func (s *MemoryStore) Apply(change PatternChange) types.PatternStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if change.At.IsZero() {
		change.At = s.now()
	}
	if change.Outcome != nil {
		o := *change.Outcome
		change.Outcome = &o
	}

	stats, ok := s.patterns[change.Key]
	if !ok {
		stats = types.NewPatternStats()
	}
	change.Apply(&stats)
	s.patterns[change.Key] = stats

	if s.persister != nil {
		s.pending = append(s.pending, change)
	}
	return stats.Clone()
}

// Snapshot returns a deep copy of all stats
func (s *MemoryStore) Snapshot() map[string]types.PatternStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.PatternStats, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = v.Clone()
	}
	return out
}

// Len returns the number of pattern keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

// Pending returns the number of changes waiting to be saved
func (s *MemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Save hands unsaved changes to the persister and adopts the merged result.
// On failure the changes stay queued for the next attempt.
func (s *MemoryStore) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	merged, err := s.persister.SavePatterns(ctx, batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pending = append(batch, s.pending...)
		return fmt.Errorf("failed to save patterns: %w", err)
	}
	s.rebase(merged)
	return nil
}

// Load replaces in-memory stats with the persisted ones and replays unsaved
// changes on top. Keys updated in memory but absent from storage are kept.
func (s *MemoryStore) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	loaded, err := s.persister.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebase(loaded)
	return nil
}

// rebase adopts stored stats and replays pending changes for those keys.
// The caller holds mu.
func (s *MemoryStore) rebase(stored map[string]types.PatternStats) {
	for k, v := range stored {
		s.patterns[k] = v.Clone()
	}
	for _, c := range s.pending {
		if _, ok := stored[c.Key]; !ok {
			continue
		}
		stats := s.patterns[c.Key]
		c.Apply(&stats)
		s.patterns[c.Key] = stats
	}
}
