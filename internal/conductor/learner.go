package conductor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultSaveEvery is how many outcome updates trigger a persistence save
	DefaultSaveEvery = 10

	rateDecay     = 0.8
	durationDecay = 0.7

	saveTimeout = 30 * time.Second
)

// Learner records decisions and blends task outcomes into pattern statistics.
// Saves run on a background goroutine; Close stops it.
type Learner struct {
	store     PatternStore
	logger    *zap.Logger
	saveEvery int64

	updates atomic.Int64

	saveCh    chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLearner starts a learner over store
func NewLearner(store PatternStore, saveEvery int, logger *zap.Logger) *Learner {
	if saveEvery <= 0 {
		saveEvery = DefaultSaveEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Learner{
		store:     store,
		logger:    logger,
		saveEvery: int64(saveEvery),
		saveCh:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go l.run()
	return l
}

// Record counts a decision against its pattern key
func (l *Learner) Record(d types.Decision) types.PatternStats {
	return l.store.Apply(PatternChange{Key: d.PatternKey(), Workers: d.SelectedWorkers})
}

// Learn blends an outcome into the decision's pattern statistics. When
// knowledge is non-nil its SuccessHistory entry for the category is blended
// the same way; the caller must not share knowledge across goroutines.
func (l *Learner) Learn(d types.Decision, o types.Outcome, knowledge *types.Knowledge) types.PatternStats {
	stats := l.store.Apply(PatternChange{Key: d.PatternKey(), Outcome: &o})

	if knowledge != nil {
		if knowledge.SuccessHistory == nil {
			knowledge.SuccessHistory = make(map[string]float64)
		}
		key := string(d.Category)
		old, ok := knowledge.SuccessHistory[key]
		if !ok {
			old = defaultSuccessRate
		}
		knowledge.SuccessHistory[key] = BlendSuccessRate(old, o.Success)
	}

	if l.updates.Add(1)%l.saveEvery == 0 {
		l.requestSave()
	}

	l.logger.Debug("learned from outcome",
		zap.String("pattern", d.PatternKey()),
		zap.Bool("success", o.Success),
		zap.Float64("success_rate", stats.SuccessRate),
		zap.Float64("avg_duration", stats.AvgDuration))

	return stats
}

// Updates returns the number of outcomes learned so far
func (l *Learner) Updates() int64 {
	return l.updates.Load()
}

// BlendSuccessRate moves old 20% of the way toward 1 on success or 0 on failure
func BlendSuccessRate(old float64, success bool) float64 {
	target := 0.0
	if success {
		target = 1.0
	}
	rate := rateDecay*old + (1-rateDecay)*target
	return math.Max(0, math.Min(1, rate))
}

// Close stops the saver and performs a final save
func (l *Learner) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		<-l.done

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		err = l.store.Save(ctx)
	})
	return err
}

func (l *Learner) requestSave() {
	select {
	case l.saveCh <- struct{}{}:
	default:
		// a save is already queued
	}
}

func (l *Learner) run() {
	defer close(l.done)
	for {
		select {
		case <-l.saveCh:
			l.save()
		case <-l.quit:
			return
		}
	}
}

func (l *Learner) save() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := l.store.Save(ctx); err != nil {
		l.logger.Warn("pattern save failed", zap.Error(err))
		return
	}
	l.logger.Debug("pattern statistics saved", zap.Int64("updates", l.updates.Load()))
}
