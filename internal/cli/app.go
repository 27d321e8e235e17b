package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cammy/sanctuary/internal/backends"
	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/internal/config"
	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/cammy/sanctuary/internal/session"
	"go.uber.org/zap"
)

// app holds the components a command needs, opened against the data directory
type app struct {
	ledger    *ledger.Ledger
	conductor *conductor.Conductor
	sessions  *session.Manager
}

func openApp(ctx context.Context) (*app, error) {
	path := cfg.LedgerPath(dataDir)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Sanctuary not initialized. Run 'sanctuary init' first")
	}

	l, err := ledger.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	c, err := newConductor(ctx, cfg, l, logger)
	if err != nil {
		l.Close()
		return nil, err
	}

	return &app{
		ledger:    l,
		conductor: c,
		sessions:  session.NewManager(c, l, cfg.Learner.HistoryLimit, logger),
	}, nil
}

// Close saves learned patterns and closes the ledger
func (a *app) Close() error {
	return errors.Join(a.conductor.Close(), a.ledger.Close())
}

// newConductor builds a conductor from configuration. Patterns persist to
// p; a nil p keeps them in memory only.
func newConductor(ctx context.Context, cfg *config.Config, p conductor.Persister, logger *zap.Logger) (*conductor.Conductor, error) {
	overrides, err := cfg.WorkerTemplates()
	if err != nil {
		return nil, err
	}
	templates := conductor.DefaultWorkerTemplates()
	for cat, seq := range overrides {
		templates[cat] = conductor.WorkerTemplate{Sequence: seq}
	}

	opts := conductor.Options{
		ClassifyTimeout: cfg.ClassifierTimeout(),
		Templates:       templates,
		Store:           conductor.NewMemoryStore(p),
		SaveEvery:       cfg.Learner.SaveEvery,
		Logger:          logger,
	}

	if cfg.Classifier.Enabled {
		pool, err := backends.FromConfig(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure classifier backends: %w", err)
		}
		if pool.Size() > 0 {
			opts.Model = pool
			logger.Debug("classifier backends ready", zap.Any("backends", pool.Backends()))
		} else {
			logger.Debug("no classifier backends configured, using patterns only")
		}
	}

	c := conductor.NewConductor(opts)
	if err := c.LoadPatterns(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	return c, nil
}
