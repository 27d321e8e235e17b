package backends

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
	"go.uber.org/zap"
)

// ErrNoBackend is returned when every backend is unavailable or cooling down
var ErrNoBackend = errors.New("no classification backend available")

// DefaultQuotaCooldown is how long a backend is skipped after a quota error
const DefaultQuotaCooldown = 5 * time.Minute

// Pool tries backends in order until one answers. Backends that report a
// quota error are skipped until their cooldown expires.
type Pool struct {
	backends    []Backend
	cooldown    time.Duration
	cooledUntil map[types.Backend]time.Time
	logger      *zap.Logger
	now         func() time.Time
	mu          sync.Mutex
}

// NewPool creates a new backend pool
func NewPool(cooldown time.Duration, logger *zap.Logger) *Pool {
	if cooldown <= 0 {
		cooldown = DefaultQuotaCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cooldown:    cooldown,
		cooledUntil: make(map[types.Backend]time.Time),
		logger:      logger,
		now:         time.Now,
	}
}

// Add appends a backend to the failover order
func (p *Pool) Add(b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends = append(p.backends, b)
}

// Complete implements conductor.TextClassifier
func (p *Pool) Complete(ctx context.Context, prompt string) (string, error) {
	var errs []error
	for _, b := range p.candidates() {
		out, err := b.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", b.Backend(), ctxErr)
		}
		if IsQuota(err) {
			p.coolDown(b.Backend())
		}
		p.logger.Warn("backend failed, trying next",
			zap.String("backend", string(b.Backend())),
			zap.Bool("quota", IsQuota(err)),
			zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return "", ErrNoBackend
	}
	return "", fmt.Errorf("all backends failed: %w", errors.Join(errs...))
}

// Available returns true if any backend can be tried now
func (p *Pool) Available() bool {
	return len(p.candidates()) > 0
}

// Size returns the number of backends in the pool
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backends)
}

// Backends returns the configured backend ids in failover order
func (p *Pool) Backends() []types.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]types.Backend, len(p.backends))
	for i, b := range p.backends {
		ids[i] = b.Backend()
	}
	return ids
}

func (p *Pool) candidates() []Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var out []Backend
	for _, b := range p.backends {
		if until, ok := p.cooledUntil[b.Backend()]; ok && now.Before(until) {
			continue
		}
		if b.Available() {
			out = append(out, b)
		}
	}
	return out
}

func (p *Pool) coolDown(id types.Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooledUntil[id] = p.now().Add(p.cooldown)
}
