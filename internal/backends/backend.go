// Package backends wraps hosted and local text-generation services used to
// classify requests that no pattern recognizes.
package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cammy/sanctuary/pkg/types"
)

// defaultMaxTokens bounds classification replies; only the first line is read
const defaultMaxTokens = 64

// Backend is a single text-generation service
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Available() bool
	Backend() types.Backend
}

// Error wraps a backend failure with the HTTP status when one is known
type Error struct {
	Backend types.Backend
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsQuota reports whether err means the backend is rate limited or out of quota
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var be *Error
	if errors.As(err, &be) && be.Status == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit")
}

func newError(backend types.Backend, status int, err error) error {
	return &Error{Backend: backend, Status: status, Err: err}
}
