// Package policy decides whether a failed step attempt is retried and after
// what delay. A Policy is a pure function of its inputs: the same attempt
// number and error always produce the same decision, so engine behavior is
// deterministic and testable. Jitter draws from an injectable source for the
// same reason.
package policy

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"agentcore/internal/model"
)

// Backoff shapes.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// maxShift bounds the exponential doubling so the delay cannot overflow.
const maxShift = 30

// Decision is the controller's verdict on a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the terminal decision: no further attempts.
var GiveUp = Decision{}

// Config describes a retry policy.
//
// MaxRetries counts retries after the first attempt, so a step executes at
// most MaxRetries+1 times. Retryable classifies errors; nil installs the
// default classifier, which refuses permanent errors and external
// cancellation but retries everything else, including attempt timeouts.
type Config struct {
	MaxRetries int
	Backoff    string
	BaseDelay  time.Duration
	Jitter     bool
	Retryable  func(error) bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithRand replaces the jitter source with a deterministic one for tests.
// The function must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(p *Policy) { p.randFloat = f }
}

// Policy computes retry decisions from a Config. The zero value is not
// usable; construct with New.
type Policy struct {
	cfg       Config
	randFloat func() float64
}

// New creates a Policy. A nil Retryable in cfg uses DefaultRetryable, and a
// non-positive BaseDelay disables the backoff wait entirely.
func New(cfg Config, opts ...Option) *Policy {
	if cfg.Retryable == nil {
		cfg.Retryable = DefaultRetryable
	}
	if cfg.Backoff == "" {
		cfg.Backoff = BackoffExponential
	}
	p := &Policy{
		cfg:       cfg,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxRetries returns the configured retry budget.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// ForTask returns a copy of the policy with the retry budget overridden,
// leaving backoff shape and classification unchanged. Tasks that declare
// their own max-retry count use this.
func (p *Policy) ForTask(maxRetries int) *Policy {
	cfg := p.cfg
	cfg.MaxRetries = maxRetries
	return &Policy{cfg: cfg, randFloat: p.randFloat}
}

// Decide returns the verdict for a failed attempt. attempt is the number of
// attempts already made, starting at 1 for the first.
func (p *Policy) Decide(attempt int, err error) Decision {
	if err == nil {
		return GiveUp
	}
	if attempt > p.cfg.MaxRetries {
		return GiveUp
	}
	if !p.cfg.Retryable(err) {
		return GiveUp
	}
	return Decision{Retry: true, Delay: p.delay(attempt)}
}

// delay computes the backoff before retry number `attempt` (the wait after
// the attempt-th failure).
func (p *Policy) delay(attempt int) time.Duration {
	base := p.cfg.BaseDelay
	if base <= 0 {
		return 0
	}

	var d time.Duration
	switch p.cfg.Backoff {
	case BackoffConstant:
		d = base
	case BackoffLinear:
		d = base * time.Duration(attempt)
	default:
		shift := attempt - 1
		if shift > maxShift {
			shift = maxShift
		}
		d = base << shift
	}

	if p.cfg.Jitter {
		// Spread the delay uniformly over [0.5d, 1.5d).
		d = d/2 + time.Duration(p.randFloat()*float64(d))
	}
	return d
}

// DefaultRetryable reports whether err qualifies for retry: permanent errors
// and external cancellation never do, attempt timeouts and ordinary failures
// do.
func DefaultRetryable(err error) bool {
	if model.IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
