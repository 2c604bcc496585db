// Package readiness waits for external processes (devices, emulators, servers)
// to reach an operable state before automation begins.
package readiness

import (
	"context"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// DefaultPolicy matches a cold emulator boot: 20 checks, 5s apart.
var DefaultPolicy = core.PollPolicy{Interval: 5 * time.Second, MaxAttempts: 20}

// Check is a readiness probe. false means "not yet"; an error means the probe
// itself is broken and polling must stop.
type Check func(ctx context.Context) (bool, error)

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller runs bounded fixed-interval polling loops.
type Poller struct {
	sleep    SleepFunc
	criteria string
}

// Option configures a Poller.
type Option func(*Poller)

// WithSleep replaces the suspension between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(p *Poller) {
		p.sleep = fn
	}
}

// WithCriteria names what is being waited for in logs and TimeoutError.
func WithCriteria(c string) Option {
	return func(p *Poller) {
		p.criteria = c
	}
}

// New creates a Poller.
func New(opts ...Option) *Poller {
	p := &Poller{sleep: sleepContext}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitUntilReady calls check up to policy.MaxAttempts times, sleeping
// policy.Interval after each false result except the last.
// Returns *core.ProbeFailureError if check fails and *core.TimeoutError on exhaustion.
func (p *Poller) WaitUntilReady(ctx context.Context, check Check, policy core.PollPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		ready, err := check(ctx)
		if err != nil {
			logger.Error("%s: probe failed on attempt %d: %v", p.label(), attempt, err)
			return &core.ProbeFailureError{Attempt: attempt, Err: err}
		}
		if ready {
			logger.Info("%s: ready after %d attempt(s)", p.label(), attempt)
			return nil
		}

		logger.Debug("%s: not ready (attempt %d/%d)", p.label(), attempt, policy.MaxAttempts)
		if attempt == policy.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, policy.Interval); err != nil {
			return err
		}
	}

	return &core.TimeoutError{AttemptsUsed: policy.MaxAttempts, Criteria: p.criteria}
}

func (p *Poller) label() string {
	if p.criteria == "" {
		return "readiness"
	}
	return p.criteria
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
