// Package locator finds and taps elements that may be below the fold,
// scrolling between attempts.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// DefaultMaxAttempts is the scroll-and-retry budget used when callers have no better number.
const DefaultMaxAttempts = 5

// Resolver turns a target into a locator for one resolution strategy.
type Resolver struct {
	Name    string
	Locator func(target string) core.Locator
}

// DefaultResolvers tries visible text first, then the accessibility description
// that componentized UIs use instead of text.
var DefaultResolvers = []Resolver{
	{Name: "text", Locator: core.TextContains},
	{Name: "content-desc", Locator: func(target string) core.Locator {
		return core.AttributeContains(core.DefaultDescriptionAttribute, target)
	}},
}

// Scroller performs one scroll gesture. *gesture.Synthesizer satisfies it.
type Scroller interface {
	Scroll(ctx context.Context) error
}

// ScrollingLocator searches for a target by snapshot, resolve, tap, and scrolls on a miss.
type ScrollingLocator struct {
	driver    core.Driver
	scroller  Scroller
	resolvers []Resolver
}

// Option configures a ScrollingLocator.
type Option func(*ScrollingLocator)

// WithResolvers replaces the resolution order.
func WithResolvers(r ...Resolver) Option {
	return func(l *ScrollingLocator) {
		l.resolvers = r
	}
}

// New creates a ScrollingLocator.
func New(driver core.Driver, scroller Scroller, opts ...Option) *ScrollingLocator {
	l := &ScrollingLocator{
		driver:    driver,
		scroller:  scroller,
		resolvers: DefaultResolvers,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LocateAndActivate taps the first element matching target, scrolling up to
// maxAttempts times to reveal it.
//
// Snapshot, resolution and scroll failures consume an attempt. Activation
// failures and dead-session errors are returned immediately. Exhaustion
// returns *core.NotFoundError.
func (l *ScrollingLocator) LocateAndActivate(ctx context.Context, target string, maxAttempts int) error {
	if target == "" {
		return fmt.Errorf("locate: empty target")
	}
	if maxAttempts <= 0 {
		return fmt.Errorf("locate: maxAttempts must be > 0, got %d", maxAttempts)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("locate %q: attempt %d/%d", target, attempt, maxAttempts)

		el, err := l.attempt(target)
		if err != nil {
			if core.IsSessionError(err) {
				return fmt.Errorf("locate %q: %w", target, err)
			}
			logger.Debug("locate %q: transient miss: %v", target, err)
		}
		if el != "" {
			if err := l.driver.Activate(el); err != nil {
				return fmt.Errorf("activate %q: %w", target, err)
			}
			logger.Info("Activated %q on attempt %d", target, attempt)
			return nil
		}

		if err := l.scroller.Scroll(ctx); err != nil {
			if core.IsSessionError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("locate %q: %w", target, err)
			}
			logger.Warn("locate %q: scroll failed on attempt %d: %v", target, attempt, err)
		}
	}

	logger.Warn("Could not find %q after %d attempts", target, maxAttempts)
	return &core.NotFoundError{Target: target, AttemptsUsed: maxAttempts}
}

// attempt runs one snapshot-then-resolve cycle. An empty handle means a miss.
func (l *ScrollingLocator) attempt(target string) (core.ElementHandle, error) {
	snapshot, err := l.driver.Snapshot()
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if !SnapshotContains(snapshot, target) {
		return "", nil
	}

	var lastErr error
	for _, r := range l.resolvers {
		el, err := l.driver.FindElement(r.Locator(target))
		if err == nil && el != "" {
			logger.Debug("locate %q: resolved by %s", target, r.Name)
			return el, nil
		}
		if err != nil && !errors.Is(err, core.ErrElementNotFound) {
			lastErr = err
			if core.IsSessionError(err) {
				return "", err
			}
		}
	}
	return "", lastErr
}

// SnapshotContains reports whether target appears in snapshot, either verbatim
// or as XML-escaped attribute text.
func SnapshotContains(snapshot, target string) bool {
	if strings.Contains(snapshot, target) {
		return true
	}
	for _, esc := range xmlEscapers {
		if escaped := esc.Replace(target); escaped != target && strings.Contains(snapshot, escaped) {
			return true
		}
	}
	return false
}

// Quotes are written as numeric references by Go's encoders and as named
// entities by UiAutomator2 and XCUITest page sources.
var xmlEscapers = []*strings.Replacer{
	strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;"),
	strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;", "'", "&#39;"),
}
