// Package gesture builds and dispatches single-finger drag gestures.
package gesture

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// DefaultScroll is the downward-biased swipe used to reveal content below the fold.
// Values are for a 1344x2992 phone screen (Pixel 9 Pro XL).
var DefaultScroll = core.GestureSpec{
	Start:    core.Point{X: 600, Y: 2000},
	End:      core.Point{X: 600, Y: 800},
	Duration: 500 * time.Millisecond,
}

// Synthesizer dispatches swipes through a driver. It holds no state besides
// the driver handle and may be rebuilt freely.
type Synthesizer struct {
	driver core.Driver
	scroll core.GestureSpec
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithScroll overrides the gesture used by Scroll.
func WithScroll(spec core.GestureSpec) Option {
	return func(s *Synthesizer) {
		s.scroll = spec
	}
}

// New creates a Synthesizer bound to driver.
func New(driver core.Driver, opts ...Option) *Synthesizer {
	s := &Synthesizer{driver: driver, scroll: DefaultScroll}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Swipe presses at start, drags to end over duration and releases.
// Exactly one gesture is sent; driver errors come back as *core.GestureDispatchError.
func (s *Synthesizer) Swipe(ctx context.Context, start, end core.Point, duration time.Duration) error {
	return s.Dispatch(ctx, core.GestureSpec{Start: start, End: end, Duration: duration})
}

// Dispatch sends spec as a single gesture.
func (s *Synthesizer) Dispatch(ctx context.Context, spec core.GestureSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("swipe %s -> %s over %v", spec.Start, spec.End, spec.Duration)
	if err := s.driver.DispatchGesture(spec); err != nil {
		return &core.GestureDispatchError{Spec: spec, Err: err}
	}
	return nil
}

// Scroll performs the configured scroll swipe.
func (s *Synthesizer) Scroll(ctx context.Context) error {
	return s.Dispatch(ctx, s.scroll)
}

// ScrollSpec returns the gesture used by Scroll.
func (s *Synthesizer) ScrollSpec() core.GestureSpec {
	return s.scroll
}

// Sequence expands spec into the W3C pointer actions a driver should send:
// move to start instantly, press, move to end over the duration, release.
func Sequence(spec core.GestureSpec) []core.PointerAction {
	return []core.PointerAction{
		{Type: core.PointerMove, Duration: 0, X: spec.Start.X, Y: spec.Start.Y},
		{Type: core.PointerDown, Button: 0},
		{Type: core.PointerMove, Duration: spec.Duration, X: spec.End.X, Y: spec.End.Y},
		{Type: core.PointerUp, Button: 0},
	}
}

// Direction names a screen-relative swipe.
type Direction string

// Directions understood by ForDirection.
const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// ForDirection returns a swipe across the middle third of a w x h screen.
// "down" scrolls content down, so the finger moves up.
func ForDirection(dir Direction, w, h int, duration time.Duration) (core.GestureSpec, error) {
	cx, cy := w/2, h/2
	spec := core.GestureSpec{Duration: duration}
	switch dir {
	case Down:
		spec.Start, spec.End = core.Point{X: cx, Y: h * 2 / 3}, core.Point{X: cx, Y: h / 3}
	case Up:
		spec.Start, spec.End = core.Point{X: cx, Y: h / 3}, core.Point{X: cx, Y: h * 2 / 3}
	case Left:
		spec.Start, spec.End = core.Point{X: w * 2 / 3, Y: cy}, core.Point{X: w / 3, Y: cy}
	case Right:
		spec.Start, spec.End = core.Point{X: w / 3, Y: cy}, core.Point{X: w * 2 / 3, Y: cy}
	default:
		return core.GestureSpec{}, fmt.Errorf("invalid direction: %s", dir)
	}
	return spec, nil
}
