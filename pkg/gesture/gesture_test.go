package gesture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/driver/mock"
)

func TestSequence_Shape(t *testing.T) {
	spec := core.GestureSpec{
		Start:    core.Point{X: 600, Y: 1800},
		End:      core.Point{X: 600, Y: 1500},
		Duration: 300 * time.Millisecond,
	}

	seq := Sequence(spec)
	if len(seq) != 4 {
		t.Fatalf("len(Sequence) = %d, want 4", len(seq))
	}

	wantTypes := []string{core.PointerMove, core.PointerDown, core.PointerMove, core.PointerUp}
	for i, want := range wantTypes {
		if seq[i].Type != want {
			t.Errorf("seq[%d].Type = %s, want %s", i, seq[i].Type, want)
		}
	}

	first, last := seq[0], seq[2]
	if first.X != 600 || first.Y != 1800 || first.Duration != 0 {
		t.Errorf("first move = %+v, want (600,1800) instant", first)
	}
	if last.X != 600 || last.Y != 1500 {
		t.Errorf("final point = (%d,%d), want (600,1500)", last.X, last.Y)
	}
	if last.Duration != 300*time.Millisecond {
		t.Errorf("move duration = %v, want 300ms", last.Duration)
	}
}

func TestSwipe_DispatchesOnce(t *testing.T) {
	d := mock.New(mock.Config{})
	s := New(d)

	err := s.Swipe(context.Background(), core.Point{X: 1, Y: 2}, core.Point{X: 3, Y: 4}, 0)
	if err != nil {
		t.Fatalf("Swipe() error = %v", err)
	}
	if len(d.Gestures) != 1 {
		t.Fatalf("gestures = %d, want 1", len(d.Gestures))
	}
	got := d.Gestures[0]
	if got.Start != (core.Point{X: 1, Y: 2}) || got.End != (core.Point{X: 3, Y: 4}) {
		t.Errorf("gesture = %+v", got)
	}
}

func TestSwipe_PropagatesDriverError(t *testing.T) {
	cause := errors.New("device offline")
	d := mock.New(mock.Config{})
	d.GestureErr = func(int) error { return cause }

	err := New(d).Swipe(context.Background(), core.Point{}, core.Point{Y: 10}, time.Millisecond)

	var dispatchErr *core.GestureDispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error = %v, want *GestureDispatchError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("driver error not preserved")
	}
	if len(d.Gestures) != 1 {
		t.Errorf("gestures = %d, want exactly 1 (no retry)", len(d.Gestures))
	}
}

func TestSwipe_RejectsNegativeDuration(t *testing.T) {
	d := mock.New(mock.Config{})

	if err := New(d).Swipe(context.Background(), core.Point{}, core.Point{}, -time.Second); err == nil {
		t.Error("expected error for negative duration")
	}
	if len(d.Gestures) != 0 {
		t.Error("invalid gesture was dispatched")
	}
}

func TestSwipe_CancelledContext(t *testing.T) {
	d := mock.New(mock.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(d).Swipe(ctx, core.Point{}, core.Point{}, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(d.Gestures) != 0 {
		t.Error("gesture dispatched after cancel")
	}
}

func TestScroll_UsesConfiguredSpec(t *testing.T) {
	d := mock.New(mock.Config{})

	if err := New(d).Scroll(context.Background()); err != nil {
		t.Fatalf("Scroll() error = %v", err)
	}
	if d.Gestures[0] != DefaultScroll {
		t.Errorf("default scroll = %+v, want %+v", d.Gestures[0], DefaultScroll)
	}

	custom := core.GestureSpec{Start: core.Point{X: 10, Y: 90}, End: core.Point{X: 10, Y: 10}, Duration: time.Second}
	s := New(d, WithScroll(custom))
	if s.ScrollSpec() != custom {
		t.Errorf("ScrollSpec() = %+v", s.ScrollSpec())
	}
	s.Scroll(context.Background())
	if d.Gestures[1] != custom {
		t.Errorf("custom scroll = %+v", d.Gestures[1])
	}
}

func TestForDirection(t *testing.T) {
	tests := []struct {
		dir        Direction
		start, end core.Point
	}{
		{Down, core.Point{X: 540, Y: 1600}, core.Point{X: 540, Y: 800}},
		{Up, core.Point{X: 540, Y: 800}, core.Point{X: 540, Y: 1600}},
		{Left, core.Point{X: 720, Y: 1200}, core.Point{X: 360, Y: 1200}},
		{Right, core.Point{X: 360, Y: 1200}, core.Point{X: 720, Y: 1200}},
	}

	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			spec, err := ForDirection(tt.dir, 1080, 2400, 500*time.Millisecond)
			if err != nil {
				t.Fatalf("ForDirection() error = %v", err)
			}
			if spec.Start != tt.start || spec.End != tt.end {
				t.Errorf("ForDirection() = %v->%v, want %v->%v", spec.Start, spec.End, tt.start, tt.end)
			}
		})
	}

	if _, err := ForDirection("diagonal", 100, 100, 0); err == nil {
		t.Error("expected error for invalid direction")
	}
}
