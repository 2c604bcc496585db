package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/driver/mock"
)

// recordSleeps returns a SleepFunc that records durations instead of waiting.
func recordSleeps(out *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*out = append(*out, d)
		return nil
	}
}

// scripted returns a check that yields results in order, then false.
func scripted(calls *int, results ...bool) Check {
	return func(context.Context) (bool, error) {
		*calls++
		if *calls <= len(results) {
			return results[*calls-1], nil
		}
		return false, nil
	}
}

func TestWaitUntilReady_SucceedsOnThirdCheck(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	policy := core.PollPolicy{Interval: 5 * time.Second, MaxAttempts: 5}

	err := New(WithSleep(recordSleeps(&sleeps))).
		WaitUntilReady(context.Background(), scripted(&calls, false, false, true), policy)

	if err != nil {
		t.Fatalf("WaitUntilReady() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("checks = %d, want 3", calls)
	}
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 5*time.Second {
			t.Errorf("sleep = %v, want 5s", d)
		}
	}
}

func TestWaitUntilReady_Exhaustion(t *testing.T) {
	for _, n := range []int{1, 2, 7} {
		var sleeps []time.Duration
		calls := 0

		err := New(WithSleep(recordSleeps(&sleeps)), WithCriteria("emulator-5554 online")).
			WaitUntilReady(context.Background(), scripted(&calls), core.PollPolicy{Interval: time.Second, MaxAttempts: n})

		var te *core.TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("n=%d: error = %v, want *TimeoutError", n, err)
		}
		if te.AttemptsUsed != n || te.Criteria != "emulator-5554 online" {
			t.Errorf("n=%d: TimeoutError = %+v", n, te)
		}
		if calls != n {
			t.Errorf("n=%d: checks = %d, want %d", n, calls, n)
		}
		if len(sleeps) != n-1 {
			t.Errorf("n=%d: sleeps = %d, want %d (none after the last check)", n, len(sleeps), n-1)
		}
	}
}

func TestWaitUntilReady_FatalProbe(t *testing.T) {
	cause := errors.New("exec: adb: not found")
	calls := 0
	check := func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			return false, cause
		}
		return false, nil
	}

	err := New(WithSleep(recordSleeps(new([]time.Duration)))).
		WaitUntilReady(context.Background(), check, core.PollPolicy{MaxAttempts: 5})

	var pf *core.ProbeFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want *ProbeFailureError", err)
	}
	if pf.Attempt != 2 || !errors.Is(err, cause) {
		t.Errorf("ProbeFailureError = %+v", pf)
	}
	if calls != 2 {
		t.Errorf("checks = %d, want 2 (no calls after failure)", calls)
	}
}

func TestWaitUntilReady_InvalidPolicy(t *testing.T) {
	calls := 0
	err := New().WaitUntilReady(context.Background(), scripted(&calls, true), core.PollPolicy{})
	if err == nil {
		t.Fatal("expected error for zero MaxAttempts")
	}
	if calls != 0 {
		t.Error("check called with invalid policy")
	}
}

func TestWaitUntilReady_RealSleepNearZero(t *testing.T) {
	calls := 0
	start := time.Now()

	err := New().WaitUntilReady(context.Background(), scripted(&calls, false, true),
		core.PollPolicy{Interval: time.Millisecond, MaxAttempts: 3})

	if err != nil {
		t.Fatalf("WaitUntilReady() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("polling took far longer than the interval")
	}
}

func TestWaitUntilReady_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	check := func(context.Context) (bool, error) {
		cancel()
		return false, nil
	}

	err := New().WaitUntilReady(ctx, check, core.PollPolicy{Interval: time.Hour, MaxAttempts: 3})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWaitForElement(t *testing.T) {
	d := mock.New(mock.Config{Screens: []mock.Screen{
		{Elements: []mock.Element{{Text: "Loading"}}},
		{Elements: []mock.Element{{ID: "Player.PlayButton"}}},
	}})
	// Each sleep lets the "screen" advance, standing in for the app loading.
	sleep := func(context.Context, time.Duration) error {
		return d.DispatchGesture(core.GestureSpec{})
	}

	el, err := WaitForElement(context.Background(), d, core.ID("Player.PlayButton"),
		core.PollPolicy{Interval: time.Second, MaxAttempts: 3}, WithSleep(sleep))
	if err != nil {
		t.Fatalf("WaitForElement() error = %v", err)
	}
	if el == "" {
		t.Error("WaitForElement() returned empty handle")
	}
	if len(d.FindCalls) != 2 {
		t.Errorf("FindCalls = %d, want 2", len(d.FindCalls))
	}
}

func TestWaitForElement_Timeout(t *testing.T) {
	d := mock.New(mock.Config{})

	_, err := WaitForElement(context.Background(), d, core.TextContains("Continue"),
		core.PollPolicy{MaxAttempts: 2}, WithSleep(recordSleeps(new([]time.Duration))))

	var te *core.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if te.Criteria != `element text="Continue"` {
		t.Errorf("Criteria = %q", te.Criteria)
	}
}

func TestWaitForElement_DriverErrorIsFatal(t *testing.T) {
	d := mock.New(mock.Config{})
	d.FindErr = func(core.Locator) error { return errors.New("invalid selector") }

	_, err := WaitForElement(context.Background(), d, core.ID("x"), core.PollPolicy{MaxAttempts: 5},
		WithSleep(recordSleeps(new([]time.Duration))))

	var pf *core.ProbeFailureError
	if !errors.As(err, &pf) || pf.Attempt != 1 {
		t.Errorf("error = %v, want ProbeFailureError on attempt 1", err)
	}
}
