package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Timezone(t *testing.T) {
	if _, err := New(""); err != nil {
		t.Errorf("New(\"\") error = %v", err)
	}
	if _, err := New("Europe/Stockholm"); err != nil {
		t.Errorf("New(Europe/Stockholm) error = %v", err)
	}
	if _, err := New("Nowhere/Invalid"); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestAdd_InvalidSpec(t *testing.T) {
	s, _ := New("")
	tests := []string{"", "not a schedule", "* * *", "@every nonsense"}
	for _, spec := range tests {
		if err := s.Add("flows", spec, func(context.Context) error { return nil }); err == nil {
			t.Errorf("Add(%q) expected error", spec)
		}
	}
	for _, spec := range []string{"*/30 * * * *", "@hourly", "@every 30m"} {
		if err := s.Add("flows", spec, func(context.Context) error { return nil }); err != nil {
			t.Errorf("Add(%q) error = %v", spec, err)
		}
	}
}

func TestNext_UnknownJob(t *testing.T) {
	s, _ := New("")
	if got := s.Next("missing"); !got.IsZero() {
		t.Errorf("Next(missing) = %v, want zero", got)
	}
}

func TestRun_FiresJobsUntilCancelled(t *testing.T) {
	s, _ := New("")

	var calls atomic.Int32
	fired := make(chan struct{}, 10)
	err := s.Add("flows", "@every 1s", func(ctx context.Context) error {
		calls.Add(1)
		fired <- struct{}{}
		return errors.New("failures are logged, not fatal")
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatalf("job fired %d times, want 2", calls.Load())
		}
	}
	if next := s.Next("flows"); next.IsZero() {
		t.Error("Next() is zero while running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_JobSeesCancellation(t *testing.T) {
	s, _ := New("")

	started := make(chan struct{})
	finished := make(chan error, 1)
	_ = s.Add("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("job ctx error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not observe cancellation")
	}
	<-done
}
