// Package executor runs parsed flows against a driver and aggregates results.
package executor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/touchflow/pkg/config"
	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/flow"
	"github.com/devicelab-dev/touchflow/pkg/readiness"
)

// Defaults for RunnerConfig fields left zero.
const (
	DefaultWaitInterval  = 500 * time.Millisecond
	DefaultSwipeDuration = 400 * time.Millisecond
	DefaultScreenWidth   = 1080
	DefaultScreenHeight  = 2400
)

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	// LocatorAttempts is the scrollToAndTap budget when a step sets none.
	LocatorAttempts int
	// ScrollGesture is the swipe used by scroll and scrollToAndTap.
	ScrollGesture core.GestureSpec
	// WaitTimeout bounds waitFor and element lookups when a step sets no timeout.
	WaitTimeout  time.Duration
	WaitInterval time.Duration

	// Screen size used to place direction swipes.
	ScreenWidth   int
	ScreenHeight  int
	SwipeDuration time.Duration

	Platform string
	Env      map[string]string // overrides flow env

	// StopOnFail skips the remaining flows after the first failure.
	StopOnFail bool

	// Sleep replaces the poll sleep; tests use it to avoid real waits.
	Sleep readiness.SleepFunc

	// Callbacks for live progress
	OnFlowStart    func(flowIdx, totalFlows int, name, file string)
	OnStepComplete func(idx int, desc string, status core.StepStatus, duration time.Duration, errMsg string)
	OnFlowEnd      func(name string, status core.StepStatus, duration time.Duration, errMsg string)
}

// ConfigFrom builds a RunnerConfig from the workspace configuration.
func ConfigFrom(cfg *config.Config) RunnerConfig {
	return RunnerConfig{
		LocatorAttempts: cfg.Locator.MaxAttempts,
		ScrollGesture:   cfg.ScrollGesture(),
		WaitTimeout:     cfg.WaitTimeout(),
		Env:             cfg.Env,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.LocatorAttempts <= 0 {
		c.LocatorAttempts = config.DefaultLocatorAttempts
	}
	if c.ScrollGesture == (core.GestureSpec{}) {
		c.ScrollGesture = config.Default().ScrollGesture()
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = time.Duration(config.DefaultWaitTimeoutMs) * time.Millisecond
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = DefaultWaitInterval
	}
	if c.ScreenWidth <= 0 || c.ScreenHeight <= 0 {
		c.ScreenWidth, c.ScreenHeight = DefaultScreenWidth, DefaultScreenHeight
	}
	if c.SwipeDuration <= 0 {
		c.SwipeDuration = DefaultSwipeDuration
	}
	return c
}

// StepResult contains the result of a single step.
type StepResult struct {
	Index       int
	Description string
	Status      core.StepStatus
	Duration    time.Duration
	Error       string
	Category    core.ErrorCategory
}

// FlowResult contains the result of a single flow.
type FlowResult struct {
	Name         string
	File         string
	Status       core.StepStatus
	Duration     time.Duration
	Error        string
	Steps        []StepResult
	StepsTotal   int
	StepsPassed  int
	StepsFailed  int
	StepsSkipped int
	StepsWarned  int
}

// RunResult contains the aggregate result of a run.
type RunResult struct {
	ID           string // unique per run, used as the history key
	StartedAt    time.Time
	Status       core.StepStatus
	TotalFlows   int
	PassedFlows  int
	FailedFlows  int
	SkippedFlows int
	Duration     time.Duration
	FlowResults  []FlowResult
}

// Runner executes flows sequentially on one driver.
type Runner struct {
	config RunnerConfig
	driver core.Driver
}

// New creates a new test runner.
func New(driver core.Driver, config RunnerConfig) *Runner {
	return &Runner{
		config: config.withDefaults(),
		driver: driver,
	}
}

// Run executes all flows and returns the aggregated result.
func (r *Runner) Run(ctx context.Context, flows []*flow.Flow) *RunResult {
	start := time.Now()
	results := make([]FlowResult, len(flows))

	stop := false
	for i, f := range flows {
		if stop || ctx.Err() != nil {
			results[i] = skippedFlow(f, "run stopped")
			continue
		}
		results[i] = r.executeFlow(ctx, f, i, len(flows))
		if r.config.StopOnFail && results[i].Status == core.StatusFailed {
			stop = true
		}
	}

	return buildRunResult(results, start)
}

// executeFlow runs a single flow.
func (r *Runner) executeFlow(ctx context.Context, f *flow.Flow, flowIdx, totalFlows int) FlowResult {
	fr := newFlowRunner(ctx, f, r.driver, r.config, flowIdx, totalFlows)
	return fr.Run()
}

func skippedFlow(f *flow.Flow, reason string) FlowResult {
	return FlowResult{
		Name:       f.DisplayName(),
		File:       filepath.Base(f.SourcePath),
		Status:     core.StatusSkipped,
		Error:      reason,
		StepsTotal: len(f.Steps),
	}
}

// buildRunResult aggregates flow results into a run result.
func buildRunResult(flowResults []FlowResult, start time.Time) *RunResult {
	result := &RunResult{
		ID:          uuid.NewString(),
		StartedAt:   start,
		TotalFlows:  len(flowResults),
		FlowResults: flowResults,
		Duration:    time.Since(start),
	}

	for _, fr := range flowResults {
		switch fr.Status {
		case core.StatusPassed, core.StatusWarned:
			result.PassedFlows++
		case core.StatusFailed, core.StatusErrored:
			result.FailedFlows++
		case core.StatusSkipped:
			result.SkippedFlows++
		}
	}

	// skipped flows do not fail the run
	if result.FailedFlows > 0 {
		result.Status = core.StatusFailed
	} else {
		result.Status = core.StatusPassed
	}
	return result
}

// Success reports whether no flow failed.
func (r *RunResult) Success() bool {
	return r.Status != core.StatusFailed
}

// WriteSummary prints the run summary: counts, wall time and one line per failure.
func (r *RunResult) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Flows: %d started, %d succeeded, %d failed, %d skipped (%s)\n",
		r.TotalFlows-r.SkippedFlows, r.PassedFlows, r.FailedFlows, r.SkippedFlows,
		r.Duration.Round(time.Millisecond))

	var failures []string
	for _, fr := range r.FlowResults {
		if fr.Status != core.StatusFailed {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", fr.Name, fr.Error))
	}
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w, "Failures:")
	for _, f := range failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}
