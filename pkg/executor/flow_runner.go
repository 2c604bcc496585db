package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/flow"
	"github.com/devicelab-dev/touchflow/pkg/gesture"
	"github.com/devicelab-dev/touchflow/pkg/locator"
	"github.com/devicelab-dev/touchflow/pkg/logger"
	"github.com/devicelab-dev/touchflow/pkg/readiness"
)

// FlowRunner executes a single flow.
type FlowRunner struct {
	ctx        context.Context
	flow       *flow.Flow
	driver     core.Driver
	config     RunnerConfig
	script     *ScriptEngine
	gestures   *gesture.Synthesizer
	locator    *locator.ScrollingLocator
	flowIdx    int
	totalFlows int
}

func newFlowRunner(ctx context.Context, f *flow.Flow, driver core.Driver, config RunnerConfig, flowIdx, totalFlows int) *FlowRunner {
	gestures := gesture.New(driver, gesture.WithScroll(config.ScrollGesture))
	return &FlowRunner{
		ctx:        ctx,
		flow:       f,
		driver:     driver,
		config:     config,
		script:     NewScriptEngine(),
		gestures:   gestures,
		locator:    locator.New(driver, gestures),
		flowIdx:    flowIdx,
		totalFlows: totalFlows,
	}
}

// Run executes the flow and returns the result. A failed step skips the rest;
// a failed optional step is recorded as warned and the flow continues.
func (fr *FlowRunner) Run() FlowResult {
	flowStart := time.Now()

	fr.script.ImportSystemEnv()
	fr.script.SetPlatform(fr.config.Platform)
	if fr.flow.Config.AppID != "" {
		fr.script.SetVariable("APP_ID", fr.flow.Config.AppID)
	}
	fr.script.SetVariables(fr.flow.Config.Env)
	fr.script.SetVariables(fr.config.Env)

	name := fr.flow.DisplayName()
	result := FlowResult{
		Name:       name,
		File:       filepath.Base(fr.flow.SourcePath),
		Status:     core.StatusPassed,
		StepsTotal: len(fr.flow.Steps),
	}
	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, name, result.File)
	}
	logger.Info("Flow %q: %d step(s)", name, len(fr.flow.Steps))

	ctx := fr.ctx
	if fr.flow.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(fr.flow.Config.Timeout)*time.Millisecond)
		defer cancel()
	}

	failed := false
	for i, step := range fr.flow.Steps {
		sr := StepResult{Index: i, Description: step.Describe()}

		switch {
		case failed:
			sr.Status = core.StatusSkipped
		case ctx.Err() != nil:
			sr.Status = core.StatusSkipped
			sr.Error = ctx.Err().Error()
		default:
			sr = fr.executeStep(ctx, i, step)
		}

		switch sr.Status {
		case core.StatusPassed:
			result.StepsPassed++
		case core.StatusWarned:
			result.StepsWarned++
		case core.StatusSkipped:
			result.StepsSkipped++
		case core.StatusFailed:
			result.StepsFailed++
			failed = true
			result.Status = core.StatusFailed
			result.Error = fmt.Sprintf("step %d %s: %s", i+1, sr.Description, sr.Error)
		}
		result.Steps = append(result.Steps, sr)
	}

	// cancelled before the first step ran
	if !failed && result.StepsSkipped == result.StepsTotal && result.StepsTotal > 0 {
		result.Status = core.StatusSkipped
		result.Error = "run cancelled"
	}

	result.Duration = time.Since(flowStart)
	if fr.config.OnFlowEnd != nil {
		fr.config.OnFlowEnd(name, result.Status, result.Duration, result.Error)
	}
	logger.Info("Flow %q %s in %v", name, result.Status, result.Duration.Round(time.Millisecond))
	return result
}

// executeStep runs one step and classifies its outcome.
func (fr *FlowRunner) executeStep(ctx context.Context, idx int, step flow.Step) StepResult {
	stepStart := time.Now()
	logger.Debug("step %d: %s", idx+1, step.Describe())

	err := fr.dispatch(ctx, step)

	sr := StepResult{
		Index:       idx,
		Description: step.Describe(),
		Status:      core.StatusPassed,
		Duration:    time.Since(stepStart),
	}
	if err != nil {
		sr.Error = err.Error()
		sr.Category = core.CategoryOf(err)
		if step.IsOptional() && ctx.Err() == nil {
			sr.Status = core.StatusWarned
			logger.Warn("optional step %d failed: %v", idx+1, err)
		} else {
			sr.Status = core.StatusFailed
			logger.Error("step %d failed: %v", idx+1, err)
		}
	}

	if fr.config.OnStepComplete != nil {
		fr.config.OnStepComplete(idx, sr.Description, sr.Status, sr.Duration, sr.Error)
	}
	return sr
}

// dispatch routes a step to its handler.
func (fr *FlowRunner) dispatch(ctx context.Context, step flow.Step) error {
	switch s := step.(type) {
	// Scripting steps
	case *flow.DefineVariablesStep:
		return fr.script.ExecuteDefineVariables(s)
	case *flow.RunScriptStep:
		return fr.script.ExecuteRunScript(s)
	case *flow.AssertTrueStep:
		return fr.script.ExecuteAssertTrue(s)

	// Device steps
	case *flow.TapOnStep:
		return fr.tapOn(ctx, s)
	case *flow.ScrollToAndTapStep:
		return fr.scrollToAndTap(ctx, s)
	case *flow.SwipeStep:
		return fr.swipe(ctx, s)
	case *flow.ScrollStep:
		return fr.gestures.Scroll(ctx)
	case *flow.InputTextStep:
		return fr.inputText(ctx, s.Into, fr.script.ExpandVariables(s.Text), s.TimeoutMs)
	case *flow.InputRandomStep:
		value := flow.RandomValue(s.DataType, s.Length)
		if s.As != "" {
			fr.script.SetVariable(s.As, value)
		}
		return fr.inputText(ctx, s.Into, value, s.TimeoutMs)
	case *flow.WaitForStep:
		_, err := fr.waitFor(ctx, s.Selector, s.TimeoutMs)
		return err
	case *flow.AssertTextStep:
		return fr.assertText(ctx, s)
	}
	return fmt.Errorf("unsupported step type: %s", step.Type())
}

// waitFor polls for the selector until the step (or default) timeout expires.
func (fr *FlowRunner) waitFor(ctx context.Context, sel flow.Selector, timeoutMs int) (core.ElementHandle, error) {
	expanded := fr.script.expandSelector(sel)
	loc, err := expanded.Locator()
	if err != nil {
		return "", err
	}

	var opts []readiness.Option
	if fr.config.Sleep != nil {
		opts = append(opts, readiness.WithSleep(fr.config.Sleep))
	}
	return readiness.WaitForElement(ctx, fr.driver, loc, fr.waitPolicy(timeoutMs), opts...)
}

// waitPolicy spreads the timeout over fixed-interval attempts.
// n attempts sleep n-1 times, so the first check is free.
func (fr *FlowRunner) waitPolicy(timeoutMs int) core.PollPolicy {
	timeout := fr.config.WaitTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return core.PollPolicy{
		Interval:    fr.config.WaitInterval,
		MaxAttempts: int(timeout/fr.config.WaitInterval) + 1,
	}
}

func (fr *FlowRunner) tapOn(ctx context.Context, s *flow.TapOnStep) error {
	el, err := fr.waitFor(ctx, s.Selector, s.TimeoutMs)
	if err != nil {
		return err
	}
	return fr.driver.Activate(el)
}

func (fr *FlowRunner) scrollToAndTap(ctx context.Context, s *flow.ScrollToAndTapStep) error {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = fr.config.LocatorAttempts
	}
	return fr.locator.LocateAndActivate(ctx, fr.script.ExpandVariables(s.Target), attempts)
}

func (fr *FlowRunner) swipe(ctx context.Context, s *flow.SwipeStep) error {
	duration := fr.config.SwipeDuration
	if s.DurationMs > 0 {
		duration = time.Duration(s.DurationMs) * time.Millisecond
	}

	if s.Direction != "" {
		dir := gesture.Direction(strings.ToLower(fr.script.ExpandVariables(s.Direction)))
		spec, err := gesture.ForDirection(dir, fr.config.ScreenWidth, fr.config.ScreenHeight, duration)
		if err != nil {
			return err
		}
		return fr.gestures.Dispatch(ctx, spec)
	}

	start, err := flow.ParsePoint(fr.script.ExpandVariables(s.Start))
	if err != nil {
		return err
	}
	end, err := flow.ParsePoint(fr.script.ExpandVariables(s.End))
	if err != nil {
		return err
	}
	return fr.gestures.Swipe(ctx, start, end, duration)
}

func (fr *FlowRunner) inputText(ctx context.Context, into flow.Selector, text string, timeoutMs int) error {
	el, err := fr.waitFor(ctx, into, timeoutMs)
	if err != nil {
		return err
	}
	return fr.driver.SendText(el, text)
}

func (fr *FlowRunner) assertText(ctx context.Context, s *flow.AssertTextStep) error {
	el, err := fr.waitFor(ctx, s.Selector, s.TimeoutMs)
	if err != nil {
		return err
	}
	text, err := fr.driver.ReadText(el)
	if err != nil {
		return err
	}
	fr.script.SetLastText(text)

	if want := fr.script.ExpandVariables(s.Equals); want != "" && text != want {
		return core.ErrTextMismatch.WithMessage(fmt.Sprintf("expected %q, got %q", want, text))
	}
	if want := fr.script.ExpandVariables(s.Contains); want != "" && !strings.Contains(text, want) {
		return core.ErrTextMismatch.WithMessage(fmt.Sprintf("expected text containing %q, got %q", want, text))
	}
	return nil
}
