package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/flow"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// DeviceWorker is one device session that pulls flows from the shared queue.
type DeviceWorker struct {
	ID       int
	DeviceID string
	Driver   core.Driver
	Cleanup  func()
}

type workItem struct {
	flow  *flow.Flow
	index int
}

// ParallelRunner spreads flows across several devices. Each driver is used by
// exactly one goroutine.
type ParallelRunner struct {
	workers []DeviceWorker
	config  RunnerConfig
}

// NewParallelRunner creates a parallel runner with multiple device workers.
func NewParallelRunner(workers []DeviceWorker, config RunnerConfig) *ParallelRunner {
	return &ParallelRunner{
		workers: workers,
		config:  config.withDefaults(),
	}
}

// Run executes flows using a work queue. Results keep the input order and the
// run duration is wall-clock time, not the sum of flow durations.
func (pr *ParallelRunner) Run(ctx context.Context, flows []*flow.Flow) (*RunResult, error) {
	if len(pr.workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	start := time.Now()
	workQueue := make(chan workItem, len(flows))
	for i, f := range flows {
		workQueue <- workItem{flow: f, index: i}
	}
	close(workQueue)

	results := make([]FlowResult, len(flows))
	var wg sync.WaitGroup
	var mu sync.Mutex
	stopAll := false

	for i := range pr.workers {
		wg.Add(1)
		go func(w DeviceWorker) {
			defer wg.Done()
			if w.Cleanup != nil {
				defer w.Cleanup()
			}

			runner := &Runner{config: pr.config, driver: w.Driver}
			for item := range workQueue {
				mu.Lock()
				stop := stopAll
				mu.Unlock()
				if stop || ctx.Err() != nil {
					results[item.index] = skippedFlow(item.flow, "run stopped")
					continue
				}

				logger.Info("worker %d (%s): flow %d/%d", w.ID, w.DeviceID, item.index+1, len(flows))
				result := runner.executeFlow(ctx, item.flow, item.index, len(flows))
				results[item.index] = result

				if pr.config.StopOnFail && result.Status == core.StatusFailed {
					mu.Lock()
					stopAll = true
					mu.Unlock()
				}
			}
		}(pr.workers[i])
	}
	wg.Wait()

	return buildRunResult(results, start), nil
}
