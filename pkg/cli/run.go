package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/touchflow/pkg/config"
	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/driver/browser"
	"github.com/devicelab-dev/touchflow/pkg/driver/mock"
	"github.com/devicelab-dev/touchflow/pkg/emulator"
	"github.com/devicelab-dev/touchflow/pkg/executor"
	"github.com/devicelab-dev/touchflow/pkg/flow"
	"github.com/devicelab-dev/touchflow/pkg/history"
	"github.com/devicelab-dev/touchflow/pkg/logger"
	"github.com/devicelab-dev/touchflow/pkg/schedule"
	"github.com/devicelab-dev/touchflow/pkg/validator"
)

// Driver names accepted by --driver.
const (
	driverAppium  = "appium"
	driverBrowser = "browser"
	driverMock    = "mock"
)

// Slow step threshold
const slowThreshold = 5 * time.Second

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run flow files against a device",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more YAML flows and print a summary. Exits 1 if any flow fails.

Examples:
  touchflow run onboarding.yaml
  touchflow run flows/ -e USER=test -e PASS=secret
  touchflow --device emulator-5554,emulator-5556 run flows/
  touchflow run --driver browser --url https://m.example.com flow.yaml
  touchflow run --driver mock --mock-config screens.yaml flow.yaml
  touchflow run flows/ --schedule "@every 30m" --history runs.db`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "driver",
			Aliases: []string{"d"},
			Usage:   "Driver to use (appium, browser, mock)",
			Value:   driverAppium,
			EnvVars: []string{"TOUCHFLOW_DRIVER"},
		},
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables (KEY=VALUE)",
		},
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "Skip remaining flows after the first failure",
		},
		capsFlag(),
		includeTagsFlag(),
		excludeTagsFlag(),

		// Device preparation (appium)
		&cli.BoolFlag{
			Name:  "wait-device",
			Usage: "Wait for the device with adb before opening the session",
		},
		&cli.BoolFlag{
			Name:  "start-emulator",
			Usage: "Boot the configured AVD before running",
		},
		&cli.BoolFlag{
			Name:  "shutdown-emulator",
			Usage: "Stop the emulator booted by --start-emulator when the run ends",
		},

		// Browser driver
		&cli.StringFlag{
			Name:  "url",
			Usage: "Page to open (browser driver; default: flow url)",
		},
		&cli.StringFlag{
			Name:  "control-url",
			Usage: "DevTools URL of a running browser (browser driver)",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Run the browser headless",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "stealth",
			Usage: "Hide automation markers from the page (browser driver)",
		},
		&cli.IntFlag{
			Name:  "width",
			Usage: "Browser viewport width",
			Value: 412,
		},
		&cli.IntFlag{
			Name:  "height",
			Usage: "Browser viewport height",
			Value: 915,
		},

		// Repeated runs
		&cli.StringFlag{
			Name:  "history",
			Usage: "Record results in this history database (default with --schedule: <home>/history.db)",
		},
		&cli.StringFlag{
			Name:  "schedule",
			Usage: `Re-run on a cron schedule until interrupted ("*/30 * * * *", "@every 1h")`,
		},

		// Mock driver
		&cli.StringFlag{
			Name:  "mock-config",
			Usage: "Screen script for the mock driver",
		},
	},
	Action: runFlows,
}

// session is one opened driver plus what the runner needs to know about it.
type session struct {
	driver   core.Driver
	platform string
	width    int
	height   int
	close    func()
}

func runFlows(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one flow file or directory is required")
	}
	driverName := c.String("driver")
	switch driverName {
	case driverAppium, driverBrowser, driverMock:
	default:
		return fmt.Errorf("unknown driver %q (want appium, browser or mock)", driverName)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	flows, err := loadFlows(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	devices := []string{cfg.Device}
	if c.IsSet("device") {
		devices = parseDevices(c.String("device"))
	}
	if driverName == driverAppium {
		var release func()
		if devices, release, err = prepareDevices(ctx, c, cfg, devices); err != nil {
			return err
		}
		defer release()
	}

	var store *history.Store
	historyPath := cfg.HistoryPath()
	if c.IsSet("history") {
		historyPath = c.String("history")
	}
	if c.IsSet("history") || c.IsSet("schedule") {
		if store, err = history.Open(historyPath); err != nil {
			return err
		}
		defer store.Close()
	}

	once := func(ctx context.Context) error {
		logger.Info("=== Run started: %d flow(s), driver %s ===", len(flows), driverName)
		result, err := runOnce(ctx, c, cfg, driverName, devices, flows)
		if err != nil {
			return err
		}

		printSummary(c.App.Writer, result)
		result.WriteSummary(c.App.Writer)
		logger.Info("=== Run %s finished: %d passed, %d failed, %d skipped ===",
			result.ID, result.PassedFlows, result.FailedFlows, result.SkippedFlows)

		if store != nil {
			if err := store.Record(ctx, driverName, result); err != nil {
				logger.Warn("Failed to record run %s: %v", result.ID, err)
			}
		}
		if !result.Success() {
			return fmt.Errorf("%d of %d flow(s) failed", result.FailedFlows, result.TotalFlows)
		}
		return nil
	}

	spec := c.String("schedule")
	if spec == "" {
		return once(ctx)
	}

	if !c.Bool("verbose") {
		logger.SetDebug(false)
	}
	sched, err := schedule.New(cfg.Timezone)
	if err != nil {
		return core.ErrInvalidConfig.WithCause(err)
	}
	if err := sched.Add("flows", spec, once); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  Scheduled %d flow(s) %q, history in %s (Ctrl+C to stop)\n",
		len(flows), spec, historyPath)
	return sched.Run(ctx)
}

// runOnce opens the driver(s), runs every flow and closes the sessions.
func runOnce(ctx context.Context, c *cli.Context, cfg *config.Config, driverName string, devices []string, flows []*flow.Flow) (*executor.RunResult, error) {
	rc := executor.ConfigFrom(cfg)
	rc.Env = mergeEnv(cfg.Env, parseEnvVars(c.StringSlice("env")))
	rc.StopOnFail = c.Bool("fail-fast")
	out := &progress{w: c.App.Writer}
	rc.OnFlowStart = out.flowStart
	rc.OnStepComplete = out.stepComplete
	rc.OnFlowEnd = out.flowEnd

	if len(devices) > 1 && driverName == driverAppium {
		workers, err := openWorkers(ctx, c, cfg, devices)
		if err != nil {
			return nil, err
		}
		rc.Platform = workers[0].platform
		rc.ScreenWidth, rc.ScreenHeight = workers[0].width, workers[0].height

		deviceWorkers := make([]executor.DeviceWorker, len(workers))
		for i, w := range workers {
			deviceWorkers[i] = executor.DeviceWorker{ID: i, DeviceID: devices[i], Driver: w.driver, Cleanup: w.close}
		}
		return executor.NewParallelRunner(deviceWorkers, rc).Run(ctx, flows)
	}

	s, err := openSession(ctx, c, cfg, driverName, devices[0], flows)
	if err != nil {
		return nil, err
	}
	defer s.close()
	rc.Platform = s.platform
	rc.ScreenWidth, rc.ScreenHeight = s.width, s.height
	return executor.New(s.driver, rc).Run(ctx, flows), nil
}

// loadFlows validates every path up front and returns the flows that pass
// the tag filters.
func loadFlows(c *cli.Context) ([]*flow.Flow, error) {
	result := validator.New(c.StringSlice("include-tags"), c.StringSlice("exclude-tags")).
		Validate(c.Args().Slice()...)
	if err := result.Err(); err != nil {
		return nil, err
	}
	if len(result.Flows) == 0 {
		if result.Filtered > 0 {
			return nil, fmt.Errorf("all %d flow(s) excluded by tag filters", result.Filtered)
		}
		return nil, fmt.Errorf("no flow files found in %s", strings.Join(c.Args().Slice(), ", "))
	}
	return result.Flows, nil
}

func mergeEnv(base, overrides map[string]string) map[string]string {
	env := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// prepareDevices boots the configured AVD or waits for the devices, as
// requested. The returned release func stops a booted emulator when
// --shutdown-emulator is set.
func prepareDevices(ctx context.Context, c *cli.Context, cfg *config.Config, devices []string) ([]string, func(), error) {
	release := func() {}
	startEmu := c.Bool("start-emulator")
	if !startEmu && !c.Bool("wait-device") {
		return devices, release, nil
	}

	l, err := newLauncher(c, cfg, startEmu)
	if err != nil {
		return nil, nil, err
	}

	if startEmu {
		if cfg.AVD == "" {
			return nil, nil, fmt.Errorf("--start-emulator needs avd in touchflow.yaml")
		}
		inst, err := l.StartEmulator(ctx, cfg.AVD, emulator.PortForSerial(devices[0]))
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(c.App.Writer, "  %s✓%s %s booted in %s\n",
			color(colorGreen), color(colorReset), inst.Serial, formatDuration(inst.BootDuration))
		if c.Bool("shutdown-emulator") {
			release = func() {
				// the run ctx may already be cancelled
				if err := l.Shutdown(context.Background(), inst.Serial); err != nil {
					logger.Warn("Failed to shut down %s: %v", inst.Serial, err)
				}
			}
		}
		return []string{inst.Serial}, release, nil
	}

	for _, d := range devices {
		if err := l.WaitForDevice(ctx, d); err != nil {
			return nil, nil, err
		}
	}
	return devices, release, nil
}

// openSession opens the driver selected by --driver.
func openSession(ctx context.Context, c *cli.Context, cfg *config.Config, driverName, deviceID string, flows []*flow.Flow) (*session, error) {
	switch driverName {
	case driverMock:
		mcfg := mock.Config{}
		if path := c.String("mock-config"); path != "" {
			var err error
			if mcfg, err = mock.LoadConfig(path); err != nil {
				return nil, fmt.Errorf("load mock config: %w", err)
			}
		}
		return &session{driver: mock.New(mcfg), platform: driverMock, close: func() {}}, nil

	case driverBrowser:
		url := c.String("url")
		for _, f := range flows {
			if url != "" {
				break
			}
			url = f.Config.URL
		}
		if url == "" {
			return nil, fmt.Errorf("browser driver needs --url or a flow with url")
		}
		bcfg := browser.Config{
			URL:        url,
			ControlURL: c.String("control-url"),
			Headless:   c.Bool("headless"),
			Width:      c.Int("width"),
			Height:     c.Int("height"),
			Stealth:    c.Bool("stealth"),
		}
		d, err := browser.New(bcfg)
		if err != nil {
			return nil, err
		}
		return &session{
			driver:   d,
			platform: "web",
			width:    bcfg.Width,
			height:   bcfg.Height,
			close:    func() { _ = d.Close() },
		}, nil
	}

	d, err := openAppium(ctx, c, cfg, deviceID)
	if err != nil {
		return nil, err
	}
	w, h := d.Client().ScreenSize()
	return &session{
		driver:   d,
		platform: d.Client().Platform(),
		width:    w,
		height:   h,
		close:    func() { _ = d.Close() },
	}, nil
}

// openWorkers opens one Appium session per device, closing all on failure.
func openWorkers(ctx context.Context, c *cli.Context, cfg *config.Config, devices []string) ([]*session, error) {
	var sessions []*session
	for _, id := range devices {
		s, err := openSession(ctx, c, cfg, driverAppium, id, nil)
		if err != nil {
			for _, opened := range sessions {
				opened.close()
			}
			return nil, fmt.Errorf("device %s: %w", id, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// progress prints live results; parallel workers share it.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progress) flowStart(flowIdx, totalFlows int, name, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset), file)
	fmt.Fprintln(p.w, strings.Repeat("─", 60))
}

func (p *progress) stepComplete(idx int, desc string, status core.StepStatus, d time.Duration, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	durStr := formatDuration(d)

	switch status {
	case core.StatusPassed:
		symbol, symbolColor := "✓", color(colorGreen)
		if d >= slowThreshold {
			symbol, symbolColor = "⚠", color(colorYellow)
		}
		fmt.Fprintf(p.w, "    %s%s%s %s (%s)\n", symbolColor, symbol, color(colorReset), desc, durStr)
	case core.StatusWarned:
		fmt.Fprintf(p.w, "    %s~%s %s (%s, optional)\n", color(colorYellow), color(colorReset), desc, durStr)
		if errMsg != "" {
			fmt.Fprintf(p.w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), errMsg)
		}
	default:
		fmt.Fprintf(p.w, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, durStr)
		if errMsg != "" {
			fmt.Fprintf(p.w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), errMsg)
		}
	}
}

func (p *progress) flowEnd(name string, status core.StepStatus, d time.Duration, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == core.StatusFailed {
		fmt.Fprintf(p.w, "%s✗ %s%s %s%s%s\n",
			color(colorRed), color(colorReset), name, color(colorGray), formatDuration(d), color(colorReset))
		return
	}
	fmt.Fprintf(p.w, "%s✓ %s%s %s%s%s\n",
		color(colorGreen), color(colorReset), name, color(colorGray), formatDuration(d), color(colorReset))
}

func printSummary(w io.Writer, result *executor.RunResult) {
	totalSteps, passedSteps, failedSteps, skippedSteps := 0, 0, 0, 0
	for _, fr := range result.FlowResults {
		totalSteps += fr.StepsTotal
		passedSteps += fr.StepsPassed + fr.StepsWarned
		failedSteps += fr.StepsFailed
		skippedSteps += fr.StepsSkipped
	}

	fmt.Fprintln(w)
	tableWidth := 92
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-42s %6s %7s %6s %6s %6s %10s\n", "Flow", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for _, fr := range result.FlowResults {
		var status, statusColor string
		switch fr.Status {
		case core.StatusFailed:
			status, statusColor = "✗ FAIL", color(colorRed)
		case core.StatusSkipped:
			status, statusColor = "- SKIP", color(colorCyan)
		default:
			status, statusColor = "✓ PASS", color(colorGreen)
		}

		name := fr.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}
		fmt.Fprintf(w, "  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			name, statusColor, status, color(colorReset),
			fr.StepsTotal, fr.StepsPassed+fr.StepsWarned, fr.StepsFailed, fr.StepsSkipped,
			formatDuration(fr.Duration))
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(w, "  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}
