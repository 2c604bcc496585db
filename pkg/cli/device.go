package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/touchflow/pkg/config"
	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/emulator"
	"github.com/devicelab-dev/touchflow/pkg/process"
)

// newProcess is the process capability behind adb and emulator calls; tests replace it.
var newProcess = func() core.Process { return process.Exec{} }

var waitDeviceCommand = &cli.Command{
	Name:  "wait-device",
	Usage: "Poll adb until the device is online",
	Description: `Poll "adb devices" at a fixed interval until the device from --device
(or any device, when none is configured) is in the "device" state.

Examples:
  touchflow wait-device
  touchflow --device emulator-5556 wait-device --interval 2s --attempts 60 --boot`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Time between checks (default from config: 5s)",
		},
		&cli.IntFlag{
			Name:  "attempts",
			Usage: "Maximum number of checks (default from config: 20)",
		},
		&cli.BoolFlag{
			Name:  "boot",
			Usage: "Also wait for sys.boot_completed",
		},
	},
	Action: runWaitDevice,
}

var startEmulatorCommand = &cli.Command{
	Name:  "start-emulator",
	Usage: "Boot an Android emulator and wait until adb reports it ready",
	Description: `Launch "emulator -avd NAME -port N" and poll adb until it is online.

Examples:
  touchflow start-emulator --avd Pixel_9_Pro_XL
  touchflow start-emulator --avd Pixel_9_Pro_XL --port 5556`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "avd",
			Usage: "AVD name (default from config)",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "Console port; the serial becomes emulator-<port>",
			Value: emulator.DefaultConsolePort,
		},
	},
	Action: runStartEmulator,
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// newLauncher builds an emulator launcher from config and command flags.
func newLauncher(c *cli.Context, cfg *config.Config, needEmulator bool) (*emulator.Launcher, error) {
	adb, err := emulator.FindADB()
	if err != nil {
		return nil, err
	}
	l := &emulator.Launcher{
		Proc:     newProcess(),
		ADB:      adb,
		Policy:   cfg.ReadinessPolicy(),
		WaitBoot: cfg.Readiness.WaitBoot,
	}
	if needEmulator {
		if l.Emulator, err = emulator.FindEmulatorBinary(); err != nil {
			return nil, err
		}
	}

	if c.IsSet("interval") {
		l.Policy.Interval = c.Duration("interval")
	}
	if c.IsSet("attempts") {
		l.Policy.MaxAttempts = c.Int("attempts")
	}
	if c.Bool("boot") {
		l.WaitBoot = true
	}
	if err := l.Policy.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func runWaitDevice(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l, err := newLauncher(c, cfg, false)
	if err != nil {
		return err
	}

	// an unset --device waits for any device
	serial := ""
	if c.IsSet("device") {
		serial = cfg.Device
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	start := time.Now()
	fmt.Fprintf(c.App.Writer, "  %sWaiting for %s (every %v, up to %d checks)%s\n",
		color(colorCyan), deviceLabel(serial), l.Policy.Interval, l.Policy.MaxAttempts, color(colorReset))
	if err := l.WaitForDevice(ctx, serial); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  %s✓%s %s ready after %s\n",
		color(colorGreen), color(colorReset), deviceLabel(serial), formatDuration(time.Since(start)))
	return nil
}

func runStartEmulator(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	avd := c.String("avd")
	if avd == "" {
		avd = cfg.AVD
	}
	if avd == "" {
		return fmt.Errorf("--avd is required (or set avd in touchflow.yaml)")
	}

	l, err := newLauncher(c, cfg, true)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	fmt.Fprintf(c.App.Writer, "  %sStarting emulator: %s%s\n", color(colorCyan), avd, color(colorReset))
	inst, err := l.StartEmulator(ctx, avd, c.Int("port"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  %s✓%s %s (%s) booted in %s\n",
		color(colorGreen), color(colorReset), inst.Serial, inst.AVDName, formatDuration(inst.BootDuration))
	return nil
}

func deviceLabel(serial string) string {
	if serial == "" {
		return "any device"
	}
	return serial
}
