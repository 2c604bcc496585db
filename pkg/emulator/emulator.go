package emulator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/logger"
	"github.com/devicelab-dev/touchflow/pkg/readiness"
)

// DefaultConsolePort is the first emulator console port; its serial is emulator-5554.
const DefaultConsolePort = 5554

// Instance is an emulator started by a Launcher.
type Instance struct {
	AVDName      string
	Serial       string
	ConsolePort  int
	Process      core.ProcessHandle
	BootDuration time.Duration
}

// Launcher boots emulators and waits for them with a readiness poller.
type Launcher struct {
	Proc     core.Process
	Emulator string // emulator binary path
	ADB      string // adb binary path
	Policy   core.PollPolicy
	// WaitBoot additionally waits for sys.boot_completed after the device is listed.
	WaitBoot bool
	Poller   *readiness.Poller
}

// StartEmulator launches avdName on consolePort and blocks until adb reports it ready.
func (l *Launcher) StartEmulator(ctx context.Context, avdName string, consolePort int) (*Instance, error) {
	if consolePort == 0 {
		consolePort = DefaultConsolePort
	}
	serial := SerialForPort(consolePort)
	logger.Info("Starting emulator: %s on port %d", avdName, consolePort)
	bootStart := time.Now()

	h, err := l.startDetached(ctx, l.Emulator,
		"-avd", avdName,
		"-port", strconv.Itoa(consolePort),
		"-netdelay", "none",
		"-netspeed", "full",
		"-no-boot-anim",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start emulator process: %w", err)
	}
	logger.Info("Emulator process started (PID: %d)", h.PID())

	if err := l.WaitForDevice(ctx, serial); err != nil {
		if k, ok := h.(interface{ Kill() error }); ok {
			_ = k.Kill()
		}
		_, _ = l.Proc.ReadOutput(h)
		return nil, fmt.Errorf("emulator %s did not boot in time: %w", serial, err)
	}

	inst := &Instance{
		AVDName:      avdName,
		Serial:       serial,
		ConsolePort:  consolePort,
		Process:      h,
		BootDuration: time.Since(bootStart),
	}
	logger.Info("Emulator boot completed in %v", inst.BootDuration)
	return inst, nil
}

// startDetached starts a process that keeps running after ctx is cancelled;
// the emulator must outlive the command that booted it.
func (l *Launcher) startDetached(ctx context.Context, name string, args ...string) (core.ProcessHandle, error) {
	if ds, ok := l.Proc.(core.DaemonStarter); ok {
		return ds.StartDaemon(name, args...)
	}
	return l.Proc.Spawn(context.WithoutCancel(ctx), name, args...)
}

// WaitForDevice polls adb until serial is online (and booted, if WaitBoot).
func (l *Launcher) WaitForDevice(ctx context.Context, serial string) error {
	check := DeviceListed(l.Proc, l.ADB, serial)
	criteria := fmt.Sprintf("%s listed by adb", displaySerial(serial))
	if l.WaitBoot && serial != "" {
		check = All(check, BootCompleted(l.Proc, l.ADB, serial))
		criteria = fmt.Sprintf("%s boot completed", serial)
	}

	poller := l.Poller
	if poller == nil {
		poller = readiness.New(readiness.WithCriteria(criteria))
	}
	policy := l.Policy
	if policy.MaxAttempts == 0 {
		policy = readiness.DefaultPolicy
	}
	return poller.WaitUntilReady(ctx, check, policy)
}

// Shutdown asks the emulator console to exit.
func (l *Launcher) Shutdown(ctx context.Context, serial string) error {
	logger.Info("Shutting down emulator: %s", serial)
	h, err := l.Proc.Spawn(ctx, l.ADB, "-s", serial, "emu", "kill")
	if err != nil {
		return err
	}
	_, err = l.Proc.ReadOutput(h)
	return err
}

func displaySerial(serial string) string {
	if serial == "" {
		return "any device"
	}
	return serial
}
