package emulator

import (
	"bufio"
	"context"
	"strings"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/readiness"
)

// Device states reported by `adb devices`.
const (
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// ParseDevices parses `adb devices` output into serial -> state.
func ParseDevices(output string) map[string]string {
	devices := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			devices[fields[0]] = fields[1]
		}
	}
	return devices
}

// DeviceListed reports ready once `adb devices` lists serial in the "device" state.
// If serial is empty, any online device counts. Failing to run adb is fatal.
func DeviceListed(proc core.Process, adb, serial string) readiness.Check {
	return func(ctx context.Context) (bool, error) {
		h, err := proc.Spawn(ctx, adb, "devices")
		if err != nil {
			return false, err
		}
		out, err := proc.ReadOutput(h)
		if err != nil {
			return false, err
		}

		devices := ParseDevices(out)
		if serial == "" {
			for _, state := range devices {
				if state == StateDevice {
					return true, nil
				}
			}
			return false, nil
		}
		return devices[serial] == StateDevice, nil
	}
}

// BootCompleted reports ready once sys.boot_completed is 1. adb exiting non-zero
// while the device is still coming up counts as not ready; failing to start adb is fatal.
func BootCompleted(proc core.Process, adb, serial string) readiness.Check {
	return func(ctx context.Context) (bool, error) {
		h, err := proc.Spawn(ctx, adb, "-s", serial, "shell", "getprop", "sys.boot_completed")
		if err != nil {
			return false, err
		}
		out, err := proc.ReadOutput(h)
		if err != nil {
			return false, nil
		}
		return strings.TrimSpace(out) == "1", nil
	}
}

// All combines checks; it is ready only when every check is, evaluated in order.
func All(checks ...readiness.Check) readiness.Check {
	return func(ctx context.Context) (bool, error) {
		for _, c := range checks {
			ok, err := c(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
