package emulator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/readiness"
)

type fakeHandle struct {
	args   []string
	ctx    context.Context
	killed bool
	reaped bool
}

func (h *fakeHandle) PID() int    { return 4242 }
func (h *fakeHandle) Kill() error { h.killed = true; return nil }

// fakeProc answers commands by their joined args.
type fakeProc struct {
	calls    [][]string
	outputs  map[string][]string // joined args -> successive outputs
	exitErr  map[string]error
	spawnErr error
	handles  []*fakeHandle
}

func (p *fakeProc) Spawn(ctx context.Context, name string, args ...string) (core.ProcessHandle, error) {
	if p.spawnErr != nil {
		return nil, p.spawnErr
	}
	all := append([]string{name}, args...)
	p.calls = append(p.calls, all)
	h := &fakeHandle{args: all, ctx: ctx}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProc) ReadOutput(ph core.ProcessHandle) (string, error) {
	ph.(*fakeHandle).reaped = true
	key := strings.Join(ph.(*fakeHandle).args[1:], " ")
	if err := p.exitErr[key]; err != nil {
		return "", err
	}
	outs := p.outputs[key]
	if len(outs) == 0 {
		return "", nil
	}
	out := outs[0]
	if len(outs) > 1 {
		p.outputs[key] = outs[1:]
	}
	return out, nil
}

func noSleep() *readiness.Poller {
	return readiness.New(readiness.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

const (
	devicesEmpty   = "List of devices attached\n\n"
	devicesOffline = "List of devices attached\nemulator-5554\toffline\n\n"
	devicesReady   = "List of devices attached\nemulator-5554\tdevice\nR5CR50ABCDE\tunauthorized\n\n"
)

func TestParseDevices(t *testing.T) {
	got := ParseDevices("* daemon started successfully\n" + devicesReady)
	if got["emulator-5554"] != StateDevice || got["R5CR50ABCDE"] != StateUnauthorized {
		t.Errorf("ParseDevices() = %v", got)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	if len(ParseDevices(devicesEmpty)) != 0 {
		t.Error("header-only output should yield no devices")
	}
}

func TestDeviceListed(t *testing.T) {
	tests := []struct {
		name   string
		output string
		serial string
		want   bool
	}{
		{"empty", devicesEmpty, "emulator-5554", false},
		{"offline", devicesOffline, "emulator-5554", false},
		{"ready", devicesReady, "emulator-5554", true},
		{"other serial", devicesReady, "emulator-5556", false},
		{"unauthorized only", "List of devices attached\nX\tunauthorized\n", "", false},
		{"any device", devicesReady, "", true},
		// The header line contains "device" but is not a device.
		{"header only any", "List of devices attached\n", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProc{outputs: map[string][]string{"devices": {tt.output}}}
			got, err := DeviceListed(proc, "adb", tt.serial)(context.Background())
			if err != nil {
				t.Fatalf("check error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DeviceListed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeviceListed_SpawnFailureIsFatal(t *testing.T) {
	proc := &fakeProc{spawnErr: errors.New("exec: adb: not found")}
	if _, err := DeviceListed(proc, "adb", "")(context.Background()); err == nil {
		t.Error("expected error when adb cannot start")
	}
}

func TestBootCompleted(t *testing.T) {
	key := "-s emulator-5554 shell getprop sys.boot_completed"

	proc := &fakeProc{outputs: map[string][]string{key: {"\n", "1\n"}}}
	check := BootCompleted(proc, "adb", "emulator-5554")
	if ok, _ := check(context.Background()); ok {
		t.Error("first check should be not ready")
	}
	if ok, _ := check(context.Background()); !ok {
		t.Error("second check should be ready")
	}

	// adb exiting non-zero while booting is "not yet", not fatal.
	proc = &fakeProc{exitErr: map[string]error{key: errors.New("device offline")}}
	ok, err := BootCompleted(proc, "adb", "emulator-5554")(context.Background())
	if ok || err != nil {
		t.Errorf("BootCompleted() = %v, %v, want false, nil", ok, err)
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	calls := 0
	notReady := func(context.Context) (bool, error) { calls++; return false, nil }
	ready := func(context.Context) (bool, error) { calls++; return true, nil }

	ok, _ := All(notReady, ready)(context.Background())
	if ok || calls != 1 {
		t.Errorf("All() = %v after %d calls, want false after 1", ok, calls)
	}
	calls = 0
	ok, _ = All(ready, ready)(context.Background())
	if !ok || calls != 2 {
		t.Errorf("All() = %v after %d calls", ok, calls)
	}
}

func TestLauncher_StartEmulator(t *testing.T) {
	proc := &fakeProc{outputs: map[string][]string{
		"devices": {devicesEmpty, devicesOffline, devicesReady},
	}}
	l := &Launcher{
		Proc:     proc,
		Emulator: "/sdk/emulator/emulator",
		ADB:      "/sdk/platform-tools/adb",
		Policy:   core.PollPolicy{Interval: time.Second, MaxAttempts: 5},
		Poller:   noSleep(),
	}

	inst, err := l.StartEmulator(context.Background(), "Pixel_9_Pro_XL", 0)
	if err != nil {
		t.Fatalf("StartEmulator() error = %v", err)
	}
	if inst.Serial != "emulator-5554" || inst.ConsolePort != 5554 {
		t.Errorf("Instance = %+v", inst)
	}

	launch := strings.Join(proc.calls[0], " ")
	if !strings.HasPrefix(launch, "/sdk/emulator/emulator -avd Pixel_9_Pro_XL -port 5554") {
		t.Errorf("launch command = %q", launch)
	}
	// launch + three `adb devices` polls
	if len(proc.calls) != 4 {
		t.Errorf("calls = %d, want 4", len(proc.calls))
	}
}

func TestLauncher_StartEmulatorDetachedFromContext(t *testing.T) {
	proc := &fakeProc{outputs: map[string][]string{"devices": {devicesReady}}}
	l := &Launcher{Proc: proc, Emulator: "emulator", ADB: "adb", Policy: core.PollPolicy{MaxAttempts: 1}, Poller: noSleep()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := l.StartEmulator(ctx, "Pixel", 5554); err != nil {
		t.Fatalf("StartEmulator() error = %v", err)
	}

	emu := proc.handles[0]
	if emu.ctx.Done() != nil {
		t.Error("emulator spawned with a cancellable context")
	}
	if proc.handles[1].ctx != ctx {
		t.Error("readiness probe did not use the caller's context")
	}
}

func TestLauncher_StartEmulatorTimeoutKills(t *testing.T) {
	proc := &fakeProc{outputs: map[string][]string{"devices": {devicesEmpty}}}
	l := &Launcher{
		Proc:     proc,
		Emulator: "emulator",
		ADB:      "adb",
		Policy:   core.PollPolicy{MaxAttempts: 3},
		Poller:   noSleep(),
	}

	_, err := l.StartEmulator(context.Background(), "Pixel", 5556)

	var te *core.TimeoutError
	if !errors.As(err, &te) || te.AttemptsUsed != 3 {
		t.Fatalf("error = %v, want TimeoutError after 3 attempts", err)
	}
	if !proc.handles[0].killed || !proc.handles[0].reaped {
		t.Errorf("emulator process killed = %v, reaped = %v after timeout", proc.handles[0].killed, proc.handles[0].reaped)
	}
}

func TestLauncher_WaitBoot(t *testing.T) {
	proc := &fakeProc{outputs: map[string][]string{
		"devices": {devicesReady},
		"-s emulator-5554 shell getprop sys.boot_completed": {"0", "1"},
	}}
	l := &Launcher{Proc: proc, ADB: "adb", WaitBoot: true, Policy: core.PollPolicy{MaxAttempts: 4}, Poller: noSleep()}

	if err := l.WaitForDevice(context.Background(), "emulator-5554"); err != nil {
		t.Fatalf("WaitForDevice() error = %v", err)
	}
}

func TestLauncher_Shutdown(t *testing.T) {
	proc := &fakeProc{}
	l := &Launcher{Proc: proc, ADB: "adb"}

	if err := l.Shutdown(context.Background(), "emulator-5554"); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := strings.Join(proc.calls[0], " "); got != "adb -s emulator-5554 emu kill" {
		t.Errorf("command = %q", got)
	}
}

func TestIsEmulator(t *testing.T) {
	tests := []struct {
		serial   string
		expected bool
	}{
		{"emulator-5554", true},
		{"R5CR50ABCDE", false},
		{"", false},
		{"emulator", false},
	}

	for _, tt := range tests {
		if got := IsEmulator(tt.serial); got != tt.expected {
			t.Errorf("IsEmulator(%q) = %v, want %v", tt.serial, got, tt.expected)
		}
	}
}

func TestPortForSerial(t *testing.T) {
	tests := []struct {
		serial string
		want   int
	}{
		{"emulator-5556", 5556},
		{"emulator-5554", 5554},
		{"emulator-abc", DefaultConsolePort},
		{"R5CR50ABCDE", DefaultConsolePort},
		{"", DefaultConsolePort},
	}
	for _, tt := range tests {
		if got := PortForSerial(tt.serial); got != tt.want {
			t.Errorf("PortForSerial(%q) = %d, want %d", tt.serial, got, tt.want)
		}
	}
	if got := PortForSerial(SerialForPort(5580)); got != 5580 {
		t.Errorf("round trip = %d", got)
	}
}

func TestSDKRoot(t *testing.T) {
	t.Setenv("ANDROID_HOME", "/path/to/android")
	t.Setenv("ANDROID_SDK_ROOT", "/other/path")
	if got := SDKRoot(); got != "/path/to/android" {
		t.Errorf("SDKRoot() = %q, want ANDROID_HOME", got)
	}

	t.Setenv("ANDROID_HOME", "")
	if got := SDKRoot(); got != "/other/path" {
		t.Errorf("SDKRoot() = %q, want ANDROID_SDK_ROOT", got)
	}

	t.Setenv("ANDROID_SDK_ROOT", "")
	t.Setenv("ANDROID_SDK_HOME", "")
	t.Setenv("HOME", "/home/tester")
	if got := SDKRoot(); got != filepath.Join("/home/tester", "Library", "Android", "sdk") {
		t.Errorf("SDKRoot() = %q, want macOS default", got)
	}
}

func TestFindTools_FromSDK(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"emulator/emulator", "platform-tools/adb"} {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("ANDROID_HOME", root)

	if got, err := FindEmulatorBinary(); err != nil || got != filepath.Join(root, "emulator", "emulator") {
		t.Errorf("FindEmulatorBinary() = %q, %v", got, err)
	}
	if got, err := FindADB(); err != nil || got != filepath.Join(root, "platform-tools", "adb") {
		t.Errorf("FindADB() = %q, %v", got, err)
	}
}

func TestFindTools_NotFound(t *testing.T) {
	t.Setenv("ANDROID_HOME", t.TempDir())
	t.Setenv("PATH", "/nonexistent/path")

	_, err := FindEmulatorBinary()
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("FindEmulatorBinary() error = %v, want not found", err)
	}
}
