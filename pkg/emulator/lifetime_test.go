package emulator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/process"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartEmulator_SurvivesCancelledContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell scripts")
	}
	dir := t.TempDir()
	l := &Launcher{
		Proc:     process.Exec{},
		Emulator: writeScript(t, dir, "emulator", "exec sleep 30"),
		ADB:      writeScript(t, dir, "adb", `printf 'List of devices attached\nemulator-5554\tdevice\n'`),
		Policy:   core.PollPolicy{MaxAttempts: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst, err := l.StartEmulator(ctx, "Pixel", 5554)
	if err != nil {
		cancel()
		t.Fatalf("StartEmulator() error = %v", err)
	}
	// the CLI cancels its command context on return
	cancel()

	exited := make(chan error, 1)
	go func() {
		_, err := l.Proc.ReadOutput(inst.Process)
		exited <- err
	}()

	select {
	case err := <-exited:
		t.Fatalf("emulator exited after the context was cancelled: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	if err := inst.Process.(*process.Handle).Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	<-exited
}
