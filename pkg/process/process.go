// Package process implements core.Process on top of os/exec.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// Handle is a process started by Exec.
type Handle struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	once    sync.Once
	waitErr error
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Kill terminates the process if it is still running.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *Handle) wait() error {
	h.once.Do(func() {
		h.waitErr = h.cmd.Wait()
	})
	return h.waitErr
}

// Exec spawns real OS processes.
type Exec struct{}

var (
	_ core.Process       = Exec{}
	_ core.DaemonStarter = Exec{}
)

// Spawn starts name with args. ctx cancellation kills the process.
func (Exec) Spawn(ctx context.Context, name string, args ...string) (core.ProcessHandle, error) {
	h := &Handle{cmd: exec.CommandContext(ctx, name, args...)} //#nosec G204 -- tool paths come from SDK discovery
	h.cmd.Stdout = &h.stdout
	h.cmd.Stderr = &h.stderr

	logger.Debug("exec: %s %s", name, strings.Join(args, " "))
	if err := h.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return h, nil
}

// StartDaemon starts name detached from any context. Its output goes to the
// log file and it is reaped in the background; ReadOutput on the handle waits
// for exit and returns no output.
func (Exec) StartDaemon(name string, args ...string) (core.ProcessHandle, error) {
	h := &Handle{cmd: exec.Command(name, args...)} //#nosec G204 -- tool paths come from SDK discovery
	h.cmd.Stdout = logger.GetWriter()
	h.cmd.Stderr = h.cmd.Stdout

	logger.Debug("exec (detached): %s %s", name, strings.Join(args, " "))
	if err := h.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = h.wait() }()
	return h, nil
}

// ReadOutput waits for the process to exit and returns its stdout.
// A non-zero exit is an error carrying stderr (or stdout when stderr is empty).
func (Exec) ReadOutput(ph core.ProcessHandle) (string, error) {
	h, ok := ph.(*Handle)
	if !ok {
		return "", fmt.Errorf("process handle %T not created by process.Exec", ph)
	}
	if err := h.wait(); err != nil {
		msg := strings.TrimSpace(h.stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(h.stdout.String())
		}
		return h.stdout.String(), fmt.Errorf("%s: %w: %s", strings.Join(h.cmd.Args, " "), err, msg)
	}
	return h.stdout.String(), nil
}

// Run spawns name and returns its output in one call.
func Run(ctx context.Context, p core.Process, name string, args ...string) (string, error) {
	h, err := p.Spawn(ctx, name, args...)
	if err != nil {
		return "", err
	}
	return p.ReadOutput(h)
}
