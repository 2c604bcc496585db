// Package core defines the capabilities touchflow consumes and the data types
// shared by the gesture, locator and readiness packages.
package core

import (
	"context"
	"fmt"
	"time"
)

// Driver is the automation capability for one device session.
// Implementations: Appium (W3C WebDriver), rod (CDP), mock.
// A Driver is not safe for concurrent use; the remote endpoint serializes
// commands per session.
type Driver interface {
	// Snapshot returns a serialized description of all on-screen nodes.
	Snapshot() (string, error)

	// FindElement resolves a locator against the current screen.
	// Returns an error wrapping ErrElementNotFound when nothing matches.
	FindElement(loc Locator) (ElementHandle, error)

	// Activate taps/clicks the element.
	Activate(el ElementHandle) error

	// DispatchGesture submits a single pointer gesture.
	DispatchGesture(spec GestureSpec) error

	// ReadAttribute returns the attribute value and whether it was present.
	ReadAttribute(el ElementHandle, name string) (string, bool, error)

	// ReadText returns the element's primary text.
	ReadText(el ElementHandle) (string, error)

	// SendText types text into the element.
	SendText(el ElementHandle, text string) error
}

// ProcessHandle identifies a process started through a Process capability.
type ProcessHandle interface {
	// PID returns the OS process id, or 0 if unknown.
	PID() int
}

// Process is the process-control capability used by readiness probes.
type Process interface {
	// Spawn starts name with args. The process output is captured for ReadOutput.
	Spawn(ctx context.Context, name string, args ...string) (ProcessHandle, error)

	// ReadOutput waits for the process to exit and returns everything it wrote to stdout.
	ReadOutput(h ProcessHandle) (string, error)
}

// DaemonStarter is implemented by Process capabilities that can start
// long-lived processes (an emulator) which outlive the caller's context.
type DaemonStarter interface {
	StartDaemon(name string, args ...string) (ProcessHandle, error)
}

// ElementHandle is an opaque driver reference to a bound screen element.
// It is valid only until the next screen mutation and must not be cached
// across scrolls.
type ElementHandle string

// Point is a position in screen pixel space.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// GestureSpec describes a single straight-line drag.
type GestureSpec struct {
	Start    Point
	End      Point
	Duration time.Duration
}

// Validate rejects specs that no driver can perform.
func (g GestureSpec) Validate() error {
	if g.Duration < 0 {
		return fmt.Errorf("gesture duration must be >= 0, got %v", g.Duration)
	}
	return nil
}

// PollPolicy configures a bounded polling loop.
type PollPolicy struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// Validate checks the policy bounds.
func (p PollPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("poll maxAttempts must be > 0, got %d", p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("poll interval must be >= 0, got %v", p.Interval)
	}
	return nil
}

// PointerAction is one step of a W3C pointer input source.
type PointerAction struct {
	Type     string // pointerMove, pointerDown, pointerUp, pause
	Duration time.Duration
	X        int
	Y        int
	Button   int
}

// Pointer action types.
const (
	PointerMove = "pointerMove"
	PointerDown = "pointerDown"
	PointerUp   = "pointerUp"
	Pause       = "pause"
)
