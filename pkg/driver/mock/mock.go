// Package mock provides a scripted in-memory driver for testing without a real device.
package mock

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/touchflow/pkg/core"
)

// Element is one node on a mock screen.
type Element struct {
	ID          string            `yaml:"id"`
	Text        string            `yaml:"text"`
	ContentDesc string            `yaml:"contentDesc"`
	Class       string            `yaml:"class"`
	Attributes  map[string]string `yaml:"attributes"`
	// Hidden nodes appear in the snapshot but cannot be resolved.
	Hidden bool `yaml:"hidden"`
}

// Screen is what the device shows between two gestures.
type Screen struct {
	Elements []Element `yaml:"elements"`
}

// Config configures mock driver behavior.
type Config struct {
	// Screens are shown in order; every dispatched gesture advances one screen
	// until the last one, which stays.
	Screens []Screen `yaml:"screens"`

	// Activating an element whose text is a key moves to the screen at that index.
	Transitions map[string]int `yaml:"transitions"`

	// GestureDelay adds artificial delay per gesture
	GestureDelay time.Duration `yaml:"-"`
}

// Driver is a scripted implementation of core.Driver.
// It records every call so tests can assert on counts and order.
type Driver struct {
	Config Config

	current    int
	generation int

	// Recorded calls
	SnapshotCalls int
	FindCalls     []core.Locator
	Gestures      []core.GestureSpec
	Activated     []string // text (or id) of activated elements
	Typed         map[string]string

	// Failure injection. Each hook receives the 1-based call number.
	SnapshotErr func(call int) error
	GestureErr  func(call int) error
	FindErr     func(loc core.Locator) error
	ActivateErr error
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if len(cfg.Screens) == 0 {
		cfg.Screens = []Screen{{}}
	}
	return &Driver{Config: cfg, Typed: make(map[string]string)}
}

// LoadConfig reads a screen script from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided screen script
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse mock screens: %w", err)
	}
	return cfg, nil
}

// CurrentScreen returns the index of the screen being shown.
func (d *Driver) CurrentScreen() int {
	return d.current
}

// Snapshot renders the current screen as an Android-style hierarchy XML.
func (d *Driver) Snapshot() (string, error) {
	d.SnapshotCalls++
	if d.SnapshotErr != nil {
		if err := d.SnapshotErr(d.SnapshotCalls); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.WriteString("<hierarchy>")
	for _, el := range d.screen().Elements {
		b.WriteString("<node")
		writeAttr(&b, "class", el.Class)
		writeAttr(&b, "resource-id", el.ID)
		writeAttr(&b, "text", el.Text)
		writeAttr(&b, "content-desc", el.ContentDesc)
		for k, v := range el.Attributes {
			writeAttr(&b, k, v)
		}
		b.WriteString("/>")
	}
	b.WriteString("</hierarchy>")
	return b.String(), nil
}

func writeAttr(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(" " + name + `="`)
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString(`"`)
}

// FindElement resolves loc against the current screen.
func (d *Driver) FindElement(loc core.Locator) (core.ElementHandle, error) {
	d.FindCalls = append(d.FindCalls, loc)
	if d.FindErr != nil {
		if err := d.FindErr(loc); err != nil {
			return "", err
		}
	}

	for i, el := range d.screen().Elements {
		if el.Hidden || !matches(el, loc) {
			continue
		}
		return core.ElementHandle(fmt.Sprintf("%d:%d", d.generation, i)), nil
	}
	return "", core.ErrElementNotFound.WithDetails(map[string]interface{}{"locator": loc.String()})
}

func matches(el Element, loc core.Locator) bool {
	switch loc.Strategy {
	case core.ByText:
		return el.Text != "" && strings.Contains(el.Text, loc.Value)
	case core.ByAttribute:
		v := el.Attributes[loc.Attribute]
		if loc.Attribute == core.DefaultDescriptionAttribute {
			v = el.ContentDesc
		}
		return v != "" && strings.Contains(v, loc.Value)
	case core.ByID:
		return el.ID == loc.Value
	case core.ByClassName:
		return el.Class == loc.Value
	}
	return false
}

// element returns the element behind h, failing for handles from an earlier screen.
func (d *Driver) element(h core.ElementHandle) (Element, error) {
	parts := strings.SplitN(string(h), ":", 2)
	if len(parts) != 2 {
		return Element{}, fmt.Errorf("invalid element handle %q", h)
	}
	gen, err1 := strconv.Atoi(parts[0])
	idx, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return Element{}, fmt.Errorf("invalid element handle %q", h)
	}
	if gen != d.generation {
		return Element{}, fmt.Errorf("stale element reference: %s", h)
	}
	elems := d.screen().Elements
	if idx < 0 || idx >= len(elems) {
		return Element{}, fmt.Errorf("invalid element handle %q", h)
	}
	return elems[idx], nil
}

// Activate records a tap on the element.
func (d *Driver) Activate(h core.ElementHandle) error {
	el, err := d.element(h)
	if err != nil {
		return err
	}
	if d.ActivateErr != nil {
		return d.ActivateErr
	}

	label := el.Text
	if label == "" {
		label = el.ContentDesc
	}
	if label == "" {
		label = el.ID
	}
	d.Activated = append(d.Activated, label)

	if next, ok := d.Config.Transitions[label]; ok && next >= 0 && next < len(d.Config.Screens) {
		d.current = next
		d.generation++
	}
	return nil
}

// DispatchGesture records the gesture and advances to the next screen.
func (d *Driver) DispatchGesture(spec core.GestureSpec) error {
	d.Gestures = append(d.Gestures, spec)
	if d.GestureErr != nil {
		if err := d.GestureErr(len(d.Gestures)); err != nil {
			return err
		}
	}
	if d.Config.GestureDelay > 0 {
		time.Sleep(d.Config.GestureDelay)
	}

	if d.current < len(d.Config.Screens)-1 {
		d.current++
	}
	d.generation++
	return nil
}

// ReadAttribute returns a named attribute of the element.
func (d *Driver) ReadAttribute(h core.ElementHandle, name string) (string, bool, error) {
	el, err := d.element(h)
	if err != nil {
		return "", false, err
	}
	switch name {
	case "text":
		return el.Text, el.Text != "", nil
	case "resource-id":
		return el.ID, el.ID != "", nil
	case "class":
		return el.Class, el.Class != "", nil
	case core.DefaultDescriptionAttribute:
		return el.ContentDesc, el.ContentDesc != "", nil
	}
	v, ok := el.Attributes[name]
	return v, ok, nil
}

// ReadText returns the element text.
func (d *Driver) ReadText(h core.ElementHandle) (string, error) {
	el, err := d.element(h)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

// SendText records typed text per element id (or text when no id).
func (d *Driver) SendText(h core.ElementHandle, text string) error {
	el, err := d.element(h)
	if err != nil {
		return err
	}
	key := el.ID
	if key == "" {
		key = el.Class
	}
	d.Typed[key] += text
	return nil
}

func (d *Driver) screen() Screen {
	return d.Config.Screens[d.current]
}
