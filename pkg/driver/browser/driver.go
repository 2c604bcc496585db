// Package browser implements core.Driver for mobile web targets over the Chrome
// DevTools Protocol, using go-rod with touch emulation.
package browser

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// touchFrame is the interval between interpolated touch moves.
const touchFrame = 16 * time.Millisecond

// Config configures the browser session.
type Config struct {
	// URL is opened in a new page after connecting.
	URL string

	// ControlURL is the DevTools WebSocket URL of a running browser.
	// Empty = launch a local Chrome via launcher.
	ControlURL string

	// Headless applies to locally launched browsers.
	Headless bool

	// Viewport in CSS pixels. Default: 412x915 (Pixel-class phone).
	Width  int
	Height int

	// Stealth hides automation markers (navigator.webdriver and friends)
	// from pages that refuse to render for bots.
	Stealth bool
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 412
	}
	if c.Height <= 0 {
		c.Height = 915
	}
}

// Driver implements core.Driver on a single rod page.
type Driver struct {
	browser *rod.Browser
	page    *rod.Page

	mu       sync.Mutex
	gen      int
	next     int
	elements map[core.ElementHandle]*rod.Element
}

var _ core.Driver = (*Driver)(nil)

// New launches (or connects to) a browser and opens cfg.URL with mobile
// viewport and touch emulation enabled.
func New(cfg Config) (*Driver, error) {
	cfg.defaults()

	controlURL := cfg.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Headless(cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, core.ErrServerUnreachable.WithCause(fmt.Errorf("connect browser: %w", err))
	}

	page, err := openPage(browser, cfg)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.URL, err)
	}

	err = proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Width,
		Height:            cfg.Height,
		DeviceScaleFactor: 1,
		Mobile:            true,
	}.Call(page)
	if err == nil {
		err = proto.EmulationSetTouchEmulationEnabled{Enabled: true}.Call(page)
	}
	if err == nil {
		err = page.WaitLoad()
	}
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("prepare page: %w", err)
	}

	logger.Info("browser session opened %s (%dx%d, stealth=%v)", cfg.URL, cfg.Width, cfg.Height, cfg.Stealth)
	return &Driver{
		browser:  browser,
		page:     page,
		elements: make(map[core.ElementHandle]*rod.Element),
	}, nil
}

func openPage(b *rod.Browser, cfg Config) (*rod.Page, error) {
	if !cfg.Stealth {
		return b.Page(proto.TargetCreateTarget{URL: cfg.URL})
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, err
	}
	if err := page.Navigate(cfg.URL); err != nil {
		return nil, err
	}
	return page, nil
}

// Close closes the browser.
func (d *Driver) Close() error {
	return d.browser.Close()
}

// Snapshot implements core.Driver.
func (d *Driver) Snapshot() (string, error) {
	html, err := d.page.HTML()
	if err != nil {
		return "", mapError(err)
	}
	return html, nil
}

// FindElement implements core.Driver. Hidden matches are skipped.
func (d *Driver) FindElement(loc core.Locator) (core.ElementHandle, error) {
	xpath, err := XPath(loc)
	if err != nil {
		return "", err
	}

	els, err := d.page.ElementsX(xpath)
	if err != nil {
		return "", mapError(err)
	}
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		return d.register(el), nil
	}
	return "", core.ErrElementNotFound.WithMessage(fmt.Sprintf("no visible element for %s", loc))
}

// Activate implements core.Driver.
func (d *Driver) Activate(h core.ElementHandle) error {
	el, err := d.element(h)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return mapError(err)
	}
	d.invalidate()
	return nil
}

// DispatchGesture implements core.Driver. The drag is interpolated into
// touch moves spread over the gesture duration.
func (d *Driver) DispatchGesture(spec core.GestureSpec) error {
	defer d.invalidate()

	touch := d.page.Touch
	if err := touch.Start(touchPoint(spec.Start)); err != nil {
		return mapError(err)
	}

	steps := int(spec.Duration / touchFrame)
	if steps < 1 {
		steps = 1
	}
	pause := spec.Duration / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		p := core.Point{
			X: spec.Start.X + (spec.End.X-spec.Start.X)*i/steps,
			Y: spec.Start.Y + (spec.End.Y-spec.Start.Y)*i/steps,
		}
		if pause > 0 {
			time.Sleep(pause)
		}
		if err := touch.Move(touchPoint(p)); err != nil {
			_ = touch.End()
			return mapError(err)
		}
	}
	return mapError(touch.End())
}

// ReadAttribute implements core.Driver.
func (d *Driver) ReadAttribute(h core.ElementHandle, name string) (string, bool, error) {
	el, err := d.element(h)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(htmlAttribute(name))
	if err != nil {
		return "", false, mapError(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// ReadText implements core.Driver.
func (d *Driver) ReadText(h core.ElementHandle) (string, error) {
	el, err := d.element(h)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", mapError(err)
	}
	return text, nil
}

// SendText implements core.Driver.
func (d *Driver) SendText(h core.ElementHandle, text string) error {
	el, err := d.element(h)
	if err != nil {
		return err
	}
	return mapError(el.Input(text))
}

func (d *Driver) register(el *rod.Element) core.ElementHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := core.ElementHandle(fmt.Sprintf("%d:%d", d.gen, d.next))
	d.elements[h] = el
	return h
}

func (d *Driver) element(h core.ElementHandle) (*rod.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.elements[h]
	if !ok {
		return nil, fmt.Errorf("stale element handle %q", h)
	}
	return el, nil
}

// invalidate drops all handles after the screen may have changed.
func (d *Driver) invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.elements = make(map[core.ElementHandle]*rod.Element)
}

func touchPoint(p core.Point) *proto.InputTouchPoint {
	return &proto.InputTouchPoint{X: float64(p.X), Y: float64(p.Y)}
}

// XPath converts a locator into a DOM XPath expression.
func XPath(loc core.Locator) (string, error) {
	lit := core.XPathLiteral(loc.Value)
	switch loc.Strategy {
	case core.ByText:
		return fmt.Sprintf("//*[text()[contains(., %s)]]", lit), nil
	case core.ByAttribute:
		return fmt.Sprintf("//*[contains(@%s, %s)]", htmlAttribute(loc.Attribute), lit), nil
	case core.ByID:
		return fmt.Sprintf("//*[@id=%s]", lit), nil
	case core.ByClassName:
		return fmt.Sprintf("//*[contains(concat(' ', normalize-space(@class), ' '), %s)]", core.XPathLiteral(" "+loc.Value+" ")), nil
	default:
		return "", fmt.Errorf("unsupported locator strategy %v", loc.Strategy)
	}
}

// htmlAttribute maps Android attribute names to their DOM equivalents.
func htmlAttribute(name string) string {
	switch name {
	case core.DefaultDescriptionAttribute:
		return "aria-label"
	case "resource-id":
		return "id"
	}
	return name
}

// mapError marks a dropped DevTools connection as a dead session.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range closedMarkers {
		if strings.Contains(msg, marker) {
			return core.ErrDeviceDisconnected.WithCause(err)
		}
	}
	return err
}

var closedMarkers = []string{
	"use of closed network connection",
	"websocket: close",
	"Target closed",
}
