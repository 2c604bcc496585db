package appium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/gesture"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// Driver implements core.Driver using Appium server.
type Driver struct {
	client   *Client
	platform string
}

var _ core.Driver = (*Driver)(nil)

// NewDriver creates a session on the Appium server and returns a driver for it.
func NewDriver(serverURL string, capabilities map[string]interface{}) (*Driver, error) {
	client := NewClient(serverURL)

	if err := client.Connect(capabilities); err != nil {
		return nil, err
	}
	logger.Info("appium session %s created (%s)", client.SessionID(), client.Platform())

	return &Driver{
		client:   client,
		platform: client.Platform(),
	}, nil
}

// sessionBackOff paces session retries while the server is starting.
var sessionBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Dial is NewDriver that retries up to retries times while the server is
// unreachable. Other errors, such as rejected capabilities, are returned at once.
func Dial(ctx context.Context, serverURL string, capabilities map[string]interface{}, retries int) (*Driver, error) {
	if retries < 0 {
		retries = 0
	}
	var driver *Driver
	attempt := 0
	op := func() error {
		attempt++
		d, err := NewDriver(serverURL, capabilities)
		if err == nil {
			driver = d
			return nil
		}
		if !errors.Is(err, core.ErrServerUnreachable) {
			return backoff.Permanent(err)
		}
		logger.Warn("appium server %s unreachable (attempt %d/%d): %v", serverURL, attempt, retries+1, err)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(sessionBackOff(), uint64(retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return driver, nil
}

// Close disconnects from Appium server.
func (d *Driver) Close() error {
	return d.client.Disconnect()
}

// Client returns the underlying protocol client.
func (d *Driver) Client() *Client {
	return d.client
}

// Snapshot implements core.Driver.
func (d *Driver) Snapshot() (string, error) {
	src, err := d.client.Source()
	if err != nil {
		return "", mapError(err)
	}
	return src, nil
}

// FindElement implements core.Driver.
func (d *Driver) FindElement(loc core.Locator) (core.ElementHandle, error) {
	strategy, value, err := d.selector(loc)
	if err != nil {
		return "", err
	}
	logger.Debug("find %s using %s %q", loc, strategy, value)

	id, err := d.client.FindElement(strategy, value)
	if err != nil {
		return "", mapError(err)
	}
	return core.ElementHandle(id), nil
}

// Activate implements core.Driver.
func (d *Driver) Activate(el core.ElementHandle) error {
	return mapError(d.client.ClickElement(string(el)))
}

// DispatchGesture implements core.Driver.
func (d *Driver) DispatchGesture(spec core.GestureSpec) error {
	return mapError(d.client.PerformActions(gesture.Sequence(spec)))
}

// ReadAttribute implements core.Driver.
func (d *Driver) ReadAttribute(el core.ElementHandle, name string) (string, bool, error) {
	v, ok, err := d.client.GetElementAttribute(string(el), d.attributeName(name))
	if err != nil {
		return "", false, mapError(err)
	}
	return v, ok, nil
}

// ReadText implements core.Driver.
func (d *Driver) ReadText(el core.ElementHandle) (string, error) {
	text, err := d.client.GetElementText(string(el))
	if err != nil {
		return "", mapError(err)
	}
	return text, nil
}

// SendText implements core.Driver.
func (d *Driver) SendText(el core.ElementHandle, text string) error {
	return mapError(d.client.SendElementValue(string(el), text))
}

// selector converts a locator to a WebDriver (using, value) pair.
func (d *Driver) selector(loc core.Locator) (string, string, error) {
	switch loc.Strategy {
	case core.ByText:
		if d.platform == "ios" {
			escaped := escapeIOSPredicateString(loc.Value)
			return "-ios predicate string", fmt.Sprintf(`label CONTAINS "%s" OR value CONTAINS "%s"`, escaped, escaped), nil
		}
		return "xpath", fmt.Sprintf("//*[contains(@text, %s)]", core.XPathLiteral(loc.Value)), nil
	case core.ByAttribute:
		attr := d.attributeName(loc.Attribute)
		return "xpath", fmt.Sprintf("//*[contains(@%s, %s)]", attr, core.XPathLiteral(loc.Value)), nil
	case core.ByID:
		if d.platform == "ios" {
			return "accessibility id", loc.Value, nil
		}
		return "id", loc.Value, nil
	case core.ByClassName:
		return "class name", loc.Value, nil
	default:
		return "", "", fmt.Errorf("unsupported locator strategy %v", loc.Strategy)
	}
}

// attributeName maps Android attribute names to their XCUITest equivalents.
func (d *Driver) attributeName(name string) string {
	if d.platform != "ios" {
		return name
	}
	switch name {
	case core.DefaultDescriptionAttribute:
		return "label"
	case "resource-id":
		return "name"
	}
	return name
}

// mapError translates WebDriver error codes into core errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var wdErr *WebDriverError
	if !errors.As(err, &wdErr) {
		return err
	}
	switch wdErr.Code {
	case errNoSuchElement:
		return core.ErrElementNotFound.WithCause(err)
	case errInvalidSession, errSessionNotFound:
		return core.ErrDeviceDisconnected.WithCause(err)
	}
	return err
}

// escapeIOSPredicateString escapes quotes for iOS predicate string
func escapeIOSPredicateString(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
