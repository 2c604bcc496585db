package readiness

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/touchflow/pkg/core"
)

// WaitForElement polls until loc resolves on screen and returns its handle.
// "Not found" is retried; any other driver error is fatal.
func WaitForElement(ctx context.Context, driver core.Driver, loc core.Locator, policy core.PollPolicy, opts ...Option) (core.ElementHandle, error) {
	var found core.ElementHandle
	check := func(context.Context) (bool, error) {
		el, err := driver.FindElement(loc)
		if err != nil {
			if errors.Is(err, core.ErrElementNotFound) {
				return false, nil
			}
			return false, err
		}
		found = el
		return true, nil
	}

	opts = append([]Option{WithCriteria(fmt.Sprintf("element %s", loc))}, opts...)
	if err := New(opts...).WaitUntilReady(ctx, check, policy); err != nil {
		return "", err
	}
	return found, nil
}
