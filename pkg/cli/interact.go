package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/touchflow/pkg/config"
	"github.com/devicelab-dev/touchflow/pkg/core"
	appiumdriver "github.com/devicelab-dev/touchflow/pkg/driver/appium"
	"github.com/devicelab-dev/touchflow/pkg/gesture"
	"github.com/devicelab-dev/touchflow/pkg/locator"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

func capsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "caps",
		Usage: "Appium capabilities JSON file (merged over config capabilities)",
	}
}

var locateCommand = &cli.Command{
	Name:      "locate",
	Usage:     "Scroll until TEXT is on screen and tap it",
	ArgsUsage: "<text>",
	Description: `Open an Appium session, then repeat snapshot / resolve / tap, scrolling
between attempts, until TEXT is tapped or the attempt budget runs out.

Examples:
  touchflow locate "Harry Potter"
  touchflow locate "Easy-to-read" --attempts 8`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "attempts",
			Usage: "Maximum locate attempts (default from config: 5)",
		},
		capsFlag(),
	},
	Action: runLocate,
}

var swipeCommand = &cli.Command{
	Name:      "swipe",
	Usage:     "Send one swipe gesture",
	ArgsUsage: "<x1> <y1> <x2> <y2>",
	Description: `Press at (x1,y1), drag to (x2,y2) over --duration and release.

Examples:
  touchflow swipe 600 2000 600 800
  touchflow swipe 900 1200 100 1200 --duration 300ms`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "duration",
			Usage: "Drag duration",
			Value: 500 * time.Millisecond,
		},
		capsFlag(),
	},
	Action: runSwipe,
}

// appiumCapabilities merges config capabilities, the --caps file and --device,
// filling Android defaults.
func appiumCapabilities(c *cli.Context, cfg *config.Config, deviceID string) (map[string]interface{}, error) {
	caps := make(map[string]interface{}, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		caps[k] = v
	}
	if path := c.String("caps"); path != "" {
		fileCaps, err := loadCapabilities(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fileCaps {
			caps[k] = v
		}
	}

	if deviceID != "" {
		caps["appium:deviceName"] = deviceID
		caps["appium:udid"] = deviceID
	}
	if caps["platformName"] == nil {
		caps["platformName"] = "Android"
	}
	if caps["appium:automationName"] == nil {
		caps["appium:automationName"] = "UiAutomator2"
	}
	if caps["appium:autoGrantPermissions"] == nil {
		caps["appium:autoGrantPermissions"] = true
	}
	return caps, nil
}

// openAppium creates an Appium session for deviceID, retrying while the
// server is unreachable.
func openAppium(ctx context.Context, c *cli.Context, cfg *config.Config, deviceID string) (*appiumdriver.Driver, error) {
	caps, err := appiumCapabilities(c, cfg, deviceID)
	if err != nil {
		return nil, err
	}
	logger.Info("Creating Appium session on %s with capabilities: %v", cfg.AppiumURL, caps)
	driver, err := appiumdriver.Dial(ctx, cfg.AppiumURL, caps, cfg.SessionRetries)
	if err != nil {
		return nil, fmt.Errorf("create Appium session: %w", err)
	}
	return driver, nil
}

func runLocate(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one TEXT argument")
	}
	target := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	attempts := cfg.Locator.MaxAttempts
	if c.IsSet("attempts") {
		attempts = c.Int("attempts")
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	driver, err := openAppium(ctx, c, cfg, cfg.Device)
	if err != nil {
		return err
	}
	defer driver.Close()

	l := locator.New(driver, gesture.New(driver, gesture.WithScroll(cfg.ScrollGesture())))
	start := time.Now()
	if err := l.LocateAndActivate(ctx, target, attempts); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  %s✓%s tapped %q (%s)\n",
		color(colorGreen), color(colorReset), target, formatDuration(time.Since(start)))
	return nil
}

func runSwipe(c *cli.Context) error {
	start, end, err := parseSwipeArgs(c.Args().Slice())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	driver, err := openAppium(ctx, c, cfg, cfg.Device)
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := gesture.New(driver).Swipe(ctx, start, end, c.Duration("duration")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  %s✓%s swiped %s -> %s\n", color(colorGreen), color(colorReset), start, end)
	return nil
}

func parseSwipeArgs(args []string) (core.Point, core.Point, error) {
	if len(args) != 4 {
		return core.Point{}, core.Point{}, fmt.Errorf("expected 4 coordinates: x1 y1 x2 y2, got %d", len(args))
	}
	var n [4]int
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return core.Point{}, core.Point{}, fmt.Errorf("invalid coordinate %q: %w", a, err)
		}
		n[i] = v
	}
	return core.Point{X: n[0], Y: n[1]}, core.Point{X: n[2], Y: n[3]}, nil
}
