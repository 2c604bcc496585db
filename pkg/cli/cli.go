// Package cli provides the command-line interface for touchflow.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/touchflow/pkg/config"
	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to touchflow.yaml (default: ./touchflow.yaml if present)",
		EnvVars: []string{"TOUCHFLOW_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "appium-url",
		Usage:   "Appium server URL",
		EnvVars: []string{"APPIUM_URL"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Device serial (comma-separated for parallel runs)",
		EnvVars: []string{"TOUCHFLOW_DEVICE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Log to stderr",
		EnvVars: []string{"TOUCHFLOW_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write the log to this file (default: <home>/logs/touchflow.log)",
		EnvVars: []string{"TOUCHFLOW_LOG_FILE"},
	},
}

// App builds the touchflow application.
func App() *cli.App {
	return &cli.App{
		Name:    "touchflow",
		Usage:   "Resilient element discovery, gestures and device readiness for mobile automation",
		Version: Version,
		Description: `touchflow drives an app under test through Appium (or a browser with
touch emulation), scrolling to find elements that are not on screen yet.

Examples:
  touchflow wait-device --attempts 30
  touchflow start-emulator --avd Pixel_9_Pro_XL
  touchflow locate "Harry Potter" --attempts 8
  touchflow swipe 600 2000 600 800 --duration 500
  touchflow run flows/ -e USER=test
  touchflow validate flows/
  touchflow history --stats`,
		Flags:  GlobalFlags,
		Before: setupLogging,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			waitDeviceCommand,
			startEmulatorCommand,
			locateCommand,
			swipeCommand,
			runCommand,
			validateCommand,
			historyCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging picks the log sink: --log-file, stderr for --verbose, or the
// home logs directory.
func setupLogging(c *cli.Context) error {
	if path := c.String("log-file"); path != "" {
		return logger.Init(path)
	}
	if c.Bool("verbose") {
		logger.InitWriter(c.App.ErrWriter)
		return nil
	}

	logsDir := config.GetLogsDir()
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: Failed to create log directory: %v\n", err)
		return nil
	}
	if err := logger.Init(filepath.Join(logsDir, "touchflow.log")); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: Failed to initialize logger: %v\n", err)
	}
	return nil
}

// loadConfig reads the workspace config and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}

	if c.IsSet("appium-url") {
		cfg.AppiumURL = c.String("appium-url")
	}
	if c.IsSet("device") {
		cfg.Device = parseDevices(c.String("device"))[0]
	}
	return cfg, nil
}

// parseDevices splits a comma-separated --device value.
func parseDevices(deviceFlag string) []string {
	devices := strings.Split(deviceFlag, ",")
	for i, d := range devices {
		devices[i] = strings.TrimSpace(d)
	}
	return devices
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

// loadCapabilities loads Appium capabilities from a JSON file.
func loadCapabilities(capsFile string) (map[string]interface{}, error) {
	data, err := os.ReadFile(capsFile) //#nosec G304 -- user-provided caps file
	if err != nil {
		return nil, fmt.Errorf("failed to read caps file: %w", err)
	}

	var caps map[string]interface{}
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse caps JSON: %w", err)
	}
	return caps, nil
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	fd := os.Stdout.Fd()
	colorsEnabled = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// formatDuration shows milliseconds below 1s, seconds below 1m.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
