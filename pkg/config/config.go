// Package config handles configuration for touchflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/touchflow/pkg/core"
)

// Defaults taken from the onboarding suite this tool grew out of.
const (
	DefaultAppiumURL        = "http://127.0.0.1:4723"
	DefaultDevice           = "emulator-5554"
	DefaultReadinessMs      = 5000
	DefaultReadinessRetries = 20
	DefaultLocatorAttempts  = 5
	DefaultWaitTimeoutMs    = 10000
	DefaultSessionRetries   = 3
)

// Config represents the workspace configuration (touchflow.yaml).
type Config struct {
	// Session settings
	AppiumURL    string                 `yaml:"appiumUrl"`
	Capabilities map[string]interface{} `yaml:"capabilities"`
	Device       string                 `yaml:"device"` // adb serial
	AVD          string                 `yaml:"avd"`    // emulator to boot when none is online

	// SessionRetries is how often session creation is retried while the
	// Appium server is unreachable.
	SessionRetries int `yaml:"sessionRetries"`

	Readiness ReadinessConfig `yaml:"readiness"`
	Locator   LocatorConfig   `yaml:"locator"`
	Scroll    ScrollConfig    `yaml:"scroll"`

	// WaitTimeoutMs bounds waitFor steps without their own timeout.
	WaitTimeoutMs int `yaml:"waitTimeoutMs"`

	Env map[string]string `yaml:"env"` // Flow variables

	// History is the run history database; empty = <home>/history.db.
	History string `yaml:"history"`

	// Timezone for --schedule expressions; empty = local time.
	Timezone string `yaml:"timezone"`
}

// ReadinessConfig configures device readiness polling.
type ReadinessConfig struct {
	IntervalMs  int  `yaml:"intervalMs"`
	MaxAttempts int  `yaml:"maxAttempts"`
	WaitBoot    bool `yaml:"waitBoot"` // also wait for sys.boot_completed
}

// LocatorConfig configures the scrolling locator.
type LocatorConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

// ScrollConfig is the swipe used between locator attempts, in screen pixels.
type ScrollConfig struct {
	StartX     int `yaml:"startX"`
	StartY     int `yaml:"startY"`
	EndX       int `yaml:"endX"`
	EndY       int `yaml:"endY"`
	DurationMs int `yaml:"durationMs"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadFromDir looks for touchflow.yaml or touchflow.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"touchflow.yaml", "touchflow.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

func (c *Config) applyDefaults() {
	if c.AppiumURL == "" {
		c.AppiumURL = DefaultAppiumURL
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Readiness.IntervalMs == 0 {
		c.Readiness.IntervalMs = DefaultReadinessMs
	}
	if c.Readiness.MaxAttempts == 0 {
		c.Readiness.MaxAttempts = DefaultReadinessRetries
	}
	if c.Locator.MaxAttempts == 0 {
		c.Locator.MaxAttempts = DefaultLocatorAttempts
	}
	if c.Scroll == (ScrollConfig{}) {
		c.Scroll = ScrollConfig{StartX: 600, StartY: 2000, EndX: 600, EndY: 800, DurationMs: 500}
	}
	if c.WaitTimeoutMs == 0 {
		c.WaitTimeoutMs = DefaultWaitTimeoutMs
	}
	if c.SessionRetries == 0 {
		c.SessionRetries = DefaultSessionRetries
	}
	if c.Env == nil {
		c.Env = make(map[string]string)
	}
}

// Validate checks value ranges after defaults are applied.
func (c *Config) Validate() error {
	if err := c.ReadinessPolicy().Validate(); err != nil {
		return core.ErrInvalidConfig.WithCause(fmt.Errorf("readiness: %w", err))
	}
	if c.SessionRetries < 0 {
		return core.ErrInvalidConfig.WithCause(fmt.Errorf("sessionRetries must be >= 0"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return core.ErrInvalidConfig.WithCause(fmt.Errorf("timezone: %w", err))
		}
	}
	if c.Locator.MaxAttempts < 0 {
		return core.ErrInvalidConfig.WithCause(fmt.Errorf("locator.maxAttempts must be > 0"))
	}
	if err := c.ScrollGesture().Validate(); err != nil {
		return core.ErrInvalidConfig.WithCause(fmt.Errorf("scroll: %w", err))
	}
	return nil
}

// ReadinessPolicy converts the readiness settings into a poll policy.
func (c *Config) ReadinessPolicy() core.PollPolicy {
	return core.PollPolicy{
		Interval:    time.Duration(c.Readiness.IntervalMs) * time.Millisecond,
		MaxAttempts: c.Readiness.MaxAttempts,
	}
}

// ScrollGesture converts the scroll settings into a gesture.
func (c *Config) ScrollGesture() core.GestureSpec {
	return core.GestureSpec{
		Start:    core.Point{X: c.Scroll.StartX, Y: c.Scroll.StartY},
		End:      core.Point{X: c.Scroll.EndX, Y: c.Scroll.EndY},
		Duration: time.Duration(c.Scroll.DurationMs) * time.Millisecond,
	}
}

// HistoryPath returns the run history database path.
func (c *Config) HistoryPath() string {
	if c.History != "" {
		return c.History
	}
	return filepath.Join(GetHome(), "history.db")
}

// WaitTimeout returns the default waitFor timeout.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMs) * time.Millisecond
}
