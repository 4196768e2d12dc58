// Package config holds the YAML configuration shared by the CLI commands.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veex0x01/stackscope/browser"
	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fetch"
	"github.com/veex0x01/stackscope/reporting"
)

// Config is the full configuration file
type Config struct {
	// Catalog is a fingerprint catalog path; empty uses the embedded one.
	Catalog     string        `yaml:"catalog"`
	QuietPeriod time.Duration `yaml:"quiet_period"`
	Threshold   int           `yaml:"threshold"`
	Sort        string        `yaml:"sort"`

	Fetch     FetchConfig     `yaml:"fetch"`
	Browser   BrowserConfig   `yaml:"browser"`
	Log       LogConfig       `yaml:"log"`
	Notify    NotifyConfig    `yaml:"notify"`
	Dashboard DashboardConfig `yaml:"dashboard"`

	Poll PollConfig `yaml:"poll"`
}

// FetchConfig configures static HTTP fetches
type FetchConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"user_agent"`
	Proxy      string        `yaml:"proxy"`
	Cookie     string        `yaml:"cookie"`
	Headers    []string      `yaml:"headers,omitempty"`
	TLSProfile string        `yaml:"tls_profile"`
	Insecure   bool          `yaml:"insecure"`
	Retries    int           `yaml:"retries"`
}

// BrowserConfig configures headless Chrome
type BrowserConfig struct {
	ChromePath string        `yaml:"chrome_path"`
	Headless   bool          `yaml:"headless"`
	Wait       time.Duration `yaml:"wait"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LogConfig configures the logger and its rotating file
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NotifyConfig lists the alert channels. Empty values are disabled.
type NotifyConfig struct {
	Slack         string `yaml:"slack"`
	SlackChannel  string `yaml:"slack_channel"`
	Discord       string `yaml:"discord"`
	TelegramToken string `yaml:"telegram_token"`
	TelegramChat  string `yaml:"telegram_chat"`
	Webhook       string `yaml:"webhook"`
}

// DashboardConfig configures the web dashboard
type DashboardConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PollConfig configures interval rescans of static pages
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	StateDir string        `yaml:"state_dir"`
	Targets  []string      `yaml:"targets,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	fo := fetch.DefaultOptions()
	bo := browser.DefaultOptions()
	return &Config{
		QuietPeriod: detector.DefaultQuietPeriod,
		Sort:        detector.SortConfidence,
		Fetch: FetchConfig{
			Timeout: fo.Timeout,
			Retries: fo.Retries,
		},
		Browser: BrowserConfig{
			Headless: bo.Headless,
			Wait:     bo.Wait,
			Timeout:  bo.Timeout,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{Listen: "127.0.0.1:8080"},
		Poll: PollConfig{
			Interval: time.Hour,
			StateDir: ".stackscope",
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %d", c.Threshold)
	}
	if c.QuietPeriod <= 0 {
		return fmt.Errorf("quiet_period must be positive")
	}
	if _, err := detector.SortBy(nil, c.Sort); err != nil {
		return err
	}
	if _, err := reporting.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Fetch.TLSProfile != "" {
		if _, ok := fetch.LookupProfile(c.Fetch.TLSProfile); !ok {
			return fmt.Errorf("unknown tls_profile %q (want one of %s)",
				c.Fetch.TLSProfile, strings.Join(fetch.ProfileNames, ", "))
		}
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must not be negative")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChat == "") {
		return fmt.Errorf("notify.telegram_token and notify.telegram_chat must be set together")
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	return nil
}

// FetchOptions converts the fetch section for fetch.New
func (c *Config) FetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	if c.Fetch.Timeout > 0 {
		opts.Timeout = c.Fetch.Timeout
	}
	opts.UserAgent = c.Fetch.UserAgent
	opts.Proxy = c.Fetch.Proxy
	opts.Cookie = c.Fetch.Cookie
	opts.Headers = c.Fetch.Headers
	opts.TLSProfile = c.Fetch.TLSProfile
	opts.Insecure = c.Fetch.Insecure
	opts.Retries = c.Fetch.Retries
	return opts
}

// BrowserOptions converts the browser section for browser.New. The user
// agent, proxy and custom headers are shared with the fetch section.
func (c *Config) BrowserOptions() browser.Options {
	opts := browser.DefaultOptions()
	opts.ChromePath = c.Browser.ChromePath
	opts.Headless = c.Browser.Headless
	if c.Browser.Wait > 0 {
		opts.Wait = c.Browser.Wait
	}
	if c.Browser.Timeout > 0 {
		opts.Timeout = c.Browser.Timeout
	}
	opts.UserAgent = c.Fetch.UserAgent
	opts.Proxy = c.Fetch.Proxy
	if h := fetch.ParseHeaders(c.Fetch.Headers); len(h) > 0 {
		opts.Headers = make(map[string]string, len(h))
		for k := range h {
			opts.Headers[k] = h.Get(k)
		}
	}
	return opts
}

// LoggerOptions converts the log section for reporting.NewLogger
func (c *Config) LoggerOptions() reporting.Options {
	level, _ := reporting.ParseLevel(c.Log.Level)
	return reporting.Options{
		Level:      level,
		File:       c.Log.File,
		JSON:       c.Log.JSON,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}
