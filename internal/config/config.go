package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"profile2site/internal/browser"
	"profile2site/internal/checkpoint"
)

// DefaultUserAgent is sent by every page unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultSelectors are tried in order to find the "Visit Website" redirect anchor.
var DefaultSelectors = []string{
	"a.sg-button-v2--primary[href*='r.clutch.co/redirect']",
	"a[href*='r.clutch.co/redirect'][href*='u=']",
	"a[href*='website'][class*='button']",
}

// Config represents the application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level"`
	InputPath       string        `yaml:"input_path"`
	OutputPath      string        `yaml:"output_path"`
	SnapshotPath    string        `yaml:"snapshot_path"`
	SnapshotBackend string        `yaml:"snapshot_backend"`
	Workers         int           `yaml:"workers"`
	MaxRetries      int           `yaml:"max_retries"`
	SleepMin        time.Duration `yaml:"sleep_min"`
	SleepMax        time.Duration `yaml:"sleep_max"`
	PaceRecords     bool          `yaml:"pace_records"`
	RatePerMinute   int           `yaml:"rate_per_minute"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShowProgress    bool          `yaml:"show_progress"`
	Browser         Browser       `yaml:"browser"`
	Extract         Extract       `yaml:"extract"`
	Input           Input         `yaml:"input"`
	Publish         Publish       `yaml:"publish"`
}

// Browser represents browser driver configuration
type Browser struct {
	Driver       string `yaml:"driver"`
	Headless     bool   `yaml:"headless"`
	UserAgent    string `yaml:"user_agent"`
	ExecPath     string `yaml:"exec_path"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`

	// NavigationTimeout bounds a single page load.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// Extract represents page extraction configuration
type Extract struct {
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	SelectorTimeout time.Duration `yaml:"selector_timeout"`
	ChallengeWait   time.Duration `yaml:"challenge_wait"`
	Selectors       []string      `yaml:"selectors"`
	RedirectMarker  string        `yaml:"redirect_marker"`
	RedirectParam   string        `yaml:"redirect_param"`
	DomainOnly      bool          `yaml:"domain_only"`
}

// Input overrides header detection for the input CSV
type Input struct {
	IDColumn     string `yaml:"id_column"`
	TargetColumn string `yaml:"target_column"`
	NameColumn   string `yaml:"name_column"`
}

// Publish represents the optional S3-compatible upload of the final report
type Publish struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
}

// Enabled reports whether a publish target is configured.
func (p Publish) Enabled() bool {
	return p.Bucket != ""
}

// Default returns the configuration used when neither file nor flags set a value.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		InputPath:       "top_10_clutch_companies.csv",
		OutputPath:      "clutch_with_sites.csv",
		SnapshotPath:    "clutch_with_sites.progress.csv",
		SnapshotBackend: checkpoint.BackendCSV,
		Workers:         1,
		MaxRetries:      2,
		SleepMin:        3 * time.Second,
		SleepMax:        6 * time.Second,
		PaceRecords:     true,
		ShowProgress:    true,
		Browser: Browser{
			Driver:       browser.DriverRod,
			Headless:     true,
			UserAgent:    DefaultUserAgent,
			WindowWidth:  1920,
			WindowHeight: 1080,

			NavigationTimeout: 60 * time.Second,
		},
		Extract: Extract{
			WaitTimeout:     20 * time.Second,
			SelectorTimeout: 5 * time.Second,
			ChallengeWait:   10 * time.Second,
			Selectors:       append([]string(nil), DefaultSelectors...),
			RedirectMarker:  "r.clutch.co/redirect",
			RedirectParam:   "u",
			DomainOnly:      true,
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// RegisterFlags adds the run flags shared by start, resume and single.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("input", "", "Input CSV with profile URLs")
	flags.String("output", "", "Output CSV (identifier,result,status)")
	flags.String("snapshot", "", "Progress snapshot file")
	flags.String("snapshot-backend", "", "Snapshot backend (csv/sqlite)")
	flags.Int("workers", 0, "Number of concurrent browser pages")
	flags.Int("max-retries", 0, "Additional attempts after the first failure")
	flags.Duration("sleep-min", 0, "Lower bound of the random delay between attempts")
	flags.Duration("sleep-max", 0, "Upper bound of the random delay between attempts")
	flags.Bool("pace", true, "Also sleep the random delay between records")
	flags.Int("rate-per-minute", 0, "Global cap on page loads per minute (0 = off)")
	flags.Duration("wait-timeout", 0, "How long to wait for the website link to appear")
	flags.String("driver", "", "Browser driver (rod/chromedp)")
	flags.Bool("headless", true, "Run the browser headless")
	flags.String("exec-path", "", "Path to the Chrome binary")
	flags.Bool("domain-only", true, "Reduce the extracted URL to its bare domain")
	flags.String("id-column", "", "Input column holding the identifier")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")
	flags.String("log-level", "", "Log level (debug/info/warn/error)")
	flags.Bool("show-progress", true, "Show progress display")
	flags.String("publish-bucket", "", "Upload the final report to this bucket")
	flags.String("publish-key", "", "Object key for the uploaded report")
	flags.String("publish-endpoint", "", "S3-compatible endpoint for the upload")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetDuration(name)
		}
	}
	flag := func(name string, dst *bool) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetBool(name)
		}
	}

	str("input", &cfg.InputPath)
	str("output", &cfg.OutputPath)
	str("snapshot", &cfg.SnapshotPath)
	str("snapshot-backend", &cfg.SnapshotBackend)
	num("workers", &cfg.Workers)
	num("max-retries", &cfg.MaxRetries)
	dur("sleep-min", &cfg.SleepMin)
	dur("sleep-max", &cfg.SleepMax)
	flag("pace", &cfg.PaceRecords)
	num("rate-per-minute", &cfg.RatePerMinute)
	dur("wait-timeout", &cfg.Extract.WaitTimeout)
	str("driver", &cfg.Browser.Driver)
	flag("headless", &cfg.Browser.Headless)
	str("exec-path", &cfg.Browser.ExecPath)
	flag("domain-only", &cfg.Extract.DomainOnly)
	str("id-column", &cfg.Input.IDColumn)
	str("metrics-addr", &cfg.MetricsAddr)
	str("log-level", &cfg.LogLevel)
	flag("show-progress", &cfg.ShowProgress)
	str("publish-bucket", &cfg.Publish.Bucket)
	str("publish-key", &cfg.Publish.Key)
	str("publish-endpoint", &cfg.Publish.Endpoint)

	return err
}

// Validate checks the configuration for values the run cannot start with.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("input path is required")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("snapshot path is required")
	}
	if c.SnapshotPath == c.OutputPath {
		return fmt.Errorf("snapshot path must differ from output path")
	}

	switch c.SnapshotBackend {
	case checkpoint.BackendCSV, checkpoint.BackendSQLite:
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.SnapshotBackend)
	}

	switch c.Browser.Driver {
	case browser.DriverRod, browser.DriverChromedp:
	default:
		return fmt.Errorf("unknown browser driver %q", c.Browser.Driver)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.SleepMin < 0 || c.SleepMax < c.SleepMin {
		return fmt.Errorf("sleep interval must satisfy 0 <= min <= max (got %s, %s)", c.SleepMin, c.SleepMax)
	}
	if c.RatePerMinute < 0 {
		return fmt.Errorf("rate per minute cannot be negative")
	}
	if c.Extract.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if len(c.Extract.Selectors) == 0 {
		return fmt.Errorf("at least one selector is required")
	}
	if c.Extract.RedirectParam == "" {
		return fmt.Errorf("redirect param is required")
	}

	if c.Publish.Enabled() && c.Publish.Endpoint == "" {
		return fmt.Errorf("publish endpoint is required when a publish bucket is set")
	}

	return nil
}
