package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. BROWSERFLEET_HEALTH_POLL_INTERVAL_MS.
const EnvPrefix = "BROWSERFLEET"

// Config represents the complete browserfleet configuration
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Health   HealthConfig   `mapstructure:"health"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// PathsConfig controls where profiles and per-instance directories live
type PathsConfig struct {
	// DataDir is the root for all state. Empty means the config directory.
	// Supports ~ for home directory expansion.
	DataDir string `mapstructure:"data_dir"`
	// ProfilesFile is the JSON profile list, relative to DataDir unless absolute.
	ProfilesFile string `mapstructure:"profiles_file"`
	// InstancesDir holds one browser profile directory per profile id,
	// relative to DataDir unless absolute.
	InstancesDir string `mapstructure:"instances_dir"`
}

// BrowserConfig controls how browser processes are spawned and verified
type BrowserConfig struct {
	// ExecutablePath overrides browser discovery when it points at an executable file.
	ExecutablePath string `mapstructure:"executable_path"`
	// BootstrapURL is navigated once after spawn to force full initialization.
	BootstrapURL string `mapstructure:"bootstrap_url"`
	// WindowWidth and WindowHeight fix the initial window geometry.
	WindowWidth  int `mapstructure:"window_width"`
	WindowHeight int `mapstructure:"window_height"`
	// SettleDelayMs is the pause between bootstrap navigation and verification.
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
	// NavigationTimeoutSeconds bounds the bootstrap navigation.
	NavigationTimeoutSeconds int `mapstructure:"navigation_timeout_seconds"`
	// ExtraFlags are appended to the hardened flag set, e.g. "--lang=en-US".
	ExtraFlags []string `mapstructure:"extra_flags"`
}

// HealthConfig controls the liveness poll loop
type HealthConfig struct {
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	ProbeTimeoutMs int `mapstructure:"probe_timeout_ms"`
}

// ShutdownConfig bounds instance teardown
type ShutdownConfig struct {
	// TimeoutMs bounds stopping every instance at once.
	TimeoutMs int `mapstructure:"timeout_ms"`
	// KillGraceMs is how long one browser gets to close before it is force-killed.
	KillGraceMs int `mapstructure:"kill_grace_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir:      "",
			ProfilesFile: "profiles.json",
			InstancesDir: "instances",
		},
		Browser: BrowserConfig{
			ExecutablePath:           "",
			BootstrapURL:             "https://www.google.com/",
			WindowWidth:              1280,
			WindowHeight:             800,
			SettleDelayMs:            1000,
			NavigationTimeoutSeconds: 30,
			ExtraFlags:               []string{},
		},
		Health: HealthConfig{
			PollIntervalMs: 5000,
			ProbeTimeoutMs: 2000,
		},
		Shutdown: ShutdownConfig{
			TimeoutMs:   2000,
			KillGraceMs: 1000,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
	}
}

// SettleDelay returns the settle delay as a time.Duration
func (c *BrowserConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// NavigationTimeout returns the bootstrap navigation timeout as a time.Duration
func (c *BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutSeconds) * time.Second
}

// PollInterval returns the poll interval as a time.Duration
func (c *HealthConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ProbeTimeout returns the liveness probe timeout as a time.Duration
func (c *HealthConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// Timeout returns the shutdown-all bound as a time.Duration
func (c *ShutdownConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// KillGrace returns the per-instance graceful close window as a time.Duration
func (c *ShutdownConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMs) * time.Millisecond
}

// ResolveDataDir returns the absolute data directory, expanding ~ and
// falling back to the config directory when unset.
func (p *PathsConfig) ResolveDataDir() string {
	dir := p.DataDir
	if dir == "" {
		return ConfigDir()
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// ProfilesPath returns the location of the profiles file.
func (p *PathsConfig) ProfilesPath() string {
	return p.resolve(p.ProfilesFile)
}

// InstancesPath returns the base directory for per-profile browser directories.
func (p *PathsConfig) InstancesPath() string {
	return p.resolve(p.InstancesDir)
}

// LogDir returns the directory the rotating log file is written to.
func (p *PathsConfig) LogDir() string {
	return filepath.Join(p.ResolveDataDir(), "logs")
}

func (p *PathsConfig) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.ResolveDataDir(), path)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
	viper.SetDefault("paths.profiles_file", defaults.Paths.ProfilesFile)
	viper.SetDefault("paths.instances_dir", defaults.Paths.InstancesDir)

	// Browser defaults
	viper.SetDefault("browser.executable_path", defaults.Browser.ExecutablePath)
	viper.SetDefault("browser.bootstrap_url", defaults.Browser.BootstrapURL)
	viper.SetDefault("browser.window_width", defaults.Browser.WindowWidth)
	viper.SetDefault("browser.window_height", defaults.Browser.WindowHeight)
	viper.SetDefault("browser.settle_delay_ms", defaults.Browser.SettleDelayMs)
	viper.SetDefault("browser.navigation_timeout_seconds", defaults.Browser.NavigationTimeoutSeconds)
	viper.SetDefault("browser.extra_flags", defaults.Browser.ExtraFlags)

	// Health defaults
	viper.SetDefault("health.poll_interval_ms", defaults.Health.PollIntervalMs)
	viper.SetDefault("health.probe_timeout_ms", defaults.Health.ProbeTimeoutMs)

	// Shutdown defaults
	viper.SetDefault("shutdown.timeout_ms", defaults.Shutdown.TimeoutMs)
	viper.SetDefault("shutdown.kill_grace_ms", defaults.Shutdown.KillGraceMs)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.address", defaults.Metrics.Address)
}

// BindEnv makes every key overridable through BROWSERFLEET_* variables.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "browserfleet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".browserfleet"
	}
	return filepath.Join(home, ".config", "browserfleet")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
