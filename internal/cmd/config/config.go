// Package config provides CLI commands for managing browserfleet configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	appconfig "github.com/Iron-Ham/browserfleet/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify browserfleet configuration",
	Long: `View or modify browserfleet configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  browserfleet config set health.poll_interval_ms 10000
  browserfleet config set browser.executable_path /usr/bin/chromium
  browserfleet config set metrics.enabled true

Run 'browserfleet config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/browserfleet/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Register adds all config-related commands to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// settings returns the effective configuration keyed like the config file.
func settings() map[string]any {
	all := viper.AllSettings()
	delete(all, "config")
	return all
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(settings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// settableKeys lists every scalar key with the kind of value it takes.
func settableKeys() map[string]string {
	keys := make(map[string]string)
	for _, key := range viper.AllKeys() {
		switch viper.Get(key).(type) {
		case bool:
			keys[key] = "bool"
		case int:
			keys[key] = "int"
		case string:
			keys[key] = "string"
		}
	}
	delete(keys, "config")
	return keys
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value := args[1]

	keys := settableKeys()
	keyType, ok := keys[key]
	if !ok {
		valid := make([]string, 0, len(keys))
		for k := range keys {
			valid = append(valid, k)
		}
		sort.Strings(valid)
		return fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(valid, ", "))
	}

	var typedValue any
	switch keyType {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = n
	default:
		typedValue = value
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := appconfig.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := appconfig.ConfigFile()
	if viper.ConfigFileUsed() != "" {
		configFile = viper.ConfigFileUsed()
	}
	data, err := yaml.Marshal(settings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfig = `# browserfleet configuration
# Every key can also be set through the environment, e.g.
# BROWSERFLEET_HEALTH_POLL_INTERVAL_MS=10000

paths:
  # Root for all state. Empty means the config directory.
  data_dir: ""
  # Profile list, relative to data_dir unless absolute
  profiles_file: profiles.json
  # One browser user data directory per profile id
  instances_dir: instances

browser:
  # Leave empty to search the usual Chrome and Chromium locations
  executable_path: ""
  # Visited once after spawn so the browser finishes initializing
  bootstrap_url: https://www.google.com/
  window_width: 1280
  window_height: 800
  settle_delay_ms: 1000
  navigation_timeout_seconds: 30
  # Appended to the built-in flags, e.g. ["--lang=en-US"]
  extra_flags: []

health:
  poll_interval_ms: 5000
  probe_timeout_ms: 2000

shutdown:
  # Upper bound for stopping every browser at once
  timeout_ms: 2000
  # How long one browser may take to close before it is killed
  kill_grace_ms: 1000

logging:
  enabled: true
  # debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3
  # Gzip rotated log files
  compress: false

metrics:
  # Serve Prometheus metrics at http://<address>/metrics
  enabled: false
  address: 127.0.0.1:9464
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'browserfleet config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_HEALTH_POLL_INTERVAL_MS)\n",
		appconfig.EnvPrefix, appconfig.EnvPrefix)
	return nil
}
