package cmd

import (
	cmdconfig "github.com/Iron-Ham/browserfleet/internal/cmd/config"
	"github.com/Iron-Ham/browserfleet/internal/cmd/profiles"
	"github.com/Iron-Ham/browserfleet/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "browserfleet",
	Short: "Run and supervise isolated browser profiles",
	Long: `browserfleet keeps a list of named browser profiles and runs at most one
browser per profile, each with its own user data directory. Running browsers
are health-checked in the background and torn down together on exit.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/browserfleet/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	cmdconfig.Register(rootCmd)
	profiles.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// BROWSERFLEET_HEALTH_POLL_INTERVAL_MS overrides health.poll_interval_ms
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
