// Package cmd holds the content-hub command line.
package cmd

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"contenthub/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "content-hub",
	Short: "Device-local content exchange broker",
	Long: "content-hub brokers content exchanges between applications: a\n" +
		"destination asks for content of a type, the hub resolves a source\n" +
		"peer and ferries the items across a supervised transfer.",
}

// Execute runs the command line.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	// A .env file beside the daemon supplies CONTENT_HUB_* overrides.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// loadConfig resolves the configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.SetLogLevel("*", level); err != nil {
		return nil, fmt.Errorf("set log level %q: %w", level, err)
	}
	return cfg, nil
}
