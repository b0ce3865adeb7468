package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netfetch/config"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "netfetch",
	Short: "Cancellable HTTP fetches with pinned trust and optional archiving",
	Long: `netfetch runs single HTTP requests as queued, cancellable fetch units.

Serve fetch requests over HTTP (or Lambda, detected from the environment):
	netfetch serve

Fetch one URL and write the body to stdout:
	netfetch get https://api.example.com/v1/items`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newGetCmd())
}

// loadConfig loads configuration through the process-wide provider after
// applying the persistent flags.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		if err := os.Setenv("LOG_LEVEL", logLevel); err != nil {
			return nil, err
		}
	}

	p := config.GetProvider()
	if err := p.Load(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return p.Get()
}
