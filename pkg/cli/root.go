package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/config"
)

var (
	// Persistent flags available to all subcommands
	configFile string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gqlws",
	Short: "gqlws serves GraphQL subscriptions over WebSocket",
	Long: `gqlws serves a configuration-driven GraphQL endpoint over HTTP and WebSocket.
WebSocket clients may speak graphql-transport-ws or the legacy graphql-ws
subprotocol.

Configuration can be provided via flags, GQLWS_* environment variables, or a
YAML configuration file passed with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.GetConfigFromEnv(), "Path to the YAML configuration file (env GQLWS_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

// loadConfig loads defaults, the config file and the environment without
// validating, so callers can apply flags first.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		if err := cfg.MergeFile(configFile); err != nil {
			return nil, err
		}
	}
	config.ApplyEnv(cfg)
	return cfg, nil
}
