// Package commands implements the gateway CLI's subcommands.
package commands

import (
	"github.com/objectgate/gateway/internal/logger"
	"github.com/objectgate/gateway/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time via ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Multi-tenant object storage gateway",
	Long: `gateway is a multi-tenant object-storage gateway: it maintains the
Postgres-backed metadata store, shards uploads across pluggable blob
backends, and drives the TUS resumable-upload and render-URL signing
subsystems. The HTTP route surface is served by a separate process; this
binary runs the gateway's backing services and administration commands.

Use "gateway [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/gateway/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(migrateCmd)
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}

// InitLogger initializes the structured logger from the loaded configuration.
func InitLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
