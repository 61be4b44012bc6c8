package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stratdeck/internal/config"
	"stratdeck/internal/core"
)

var (
	cfgFile    string
	debug      bool
	targetName string
)

var rootCmd = &cobra.Command{
	Use:   "stratdeck",
	Short: "stratdeck - operational dashboard for trading strategies",
	Long: `stratdeck monitors and drives a fleet of trading strategies through the
engine's query/mutation API: live state, lifecycle commands, model resets
and snapshot exports.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&targetName, "target", "t", "", "engine target name, overrides the configured one")
}

// loadConfig reads the config file, or falls back to defaults when none was
// given.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	log.Warn("no config file specified, using defaults")
	return config.Defaults(), nil
}

// resolveEndpoint picks the engine endpoint for the active target.
func resolveEndpoint(cfg *config.Config) (config.EndpointConfig, error) {
	name := cfg.Target
	if targetName != "" {
		name = targetName
	}
	ep, ok := cfg.Endpoints[name]
	if !ok {
		return config.EndpointConfig{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown target %q", name))
	}
	return ep, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
