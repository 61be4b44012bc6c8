package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stratdeck/internal/config"
	"stratdeck/internal/logger"
	"stratdeck/internal/ui"
)

const defaultConfigPath = "stratdeck.yaml"

// defaultConfig is written when the dashboard starts without any config
// file, so target switching has a file to persist into.
const defaultConfig = `target: local
endpoints:
  local:
    url: http://127.0.0.1:8089/graphql
    ws: ws://127.0.0.1:8089/ws
dashboard:
  page_size: 10
  refresh_interval: 2s
export:
  type: localfs
  path: snapshots
`

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Start the interactive dashboard",
	RunE:  runDash,
}

func init() {
	rootCmd.AddCommand(dashCmd)
}

func runDash(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	path := cfgFile
	if path == "" {
		path = defaultConfigPath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Warn("no config file found, writing defaults", zap.String("path", path))
			if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
				return fmt.Errorf("writing default config: %w", err)
			}
		}
	}

	store, err := config.NewStore(path, log)
	if err != nil {
		return fmt.Errorf("opening config store: %w", err)
	}

	if targetName != "" && targetName != store.Target().Name {
		if err := store.SetTarget(targetName); err != nil {
			return fmt.Errorf("switching target: %w", err)
		}
	}

	log.Info("starting dashboard",
		zap.String("config", path),
		zap.String("target", store.Target().Name),
	)
	return ui.Run(store, log)
}
