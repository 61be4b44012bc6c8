package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stratdeck/internal/core"
	"stratdeck/internal/engine"
	"stratdeck/internal/logger"
	"stratdeck/internal/snapshot"
)

var exportStrategies []string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export strategy snapshots to the configured store",
	Long: `Export writes state, models and operation history per strategy to the
configured backend (local directory or S3 bucket). Without --strategy the
whole fleet is exported.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringArrayVar(&exportStrategies, "strategy", nil,
		"strategy to export as type/id, repeatable")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	ep, err := resolveEndpoint(cfg)
	if err != nil {
		return err
	}

	var keys []core.StrategyKey
	for _, s := range exportStrategies {
		typ, id, ok := strings.Cut(s, "/")
		if !ok || typ == "" || id == "" {
			return fmt.Errorf("invalid strategy %q, expected type/id", s)
		}
		keys = append(keys, core.StrategyKey{Type: typ, ID: id})
	}

	store, err := snapshot.NewStore(cfg.Export)
	if err != nil {
		return fmt.Errorf("opening export store: %w", err)
	}
	client := engine.New(engine.Config{URL: ep.URL, WSURL: ep.WS}, log)
	exporter := snapshot.NewExporter(store, client, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := exporter.Export(ctx, keys)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, p := range res.Written {
		fmt.Println(p)
	}
	if len(res.Failed) > 0 {
		for _, k := range res.Failed {
			log.Error("export failed", zap.String("strategy", k.String()))
		}
		return fmt.Errorf("%d of %d strategies failed to export",
			len(res.Failed), len(res.Failed)+len(res.Written)/3)
	}
	return nil
}
