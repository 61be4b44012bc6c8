package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stratdeck/internal/logger"
	"stratdeck/internal/sim"
)

var simSeed int64

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a local engine simulator",
	Long: `Sim serves the engine's query/mutation API over a randomized in-memory
strategy fleet, for developing and demoing the dashboard without live
trading infrastructure.`,
	RunE: runSim,
}

func init() {
	simCmd.Flags().Int64Var(&simSeed, "seed", time.Now().UnixNano(), "fleet randomization seed")
	rootCmd.AddCommand(simCmd)
}

func runSim(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	fleet := sim.NewFleet(cfg.Sim.Strategies, simSeed)
	server := sim.NewServer(cfg.Sim, fleet, log)

	log.Info("starting engine simulator",
		zap.String("host", cfg.Sim.Host),
		zap.Int("port", cfg.Sim.Port),
		zap.Int("strategies", cfg.Sim.Strategies),
		zap.Int64("seed", simSeed),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
