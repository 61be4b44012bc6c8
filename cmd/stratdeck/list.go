package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stratdeck/internal/board"
	"stratdeck/internal/core"
	"stratdeck/internal/engine"
	"stratdeck/internal/logger"
)

var listWide bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the strategy fleet once and exit",
	Long:  "One-shot, non-interactive view of the fleet, for scripts and quick checks.",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listWide, "wide", false, "include state fields")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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

	client := engine.New(engine.Config{URL: ep.URL, WSURL: ep.WS}, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	strats, err := client.StratsExtended(ctx)
	if err != nil {
		return fmt.Errorf("querying engine: %w", err)
	}

	if listWide {
		fmt.Printf("%-24s %-16s %-12s %10s %10s %10s\n",
			"TYPE", "ID", "STATUS", "POSITION", "PNL", "VALUE")
	} else {
		fmt.Printf("%-24s %-16s %-12s\n", "TYPE", "ID", "STATUS")
	}
	for _, s := range strats {
		if !listWide {
			fmt.Printf("%-24s %-16s %-12s\n", s.Key.Type, s.Key.ID, s.Status)
			continue
		}
		ps := core.ParseState(s.RawState)
		if ps.Outcome != core.ParseOK {
			fmt.Printf("%-24s %-16s %-12s %32s\n", s.Key.Type, s.Key.ID, s.Status, board.ParseMarker)
			continue
		}
		fmt.Printf("%-24s %-16s %-12s %10.2f %10.2f %10.2f\n",
			s.Key.Type, s.Key.ID, s.Status,
			ps.State.Position, ps.State.Pnl, ps.State.ValueStrat)
	}

	sum := board.Summarize(strats)
	fmt.Printf("\n%d strategies: %d running, %d not trading, %d stopped",
		sum.Total, sum.Running, sum.NotTrading, sum.Stopped)
	if sum.Unparseable > 0 {
		fmt.Printf(", %d unparseable", sum.Unparseable)
	}
	fmt.Printf("  total pnl %.2f\n", sum.TotalPnl)
	return nil
}
