package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tradepulse",
	Short: "Reactive trade analytics engine",
	Long: `TradePulse recomputes trading analytics reactively: whenever the trade
set, the active filters, or the aggregation settings change, the engine
re-runs its filtering, metrics, aggregation, and chart stages and pushes
a fresh snapshot to every subscriber.

Commands:
  serve    start the analytics server (HTTP API + WebSocket stream)
  import   load trades from a CSV file into a SQLite trade store
  version  print version information`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
