package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tradepulse/internal/app"
)

var (
	serveConfigFile string
	serveDBPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analytics server",
	Long: `Start the TradePulse server. The server exposes the REST API under
/api, a WebSocket snapshot stream at /ws, Prometheus metrics at
/metrics, and health probes at /healthz and /readyz.

With --db the server persists trades in SQLite; without it trades live
in memory and are lost on shutdown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "path to YAML config file")
	serveCmd.Flags().StringVarP(&serveDBPath, "db", "d", "", "path to SQLite trade store (in-memory when empty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.New(app.Options{
		ConfigFile: serveConfigFile,
		DBPath:     serveDBPath,
	})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	if err := application.Run(context.Background()); err != nil {
		return fmt.Errorf("run application: %w", err)
	}
	return nil
}
