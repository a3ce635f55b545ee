package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tradepulse/internal/cache"
	"tradepulse/internal/config"
	"tradepulse/internal/engine"
	"tradepulse/internal/exporter"
	"tradepulse/internal/store"
)

var (
	importDBPath  string
	importReplace bool
	importReport  string
	importTimeout time.Duration
)

var importCmd = &cobra.Command{
	Use:   "import <trades.csv>",
	Short: "Load trades from a CSV file into a SQLite trade store",
	Long: `Import trades from a CSV export into the SQLite trade store used by
"serve --db". The CSV must carry a header row with at least a symbol
column; unknown columns are ignored and rows keep their IDs so a
re-import updates existing trades in place.

By default imported trades are merged into the store. With --replace
the store's trade set is replaced wholesale. With --report the full
analytics pass runs over the stored trades and an Excel report is
written once the results are ready.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importDBPath, "db", "d", "tradepulse.db", "path to SQLite trade store")
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "replace the existing trade set instead of merging")
	importCmd.Flags().StringVar(&importReport, "report", "", "write an xlsx analytics report to this path after importing")
	importCmd.Flags().DurationVar(&importTimeout, "timeout", 60*time.Second, "import and report timeout")
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	trades, err := store.ReadTradesCSV(f)
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}

	db, err := store.NewSQLite(importDBPath)
	if err != nil {
		return fmt.Errorf("open trade store: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()

	if importReplace {
		err = db.ReplaceTrades(ctx, trades)
	} else {
		err = db.AddTrades(ctx, trades)
	}
	if err != nil {
		return fmt.Errorf("store trades: %w", err)
	}

	mode := "merged"
	if importReplace {
		mode = "replaced with"
	}
	fmt.Printf("%s %d trades into %s\n", mode, len(trades), importDBPath)

	if importReport != "" {
		if err := writeReport(ctx, db, importReport); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("wrote report to %s\n", importReport)
	}
	return nil
}

// writeReport runs the full analytics pass over the stored trades and
// exports the resulting snapshot as an Excel workbook.
func writeReport(ctx context.Context, db *store.SQLiteStore, path string) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	memo := cache.New(cache.DefaultOptions(), logger)
	memo.Start()
	defer memo.Stop()

	eng := engine.New(db, db, memo, config.Default().Engine, logger, nil)
	eng.Start(ctx)
	defer eng.Stop(5 * time.Second)

	if err := eng.WaitForDataPreparation(ctx); err != nil {
		return fmt.Errorf("await results: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	return exporter.WriteReport(out, eng.State())
}
