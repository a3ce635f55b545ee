// Package exporter renders analytics snapshots into downloadable
// report workbooks.
package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"tradepulse/internal/engine"
)

const (
	sheetSummary = "Summary"
	sheetGroups  = "Groups"
	sheetTrades  = "Trades"
)

// WriteReport renders a snapshot into an xlsx workbook with a KPI
// summary, the aggregation groups, and the filtered trade list.
func WriteReport(w io.Writer, snap engine.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetSummary)
	if err := writeSummary(f, snap); err != nil {
		return err
	}
	if err := writeGroups(f, snap); err != nil {
		return err
	}
	if err := writeTrades(f, snap); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, snap engine.Snapshot) error {
	m := snap.Metrics
	profitFactor := interface{}("n/a")
	if m.ProfitFactor != nil {
		profitFactor = *m.ProfitFactor
	}
	rows := [][]interface{}{
		{"Generated", snap.UpdatedAt.Format("2006-01-02 15:04:05")},
		{"Total trades", snap.TotalTrades},
		{"Filtered trades", snap.FilteredCount},
		{"Net P&L", m.NetPnl},
		{"Gross P&L", m.GrossPnl},
		{"Commissions", m.Commissions},
		{"Win rate", m.WinRate},
		{"Wins", m.Wins},
		{"Losses", m.Losses},
		{"Average win", m.AvgWin},
		{"Average loss", m.AvgLoss},
		{"Largest win", m.LargestWin},
		{"Largest loss", m.LargestLoss},
		{"Profit factor", profitFactor},
		{"Expectancy", m.Expectancy},
		{"Max win streak", m.MaxWinStreak},
		{"Max loss streak", m.MaxLossStreak},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("summary cell: %w", err)
		}
		if err := f.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return fmt.Errorf("summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeGroups(f *excelize.File, snap engine.Snapshot) error {
	if _, err := f.NewSheet(sheetGroups); err != nil {
		return fmt.Errorf("create groups sheet: %w", err)
	}

	// Stable metric column order taken from the configuration.
	metricNames := make([]string, 0, len(snap.Aggregation.Metrics))
	for _, spec := range snap.Aggregation.Metrics {
		metricNames = append(metricNames, spec.Name)
	}

	header := []interface{}{"Group", "Label", "Count"}
	for _, name := range metricNames {
		header = append(header, name)
	}
	if err := f.SetSheetRow(sheetGroups, "A1", &header); err != nil {
		return fmt.Errorf("groups header: %w", err)
	}

	for i, g := range snap.Groups.Groups {
		row := []interface{}{g.Key, g.Label, g.Count}
		for _, name := range metricNames {
			row = append(row, g.Metrics[name])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("groups cell: %w", err)
		}
		if err := f.SetSheetRow(sheetGroups, cell, &row); err != nil {
			return fmt.Errorf("groups row %d: %w", i+2, err)
		}
	}
	return nil
}

func writeTrades(f *excelize.File, snap engine.Snapshot) error {
	if _, err := f.NewSheet(sheetTrades); err != nil {
		return fmt.Errorf("create trades sheet: %w", err)
	}

	header := []interface{}{"ID", "Symbol", "Open date", "Close date",
		"Side", "Status", "Net P&L", "Gross P&L", "Commissions",
		"Contracts", "Model", "Rating"}
	if err := f.SetSheetRow(sheetTrades, "A1", &header); err != nil {
		return fmt.Errorf("trades header: %w", err)
	}

	for i, t := range snap.FilteredTrades {
		row := []interface{}{t.ID, t.Symbol, t.OpenDate, t.CloseDate,
			string(t.Side), string(t.Status), t.NetPnl, t.GrossPnl,
			t.Commissions, t.ContractsTraded, t.Model, t.Rating}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("trades cell: %w", err)
		}
		if err := f.SetSheetRow(sheetTrades, cell, &row); err != nil {
			return fmt.Errorf("trades row %d: %w", i+2, err)
		}
	}
	return nil
}
