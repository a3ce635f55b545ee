package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradepulse/pkg/contracts/domain"
)

// csv column headers recognized by the importer, lowercased.
const (
	colID        = "id"
	colSymbol    = "symbol"
	colOpenDate  = "open_date"
	colCloseDate = "close_date"
	colEntryTime = "entry_time"
	colExitTime  = "exit_time"
	colSide      = "side"
	colStatus    = "status"
	colNetPnl    = "net_pnl"
	colGrossPnl  = "gross_pnl"
	colFees      = "commissions"
	colContracts = "contracts"
	colTags      = "tags"
	colModel     = "model"
	colRating    = "rating"
	colStop      = "stop_loss"
	colTarget    = "profit_target"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ReadTradesCSV parses a header-mapped trade export. Only symbol and
// net_pnl are required columns; everything else is optional. Rows stay
// permissive the way the engine's predicates are: a malformed optional
// cell leaves the field zero rather than failing the import, but a row
// with no symbol is rejected.
func ReadTradesCSV(r io.Reader) ([]domain.Trade, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := idx[colSymbol]; !ok {
		return nil, fmt.Errorf("csv header missing %q column", colSymbol)
	}

	var trades []domain.Trade
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		t, err := tradeFromRecord(record, idx)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func tradeFromRecord(record []string, idx map[string]int) (domain.Trade, error) {
	cell := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	symbol := cell(colSymbol)
	if symbol == "" {
		return domain.Trade{}, fmt.Errorf("row has no symbol")
	}

	t := domain.Trade{
		ID:        cell(colID),
		Symbol:    symbol,
		OpenDate:  cell(colOpenDate),
		CloseDate: cell(colCloseDate),
		Model:     cell(colModel),
		CreatedAt: time.Now(),
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	t.NetPnl = parseFloat(cell(colNetPnl))
	t.GrossPnl = parseFloat(cell(colGrossPnl))
	t.Commissions = parseFloat(cell(colFees))
	t.ContractsTraded = parseInt(cell(colContracts))
	t.Rating = parseInt(cell(colRating))
	t.EntryTime = parseTime(cell(colEntryTime))
	t.ExitTime = parseTime(cell(colExitTime))
	t.StopLoss = parseFloatPtr(cell(colStop))
	t.ProfitTarget = parseFloatPtr(cell(colTarget))

	if side := strings.ToUpper(cell(colSide)); side != "" {
		t.Side = domain.TradeSide(side)
	}
	switch status := strings.ToUpper(cell(colStatus)); status {
	case string(domain.TradeStatusWin), string(domain.TradeStatusLoss):
		t.Status = domain.TradeStatus(status)
	default:
		// Derive the outcome from P&L when the export omits it.
		if t.NetPnl >= 0 {
			t.Status = domain.TradeStatusWin
		} else {
			t.Status = domain.TradeStatusLoss
		}
	}

	if tags := cell(colTags); tags != "" {
		for _, tag := range strings.Split(tags, ";") {
			if tag = strings.TrimSpace(tag); tag != "" {
				t.Tags = append(t.Tags, tag)
			}
		}
	}
	return t, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts
		}
	}
	return nil
}
