package domain

import (
	"time"
)

// DateLayout is the calendar date format used by normalized trade records.
const DateLayout = "2006-01-02"

// TradeStatus represents the realized outcome of a closed trade
type TradeStatus string

const (
	TradeStatusWin  TradeStatus = "WIN"
	TradeStatusLoss TradeStatus = "LOSS"
)

// TradeSide represents the direction of a trade
type TradeSide string

const (
	TradeSideLong  TradeSide = "LONG"
	TradeSideShort TradeSide = "SHORT"
)

// PnlMetric selects which P&L figure a calculation reads
type PnlMetric string

const (
	PnlMetricNet   PnlMetric = "net"
	PnlMetricGross PnlMetric = "gross"
)

// Trade represents one closed position with realized P&L.
// Records are produced by broker-specific parsers and are treated as
// immutable by the analytics engine; calendar dates stay in their
// normalized string form so a malformed date from a parser degrades to
// "does not match" in date predicates instead of failing the record.
type Trade struct {
	ID              string      `json:"id" db:"id" validate:"required"`
	Symbol          string      `json:"symbol" db:"symbol" validate:"required"`
	OpenDate        string      `json:"open_date" db:"open_date"`
	CloseDate       string      `json:"close_date,omitempty" db:"close_date"`
	EntryTime       *time.Time  `json:"entry_time,omitempty" db:"entry_time"`
	ExitTime        *time.Time  `json:"exit_time,omitempty" db:"exit_time"`
	Side            TradeSide   `json:"side" db:"side"`
	Status          TradeStatus `json:"status" db:"status"`
	NetPnl          float64     `json:"net_pnl" db:"net_pnl"`
	GrossPnl        float64     `json:"gross_pnl" db:"gross_pnl"`
	Commissions     float64     `json:"commissions" db:"commissions"`
	ContractsTraded int         `json:"contracts_traded" db:"contracts_traded"`
	Tags            []string    `json:"tags,omitempty" db:"tags"`
	Model           string      `json:"model,omitempty" db:"model"`
	Rating          int         `json:"rating,omitempty" db:"rating"`
	StopLoss        *float64    `json:"stop_loss,omitempty" db:"stop_loss"`
	ProfitTarget    *float64    `json:"profit_target,omitempty" db:"profit_target"`
	CreatedAt       time.Time   `json:"created_at,omitempty" db:"created_at"`
}

// Pnl returns the P&L figure selected by metric (net by default).
func (t Trade) Pnl(metric PnlMetric) float64 {
	if metric == PnlMetricGross {
		return t.GrossPnl
	}
	return t.NetPnl
}

// OpenedOn parses the open date. ok is false when the date is missing
// or malformed.
func (t Trade) OpenedOn() (time.Time, bool) {
	return parseDate(t.OpenDate)
}

// ClosedOn parses the close date. ok is false when the date is missing
// or malformed.
func (t Trade) ClosedOn() (time.Time, bool) {
	return parseDate(t.CloseDate)
}

// SeriesDate returns the calendar date chart calculators bucket this
// trade under: the close date when present, the open date otherwise.
func (t Trade) SeriesDate() (time.Time, bool) {
	if d, ok := t.ClosedOn(); ok {
		return d, true
	}
	return t.OpenedOn()
}

// Duration returns the wall-clock holding time. ok is false when either
// the entry or exit time is missing, since duration is undefined then.
func (t Trade) Duration() (time.Duration, bool) {
	if t.EntryTime == nil || t.ExitTime == nil {
		return 0, false
	}
	return t.ExitTime.Sub(*t.EntryTime), true
}

// IsWin reports whether the trade closed profitable.
func (t Trade) IsWin() bool {
	return t.Status == TradeStatusWin
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// RiskMetadata is per-trade risk information maintained outside the
// trade record itself (trade plan editor, journal annotations).
type RiskMetadata struct {
	ProfitTarget  *float64 `json:"profit_target,omitempty"`
	StopLoss      *float64 `json:"stop_loss,omitempty"`
	SelectedModel string   `json:"selected_model,omitempty"`
}

// RMultiple returns the trade's realized R-multiple given its risk
// metadata: realized P&L divided by the planned per-contract risk.
// ok is false when the metadata does not define a usable stop distance.
func (t Trade) RMultiple(meta *RiskMetadata) (float64, bool) {
	if meta == nil || meta.StopLoss == nil || *meta.StopLoss <= 0 {
		return 0, false
	}
	risk := *meta.StopLoss * float64(max(t.ContractsTraded, 1))
	if risk <= 0 {
		return 0, false
	}
	return t.NetPnl / risk, true
}
