package pipeline

import (
	"math"

	"tradepulse/pkg/contracts/domain"
)

// Metrics are the headline KPIs computed over a (filtered) trade set.
type Metrics struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	NetPnl      float64 `json:"net_pnl"`
	GrossPnl    float64 `json:"gross_pnl"`
	Commissions float64 `json:"commissions"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`
	// ProfitFactor is nil when the set has no losing trades; the ratio
	// is undefined there and +Inf would not survive JSON encoding.
	ProfitFactor  *float64 `json:"profit_factor,omitempty"`
	Expectancy    float64  `json:"expectancy"`
	TotalVolume   int      `json:"total_volume"`
	AvgTradePnl   float64  `json:"avg_trade_pnl"`
	MaxWinStreak  int      `json:"max_win_streak"`
	MaxLossStreak int      `json:"max_loss_streak"`
}

// ComputeMetrics reduces trades to their summary KPIs. Streaks follow
// input order, which the engine keeps chronological.
func ComputeMetrics(trades []domain.Trade) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var grossWins, grossLosses float64
	winStreak, lossStreak := 0, 0

	for _, t := range trades {
		m.NetPnl += t.NetPnl
		m.GrossPnl += t.GrossPnl
		m.Commissions += t.Commissions
		m.TotalVolume += t.ContractsTraded

		if t.IsWin() {
			m.Wins++
			grossWins += t.NetPnl
			m.LargestWin = math.Max(m.LargestWin, t.NetPnl)
			winStreak++
			lossStreak = 0
		} else {
			m.Losses++
			grossLosses += t.NetPnl
			m.LargestLoss = math.Min(m.LargestLoss, t.NetPnl)
			lossStreak++
			winStreak = 0
		}
		m.MaxWinStreak = max(m.MaxWinStreak, winStreak)
		m.MaxLossStreak = max(m.MaxLossStreak, lossStreak)
	}

	m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
	m.AvgTradePnl = m.NetPnl / float64(m.TotalTrades)
	if m.Wins > 0 {
		m.AvgWin = grossWins / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = grossLosses / float64(m.Losses)
	}
	if grossLosses != 0 {
		pf := grossWins / math.Abs(grossLosses)
		m.ProfitFactor = &pf
	}
	m.Expectancy = m.WinRate*m.AvgWin + (1-m.WinRate)*m.AvgLoss

	return m
}
