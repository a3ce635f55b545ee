// Package charts holds the pure chart calculators the analytics engine
// fans out over the filtered trade set. Each calculator produces one
// named series; calculators never mutate their input and skip trades
// they cannot place (no parsable date, no usable risk metadata).
package charts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradepulse/pkg/contracts/domain"
)

// Chart series names, also the cache key discriminator for chart data.
const (
	SeriesDailyPnl      = "dailyPnl"
	SeriesCumulativePnl = "cumulativePnl"
	SeriesWinRate       = "winRate"
	SeriesTradeCount    = "tradeCount"
	SeriesVolume        = "volume"
	SeriesConsistency   = "consistency"
	SeriesPnlBySymbol   = "pnlBySymbol"
	SeriesPnlByHour     = "pnlByHour"
	SeriesRMultiples    = "rMultiples"
)

// Point is one labeled value in a chart series.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Series is the output of one chart calculator.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// MetadataFn resolves per-trade risk metadata by trade ID. A nil
// return means no metadata exists for that trade.
type MetadataFn func(tradeID string) *domain.RiskMetadata

// Input carries everything a calculator may read.
type Input struct {
	Trades   []domain.Trade
	Metadata MetadataFn
}

// Calculator is one named chart computation.
type Calculator struct {
	Name    string
	Compute func(ctx context.Context, in Input) (Series, error)
}

// Calculators returns every registered calculator. The engine runs
// them concurrently; order here only decides presentation defaults.
func Calculators() []Calculator {
	return []Calculator{
		{SeriesDailyPnl, dailyPnl},
		{SeriesCumulativePnl, cumulativePnl},
		{SeriesWinRate, winRate},
		{SeriesTradeCount, tradeCount},
		{SeriesVolume, volume},
		{SeriesConsistency, consistency},
		{SeriesPnlBySymbol, pnlBySymbol},
		{SeriesPnlByHour, pnlByHour},
		{SeriesRMultiples, rMultiples},
	}
}

// Lookup returns the calculator registered under name.
func Lookup(name string) (Calculator, bool) {
	for _, c := range Calculators() {
		if c.Name == name {
			return c, true
		}
	}
	return Calculator{}, false
}

// dayBuckets groups trades by their series date in ascending calendar
// order. Trades with no parsable date are dropped from date-keyed
// series.
func dayBuckets(trades []domain.Trade) ([]string, map[string][]domain.Trade) {
	buckets := make(map[string][]domain.Trade)
	for _, t := range trades {
		d, ok := t.SeriesDate()
		if !ok {
			continue
		}
		key := d.Format(domain.DateLayout)
		buckets[key] = append(buckets[key], t)
	}
	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)
	return days, buckets
}

func dailyPnl(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	points := make([]Point, 0, len(days))
	for _, day := range days {
		total := 0.0
		for _, t := range buckets[day] {
			total += t.NetPnl
		}
		points = append(points, Point{Label: day, Value: total})
	}
	return Series{Name: SeriesDailyPnl, Points: points}, nil
}

func cumulativePnl(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	points := make([]Point, 0, len(days))
	running := 0.0
	for _, day := range days {
		for _, t := range buckets[day] {
			running += t.NetPnl
		}
		points = append(points, Point{Label: day, Value: running})
	}
	return Series{Name: SeriesCumulativePnl, Points: points}, nil
}

// winRate is the cumulative win rate after each trading day, in
// percent.
func winRate(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	points := make([]Point, 0, len(days))
	wins, total := 0, 0
	for _, day := range days {
		for _, t := range buckets[day] {
			total++
			if t.IsWin() {
				wins++
			}
		}
		points = append(points, Point{Label: day, Value: 100 * float64(wins) / float64(total)})
	}
	return Series{Name: SeriesWinRate, Points: points}, nil
}

func tradeCount(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	points := make([]Point, 0, len(days))
	for _, day := range days {
		points = append(points, Point{Label: day, Value: float64(len(buckets[day]))})
	}
	return Series{Name: SeriesTradeCount, Points: points}, nil
}

func volume(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	points := make([]Point, 0, len(days))
	for _, day := range days {
		contracts := 0
		for _, t := range buckets[day] {
			contracts += t.ContractsTraded
		}
		points = append(points, Point{Label: day, Value: float64(contracts)})
	}
	return Series{Name: SeriesVolume, Points: points}, nil
}

// consistency emits one point per calendar day across the full date
// domain of the trade set, including days with no trades (value 0), so
// streak visualizations keep their gaps.
func consistency(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	if len(days) == 0 {
		return Series{Name: SeriesConsistency}, nil
	}

	first, err := time.Parse(domain.DateLayout, days[0])
	if err != nil {
		return Series{}, fmt.Errorf("parse first day: %w", err)
	}
	last, err := time.Parse(domain.DateLayout, days[len(days)-1])
	if err != nil {
		return Series{}, fmt.Errorf("parse last day: %w", err)
	}

	var points []Point
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format(domain.DateLayout)
		total := 0.0
		for _, t := range buckets[key] {
			total += t.NetPnl
		}
		points = append(points, Point{Label: key, Value: total})
	}
	return Series{Name: SeriesConsistency, Points: points}, nil
}

func pnlBySymbol(_ context.Context, in Input) (Series, error) {
	totals := make(map[string]float64)
	var order []string
	for _, t := range in.Trades {
		if _, seen := totals[t.Symbol]; !seen {
			order = append(order, t.Symbol)
		}
		totals[t.Symbol] += t.NetPnl
	}
	sort.Strings(order)

	points := make([]Point, 0, len(order))
	for _, sym := range order {
		points = append(points, Point{Label: sym, Value: totals[sym]})
	}
	return Series{Name: SeriesPnlBySymbol, Points: points}, nil
}

// pnlByHour buckets net P&L by entry hour. Trades with no entry time
// are skipped.
func pnlByHour(_ context.Context, in Input) (Series, error) {
	totals := make(map[int]float64)
	for _, t := range in.Trades {
		if t.EntryTime == nil {
			continue
		}
		totals[t.EntryTime.Hour()] += t.NetPnl
	}

	hours := make([]int, 0, len(totals))
	for h := range totals {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	points := make([]Point, 0, len(hours))
	for _, h := range hours {
		points = append(points, Point{Label: fmt.Sprintf("%02d:00", h), Value: totals[h]})
	}
	return Series{Name: SeriesPnlByHour, Points: points}, nil
}

// rMultiples emits the average realized R-multiple per day. Trades
// whose risk metadata defines no usable stop distance are excluded
// from their day's average rather than reported as zero; a day with no
// usable trades emits no point.
func rMultiples(_ context.Context, in Input) (Series, error) {
	days, buckets := dayBuckets(in.Trades)
	points := make([]Point, 0, len(days))
	for _, day := range days {
		sum := 0.0
		n := 0
		for _, t := range buckets[day] {
			var meta *domain.RiskMetadata
			if in.Metadata != nil {
				meta = in.Metadata(t.ID)
			}
			if meta == nil && t.StopLoss != nil {
				meta = &domain.RiskMetadata{StopLoss: t.StopLoss, ProfitTarget: t.ProfitTarget}
			}
			r, ok := t.RMultiple(meta)
			if !ok {
				continue
			}
			sum += r
			n++
		}
		if n == 0 {
			continue
		}
		points = append(points, Point{Label: day, Value: sum / float64(n)})
	}
	return Series{Name: SeriesRMultiples, Points: points}, nil
}
