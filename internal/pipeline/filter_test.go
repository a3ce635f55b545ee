package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/pkg/contracts/domain"
)

func tradeFixture(id, symbol, openDate string, netPnl float64) domain.Trade {
	status := domain.TradeStatusWin
	if netPnl < 0 {
		status = domain.TradeStatusLoss
	}
	return domain.Trade{
		ID:              id,
		Symbol:          symbol,
		OpenDate:        openDate,
		CloseDate:       openDate,
		Side:            domain.TradeSideLong,
		Status:          status,
		NetPnl:          netPnl,
		GrossPnl:        netPnl + 4,
		Commissions:     4,
		ContractsTraded: 1,
	}
}

func withTimes(t domain.Trade, entry, exit time.Time) domain.Trade {
	t.EntryTime = &entry
	t.ExitTime = &exit
	return t
}

func TestFilterTradesEmptySpecPassesEverything(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "NQ", "2024-01-02", -40),
	}

	res := FilterTrades(trades, domain.FilterSpec{})
	assert.Equal(t, 2, res.FilteredCount)
	assert.Equal(t, 2, res.OriginalCount)
	assert.Empty(t, res.AppliedFilters)
}

func TestFilterTradesDateRange(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "ES", "2024-01-02", 50),
		tradeFixture("3", "ES", "2024-01-02", -20),
		tradeFixture("4", "ES", "2024-01-03", 10),
	}

	res := FilterTrades(trades, domain.FilterSpec{
		DateRange: &domain.DateRange{From: "2024-01-02", To: "2024-01-02"},
	})

	require.Equal(t, 2, res.FilteredCount)
	for _, tr := range res.Trades {
		assert.Equal(t, "2024-01-02", tr.OpenDate)
	}
	assert.Contains(t, res.AppliedFilters, "dateRange")
}

func TestFilterTradesMalformedDateNeverMatchesDatePredicate(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "not-a-date", 100),
		tradeFixture("2", "ES", "2024-01-02", 50),
	}

	res := FilterTrades(trades, domain.FilterSpec{
		DateRange: &domain.DateRange{From: "2024-01-01", To: "2024-01-31"},
	})
	require.Equal(t, 1, res.FilteredCount)
	assert.Equal(t, "2", res.Trades[0].ID)

	// Without a date predicate the malformed trade still flows through.
	res = FilterTrades(trades, domain.FilterSpec{Symbols: []string{"ES"}})
	assert.Equal(t, 2, res.FilteredCount)
}

func TestFilterTradesSymbolIncludeExclude(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "NQ", "2024-01-01", 50),
		tradeFixture("3", "CL", "2024-01-01", -20),
	}

	res := FilterTrades(trades, domain.FilterSpec{
		Symbols:        []string{"ES", "NQ", "CL"},
		ExcludeSymbols: []string{"CL"},
	})
	require.Equal(t, 2, res.FilteredCount)
	assert.Equal(t, []string{"symbols", "excludeSymbols"}, res.AppliedFilters)
}

func TestFilterTradesPnlRangeMetricSelector(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", -2), // gross +2
		tradeFixture("2", "ES", "2024-01-01", -10),
	}

	min := 0.0
	net := FilterTrades(trades, domain.FilterSpec{
		PnlRange: &domain.FloatRange{Min: &min},
	})
	assert.Equal(t, 0, net.FilteredCount, "net metric is the default")

	gross := FilterTrades(trades, domain.FilterSpec{
		PnlRange:  &domain.FloatRange{Min: &min},
		PnlMetric: domain.PnlMetricGross,
	})
	assert.Equal(t, 1, gross.FilteredCount)
}

func TestFilterTradesTagModes(t *testing.T) {
	withTags := func(id string, tags ...string) domain.Trade {
		tr := tradeFixture(id, "ES", "2024-01-01", 10)
		tr.Tags = tags
		return tr
	}
	trades := []domain.Trade{
		withTags("1", "Breakout", "Morning"),
		withTags("2", "breakout"),
		withTags("3", "reversal", "morning"),
		withTags("4"),
	}

	tests := []struct {
		name    string
		spec    domain.FilterSpec
		wantIDs []string
	}{
		{
			name:    "any mode matches one included tag",
			spec:    domain.FilterSpec{IncludeTags: []string{"breakout", "reversal"}},
			wantIDs: []string{"1", "2", "3"},
		},
		{
			name: "all mode requires every included tag",
			spec: domain.FilterSpec{
				IncludeTags: []string{"breakout", "morning"},
				TagMode:     domain.TagMatchAll,
			},
			wantIDs: []string{"1"},
		},
		{
			name: "substring matching is case-insensitive",
			spec: domain.FilterSpec{IncludeTags: []string{"BREAK"}},
			wantIDs: []string{"1", "2"},
		},
		{
			name: "exclude applies independently of include mode",
			spec: domain.FilterSpec{
				IncludeTags: []string{"breakout", "reversal"},
				ExcludeTags: []string{"morning"},
			},
			wantIDs: []string{"2"},
		},
		{
			name:    "exclude alone",
			spec:    domain.FilterSpec{ExcludeTags: []string{"morning"}},
			wantIDs: []string{"2", "4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FilterTrades(trades, tt.spec)
			ids := make([]string, 0, len(res.Trades))
			for _, tr := range res.Trades {
				ids = append(ids, tr.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFilterTradesDurationPassThrough(t *testing.T) {
	entry := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	short := withTimes(tradeFixture("short", "ES", "2024-01-02", 10), entry, entry.Add(5*time.Minute))
	long := withTimes(tradeFixture("long", "ES", "2024-01-02", 10), entry, entry.Add(3*time.Hour))
	untimed := tradeFixture("untimed", "ES", "2024-01-02", 10)

	minDur := time.Hour
	res := FilterTrades([]domain.Trade{short, long, untimed}, domain.FilterSpec{
		DurationRange: &domain.DurationRange{Min: &minDur},
	})

	ids := make([]string, 0, len(res.Trades))
	for _, tr := range res.Trades {
		ids = append(ids, tr.ID)
	}
	// Trades without both wall-clock times pass through: duration is
	// undefined for them, so the predicate cannot reject them.
	assert.Equal(t, []string{"long", "untimed"}, ids)
}

func TestFilterTradesTimeOfDayRequiresEntryTime(t *testing.T) {
	entry := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	timed := withTimes(tradeFixture("timed", "ES", "2024-01-02", 10), entry, entry.Add(time.Hour))
	untimed := tradeFixture("untimed", "ES", "2024-01-02", 10)

	res := FilterTrades([]domain.Trade{timed, untimed}, domain.FilterSpec{Hours: []int{9}})
	require.Equal(t, 1, res.FilteredCount)
	assert.Equal(t, "timed", res.Trades[0].ID)
}

func TestFilterTradesCustomPredicate(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "ES", "2024-01-01", -40),
	}

	res := FilterTrades(trades, domain.FilterSpec{
		Custom: func(t domain.Trade) bool { return t.NetPnl > 0 },
	})
	require.Equal(t, 1, res.FilteredCount)
	assert.Equal(t, "1", res.Trades[0].ID)
}

func TestFilterTradesMonotonicAndIdempotent(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "NQ", "2024-01-02", -40),
		tradeFixture("3", "ES", "2024-01-03", 50),
		tradeFixture("4", "CL", "2024-01-04", -10),
	}
	min := 0.0
	spec := domain.FilterSpec{
		Symbols:  []string{"ES", "NQ"},
		PnlRange: &domain.FloatRange{Min: &min},
	}

	once := FilterTrades(trades, spec)
	assert.LessOrEqual(t, once.FilteredCount, len(trades))

	twice := FilterTrades(once.Trades, spec)
	assert.Equal(t, once.Trades, twice.Trades)
}
