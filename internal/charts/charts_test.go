package charts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/pkg/contracts/domain"
)

func chartTrade(id, symbol, closeDate string, netPnl float64) domain.Trade {
	status := domain.TradeStatusWin
	if netPnl < 0 {
		status = domain.TradeStatusLoss
	}
	return domain.Trade{
		ID:              id,
		Symbol:          symbol,
		OpenDate:        closeDate,
		CloseDate:       closeDate,
		Status:          status,
		NetPnl:          netPnl,
		ContractsTraded: 2,
	}
}

func labels(s Series) []string {
	out := make([]string, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Label
	}
	return out
}

func values(s Series) []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

func TestDailyPnlOrdersDaysAscending(t *testing.T) {
	in := Input{Trades: []domain.Trade{
		chartTrade("1", "ES", "2024-01-03", 30),
		chartTrade("2", "ES", "2024-01-01", 100),
		chartTrade("3", "ES", "2024-01-01", -40),
	}}

	s, err := dailyPnl(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-03"}, labels(s))
	assert.Equal(t, []float64{60, 30}, values(s))
}

func TestSeriesDatePrefersCloseDate(t *testing.T) {
	tr := chartTrade("1", "ES", "2024-01-05", 10)
	tr.OpenDate = "2024-01-04"

	s, err := dailyPnl(context.Background(), Input{Trades: []domain.Trade{tr}})
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, "2024-01-05", s.Points[0].Label)

	// Without a close date the open date carries the trade.
	tr.CloseDate = ""
	s, err = dailyPnl(context.Background(), Input{Trades: []domain.Trade{tr}})
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, "2024-01-04", s.Points[0].Label)
}

func TestUndatedTradesAreSkipped(t *testing.T) {
	tr := chartTrade("1", "ES", "", 10)
	tr.OpenDate = "garbage"

	s, err := dailyPnl(context.Background(), Input{Trades: []domain.Trade{tr}})
	require.NoError(t, err)
	assert.Empty(t, s.Points)
}

func TestCumulativePnlIsRunningTotal(t *testing.T) {
	in := Input{Trades: []domain.Trade{
		chartTrade("1", "ES", "2024-01-01", 100),
		chartTrade("2", "ES", "2024-01-02", -40),
		chartTrade("3", "ES", "2024-01-03", 10),
	}}

	s, err := cumulativePnl(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 60, 70}, values(s))
}

func TestWinRateIsCumulativePercent(t *testing.T) {
	in := Input{Trades: []domain.Trade{
		chartTrade("1", "ES", "2024-01-01", 100),
		chartTrade("2", "ES", "2024-01-02", -40),
		chartTrade("3", "ES", "2024-01-02", 10),
	}}

	s, err := winRate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	assert.InDelta(t, 100, s.Points[0].Value, 1e-9)
	assert.InDelta(t, 100.0*2/3, s.Points[1].Value, 1e-9)
}

func TestConsistencyCoversFullDateDomain(t *testing.T) {
	in := Input{Trades: []domain.Trade{
		chartTrade("1", "ES", "2024-01-01", 100),
		chartTrade("2", "ES", "2024-01-04", -40),
	}}

	s, err := consistency(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04"}, labels(s))
	assert.Equal(t, []float64{100, 0, 0, -40}, values(s))
}

func TestTradeCountAndVolume(t *testing.T) {
	in := Input{Trades: []domain.Trade{
		chartTrade("1", "ES", "2024-01-01", 100),
		chartTrade("2", "ES", "2024-01-01", -40),
		chartTrade("3", "NQ", "2024-01-02", 10),
	}}

	count, err := tradeCount(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, values(count))

	vol, err := volume(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2}, values(vol))
}

func TestPnlBySymbolSortsSymbols(t *testing.T) {
	in := Input{Trades: []domain.Trade{
		chartTrade("1", "NQ", "2024-01-01", 50),
		chartTrade("2", "ES", "2024-01-01", 100),
		chartTrade("3", "ES", "2024-01-02", -40),
	}}

	s, err := pnlBySymbol(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"ES", "NQ"}, labels(s))
	assert.Equal(t, []float64{60, 50}, values(s))
}

func TestPnlByHourSkipsUntimedTrades(t *testing.T) {
	entry := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	timed := chartTrade("1", "ES", "2024-01-02", 80)
	timed.EntryTime = &entry
	untimed := chartTrade("2", "ES", "2024-01-02", -999)

	s, err := pnlByHour(context.Background(), Input{Trades: []domain.Trade{timed, untimed}})
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, "09:00", s.Points[0].Label)
	assert.InDelta(t, 80, s.Points[0].Value, 1e-9)
}

func TestRMultiplesExcludesTradesWithoutUsableRisk(t *testing.T) {
	stop := 50.0
	meta := map[string]*domain.RiskMetadata{
		"1": {StopLoss: &stop},
	}
	in := Input{
		Trades: []domain.Trade{
			chartTrade("1", "ES", "2024-01-01", 200), // 2 contracts, risk 100
			chartTrade("2", "ES", "2024-01-01", 75),  // no metadata
		},
		Metadata: func(id string) *domain.RiskMetadata { return meta[id] },
	}

	s, err := rMultiples(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, "2024-01-01", s.Points[0].Label)
	assert.InDelta(t, 2.0, s.Points[0].Value, 1e-9,
		"the trade without usable risk stays out of its day's average")
}

func TestRMultiplesAveragesPerDay(t *testing.T) {
	stop := 50.0
	meta := map[string]*domain.RiskMetadata{
		"1": {StopLoss: &stop},
		"2": {StopLoss: &stop},
		"3": {StopLoss: &stop},
	}
	in := Input{
		Trades: []domain.Trade{
			chartTrade("1", "ES", "2024-01-01", 200), // R = 2
			chartTrade("2", "ES", "2024-01-01", 100), // R = 1
			chartTrade("3", "NQ", "2024-01-03", -100), // R = -1
		},
		Metadata: func(id string) *domain.RiskMetadata { return meta[id] },
	}

	s, err := rMultiples(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-01-01", "2024-01-03"}, labels(s))
	assert.InDelta(t, 1.5, s.Points[0].Value, 1e-9)
	assert.InDelta(t, -1.0, s.Points[1].Value, 1e-9)
}

func TestRMultiplesFallsBackToTradeStop(t *testing.T) {
	stop := 25.0
	tr := chartTrade("1", "ES", "2024-01-01", 100)
	tr.StopLoss = &stop

	s, err := rMultiples(context.Background(), Input{Trades: []domain.Trade{tr}})
	require.NoError(t, err)
	require.Len(t, s.Points, 1)
	assert.Equal(t, "2024-01-01", s.Points[0].Label)
	assert.InDelta(t, 2.0, s.Points[0].Value, 1e-9)
}

func TestLookupFindsEveryRegisteredCalculator(t *testing.T) {
	for _, c := range Calculators() {
		got, ok := Lookup(c.Name)
		require.True(t, ok, c.Name)
		assert.Equal(t, c.Name, got.Name)
	}
	_, ok := Lookup("nope")
	assert.False(t, ok)
}
