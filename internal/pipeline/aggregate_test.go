package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/pkg/contracts/domain"
)

func TestAggregateTradesSumBySymbol(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "ES", "2024-01-02", -40),
		tradeFixture("3", "NQ", "2024-01-02", 50),
	}

	res := AggregateTrades(trades, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupBySymbol},
		Metrics: []domain.MetricSpec{{Name: "total", Function: domain.MetricSum, Field: "netPnl"}},
	})

	require.Len(t, res.Groups, 2)
	byKey := map[string]domain.AggregationGroup{}
	for _, g := range res.Groups {
		byKey[g.Key] = g
	}
	assert.InDelta(t, 60, byKey["ES"].Metrics["total"], 1e-9)
	assert.InDelta(t, 50, byKey["NQ"].Metrics["total"], 1e-9)
}

func TestAggregateTradesPartitionsInput(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "NQ", "2024-01-01", 50),
		tradeFixture("3", "ES", "2024-01-02", -40),
		tradeFixture("4", "CL", "2024-01-03", 10),
		tradeFixture("5", "NQ", "2024-01-03", -5),
	}

	res := AggregateTrades(trades, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupBySymbol},
	})

	total := 0
	seen := map[string]bool{}
	for _, g := range res.Groups {
		total += g.Count
		for _, tr := range g.Trades {
			assert.False(t, seen[tr.ID], "trade %s appears in more than one group", tr.ID)
			seen[tr.ID] = true
		}
	}
	assert.Equal(t, len(trades), total, "every trade lands in exactly one group")
}

func TestAggregateTradesEmptyGroupByYieldsSingleGroup(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "NQ", "2024-01-02", -40),
	}

	res := AggregateTrades(trades, domain.AggregationConfig{
		Metrics: []domain.MetricSpec{{Name: "n", Function: domain.MetricCount}},
	})

	require.Len(t, res.Groups, 1)
	assert.Equal(t, "all", res.Groups[0].Key)
	assert.InDelta(t, 2, res.Groups[0].Metrics["n"], 1e-9)
}

func TestAggregateTradesCompositeKeyOrder(t *testing.T) {
	tr := tradeFixture("1", "ES", "2024-01-01", 100)
	tr.Model = "ORB"

	res := AggregateTrades([]domain.Trade{tr}, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupBySymbol, domain.GroupByModel},
	})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "ES|ORB", res.Groups[0].Key)

	res = AggregateTrades([]domain.Trade{tr}, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupByModel, domain.GroupBySymbol},
	})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "ORB|ES", res.Groups[0].Key, "key segments follow groupBy declaration order")
}

func TestAggregateTradesMissingDimensionFallbacks(t *testing.T) {
	noModel := tradeFixture("1", "ES", "2024-01-01", 10)
	noTags := tradeFixture("2", "ES", "2024-01-01", 10)

	res := AggregateTrades([]domain.Trade{noModel}, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupByModel},
	})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "no model", res.Groups[0].Key)

	res = AggregateTrades([]domain.Trade{noTags}, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupByTag},
	})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "untagged", res.Groups[0].Key)
}

func TestAggregateTradesTimeframeBuckets(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 10),
		tradeFixture("2", "ES", "2024-01-08", 10),
		tradeFixture("3", "ES", "2024-02-15", 10),
		tradeFixture("4", "ES", "2024-07-01", 10),
	}

	tests := []struct {
		timeframe domain.Timeframe
		wantKeys  []string
	}{
		{domain.TimeframeDay, []string{"2024-01-01", "2024-01-08", "2024-02-15", "2024-07-01"}},
		{domain.TimeframeWeek, []string{"2024-W01", "2024-W02", "2024-W07", "2024-W27"}},
		{domain.TimeframeMonth, []string{"2024-01", "2024-02", "2024-07"}},
		{domain.TimeframeQuarter, []string{"2024-Q1", "2024-Q3"}},
		{domain.TimeframeYear, []string{"2024"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.timeframe), func(t *testing.T) {
			res := AggregateTrades(trades, domain.AggregationConfig{
				GroupBy:   []domain.GroupDimension{domain.GroupByDate},
				Timeframe: tt.timeframe,
			})
			keys := make([]string, 0, len(res.Groups))
			for _, g := range res.Groups {
				keys = append(keys, g.Key)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestAggregateTradesStatisticalMetrics(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 10),
		tradeFixture("2", "ES", "2024-01-01", 20),
		tradeFixture("3", "ES", "2024-01-01", 30),
		tradeFixture("4", "ES", "2024-01-01", 100),
	}

	res := AggregateTrades(trades, domain.AggregationConfig{
		Metrics: []domain.MetricSpec{
			{Name: "avg", Function: domain.MetricAvg, Field: "netPnl"},
			{Name: "min", Function: domain.MetricMin, Field: "netPnl"},
			{Name: "max", Function: domain.MetricMax, Field: "netPnl"},
			{Name: "median", Function: domain.MetricMedian, Field: "netPnl"},
			{Name: "stddev", Function: domain.MetricStdDev, Field: "netPnl"},
		},
	})

	require.Len(t, res.Groups, 1)
	m := res.Groups[0].Metrics
	assert.InDelta(t, 40, m["avg"], 1e-9)
	assert.InDelta(t, 10, m["min"], 1e-9)
	assert.InDelta(t, 100, m["max"], 1e-9)
	assert.InDelta(t, 25, m["median"], 1e-9, "even count takes the mean of the middle pair")
	// Population standard deviation of {10, 20, 30, 100}.
	assert.InDelta(t, 35.355339059, m["stddev"], 1e-6)
}

func TestAggregateTradesSortAndLimit(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "CL", "2024-01-01", 5),
		tradeFixture("2", "ES", "2024-01-01", 100),
		tradeFixture("3", "NQ", "2024-01-01", 50),
		tradeFixture("4", "GC", "2024-01-01", 50),
	}

	res := AggregateTrades(trades, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupBySymbol},
		Metrics: []domain.MetricSpec{{Name: "total", Function: domain.MetricSum, Field: "netPnl"}},
		Sort:    &domain.SortSpec{By: "total", Descending: true},
		Limit:   3,
	})

	require.Len(t, res.Groups, 3)
	assert.Equal(t, "ES", res.Groups[0].Key)
	// NQ and GC tie on the sort metric; stable sort keeps discovery order.
	assert.Equal(t, "NQ", res.Groups[1].Key)
	assert.Equal(t, "GC", res.Groups[2].Key)
	assert.Equal(t, 4, res.TotalGroups, "limit trims groups but reports the full partition size")
}

func TestAggregateTradesEmptyInput(t *testing.T) {
	res := AggregateTrades(nil, domain.AggregationConfig{
		GroupBy: []domain.GroupDimension{domain.GroupBySymbol},
	})
	assert.Empty(t, res.Groups)
	assert.Zero(t, res.TotalGroups)
}

func TestComputeMetrics(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 100),
		tradeFixture("2", "ES", "2024-01-02", 50),
		tradeFixture("3", "ES", "2024-01-03", -30),
		tradeFixture("4", "ES", "2024-01-04", 90),
	}

	m := ComputeMetrics(trades)
	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 3, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 0.75, m.WinRate, 1e-9)
	assert.InDelta(t, 210, m.NetPnl, 1e-9)
	assert.InDelta(t, 80, m.AvgWin, 1e-9)
	assert.InDelta(t, -30, m.AvgLoss, 1e-9)
	assert.InDelta(t, 100, m.LargestWin, 1e-9)
	assert.InDelta(t, -30, m.LargestLoss, 1e-9)
	require.NotNil(t, m.ProfitFactor)
	assert.InDelta(t, 8, *m.ProfitFactor, 1e-9)
	assert.Equal(t, 2, m.MaxWinStreak)
	assert.Equal(t, 1, m.MaxLossStreak)
}

func TestComputeMetricsNoLossesOmitsProfitFactor(t *testing.T) {
	trades := []domain.Trade{
		tradeFixture("1", "ES", "2024-01-01", 10),
		tradeFixture("2", "ES", "2024-01-02", 20),
	}
	m := ComputeMetrics(trades)
	assert.Nil(t, m.ProfitFactor, "undefined ratio stays unset")
	assert.InDelta(t, 1.0, m.WinRate, 1e-9)

	data, err := json.Marshal(m)
	require.NoError(t, err, "every valid metric set must serialize")
	assert.NotContains(t, string(data), "profit_factor")
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
}
