package exporter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tradepulse/internal/engine"
	"tradepulse/internal/pipeline"
	"tradepulse/pkg/contracts/domain"
)

func TestWriteReport(t *testing.T) {
	snap := engine.Snapshot{
		TotalTrades:   2,
		FilteredCount: 2,
		FilteredTrades: []domain.Trade{
			{ID: "1", Symbol: "ES", OpenDate: "2024-01-01", NetPnl: 100,
				Status: domain.TradeStatusWin, Side: domain.TradeSideLong},
			{ID: "2", Symbol: "NQ", OpenDate: "2024-01-02", NetPnl: -40,
				Status: domain.TradeStatusLoss, Side: domain.TradeSideShort},
		},
		Metrics: pipeline.Metrics{TotalTrades: 2, Wins: 1, Losses: 1, NetPnl: 60},
		Aggregation: domain.AggregationConfig{
			Metrics: []domain.MetricSpec{{Name: "total", Function: domain.MetricSum, Field: "netPnl"}},
		},
		Groups: domain.AggregationResult{
			Groups: []domain.AggregationGroup{
				{Key: "ES", Label: "ES", Count: 1, Metrics: map[string]float64{"total": 100}},
				{Key: "NQ", Label: "NQ", Count: 1, Metrics: map[string]float64{"total": -40}},
			},
			TotalGroups: 2,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, snap))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Summary", "Groups", "Trades"}, f.GetSheetList())

	rows, err := f.GetRows("Groups")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Group", rows[0][0])
	assert.Equal(t, "total", rows[0][3])
	assert.Equal(t, "ES", rows[1][0])

	trades, err := f.GetRows("Trades")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "NQ", trades[2][1])
}
