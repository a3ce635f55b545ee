package engine

import (
	"time"

	"tradepulse/internal/charts"
	"tradepulse/internal/errors"
	"tradepulse/internal/pipeline"
	"tradepulse/pkg/contracts/domain"
)

// PerformanceSnapshot captures how the last recomputation behaved.
type PerformanceSnapshot struct {
	FilterTimeMs      float64 `json:"filter_time_ms"`
	CalculationTimeMs float64 `json:"calculation_time_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

// Snapshot is the engine's published analytics state. Every
// recomputation builds a fresh snapshot and swaps it in wholesale;
// consumers never see a partially updated one.
type Snapshot struct {
	Revision       uint64                   `json:"revision"`
	TotalTrades    int                      `json:"total_trades"`
	FilteredCount  int                      `json:"filtered_count"`
	FilteredTrades []domain.Trade           `json:"-"`
	Filters        domain.FilterSpec        `json:"filters"`
	Aggregation    domain.AggregationConfig `json:"aggregation"`
	Metrics        pipeline.Metrics         `json:"metrics"`
	Groups         domain.AggregationResult `json:"groups"`
	Charts         map[string]charts.Series `json:"charts"`
	LastError      *errors.StageError       `json:"last_error,omitempty"`
	Performance    PerformanceSnapshot      `json:"performance"`
	UpdatedAt      time.Time                `json:"updated_at"`
}
