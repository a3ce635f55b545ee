package http

import (
	"context"

	"tradepulse/internal/cache"
	"tradepulse/internal/charts"
	"tradepulse/internal/engine"
	"tradepulse/pkg/contracts/domain"
)

// EngineService is the engine surface the handlers depend on.
type EngineService interface {
	State() engine.Snapshot
	Events() []engine.Event
	CacheStats(topN int) cache.Stats
	ChartData(ctx context.Context, series string) (charts.Series, error)
	UpdateFilters(spec domain.FilterSpec)
	UpdateAggregation(cfg domain.AggregationConfig)
	UpdateTrades(ctx context.Context, trades []domain.Trade) error
	AddTrades(ctx context.Context, trades []domain.Trade) error
	WaitForDataPreparation(ctx context.Context) error
}
