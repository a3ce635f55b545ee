// Package engine is the reactive core: it owns the published analytics
// snapshot, recomputes it through the staged pipeline when trades,
// filters, or aggregation settings change, and pushes debounced
// notifications to subscribers. All recomputation flows through the
// bounded calculation queue; stage failures are absorbed into the
// snapshot instead of surfacing to callers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tradepulse/internal/cache"
	"tradepulse/internal/charts"
	"tradepulse/internal/config"
	"tradepulse/internal/errors"
	"tradepulse/internal/infrastructure"
	"tradepulse/internal/pipeline"
	"tradepulse/internal/store"
	"tradepulse/pkg/contracts/domain"
)

// changeNotifier is implemented by stores that push mutation
// notifications. The engine auto-subscribes when available.
type changeNotifier interface {
	Subscribe(fn func())
}

// Engine coordinates the staged recomputation pipeline over a trade
// store, a memo cache, and a set of chart calculators.
type Engine struct {
	cfg       config.EngineConfig
	logger    *slog.Logger
	telemetry *infrastructure.Telemetry
	memo      *cache.Store
	trades    store.TradeStore
	metadata  store.MetadataStore
	queue     *CalcQueue
	events    *EventLog
	calcs     []charts.Calculator

	storeNotifies bool

	mu          sync.RWMutex
	snapshot    Snapshot
	filters     domain.FilterSpec
	aggregation domain.AggregationConfig
	revision    uint64

	scheduled atomic.Uint64
	completed atomic.Uint64
	pending   atomic.Bool

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// New wires an engine over its collaborators. metadata and tel may be
// nil. When trades implements change notifications the engine
// subscribes and schedules recomputation on every store mutation.
func New(trades store.TradeStore, metadata store.MetadataStore, memo *cache.Store,
	cfg config.EngineConfig, logger *slog.Logger, tel *infrastructure.Telemetry) *Engine {

	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "engine")),
		telemetry: tel,
		memo:      memo,
		trades:    trades,
		metadata:  metadata,
		queue:     NewCalcQueue(cfg, logger, tel),
		events:    NewEventLog(cfg.EventLogSize),
		calcs:     charts.Calculators(),
		subs:      make(map[int]*subscriber),
	}
	e.snapshot = Snapshot{
		Charts:    make(map[string]charts.Series),
		UpdatedAt: time.Now(),
	}
	e.queue.onPanic = func(task string, r any) {
		e.events.Append(EventStageFailed, fmt.Sprintf("%s panicked: %v", task, r))
	}

	if notifier, ok := trades.(changeNotifier); ok {
		e.storeNotifies = true
		notifier.Subscribe(e.onTradesChanged)
	}
	return e
}

// Start launches the calculation workers and schedules the initial
// recomputation.
func (e *Engine) Start(ctx context.Context) {
	e.queue.Start(ctx)
	e.scheduleRecompute("initial load")
}

// Stop drains the calculation queue.
func (e *Engine) Stop(timeout time.Duration) error {
	return e.queue.Stop(timeout)
}

// UpdateTrades replaces the trade set. Derived entries are invalidated
// and a full recomputation is scheduled.
func (e *Engine) UpdateTrades(ctx context.Context, trades []domain.Trade) error {
	if err := e.trades.ReplaceTrades(ctx, trades); err != nil {
		return fmt.Errorf("replace trades: %w", err)
	}
	if !e.storeNotifies {
		e.onTradesChanged()
	}
	return nil
}

// AddTrades appends trades to the store and schedules recomputation.
func (e *Engine) AddTrades(ctx context.Context, trades []domain.Trade) error {
	if err := e.trades.AddTrades(ctx, trades); err != nil {
		return fmt.Errorf("add trades: %w", err)
	}
	if !e.storeNotifies {
		e.onTradesChanged()
	}
	return nil
}

// UpdateFilters swaps the active filter spec and schedules
// recomputation. Unchanged upstream stages resolve from the memo
// cache, so only the narrowed stages actually recompute.
func (e *Engine) UpdateFilters(spec domain.FilterSpec) {
	e.mu.Lock()
	e.filters = spec
	e.mu.Unlock()
	e.scheduleRecompute("filters changed")
}

// UpdateAggregation swaps the aggregation configuration and schedules
// recomputation. Filtering and metrics stay cache hits.
func (e *Engine) UpdateAggregation(cfg domain.AggregationConfig) {
	e.mu.Lock()
	e.aggregation = cfg
	e.mu.Unlock()
	e.scheduleRecompute("aggregation changed")
}

// State returns the current snapshot. The snapshot is replaced
// wholesale on every recomputation; callers treat it as immutable.
func (e *Engine) State() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Events returns the retained engine events, oldest first.
func (e *Engine) Events() []Event {
	return e.events.Events()
}

// CacheStats reports memo cache statistics.
func (e *Engine) CacheStats(topN int) cache.Stats {
	return e.memo.Stats(topN)
}

// ChartData returns one chart series, computing it on demand when the
// last recomputation did not produce it.
func (e *Engine) ChartData(ctx context.Context, series string) (charts.Series, error) {
	e.mu.RLock()
	snap := e.snapshot
	e.mu.RUnlock()

	if s, ok := snap.Charts[series]; ok {
		return s, nil
	}

	calc, ok := e.calculator(series)
	if !ok {
		return charts.Series{}, fmt.Errorf("unknown chart series %q", series)
	}

	fp := cache.FilterFingerprint(snap.Filters)
	key := cache.ChartKey(series, fp, snap.TotalTrades)
	if s, ok := cache.GetAs[charts.Series](e.memo, key); ok {
		return s, nil
	}

	s, err := calc.Compute(ctx, charts.Input{
		Trades:   snap.FilteredTrades,
		Metadata: e.metadataLookup(ctx),
	})
	if err != nil {
		return charts.Series{}, fmt.Errorf("compute chart %s: %w", series, err)
	}
	e.memo.Set(key, s, cache.SetOptions{DependencyTags: []string{cache.TradesDependency}})
	return s, nil
}

// WaitForDataPreparation blocks until the engine has finished every
// scheduled recomputation and stayed idle for a settling interval, or
// until the preparation timeout elapses.
func (e *Engine) WaitForDataPreparation(ctx context.Context) error {
	timeout := e.cfg.PreparationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	idleStreak := 0
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("data preparation: %w", ctx.Err())
		case <-ticker.C:
			if e.idle() {
				idleStreak++
				if idleStreak >= 2 {
					return nil
				}
			} else {
				idleStreak = 0
			}
		}
	}
}

func (e *Engine) idle() bool {
	done := e.completed.Load()
	return done > 0 && done == e.scheduled.Load() && !e.pending.Load()
}

// onTradesChanged invalidates every derived cache entry and schedules
// a full recomputation.
func (e *Engine) onTradesChanged() {
	removed := e.memo.Invalidate(cache.TradesDependency)
	e.logger.Debug("trade data changed",
		slog.Int("invalidated_entries", removed))
	e.scheduleRecompute("trades changed")
}

// scheduleRecompute enqueues one recomputation unless one is already
// waiting; bursts of changes coalesce into a single pass.
func (e *Engine) scheduleRecompute(reason string) {
	if !e.pending.CompareAndSwap(false, true) {
		return
	}

	err := e.queue.Submit(Task{
		Name: "recompute",
		Run: func(ctx context.Context) error {
			return e.recompute(ctx, reason)
		},
	})
	if err != nil {
		e.pending.Store(false)
		e.events.Append(EventQueueFull, reason)
		e.logger.Error("recompute dropped", slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	e.scheduled.Add(1)
	e.events.Append(EventRecomputeScheduled, reason)
}

// recompute runs the staged pipeline and publishes a fresh snapshot.
// Each stage consults the memo cache before computing; a stage failure
// is recorded on the snapshot and downstream stages still run where
// their inputs exist.
func (e *Engine) recompute(ctx context.Context, reason string) error {
	e.pending.Store(false)
	defer e.completed.Add(1)

	start := time.Now()

	e.mu.RLock()
	filters := e.filters
	aggCfg := e.aggregation
	e.mu.RUnlock()

	trades, err := e.trades.GetAllTrades(ctx)
	if err != nil {
		stageErr := errors.NewStageError(errors.StageFiltering, err)
		e.events.Append(EventStageFailed, stageErr.Error())
		e.publishError(stageErr)
		return stageErr
	}

	fp := cache.FilterFingerprint(filters)
	var lastErr *errors.StageError

	// Filtering
	filterStart := time.Now()
	filterKey := cache.FilterKey(filters, len(trades))
	filtered, ok := cache.GetAs[pipeline.FilterResult](e.memo, filterKey)
	if !ok {
		filtered = pipeline.FilterTrades(trades, filters)
		e.memo.Set(filterKey, filtered, cache.SetOptions{
			DependencyTags: []string{cache.TradesDependency},
		})
	}
	filterElapsed := time.Since(filterStart)
	e.recordStage(ctx, errors.StageFiltering, filterElapsed, nil)

	if stageErr := e.deadlineError(ctx, errors.StageFiltering); stageErr != nil {
		e.publishError(stageErr)
		return stageErr
	}

	// Metrics
	metricsStart := time.Now()
	metricsKey := cache.MetricsKey(fp, len(trades))
	metrics, ok := cache.GetAs[pipeline.Metrics](e.memo, metricsKey)
	if !ok {
		metrics = pipeline.ComputeMetrics(filtered.Trades)
		e.memo.Set(metricsKey, metrics, cache.SetOptions{
			DependencyTags: []string{cache.TradesDependency},
		})
	}
	e.recordStage(ctx, errors.StageMetrics, time.Since(metricsStart), nil)

	if stageErr := e.deadlineError(ctx, errors.StageMetrics); stageErr != nil {
		lastErr = stageErr
	}

	// Aggregating
	aggStart := time.Now()
	// Stages proceed independently: an upstream timeout is recorded on
	// the snapshot but does not suppress the aggregation pass.
	aggKey := cache.AggregationKey(aggCfg, fp, len(trades))
	groups, ok := cache.GetAs[domain.AggregationResult](e.memo, aggKey)
	if !ok {
		groups = pipeline.AggregateTrades(filtered.Trades, aggCfg)
		e.memo.Set(aggKey, groups, cache.SetOptions{
			DependencyTags: []string{cache.TradesDependency},
		})
	}
	e.recordStage(ctx, errors.StageAggregating, time.Since(aggStart), nil)

	// Charts
	chartSeries, chartErr := e.computeCharts(ctx, fp, filtered.Trades, len(trades))
	if chartErr != nil {
		lastErr = chartErr
	}

	total := time.Since(start)
	snap := Snapshot{
		TotalTrades:    len(trades),
		FilteredCount:  filtered.FilteredCount,
		FilteredTrades: filtered.Trades,
		Filters:        filters,
		Aggregation:    aggCfg,
		Metrics:        metrics,
		Groups:         groups,
		Charts:         chartSeries,
		LastError:      lastErr,
		Performance: PerformanceSnapshot{
			FilterTimeMs:      float64(filterElapsed.Microseconds()) / 1000,
			CalculationTimeMs: float64(total.Microseconds()) / 1000,
			CacheHitRate:      e.memo.HitRate(),
		},
		UpdatedAt: time.Now(),
	}
	e.publish(snap)

	e.logger.Info("recomputation complete",
		slog.String("reason", reason),
		slog.Int("total_trades", snap.TotalTrades),
		slog.Int("filtered_trades", snap.FilteredCount),
		slog.Duration("elapsed", total))
	return nil
}

// computeCharts runs every calculator with bounded parallelism under
// the chart stage deadline. A single failing calculator only loses its
// own series.
func (e *Engine) computeCharts(ctx context.Context, fp string, trades []domain.Trade, totalTrades int) (map[string]charts.Series, *errors.StageError) {
	chartTimeout := e.cfg.ChartTimeout
	if chartTimeout <= 0 {
		chartTimeout = 8 * time.Second
	}
	concurrency := e.cfg.ChartConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	chartCtx, cancel := context.WithTimeout(ctx, chartTimeout)
	defer cancel()

	start := time.Now()
	lookup := e.metadataLookup(chartCtx)

	var mu sync.Mutex
	result := make(map[string]charts.Series, len(e.calcs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, calc := range e.calcs {
		calc := calc
		g.Go(func() error {
			if chartCtx.Err() != nil {
				return nil
			}
			key := cache.ChartKey(calc.Name, fp, totalTrades)
			if s, ok := cache.GetAs[charts.Series](e.memo, key); ok {
				mu.Lock()
				result[calc.Name] = s
				mu.Unlock()
				return nil
			}

			s, err := calc.Compute(chartCtx, charts.Input{Trades: trades, Metadata: lookup})
			if err != nil {
				e.events.Append(EventStageFailed,
					fmt.Sprintf("chart %s: %s", calc.Name, err))
				return nil
			}
			e.memo.Set(key, s, cache.SetOptions{
				DependencyTags: []string{cache.TradesDependency},
			})
			mu.Lock()
			result[calc.Name] = s
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var stageErr *errors.StageError
	if chartCtx.Err() == context.DeadlineExceeded {
		stageErr = errors.NewTimeoutError(errors.StageCharts, "charts", chartCtx.Err())
		e.events.Append(EventTaskTimeout, stageErr.Error())
		if e.telemetry != nil {
			e.telemetry.RecordTimeout(ctx, "charts")
		}
	}
	e.recordStage(ctx, errors.StageCharts, time.Since(start), stageErr)
	return result, stageErr
}

func (e *Engine) calculator(name string) (charts.Calculator, bool) {
	for _, c := range e.calcs {
		if c.Name == name {
			return c, true
		}
	}
	return charts.Calculator{}, false
}

// metadataLookup adapts the metadata store into the chart calculators'
// lookup shape. Lookup failures read as missing metadata.
func (e *Engine) metadataLookup(ctx context.Context) charts.MetadataFn {
	if e.metadata == nil {
		return nil
	}
	return func(tradeID string) *domain.RiskMetadata {
		meta, err := e.metadata.GetMetadata(ctx, tradeID)
		if err != nil {
			e.logger.Warn("metadata lookup failed",
				slog.String("trade_id", tradeID),
				slog.String("error", err.Error()))
			return nil
		}
		return meta
	}
}

func (e *Engine) deadlineError(ctx context.Context, stage errors.Stage) *errors.StageError {
	if ctx.Err() == nil {
		return nil
	}
	stageErr := errors.NewTimeoutError(stage, string(stage), ctx.Err())
	e.events.Append(EventTaskTimeout, stageErr.Error())
	return stageErr
}

func (e *Engine) recordStage(ctx context.Context, stage errors.Stage, d time.Duration, stageErr *errors.StageError) {
	if stageErr != nil {
		e.events.Append(EventStageFailed, stageErr.Error())
	} else {
		e.events.Append(EventStageCompleted, string(stage))
	}
	if e.telemetry == nil {
		return
	}
	var err error
	if stageErr != nil {
		err = stageErr
	}
	e.telemetry.RecordStage(ctx, string(stage), d, err)
}

// publish swaps in the new snapshot and fans it out to subscribers.
func (e *Engine) publish(snap Snapshot) {
	e.mu.Lock()
	e.revision++
	snap.Revision = e.revision
	e.snapshot = snap
	e.mu.Unlock()

	e.events.Append(EventSnapshotPublished,
		fmt.Sprintf("revision %d (%d/%d trades)", snap.Revision, snap.FilteredCount, snap.TotalTrades))
	e.notifySubscribers(snap)
}

// publishError records a failed recomputation without discarding the
// previous snapshot's data.
func (e *Engine) publishError(stageErr *errors.StageError) {
	e.mu.Lock()
	e.revision++
	snap := e.snapshot
	snap.Revision = e.revision
	snap.LastError = stageErr
	snap.UpdatedAt = time.Now()
	e.snapshot = snap
	e.mu.Unlock()

	e.notifySubscribers(snap)
}
