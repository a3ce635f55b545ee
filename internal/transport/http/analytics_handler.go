// Package http exposes the analytics engine over a chi-routed JSON
// API plus the websocket endpoint for live snapshot streaming.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "tradepulse/internal/errors"
	"tradepulse/internal/exporter"
	"tradepulse/pkg/contracts/domain"
)

// AnalyticsHandler serves engine state, derived data, and the control
// operations that reconfigure the pipeline.
type AnalyticsHandler struct {
	engine   EngineService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewAnalyticsHandler creates the handler.
func NewAnalyticsHandler(engine EngineService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		engine:   engine,
		logger:   logger.With(slog.String("component", "analytics_handler")),
		validate: validator.New(),
	}
}

// Routes returns the analytics API routes.
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/state", h.GetState)
	r.Get("/metrics", h.GetMetrics)
	r.Get("/groups", h.GetGroups)
	r.Get("/charts/{series}", h.GetChart)
	r.Put("/filters", h.PutFilters)
	r.Put("/aggregation", h.PutAggregation)
	r.Post("/trades", h.PostTrades)
	r.Get("/events", h.GetEvents)
	r.Get("/cache/stats", h.GetCacheStats)
	r.Get("/performance", h.GetPerformance)
	r.Get("/export", h.ExportReport)

	return r
}

// GetState returns the full published snapshot.
func (h *AnalyticsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.engine.State())
}

// GetMetrics returns the headline KPIs of the current snapshot.
func (h *AnalyticsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.engine.State().Metrics)
}

// GetGroups returns the current aggregation result.
func (h *AnalyticsHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.engine.State().Groups)
}

// GetChart returns one chart series, computed on demand if needed.
func (h *AnalyticsHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	series := chi.URLParam(r, "series")
	s, err := h.engine.ChartData(r.Context(), series)
	if err != nil {
		render.Render(w, r, apierrors.NotFoundError(fmt.Sprintf("chart series %q", series)))
		return
	}
	render.JSON(w, r, s)
}

// PutFilters replaces the active filter spec. The engine recomputes
// asynchronously; the response reports acceptance, not completion.
func (h *AnalyticsHandler) PutFilters(w http.ResponseWriter, r *http.Request) {
	var spec domain.FilterSpec
	if err := render.DecodeJSON(r.Body, &spec); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(spec); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.engine.UpdateFilters(spec)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

// PutAggregation replaces the aggregation configuration.
func (h *AnalyticsHandler) PutAggregation(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AggregationConfig
	if err := render.DecodeJSON(r.Body, &cfg); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(cfg); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.engine.UpdateAggregation(cfg)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

// PostTrades replaces the trade set, or appends when ?mode=append.
func (h *AnalyticsHandler) PostTrades(w http.ResponseWriter, r *http.Request) {
	var trades []domain.Trade
	if err := render.DecodeJSON(r.Body, &trades); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	for i, t := range trades {
		if err := h.validate.Struct(t); err != nil {
			render.Render(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
				"invalid_trade", fmt.Sprintf("trade at index %d failed validation", i),
				err.Error()))
			return
		}
	}

	var err error
	if r.URL.Query().Get("mode") == "append" {
		err = h.engine.AddTrades(r.Context(), trades)
	} else {
		err = h.engine.UpdateTrades(r.Context(), trades)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "trade update failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.New(http.StatusInternalServerError,
			"store_error", "failed to store trades"))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{"status": "accepted", "count": len(trades)})
}

// GetEvents returns the engine's retained activity log, oldest first.
func (h *AnalyticsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.engine.Events())
}

// GetCacheStats returns memo cache diagnostics. ?top=N includes the N
// most accessed keys.
func (h *AnalyticsHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	topN := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			topN = n
		}
	}
	render.JSON(w, r, h.engine.CacheStats(topN))
}

// GetPerformance returns timing and cache behavior of the last
// recomputation.
func (h *AnalyticsHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.engine.State().Performance)
}

// ExportReport streams the current snapshot as an xlsx workbook.
func (h *AnalyticsHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.State()

	filename := fmt.Sprintf("tradepulse-report-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := exporter.WriteReport(w, snap); err != nil {
		h.logger.ErrorContext(r.Context(), "report export failed",
			slog.String("error", err.Error()))
	}
}
