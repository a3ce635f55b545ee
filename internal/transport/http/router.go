package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"tradepulse/internal/config"
	"tradepulse/internal/infrastructure"
	"tradepulse/internal/middleware"
	"tradepulse/internal/websocket"
)

// NewRouter assembles the full HTTP surface: the analytics API, health
// and readiness probes, the Prometheus scrape endpoint, and the
// websocket stream.
func NewRouter(h *AnalyticsHandler, hub *websocket.Hub, cfg *config.Config,
	tel *infrastructure.Telemetry, logger *slog.Logger) chi.Router {

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	if cfg.Server.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(cfg.Server.RateLimit.RPS,
			cfg.Server.RateLimit.Burst, logger)
		r.Use(rl.Handler)
	}

	r.Mount("/api", h.Routes())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	// Readiness blocks until the engine has published its first
	// complete snapshot, capped by the preparation timeout.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := h.engine.WaitForDataPreparation(r.Context()); err != nil {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "preparing"})
			return
		}
		render.JSON(w, r, map[string]string{"status": "ready"})
	})

	if tel != nil && tel.PrometheusHTTP != nil {
		r.Handle("/metrics", tel.PrometheusHTTP)
	}

	upgrader := websocket.Upgrader(cfg.WebSocket)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.ErrorContext(r.Context(), "websocket upgrade failed",
				slog.String("error", err.Error()))
			return
		}
		client := websocket.NewClient(hub, conn, cfg.WebSocket, logger)
		client.Serve()
	})

	return r
}
