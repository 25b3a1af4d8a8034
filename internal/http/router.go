package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Slots      *SlotHandler
	Bookings   *BookingHandler
	SyncEvents *SyncEventHandler
	Stats      *StatsHandler
	Health     HealthChecker
	// Auth guards every /v1 route. Health checks stay public.
	Auth       func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
	Logger     *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := httprouter.New()
	responder := newResponder(cfg.Logger)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.writeError(r.Context(), w, http.StatusNotFound, nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.writeError(r.Context(), w, http.StatusMethodNotAllowed, nil)
	})

	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx := r.Context()
		if cfg.Health != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := cfg.Health.Ping(pingCtx); err != nil {
				responder.loggerFor(ctx).ErrorContext(ctx, "health check failed", "error", err)
				responder.writeJSON(ctx, w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		responder.writeJSON(ctx, w, http.StatusOK, healthResponse{Status: "ok"})
	})

	guard := func(h http.HandlerFunc) http.Handler {
		if cfg.Auth == nil {
			return h
		}
		return cfg.Auth(h)
	}
	protect := func(h http.HandlerFunc) httprouter.Handle {
		handler := guard(h)
		return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			handler.ServeHTTP(w, r)
		}
	}
	protectWithID := func(h http.HandlerFunc) httprouter.Handle {
		return withSyncEventID(guard(h).ServeHTTP)
	}

	if cfg.Slots != nil {
		router.GET("/v1/slots", protect(cfg.Slots.List))
	}

	if cfg.Bookings != nil {
		router.POST("/v1/bookings", protect(cfg.Bookings.Create))
		router.POST("/v1/bookings/recurring", protect(cfg.Bookings.CreateRecurring))
	}

	if cfg.SyncEvents != nil {
		router.GET("/v1/sync-events", protect(cfg.SyncEvents.List))
		router.GET("/v1/sync-events/counts", protect(cfg.SyncEvents.Counts))
		router.POST("/v1/sync-events/retry", protect(cfg.SyncEvents.RetryFailed))
		router.POST("/v1/sync-events/retry/:id", protectWithID(cfg.SyncEvents.Retry))
		router.DELETE("/v1/sync-events/:id", protectWithID(cfg.SyncEvents.Delete))
	}

	if cfg.Stats != nil {
		router.GET("/v1/stats", protect(cfg.Stats.List))
		router.DELETE("/v1/stats", protect(cfg.Stats.Reset))
		router.POST("/v1/stats/outcomes", protect(cfg.Stats.RecordOutcome))
		router.GET("/v1/preferences/learning", protect(cfg.Stats.GetLearning))
		router.PUT("/v1/preferences/learning", protect(cfg.Stats.PutLearning))
	}

	var handler http.Handler = router
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}

type healthResponse struct {
	Status string `json:"status"`
}
