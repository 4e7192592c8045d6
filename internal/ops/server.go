// Package ops exposes the crawler's operational HTTP surface: health,
// live session states, and Prometheus metrics. The surface is read-only
// and meant for probes and scrapers, not end users.
package ops

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cyanife/douyu-barrage-crawler/internal/crawler"
	"github.com/cyanife/douyu-barrage-crawler/internal/store"
)

// NewRouter creates and configures the ops router.
func NewRouter(logger zerolog.Logger, st store.Store, redis *store.RedisStore, fleet *crawler.Fleet) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	h := &handler{store: st, redis: redis, fleet: fleet}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.health)
	r.Get("/rooms", h.rooms)

	return r
}

type handler struct {
	store store.Store
	redis *store.RedisStore
	fleet *crawler.Fleet
}

func (h *handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// rooms reports the live session set.
func (h *handler) rooms(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, h.fleet.Snapshot())
}
