package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parlorchat/parlor/internal/broker"
	"github.com/parlorchat/parlor/internal/telemetry"
	"github.com/parlorchat/parlor/pkg/utils"
)

// Stats exposes the operational surface: live connection counts,
// prometheus metrics and a liveness probe.
type Stats struct {
	tracker *telemetry.Tracker
	broker  *broker.Broker
}

func NewStats(tracker *telemetry.Tracker, bk *broker.Broker) *Stats {
	return &Stats{tracker: tracker, broker: bk}
}

func (h *Stats) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.handleStats)
	r.Method(http.MethodGet, "/metrics", h.tracker.Handler())
	r.Get("/healthz", h.handleHealth)
}

func (h *Stats) handleStats(w http.ResponseWriter, r *http.Request) {
	total, perKind := h.tracker.Snapshot()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"transports":   perKind,
		"destinations": h.broker.Destinations(),
	})
}

func (h *Stats) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
