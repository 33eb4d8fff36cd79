package api

import (
	"context"
	"net/http"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// HealthChecker reports the round trip to the backing store.
type HealthChecker interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// SystemHandler serves health and store-wide operations.
type SystemHandler struct {
	store   Store
	health  HealthChecker
	backend string
}

// NewSystemHandler creates a SystemHandler. health may be nil when the
// store has no remote backend.
func NewSystemHandler(store Store, health HealthChecker, backend string) *SystemHandler {
	return &SystemHandler{store: store, health: health, backend: backend}
}

// Health handles GET /health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"version":     core.OJSVersion,
		"instance_id": h.store.InstanceID(),
		"clustered":   h.store.IsClustered(),
	}
	backend := map[string]any{"type": h.backend, "status": "ok"}
	resp["backend"] = backend

	status := http.StatusOK
	if h.health != nil {
		latency, err := h.health.Ping(r.Context())
		if err != nil {
			resp["status"] = "degraded"
			backend["status"] = "error"
			backend["error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			backend["latency_ms"] = latency.Milliseconds()
		}
	}
	WriteJSON(w, status, resp)
}

// Counts handles GET /v1/counts.
func (h *SystemHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Counts(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, counts)
}

// PauseAll handles POST /v1/pause-all.
func (h *SystemHandler) PauseAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.PauseAll(r.Context()); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"paused": true})
}

// ResumeAll handles POST /v1/resume-all.
func (h *SystemHandler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResumeAll(r.Context()); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"resumed": true})
}

// Clear handles DELETE /v1/data?confirm=true.
func (h *SystemHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if !boolQuery(r, "confirm") {
		WriteError(w, http.StatusBadRequest, NewInvalidRequestError("clearing all scheduling data requires confirm=true"))
		return
	}
	if err := h.store.ClearAllSchedulingData(r.Context()); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"cleared": true})
}
