package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/watchsync/internal/store"
	"github.com/hyperengineering/watchsync/internal/sync"
)

// Handler implements the API handlers for the local control surface.
// The API is bound to localhost: it exists so the UI process and
// operators can observe and trigger sync, not as a public service.
type Handler struct {
	orch    *sync.Orchestrator
	local   store.Store
	version string
}

// NewHandler creates a new Handler.
func NewHandler(orch *sync.Orchestrator, local store.Store, version string) *Handler {
	return &Handler{
		orch:    orch,
		local:   local,
		version: version,
	}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	ReplicaID  string     `json:"replica_id"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	replica, err := h.local.ReplicaID(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Local store unavailable")
		return
	}
	lastSync, err := h.local.LastSyncAt(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Local store unavailable")
		return
	}

	resp := HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		ReplicaID:  replica,
		LastSyncAt: lastSync,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Status handles GET /status: the orchestrator's phase, read-only
// condition, and last outcome.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.orch.Status())
}

// Diagnostics handles GET /diagnostics: the buffered sync events,
// oldest first.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	events := h.orch.Diagnostics()
	if events == nil {
		events = []sync.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// TriggerSync handles POST /sync. Runs one cycle synchronously and
// returns the resulting status. ?force=true bypasses the inter-sync
// throttle.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	if err := h.orch.Sync(r.Context(), force); err != nil {
		slog.Error("triggered sync failed", "error", err, "forced", force)
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.orch.Status())
}
