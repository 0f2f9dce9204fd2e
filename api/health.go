package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arunsv/persona/internal/log"
)

// readyPingTimeout bounds the database ping so a stalled pool fails the
// probe instead of hanging it.
const readyPingTimeout = 2 * time.Second

// HealthHandler serves the liveness and readiness probes. Liveness only
// proves the process answers; readiness additionally pings PostgreSQL,
// the one dependency no chat turn can do without.
type HealthHandler struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

func NewHealthHandler(pool *pgxpool.Pool, logger log.Logger) *HealthHandler {
	return &HealthHandler{pool: pool, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
}

type probeStatus struct {
	Status string `json:"status"`
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeStatus{Status: "ok"})
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY",
			"database pool not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY",
			"database unreachable")
		return
	}

	writeJSON(w, http.StatusOK, probeStatus{Status: "ready"})
}
