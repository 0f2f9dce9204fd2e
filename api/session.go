package api

import (
	"errors"
	"net/http"

	"github.com/arunsv/persona/internal/llm"
	"github.com/arunsv/persona/internal/log"
	"github.com/arunsv/persona/internal/session"
)

// SessionHandler handles session-related HTTP endpoints. The caller is
// identified by the X-Chat-UID header; a session belongs to exactly one
// user and other users' sessions respond 404.
type SessionHandler struct {
	store  *session.Store
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

// SessionResponse is the transcript projection returned by get.
type SessionResponse struct {
	ID       string        `json:"id"`
	Messages []llm.Message `json:"messages"`
}

// list returns the caller's sessions, most recently updated first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get("X-Chat-UID")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "MISSING_UID", "X-Chat-UID header is required")
		return
	}

	sessions, err := h.store.List(r.Context(), uid)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// get returns one session transcript.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get("X-Chat-UID")
	id := r.PathValue("id")

	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "GET_FAILED", "failed to load session")
		return
	}
	if uid == "" || sess.UserID != uid {
		// Do not reveal whether the session exists for someone else.
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{ID: sess.ID, Messages: sess.Messages})
}

// delete removes one session.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get("X-Chat-UID")
	id := r.PathValue("id")

	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "DELETE_FAILED", "failed to delete session")
		return
	}
	if uid == "" || sess.UserID != uid {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil && !errors.Is(err, session.ErrNotFound) {
		h.logger.Error("failed to delete session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "DELETE_FAILED", "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
