package api

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/arunsv/persona/internal/log"
)

// Chatter runs one streaming conversation turn. *agent.Agent satisfies it.
type Chatter interface {
	Chat(ctx context.Context, userID, sessionID, text string) iter.Seq2[string, error]
}

// ChatHandler handles the streaming chat endpoint.
//
// Request: POST /api/chat {"message": "..."} with optional X-Chat-UID and
// X-Chat-SID headers. Missing identifiers are assigned server-side (the
// user id from a device fingerprint, the session id freshly generated)
// and echoed back as response headers before the stream starts.
//
// Response: Server-Sent Events stream with event types:
//   - chunk: partial text {"text": "..."}
//   - done:  final response {"response": "...", "sessionId": "..."}
//   - error: error occurred {"code": "...", "message": "..."}
type ChatHandler struct {
	chatter Chatter
	logger  log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatter Chatter, logger log.Logger) *ChatHandler {
	return &ChatHandler{chatter: chatter, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeSSEError(w, flusher, "MISSING_MESSAGE", "message is required")
		return
	}

	uid := r.Header.Get("X-Chat-UID")
	if uid == "" {
		uid = deviceFingerprint(r)
	}
	sid := r.Header.Get("X-Chat-SID")
	if sid == "" {
		sid = uuid.NewString()
	}

	// Assigned ids must reach the client before the body starts.
	w.Header().Set("X-Chat-UID", uid)
	w.Header().Set("X-Chat-SID", sid)

	ctx := r.Context()
	h.logger.Info("chat stream started", "session_id", sid)

	var response strings.Builder
	for delta, err := range h.chatter.Chat(ctx, uid, sid, req.Message) {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", sid)
			return
		}
		if err != nil {
			h.logger.Error("chat stream failed", "session_id", sid, "error", err)
			h.writeSSEError(w, flusher, "STREAM_ERROR", err.Error())
			return
		}
		response.WriteString(delta)
		h.writeSSEChunk(w, flusher, delta)
	}

	h.writeSSEDone(w, flusher, response.String(), sid)
	h.logger.Info("chat stream completed",
		"session_id", sid, "response_len", response.Len())
}

// writeSSEChunk writes a chunk event to the SSE stream.
func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes a done event to the SSE stream.
func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEError writes an error event to the SSE stream.
func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}

// deviceFingerprint derives a stable anonymous user id from device-level
// request attributes: client ip, platform and mobile client hints.
func deviceFingerprint(r *http.Request) string {
	ip := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host == "" {
			host = "unknown"
		}
		ip = host
	}

	platform := r.Header.Get("Sec-CH-UA-Platform")
	mobile := r.Header.Get("Sec-CH-UA-Mobile")

	seed := strings.Join([]string{ip, platform, mobile}, "|")
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(seed)).String()
}
