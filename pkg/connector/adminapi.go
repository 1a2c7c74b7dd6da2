// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// maxRequestBodySize is the maximum allowed admin API request body (1 MB).
const maxRequestBodySize = 1 << 20

// AdminAPI is the HTTP surface the game side uses to feed the relay.
//
//	POST /api/events  {"kind": "trade", "payload": {...}}
//	POST /api/chat    {"channel": "General", "sender": "alice", "text": "hi"}
//	GET  /api/status
type AdminAPI struct {
	relay *RelayConnector
	mux   *http.ServeMux
	log   zerolog.Logger
}

// NewAdminAPI creates the admin API handler for relay.
func NewAdminAPI(relay *RelayConnector) *AdminAPI {
	a := &AdminAPI{
		relay: relay,
		mux:   http.NewServeMux(),
		log:   relay.log.With().Str("component", "admin_api").Logger(),
	}
	a.mux.HandleFunc("/api/events", a.HandleEvent)
	a.mux.HandleFunc("/api/chat", a.HandleChat)
	a.mux.HandleFunc("/api/status", a.HandleStatus)
	return a
}

func (a *AdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
}

// HandleEvent is the HTTP handler for POST /api/events. Chat messages are
// not accepted here; they enter through /api/chat or the remote network.
func (a *AdminAPI) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req EventRequest
	if !a.decode(w, r, &req) {
		return
	}
	kind, ok := ParseEventKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown event kind "+req.Kind)
		return
	}
	if kind.Has(EventLocalMessageSent | EventRemoteMessage) {
		writeError(w, http.StatusBadRequest, "chat events cannot be injected as game events")
		return
	}
	payload := newPayload(kind)
	if len(req.Payload) > 0 && !bytes.Equal(req.Payload, []byte("null")) {
		if err := json.Unmarshal(req.Payload, payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload for "+req.Kind)
			return
		}
	}

	a.log.Debug().
		Str("remote_addr", r.RemoteAddr).
		Stringer("kind", kind).
		Msg("Game event received")

	if !a.relay.isStarted() {
		writeError(w, http.StatusServiceUnavailable, ErrNotStarted.Error())
		return
	}
	reacted := a.relay.HandleEvent(r.Context(), kind, payload)
	writeJSON(w, a.log, http.StatusOK, map[string]any{
		"kind":    kind.String(),
		"reacted": reacted,
	})
}

// HandleChat is the HTTP handler for POST /api/chat. It adds a message to
// the in-memory local chat, where the poller picks it up.
func (a *AdminAPI) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ChatRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Channel) == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "channel and text are required")
		return
	}
	msg, err := a.relay.PostLocal(req.Channel, req.Sender, req.Text)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, a.log, http.StatusOK, map[string]any{
		"id":          msg.ID,
		"observed_at": msg.ObservedAt,
	})
}

// HandleStatus is the HTTP handler for GET /api/status.
func (a *AdminAPI) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, a.log, http.StatusOK, a.relay.Status())
}

// decode reads a size-capped JSON body into v. It writes the error response
// and returns false when the body is unusable.
func (a *AdminAPI) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "missing body")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, zerolog.Nop(), status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
