// Package web exposes the streaming bridge over HTTP: session CRUD,
// audio chunk upload, the SSE event stream, and a bidirectional
// websocket variant of the same bridge.
package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"murmur/session"
)

type Handler struct {
	registry  *session.Registry
	logger    *log.Logger
	heartbeat time.Duration
}

func NewHandler(registry *session.Registry, logger *log.Logger, heartbeat time.Duration) *Handler {
	return &Handler{
		registry:  registry,
		logger:    logger,
		heartbeat: heartbeat,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/info", h.handleInfo)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{id}", h.handleGetSession)
	r.Get("/sessions/{id}/stream", h.handleStream)
	r.Post("/sessions/{id}/audio", h.handleUploadAudio)
	r.Delete("/sessions/{id}", h.handleCloseSession)
	r.Get("/ws/stt", h.handleWebSocket)
}

type createSessionRequest struct {
	Config *session.Config `json:"config"`
}

type createSessionResponse struct {
	SessionID string         `json:"session_id"`
	StreamURL string         `json:"stream_url"`
	UploadURL string         `json:"upload_url"`
	Config    session.Config `json:"config"`
}

type audioUploadRequest struct {
	AudioData string  `json:"audio_data"`
	ChunkID   string  `json:"chunk_id,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type audioUploadResponse struct {
	SessionID     string  `json:"session_id"`
	ChunkID       string  `json:"chunk_id,omitempty"`
	ReceivedBytes int     `json:"received_bytes"`
	Timestamp     float64 `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	s := h.registry.Create(req.Config)
	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: s.ID,
		StreamURL: fmt.Sprintf("/sessions/%s/stream", s.ID),
		UploadURL: fmt.Sprintf("/sessions/%s/audio", s.ID),
		Config:    s.Config,
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	infos := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *Handler) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req audioUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if req.AudioData == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audio_data is required"})
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audio_data is not valid base64"})
		return
	}

	if err := h.registry.UploadAudio(r.Context(), id, audio); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found: " + id})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "engine failure"})
		}
		return
	}

	writeJSON(w, http.StatusOK, audioUploadResponse{
		SessionID:     id,
		ChunkID:       req.ChunkID,
		ReceivedBytes: len(audio),
		Timestamp:     float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.registry.Close(r.Context(), id) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     "closed",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"service":         "murmur",
		"active_sessions": h.registry.Len(),
	})
}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "murmur",
		"description": "realtime speech-to-text streaming bridge",
		"endpoints": map[string]string{
			"create_session": "POST /sessions",
			"stream":         "GET /sessions/{id}/stream",
			"upload_audio":   "POST /sessions/{id}/audio",
			"close_session":  "DELETE /sessions/{id}",
			"websocket":      "GET /ws/stt",
		},
		"supported_formats": []string{"pcm16"},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
