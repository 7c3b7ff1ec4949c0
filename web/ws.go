package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"murmur/event"
	"murmur/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The browser client is served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the client-to-server frame shape on the websocket
// endpoint.
type wsMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// wsWriter serializes concurrent writers onto one websocket
// connection; gorilla allows at most one writer at a time.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// handleWebSocket runs the same session bridge over a bidirectional
// socket: audio chunks arrive as JSON frames, events flow back as JSON
// frames. Without a session_id query parameter a fresh session is
// created and owned by the connection, closing when it disconnects.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	writer := &wsWriter{conn: conn}

	var s *session.Session
	owned := false
	if id := r.URL.Query().Get("session_id"); id != "" {
		existing, ok := h.registry.Get(id)
		if !ok {
			_ = writer.writeJSON(event.Error("session not found: " + id).Stamp(id, time.Now()))
			return
		}
		s = existing
	} else {
		s = h.registry.Create(nil)
		owned = true
	}

	h.logger.Info("websocket attached", "session", s.ID, "owned", owned)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if owned {
		defer h.registry.Close(context.Background(), s.ID)
	}

	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		write := func(ev event.Event) error {
			return writer.writeJSON(ev)
		}
		_ = write(event.SpeechStart("stream connected").Stamp(s.ID, time.Now()))
		emitter := NewEmitter(s, h.heartbeat, h.logger)
		_ = emitter.Run(ctx, write)
		// The terminal event has been delivered; unblock the reader.
		_ = conn.SetReadDeadline(time.Now())
	}()

	h.readLoop(ctx, s, writer, conn)
	// Let the emitter drain the terminal session_end before its context
	// is torn down. It self-terminates on the terminal event, or on a
	// write failure once the peer is gone.
	<-emitterDone
	cancel()
	h.logger.Info("websocket detached", "session", s.ID)
}

func (h *Handler) readLoop(ctx context.Context, s *session.Session, writer *wsWriter, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = writer.writeJSON(event.Error("malformed message").Stamp(s.ID, time.Now()))
			continue
		}

		switch msg.Type {
		case "audio_data":
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				_ = writer.writeJSON(event.Error("audio is not valid base64").Stamp(s.ID, time.Now()))
				continue
			}
			if err := h.registry.UploadAudio(ctx, s.ID, audio); err != nil {
				_ = writer.writeJSON(event.Error("engine failure").Stamp(s.ID, time.Now()))
			}
		case "start_transcription":
			// The engine connection is opened lazily on the first audio
			// chunk; nothing to set up yet.
		case "stop_transcription":
			h.registry.Close(ctx, s.ID)
			return
		default:
			// Unknown frame types are ignored for forward compatibility.
		}
	}
}
