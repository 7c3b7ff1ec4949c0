package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"murmur/event"
	"murmur/session"
)

// Emitter pulls events from one session's channel and hands each to a
// transport-specific write callback. On every empty dequeue it
// synthesizes a heartbeat so idle-timeout-sensitive transports and
// intermediary proxies stay alive.
type Emitter struct {
	sessionID string
	channel   *session.Channel
	heartbeat time.Duration
	logger    *log.Logger
}

func NewEmitter(s *session.Session, heartbeat time.Duration, logger *log.Logger) *Emitter {
	return &Emitter{
		sessionID: s.ID,
		channel:   s.Channel(),
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Run dequeues until the terminal session_end arrives, the write side
// fails, or ctx is canceled. A write failure means the client went
// away; the session itself is left untouched.
func (e *Emitter) Run(ctx context.Context, write func(event.Event) error) error {
	for {
		ev, ok := e.channel.Dequeue(ctx, e.heartbeat)
		if !ok {
			// Nothing dequeued: either the wait elapsed or ctx is gone.
			// A dequeued event is always written first so the terminal
			// session_end is never dropped during teardown.
			if err := ctx.Err(); err != nil {
				return err
			}
			ev = event.Heartbeat().Stamp(e.sessionID, time.Now())
		}
		if err := write(ev); err != nil {
			e.logger.Debug("stream write failed", "session", e.sessionID, "error", err)
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	write := func(ev event.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	s, found := h.registry.Get(id)
	if !found {
		// A single error event, then terminate without entering the loop.
		w.WriteHeader(http.StatusNotFound)
		_ = write(event.Error("session not found: " + id).Stamp(id, time.Now()))
		return
	}

	h.logger.Info("stream opened", "session", id)

	// Startup marker so the client knows the stream is live before any
	// recognition result arrives.
	if err := write(event.SpeechStart("stream connected").Stamp(id, time.Now())); err != nil {
		return
	}

	emitter := NewEmitter(s, h.heartbeat, h.logger)
	if err := emitter.Run(r.Context(), write); err != nil {
		h.logger.Info("stream detached", "session", id, "reason", err)
		return
	}
	h.logger.Info("stream ended", "session", id)
}
