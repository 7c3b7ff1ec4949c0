package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"murmur/event"
	"murmur/metrics"
	"murmur/stt"
)

var (
	// ErrNotFound means the session id is unknown to the registry.
	ErrNotFound = errors.New("session not found")
	// ErrEngine means the recognition engine rejected a connect or a
	// send. The session survives; the next upload dials again.
	ErrEngine = errors.New("engine failure")
)

const (
	sendTimeout     = 5 * time.Second
	finalizeTimeout = 5 * time.Second
)

// Registry creates, looks up, enumerates and destroys sessions. Its
// mutex-protected map is the only shared mutable structure in the
// bridge; every other resource is session-owned and reachable only
// through lookup here.
type Registry struct {
	engine  stt.Engine
	logger  *log.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(engine stt.Engine, logger *log.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		engine:   engine,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// Create stores a new active session under a fresh id and returns it.
func (r *Registry) Create(cfg *Config) *Session {
	config := DefaultConfig()
	if cfg != nil {
		config = *cfg
	}

	r.mu.Lock()
	id := newSessionID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = newSessionID()
	}
	s := &Session{
		ID:        id,
		Config:    config,
		CreatedAt: time.Now(),
		channel:   newChannel(id, r.metrics),
		status:    StatusActive,
	}
	r.sessions[id] = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsCreated.Inc()
		r.metrics.ActiveSessions.Inc()
	}
	r.logger.Info("session created", "session", id, "language", config.Language, "model", config.Model)
	return s
}

// Get is a pure lookup with no side effect.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a point-in-time snapshot of the current sessions. The
// result never aliases live internal state.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UploadAudio forwards one audio chunk to the session's engine
// connection, opening it first if this is the session's first chunk.
// Exactly one lazy connect is attempted per upload: a failed connect or
// send surfaces ErrEngine and clears the handle, and the next upload
// dials again from scratch.
func (r *Registry) UploadAudio(ctx context.Context, id string, data []byte) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	conn, err := r.ensureConn(ctx, s)
	if err != nil {
		r.logger.Error("engine connect failed", "session", id, "error", err)
		return fmt.Errorf("%w: %v", ErrEngine, err)
	}

	if err := conn.SendAudio(data); err != nil {
		s.clearConn(conn)
		r.logger.Error("audio send failed", "session", id, "error", err)
		return fmt.Errorf("%w: %v", ErrEngine, err)
	}

	if r.metrics != nil {
		r.metrics.AudioChunks.Inc()
		r.metrics.AudioBytes.Add(float64(len(data)))
	}
	return nil
}

func (r *Registry) ensureConn(ctx context.Context, s *Session) (stt.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return nil, ErrNotFound
	}
	if s.conn != nil {
		return s.conn, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	conn, err := r.engine.Open(openCtx, s.Config.engineOptions(), s.channel)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	r.logger.Info("engine connection opened", "session", s.ID)
	return conn, nil
}

// Close tears a session down: enqueue the terminal session_end,
// best-effort finalize the engine connection, then remove the record
// and its channel. Idempotent; the second call reports false.
func (r *Registry) Close(ctx context.Context, id string) bool {
	return r.close(ctx, id, "client")
}

// Expire runs the same teardown path for reaper-initiated eviction.
func (r *Registry) Expire(ctx context.Context, id string) bool {
	return r.close(ctx, id, "expired")
}

func (r *Registry) close(ctx context.Context, id, reason string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return false
	}
	s.status = StatusClosed
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.channel.Emit(event.SessionEnd("session closed"))

	if conn != nil {
		// Finalize-or-abandon: a hung engine connection must not
		// block the close.
		fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
		if err := conn.Finish(fctx); err != nil {
			r.logger.Warn("engine finalize failed", "session", id, "error", err)
		}
		cancel()
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	s.channel.shutdown()

	if r.metrics != nil {
		r.metrics.SessionsClosed.WithLabelValues(reason).Inc()
		r.metrics.ActiveSessions.Dec()
	}
	r.logger.Info("session closed", "session", id, "reason", reason)
	return true
}

func newSessionID() string {
	u := uuid.New()
	return "sess_" + hex.EncodeToString(u[:])[:12]
}
