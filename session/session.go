// Package session owns the streaming bridge: per-client session
// records, the per-session event queue, the registry that maps session
// ids to their resources, and the expiry reaper.
package session

import (
	"sync"
	"time"

	"murmur/stt"
)

// Status of a session. Closed is terminal.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Config fixes the recognition options for a session's lifetime. All
// fields are immutable after creation.
type Config struct {
	Model          string `json:"model"`
	Language       string `json:"language"`
	SmartFormat    bool   `json:"smart_format"`
	InterimResults bool   `json:"interim_results"`
	Punctuate      bool   `json:"punctuate"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
}

// DefaultConfig returns the options applied when a client creates a
// session without a config.
func DefaultConfig() Config {
	return Config{
		Model:          "nova-2",
		Language:       "ko",
		SmartFormat:    true,
		InterimResults: true,
		Punctuate:      true,
		SampleRate:     16000,
		Channels:       1,
	}
}

func (c Config) engineOptions() stt.Config {
	return stt.Config{
		Model:          c.Model,
		Language:       c.Language,
		SmartFormat:    c.SmartFormat,
		InterimResults: c.InterimResults,
		Punctuate:      c.Punctuate,
		SampleRate:     c.SampleRate,
		Channels:       c.Channels,
	}
}

// Session is one client-visible unit of state: a configuration, an
// event queue, and at most one engine connection, created lazily on the
// first audio upload. The registry holds lifecycle authority; the
// session only guards its own connection handle.
type Session struct {
	ID        string
	Config    Config
	CreatedAt time.Time

	channel *Channel

	mu     sync.Mutex
	status Status
	conn   stt.Conn
}

// Channel returns the session's event queue.
func (s *Session) Channel() *Channel {
	return s.channel
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info is a point-in-time snapshot of a session for the API surface.
type Info struct {
	SessionID string  `json:"session_id"`
	Config    Config  `json:"config"`
	CreatedAt float64 `json:"created_at"`
	Status    Status  `json:"status"`
}

// Info snapshots the session without aliasing live state.
func (s *Session) Info() Info {
	return Info{
		SessionID: s.ID,
		Config:    s.Config,
		CreatedAt: float64(s.CreatedAt.UnixNano()) / float64(time.Second),
		Status:    s.Status(),
	}
}

// clearConn drops the connection handle if it still is old, so the next
// upload dials the engine again from scratch.
func (s *Session) clearConn(old stt.Conn) {
	s.mu.Lock()
	if s.conn == old {
		s.conn = nil
	}
	s.mu.Unlock()
}
