// Package stt abstracts the external speech-recognition engine behind a
// small interface so the rest of the system is agnostic to whether the
// integration is callback-, poll-, or task-based.
package stt

import (
	"context"

	"murmur/event"
)

// Config holds the recognition options for one live connection. All
// fields are fixed at session creation.
type Config struct {
	Model          string
	Language       string
	SmartFormat    bool
	InterimResults bool
	Punctuate      bool
	SampleRate     int
	Channels       int
}

// Conn is one live connection to the recognition engine. At most one
// exists per session.
type Conn interface {
	// SendAudio forwards one chunk of PCM16 audio to the engine.
	SendAudio(data []byte) error
	// Finish flushes and closes the engine connection, bounded by ctx.
	Finish(ctx context.Context) error
}

// Engine opens live recognition connections. Results arrive
// asynchronously as canonical events on the sink; the engine never
// holds session-lifecycle authority.
type Engine interface {
	Open(ctx context.Context, cfg Config, sink event.Sink) (Conn, error)
}
