// Package event defines the canonical event type flowing from the
// recognition engine toward stream consumers, and the Sink interface
// producers use to hand events off.
package event

import "time"

// Kind tags an Event. The kind fully determines the shape of Data.
type Kind string

const (
	KindToken       Kind = "token"
	KindFinal       Kind = "final"
	KindSpeechStart Kind = "speech_start"
	KindSpeechEnd   Kind = "speech_end"
	KindHeartbeat   Kind = "heartbeat"
	KindError       Kind = "error"
	KindSessionEnd  Kind = "session_end"
)

// Event is one discrete unit of information on a session's stream.
// SessionID and Timestamp are stamped by the session's channel on
// enqueue when the producer leaves them zero.
type Event struct {
	Kind      Kind    `json:"event_type"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
}

// Transcript is the payload for token and final events.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsPartial  bool    `json:"is_partial"`
}

// Message is the payload for speech_start, speech_end, error and
// session_end events.
type Message struct {
	Message string `json:"message"`
}

// Liveness is the payload for heartbeat events.
type Liveness struct {
	Status string `json:"status"`
}

// Token builds an interim transcript event. Confidence is clamped to [0,1].
func Token(text string, confidence float64) Event {
	return Event{
		Kind: KindToken,
		Data: Transcript{Text: text, Confidence: clamp(confidence), IsPartial: true},
	}
}

// Final builds a finalized transcript event. Confidence is clamped to [0,1].
func Final(text string, confidence float64) Event {
	return Event{
		Kind: KindFinal,
		Data: Transcript{Text: text, Confidence: clamp(confidence), IsPartial: false},
	}
}

// SpeechStart builds a voice-activity-start marker.
func SpeechStart(msg string) Event {
	return Event{Kind: KindSpeechStart, Data: Message{Message: msg}}
}

// SpeechEnd builds a voice-activity-end marker.
func SpeechEnd(msg string) Event {
	return Event{Kind: KindSpeechEnd, Data: Message{Message: msg}}
}

// Heartbeat builds a synthetic keep-alive event. It carries no
// recognition information and is only emitted on an idle dequeue.
func Heartbeat() Event {
	return Event{Kind: KindHeartbeat, Data: Liveness{Status: "alive"}}
}

// Error builds an engine or stream error event.
func Error(msg string) Event {
	return Event{Kind: KindError, Data: Message{Message: msg}}
}

// SessionEnd builds the terminal event of a session's stream. No event
// is ever delivered after it.
func SessionEnd(msg string) Event {
	return Event{Kind: KindSessionEnd, Data: Message{Message: msg}}
}

// Stamp fills in SessionID and Timestamp if the producer left them zero.
func (e Event) Stamp(sessionID string, now time.Time) Event {
	if e.SessionID == "" {
		e.SessionID = sessionID
	}
	if e.Timestamp == 0 {
		e.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	}
	return e
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindSessionEnd
}

// Sink receives canonical events produced by an engine connection. It
// decouples the recognition-result producer from any notion of a
// transport-specific send call.
type Sink interface {
	Emit(ev Event)
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
