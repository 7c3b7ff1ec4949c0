package session

import (
	"context"
	"sync"
	"time"

	"murmur/event"
	"murmur/metrics"
)

// channelBuffer bounds each session's event queue. When the buffer is
// full the newest event is dropped rather than blocking the engine's
// callback goroutine.
const channelBuffer = 256

// Channel is the ordered per-session event queue. The engine adapter
// and the registry enqueue; at most one active stream emitter dequeues.
// It implements event.Sink.
type Channel struct {
	sessionID string
	events    chan event.Event
	done      chan struct{}
	closeOnce sync.Once
	metrics   *metrics.Metrics
	now       func() time.Time
}

func newChannel(sessionID string, m *metrics.Metrics) *Channel {
	return &Channel{
		sessionID: sessionID,
		events:    make(chan event.Event, channelBuffer),
		done:      make(chan struct{}),
		metrics:   m,
		now:       time.Now,
	}
}

// Emit enqueues ev in arrival order, stamping session id and timestamp
// when the producer left them zero. Emit on a torn-down channel is a
// silent no-op: teardown racing in-flight producers is expected.
func (c *Channel) Emit(ev event.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	ev = ev.Stamp(c.sessionID, c.now())

	select {
	case c.events <- ev:
		if c.metrics != nil {
			c.metrics.EventsEnqueued.WithLabelValues(string(ev.Kind)).Inc()
		}
	default:
		if c.metrics != nil {
			c.metrics.EventsDropped.Inc()
		}
	}
}

// Dequeue waits up to wait for the next event. The second return is
// false when the wait elapsed or ctx was canceled; callers interleave
// heartbeats on that path.
func (c *Channel) Dequeue(ctx context.Context, wait time.Duration) (event.Event, bool) {
	// Buffered events win over cancellation so a consumer tearing down
	// still observes the terminal session_end.
	select {
	case ev := <-c.events:
		return ev, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev := <-c.events:
		return ev, true
	case <-timer.C:
		return event.Event{}, false
	case <-ctx.Done():
		return event.Event{}, false
	}
}

// shutdown stops future enqueues. Events already buffered, including
// the terminal session_end, stay readable so an attached emitter can
// drain and self-terminate.
func (c *Channel) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
