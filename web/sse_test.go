package web

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/event"
	"murmur/session"
)

// nextEvent scans SSE lines until the next data record.
func nextEvent(t *testing.T, scanner *bufio.Scanner) map[string]any {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		return ev
	}
	t.Fatal("stream ended before next event")
	return nil
}

func openStream(t *testing.T, url string) (*http.Response, *bufio.Scanner) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewScanner(resp.Body)
}

func TestEmitterDeliversTerminalEventUnderCanceledContext(t *testing.T) {
	logger := log.New(io.Discard)
	registry := session.NewRegistry(&scriptedEngine{}, logger, nil)
	s := registry.Create(nil)
	require.True(t, registry.Close(context.Background(), s.ID))

	// The consumer's context is already gone, as on a websocket stop
	// path. The buffered session_end must still be written.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var written []event.Event
	emitter := NewEmitter(s, 50*time.Millisecond, logger)
	err := emitter.Run(ctx, func(ev event.Event) error {
		written = append(written, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, event.KindSessionEnd, written[0].Kind)
}

func TestStreamUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	resp, scanner := openStream(t, srv.URL+"/sessions/sess_unknown/stream")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ev := nextEvent(t, scanner)
	assert.Equal(t, "error", ev["event_type"])
	assert.Equal(t, "sess_unknown", ev["session_id"])

	// Single error event, then the stream terminates.
	if scanner.Scan() {
		assert.Empty(t, strings.TrimSpace(scanner.Text()))
	}
}

func TestStreamIdleSessionHeartbeats(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})
	created := createSession(t, srv, "")

	resp, scanner := openStream(t, srv.URL+created.StreamURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	marker := nextEvent(t, scanner)
	assert.Equal(t, "speech_start", marker["event_type"])

	// With no audio uploaded, only heartbeats may follow.
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, scanner)
		require.Equal(t, "heartbeat", ev["event_type"])
		assert.Equal(t, created.SessionID, ev["session_id"])
		data := ev["data"].(map[string]any)
		assert.Equal(t, "alive", data["status"])
	}
}

func TestStreamDeliversEventsInOrderAndEndsWithSessionEnd(t *testing.T) {
	engine := &scriptedEngine{
		onAudio: func(sink event.Sink, _ []byte) {
			sink.Emit(event.Token("안녕", 0.8))
			sink.Emit(event.Final("안녕하세요", 0.95))
		},
	}
	srv, registry := newTestServer(t, engine)
	created := createSession(t, srv, `{"config":{"model":"nova-2","language":"ko","interim_results":true,"sample_rate":16000,"channels":1}}`)

	resp, scanner := openStream(t, srv.URL+created.StreamURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	marker := nextEvent(t, scanner)
	require.Equal(t, "speech_start", marker["event_type"])

	chunk := base64.StdEncoding.EncodeToString([]byte("pcm"))
	uploadResp, err := http.Post(srv.URL+created.UploadURL, "application/json",
		strings.NewReader(fmt.Sprintf(`{"audio_data":%q}`, chunk)))
	require.NoError(t, err)
	uploadResp.Body.Close()
	require.Equal(t, http.StatusOK, uploadResp.StatusCode)

	// Real events arrive in enqueue order, interleaved only with
	// synthetic heartbeats.
	var transcripts []map[string]any
	for len(transcripts) < 2 {
		ev := nextEvent(t, scanner)
		switch ev["event_type"] {
		case "heartbeat":
			continue
		case "token", "final":
			transcripts = append(transcripts, ev)
		default:
			t.Fatalf("unexpected event %v", ev["event_type"])
		}
	}

	require.Equal(t, "token", transcripts[0]["event_type"])
	assert.Equal(t, "안녕", transcripts[0]["data"].(map[string]any)["text"])
	require.Equal(t, "final", transcripts[1]["event_type"])
	assert.Equal(t, "안녕하세요", transcripts[1]["data"].(map[string]any)["text"])
	assert.Equal(t, 0.95, transcripts[1]["data"].(map[string]any)["confidence"])

	registry.Close(context.Background(), created.SessionID)

	for {
		ev := nextEvent(t, scanner)
		if ev["event_type"] == "heartbeat" {
			continue
		}
		require.Equal(t, "session_end", ev["event_type"])
		break
	}

	// session_end is the last event the stream ever observes.
	deadline := time.After(2 * time.Second)
	done := make(chan bool, 1)
	go func() { done <- scanner.Scan() && strings.HasPrefix(scanner.Text(), "data: ") }()
	select {
	case more := <-done:
		assert.False(t, more, "event delivered after session_end")
	case <-deadline:
		t.Fatal("stream did not terminate after session_end")
	}
}
