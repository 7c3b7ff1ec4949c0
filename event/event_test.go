package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTokenWireShape(t *testing.T) {
	ev := Token("안녕", 0.8).Stamp("sess_abc", time.Unix(1704067200, 123000000))

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["event_type"] != "token" {
		t.Errorf("event_type = %v, want token", decoded["event_type"])
	}
	if decoded["session_id"] != "sess_abc" {
		t.Errorf("session_id = %v, want sess_abc", decoded["session_id"])
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", decoded["data"])
	}
	if data["text"] != "안녕" {
		t.Errorf("text = %v, want 안녕", data["text"])
	}
	if data["confidence"] != 0.8 {
		t.Errorf("confidence = %v, want 0.8", data["confidence"])
	}
	if data["is_partial"] != true {
		t.Errorf("is_partial = %v, want true", data["is_partial"])
	}
}

func TestConfidenceClamped(t *testing.T) {
	if got := Token("x", 1.5).Data.(Transcript).Confidence; got != 1 {
		t.Errorf("high confidence clamped to %v, want 1", got)
	}
	if got := Final("x", -0.2).Data.(Transcript).Confidence; got != 0 {
		t.Errorf("low confidence clamped to %v, want 0", got)
	}
}

func TestFinalIsNotPartial(t *testing.T) {
	ev := Final("안녕하세요", 0.95)
	if ev.Data.(Transcript).IsPartial {
		t.Error("final event marked partial")
	}
	if ev.Kind != KindFinal {
		t.Errorf("kind = %v, want final", ev.Kind)
	}
}

func TestStampPreservesExisting(t *testing.T) {
	ev := Event{Kind: KindError, Data: Message{Message: "boom"}, Timestamp: 42, SessionID: "sess_x"}
	stamped := ev.Stamp("sess_y", time.Now())
	if stamped.SessionID != "sess_x" {
		t.Errorf("session overwritten: %v", stamped.SessionID)
	}
	if stamped.Timestamp != 42 {
		t.Errorf("timestamp overwritten: %v", stamped.Timestamp)
	}
}

func TestTerminal(t *testing.T) {
	if !SessionEnd("bye").Terminal() {
		t.Error("session_end not terminal")
	}
	if Heartbeat().Terminal() {
		t.Error("heartbeat terminal")
	}
}
