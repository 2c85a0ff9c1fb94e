package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestLogPusher_Push(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPusherTo(&buf)

	p.Push(New(TypeOfferReceived, "neg-1", map[string]any{"agent_id": "a1"}))

	line := strings.TrimSpace(buf.String())
	var decoded Event
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.EventType != TypeOfferReceived {
		t.Errorf("event_type = %q, want %q", decoded.EventType, TypeOfferReceived)
	}
	if decoded.NegotiationID != "neg-1" {
		t.Errorf("negotiation_id = %q, want %q", decoded.NegotiationID, "neg-1")
	}
}

func TestLogPusher_PushMany(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPusherTo(&buf)

	p.PushMany([]Event{
		New(TypeFormulationReady, "neg-1", nil),
		New(TypePlanReady, "neg-1", nil),
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func TestLogPusher_ConcurrentPush(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPusherTo(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Push(New(TypeOfferReceived, "neg-1", nil))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, line := range lines {
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Errorf("interleaved write produced invalid JSON: %v", err)
		}
	}
}

func TestNopPusher(t *testing.T) {
	p := NopPusher{}
	p.Push(New(TypePlanReady, "neg-1", nil))
	p.PushMany([]Event{New(TypePlanReady, "neg-1", nil)})
}
