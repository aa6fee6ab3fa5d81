package events

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestEncode_EnvelopeFields(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	b, err := Encode(NewError(now, Pong, "boom"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"type":"error"`) || !strings.Contains(s, `"timestamp":"2024-03-01T11:00:00Z"`) {
		t.Fatalf("unexpected frame %s", s)
	}
}

func TestEncode_PassesRawThrough(t *testing.T) {
	raw := json.RawMessage(`{"type":"x"}`)
	b, err := Encode(raw)
	if err != nil || string(b) != string(raw) {
		t.Fatalf("expected raw passthrough, got %s %v", b, err)
	}
}
