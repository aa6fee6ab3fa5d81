package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chat-platform/internal/calls"
	"chat-platform/internal/events"
	"chat-platform/pkg/logger"

	"github.com/goccy/go-json"
)

type fakeCalls struct {
	sess calls.CallSession
	rows []calls.CallParticipant
}

func (f fakeCalls) Call(ctx context.Context, callID string) (calls.CallSession, []calls.CallParticipant, error) {
	if callID != f.sess.ID {
		return calls.CallSession{}, nil, calls.ErrNotFound
	}
	return f.sess, f.rows, nil
}

type sink struct {
	mu     sync.Mutex
	online map[string]bool
	frames map[string][][]byte
	rooms  map[string][]string
}

func newSink(online ...string) *sink {
	s := &sink{online: map[string]bool{}, frames: map[string][][]byte{}, rooms: map[string][]string{}}
	for _, u := range online {
		s.online[u] = true
	}
	return s
}

func (s *sink) SendPersonal(userID string, payload any) bool {
	b, _ := events.Encode(payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online[userID] {
		return false
	}
	s.frames[userID] = append(s.frames[userID], b)
	return true
}

func (s *sink) Broadcast(roomID string, payload any, exclude string) int {
	n := 0
	for _, u := range s.rooms[roomID] {
		if u != exclude && s.SendPersonal(u, payload) {
			n++
		}
	}
	return n
}

func twoPartyCall(roomID string) fakeCalls {
	return fakeCalls{
		sess: calls.CallSession{ID: "c1", CallerID: "A", Status: calls.SessionActive, RoomID: roomID},
		rows: []calls.CallParticipant{
			{CallID: "c1", UserID: "A", Status: calls.ParticipantJoined},
			{CallID: "c1", UserID: "B", Status: calls.ParticipantJoined},
			{CallID: "c1", UserID: "C", Status: calls.ParticipantRejected},
		},
	}
}

func TestRelayToRoom_DirectCallSkipsSenderAndFormerParticipants(t *testing.T) {
	s := newSink("A", "B", "C")
	r := NewRelay(twoPartyCall(""), s, s, logger.Discard())

	n, err := r.RelayToRoom(context.Background(), Message{
		Kind: events.WebRTCOffer, CallID: "c1", From: "A", Payload: json.RawMessage(`{"sdp":"v=0"}`),
	})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 delivery, got %d %v", n, err)
	}
	if len(s.frames["A"]) != 0 || len(s.frames["C"]) != 0 {
		t.Fatalf("sender and rejected participant must not receive the offer")
	}

	var ev struct {
		Type     string          `json:"type"`
		CallID   string          `json:"call_id"`
		FromUser string          `json:"from_user"`
		Offer    json.RawMessage `json:"offer"`
	}
	if err := json.Unmarshal(s.frames["B"][0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != "webrtc_offer" || ev.FromUser != "A" || string(ev.Offer) != `{"sdp":"v=0"}` {
		t.Fatalf("unexpected frame %s", s.frames["B"][0])
	}
}

func TestRelayToRoom_UsesRoomFanout(t *testing.T) {
	s := newSink("A", "B", "X")
	s.rooms["room-1"] = []string{"A", "B", "X"}
	r := NewRelay(twoPartyCall("room-1"), s, s, logger.Discard())

	n, err := r.RelayToRoom(context.Background(), Message{
		Kind: events.ICECandidate, CallID: "c1", From: "A", Payload: json.RawMessage(`{"candidate":"x"}`),
	})
	if err != nil || n != 2 {
		t.Fatalf("expected room members B and X, got %d %v", n, err)
	}
}

func TestRelayToUser(t *testing.T) {
	s := newSink("B")
	r := NewRelay(twoPartyCall(""), s, s, logger.Discard())
	ctx := context.Background()

	ok, err := r.RelayToUser(ctx, Message{Kind: events.WebRTCAnswer, CallID: "c1", From: "A", Target: "B", Payload: json.RawMessage(`"sdp"`)})
	if err != nil || !ok {
		t.Fatalf("expected delivery, got %v %v", ok, err)
	}
	ok, err = r.RelayToUser(ctx, Message{Kind: events.WebRTCAnswer, CallID: "c1", From: "B", Target: "A", Payload: json.RawMessage(`"sdp"`)})
	if err != nil || ok {
		t.Fatalf("offline target should be a soft miss, got %v %v", ok, err)
	}
	if _, err := r.RelayToUser(ctx, Message{Kind: events.WebRTCAnswer, CallID: "c1", From: "A", Payload: json.RawMessage(`"sdp"`)}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestRelay_Rejections(t *testing.T) {
	s := newSink("A", "B")
	ended := twoPartyCall("")
	ended.sess.Status = calls.SessionEnded
	ctx := context.Background()
	payload := json.RawMessage(`{}`)

	r := NewRelay(twoPartyCall(""), s, s, logger.Discard())
	if _, err := r.RelayToRoom(ctx, Message{Kind: "bogus", CallID: "c1", From: "A", Payload: payload}); !errors.Is(err, calls.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown kind, got %v", err)
	}
	if _, err := r.RelayToRoom(ctx, Message{Kind: events.WebRTCSignal, CallID: "c1", From: "A"}); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
	if _, err := r.RelayToRoom(ctx, Message{Kind: events.WebRTCSignal, CallID: "nope", From: "A", Payload: payload}); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.RelayToRoom(ctx, Message{Kind: events.WebRTCSignal, CallID: "c1", From: "C", Payload: payload}); !errors.Is(err, calls.ErrNotPermitted) {
		t.Fatalf("rejected participant must not relay, got %v", err)
	}
	if _, err := r.RelayToRoom(ctx, Message{Kind: events.WebRTCSignal, CallID: "c1", From: "Z", Payload: payload}); !errors.Is(err, calls.ErrNotPermitted) {
		t.Fatalf("stranger must not relay, got %v", err)
	}

	r = NewRelay(ended, s, s, logger.Discard())
	if _, err := r.RelayToRoom(ctx, Message{Kind: events.WebRTCSignal, CallID: "c1", From: "A", Payload: payload}); !errors.Is(err, calls.ErrInvalidState) {
		t.Fatalf("ended call expected invalid state, got %v", err)
	}
}
