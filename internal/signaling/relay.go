// Package signaling forwards opaque WebRTC negotiation payloads between call
// participants. It keeps no state of its own.
package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-platform/internal/calls"
	"chat-platform/internal/events"
	"chat-platform/pkg/logger"

	"github.com/goccy/go-json"
)

var (
	ErrUnknownKind  = fmt.Errorf("%w: unknown signal kind", calls.ErrInvalidArgument)
	ErrEmptyPayload = fmt.Errorf("%w: empty signal payload", calls.ErrInvalidArgument)
	ErrNoTarget     = fmt.Errorf("%w: target_user required", calls.ErrInvalidArgument)
)

// Kinds lists the relayable frame types.
var Kinds = []events.Type{events.WebRTCSignal, events.ICECandidate, events.WebRTCOffer, events.WebRTCAnswer}

func ValidKind(k events.Type) bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// CallReader looks up a call and its roster.
type CallReader interface {
	Call(ctx context.Context, callID string) (calls.CallSession, []calls.CallParticipant, error)
}

type Presence interface {
	SendPersonal(userID string, payload any) bool
}

type Rooms interface {
	Broadcast(roomID string, payload any, exclude string) int
}

type Message struct {
	Kind    events.Type
	CallID  string
	From    string
	Target  string
	Payload json.RawMessage
}

// Event is the frame a peer receives. Exactly one of the payload fields is
// set, matching the frame type.
type Event struct {
	events.Envelope
	CallID     string          `json:"call_id"`
	FromUser   string          `json:"from_user"`
	TargetUser string          `json:"target_user,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
}

type Relay struct {
	calls    CallReader
	presence Presence
	rooms    Rooms
	clock    func() time.Time
	log      *slog.Logger
}

func NewRelay(cr CallReader, presence Presence, rooms Rooms, log *slog.Logger) *Relay {
	return &Relay{
		calls:    cr,
		presence: presence,
		rooms:    rooms,
		clock:    time.Now,
		log:      logger.Component(log, "signaling"),
	}
}

// RelayToRoom forwards m to everyone else in the call: the call's room when
// it has one, otherwise every other invited or joined participant.
// It returns the number of live deliveries.
func (r *Relay) RelayToRoom(ctx context.Context, m Message) (int, error) {
	sess, rows, err := r.authorize(ctx, m)
	if err != nil {
		return 0, err
	}
	ev := r.event(m)

	if sess.RoomID != "" {
		n := r.rooms.Broadcast(sess.RoomID, ev, m.From)
		r.log.Debug("signal relayed to room", "kind", m.Kind, "call_id", m.CallID, "room_id", sess.RoomID, "delivered", n)
		return n, nil
	}

	n := 0
	for _, p := range rows {
		if p.UserID == m.From || !p.Status.Current() {
			continue
		}
		if r.presence.SendPersonal(p.UserID, ev) {
			n++
		}
	}
	r.log.Debug("signal relayed to participants", "kind", m.Kind, "call_id", m.CallID, "delivered", n)
	return n, nil
}

// RelayToUser forwards m to m.Target. Delivery is best effort.
func (r *Relay) RelayToUser(ctx context.Context, m Message) (bool, error) {
	if m.Target == "" {
		return false, ErrNoTarget
	}
	if _, _, err := r.authorize(ctx, m); err != nil {
		return false, err
	}
	ok := r.presence.SendPersonal(m.Target, r.event(m))
	r.log.Debug("signal relayed to user", "kind", m.Kind, "call_id", m.CallID, "target", m.Target, "delivered", ok)
	return ok, nil
}

// authorize checks the frame shape and that the sender is a current
// participant of a call that has not ended. The payload itself is never inspected.
func (r *Relay) authorize(ctx context.Context, m Message) (calls.CallSession, []calls.CallParticipant, error) {
	if !ValidKind(m.Kind) {
		return calls.CallSession{}, nil, ErrUnknownKind
	}
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return calls.CallSession{}, nil, ErrEmptyPayload
	}
	if m.CallID == "" || m.From == "" {
		return calls.CallSession{}, nil, calls.ErrInvalidArgument
	}

	sess, rows, err := r.calls.Call(ctx, m.CallID)
	if err != nil {
		return calls.CallSession{}, nil, err
	}
	if sess.Status == calls.SessionEnded {
		return calls.CallSession{}, nil, calls.ErrInvalidState
	}
	for _, p := range rows {
		if p.UserID == m.From && p.Status.Current() {
			return sess, rows, nil
		}
	}
	return calls.CallSession{}, nil, calls.ErrNotPermitted
}

func (r *Relay) event(m Message) Event {
	ev := Event{
		Envelope:   events.NewEnvelope(m.Kind, r.clock()),
		CallID:     m.CallID,
		FromUser:   m.From,
		TargetUser: m.Target,
	}
	switch m.Kind {
	case events.WebRTCSignal:
		ev.Signal = m.Payload
	case events.ICECandidate:
		ev.Candidate = m.Payload
	case events.WebRTCOffer:
		ev.Offer = m.Payload
	case events.WebRTCAnswer:
		ev.Answer = m.Payload
	}
	return ev
}
