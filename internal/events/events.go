// Package events defines the JSON frames pushed to clients over their live connection.
package events

import (
	"time"

	"github.com/goccy/go-json"
)

// Type is the "type" discriminator of every frame.
type Type string

const (
	UserJoined  Type = "user_joined"
	UserLeft    Type = "user_left"
	OnlineUsers Type = "online_users"

	CallInvitation Type = "call_invitation"
	CallRinging    Type = "call_ringing"
	CallRejected   Type = "call_rejected"
	CallEnded      Type = "call_ended"

	WebRTCSignal Type = "webrtc_signal"
	ICECandidate Type = "ice_candidate"
	WebRTCOffer  Type = "webrtc_offer"
	WebRTCAnswer Type = "webrtc_answer"

	RoomJoined Type = "room_joined"
	RoomLeft   Type = "room_left"
	Pong       Type = "pong"
	Error      Type = "error"
)

// Envelope carries the fields present on every frame. Embed it in concrete events.
type Envelope struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(t Type, now time.Time) Envelope {
	return Envelope{Type: t, Timestamp: now.UTC()}
}

// Encode marshals v once so it can be written to many connections.
// Pre-encoded []byte and json.RawMessage values pass through untouched.
func Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	return json.Marshal(v)
}

// ErrorEvent reports a rejected client frame back to the sender.
type ErrorEvent struct {
	Envelope
	Error string `json:"error"`
	Ref   Type   `json:"ref,omitempty"`
}

func NewError(now time.Time, ref Type, msg string) ErrorEvent {
	return ErrorEvent{Envelope: NewEnvelope(Error, now), Error: msg, Ref: ref}
}
