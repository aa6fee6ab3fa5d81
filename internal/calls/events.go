package calls

import "chat-platform/internal/events"

type InvitationEvent struct {
	events.Envelope
	CallID     string   `json:"call_id"`
	CallerID   string   `json:"caller_id"`
	CallerName string   `json:"caller_name"`
	CallType   CallType `json:"call_type"`
	RoomID     string   `json:"room_id,omitempty"`
}

// ParticipantEvent covers the call-scoped user_joined, user_left,
// call_ringing and call_rejected frames.
type ParticipantEvent struct {
	events.Envelope
	CallID string `json:"call_id"`
	UserID string `json:"user_id"`
}

type EndedEvent struct {
	events.Envelope
	CallID          string `json:"call_id"`
	EndedBy         string `json:"ended_by"`
	DurationSeconds int    `json:"duration_seconds"`
}
