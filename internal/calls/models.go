package calls

import "time"

// CallSession is one voice/video call attempt.
//
// Invariant: EndedAt is set iff Status == SessionEnded, and an ended session
// is never mutated again.
type CallSession struct {
	ID       string   `json:"id" db:"id"`
	CallerID string   `json:"caller_id" db:"caller_id"`
	CallType CallType `json:"call_type" db:"call_type"`

	Status CallStatus `json:"status" db:"status"`

	// RoomID is empty for direct calls.
	RoomID string `json:"room_id,omitempty" db:"room_id"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`
}

// CallParticipant is the roster row for one user in one call.
type CallParticipant struct {
	CallID string            `json:"call_id" db:"call_id"`
	UserID string            `json:"user_id" db:"user_id"`
	Status ParticipantStatus `json:"status" db:"status"`

	JoinedAt *time.Time `json:"joined_at,omitempty" db:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty" db:"left_at"`
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallStatus string

const (
	SessionInitiated CallStatus = "initiated"
	SessionRinging   CallStatus = "ringing"
	SessionActive    CallStatus = "active"
	SessionEnded     CallStatus = "ended"
)

// Joinable reports whether participants may still join.
func (s CallStatus) Joinable() bool {
	return s == SessionInitiated || s == SessionRinging || s == SessionActive
}

type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantRejected ParticipantStatus = "rejected"
)

// Current participants still receive call-scoped events.
func (s ParticipantStatus) Current() bool {
	return s == ParticipantInvited || s == ParticipantJoined
}

var sessionTransitions = map[CallStatus][]CallStatus{
	SessionInitiated: {SessionRinging, SessionActive, SessionEnded},
	SessionRinging:   {SessionActive, SessionEnded},
	SessionActive:    {SessionEnded},
}

var participantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantInvited: {ParticipantJoined, ParticipantRejected, ParticipantLeft},
	ParticipantJoined:  {ParticipantLeft},
}

// CanTransitionSession reports whether from -> to is a forward edge.
// Staying in the same non-terminal status is allowed.
func CanTransitionSession(from, to CallStatus) bool {
	if from == to {
		return from != SessionEnded
	}
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionParticipant reports whether from -> to is a forward edge.
func CanTransitionParticipant(from, to ParticipantStatus) bool {
	for _, s := range participantTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CallView is a session with its roster and display names, as returned by
// the active-calls and history queries.
type CallView struct {
	CallSession
	CallerName   string            `json:"caller_name,omitempty"`
	Participants []ParticipantView `json:"participants"`
}

type ParticipantView struct {
	CallParticipant
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}
