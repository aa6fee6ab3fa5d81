package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block call flows on audit failures.
//
// Storage (Postgres): table audit_events with an INSERT-only policy, see repo_postgres.go.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event.
	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`

	// IPAddress is the client IP resolved by the HTTP edge, when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID string `json:"call_id,omitempty" db:"call_id"`
	RoomID string `json:"room_id,omitempty" db:"room_id"`
	// SubjectUserID is the user acted upon, e.g. the caller of a force-ended call.
	SubjectUserID string `json:"subject_user_id,omitempty" db:"subject_user_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeCallForceEnded is a room admin ending a call they did not start.
	EventTypeCallForceEnded EventType = "call_force_ended"
)
