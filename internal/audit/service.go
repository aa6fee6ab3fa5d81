// Package audit keeps an internal, append-only trail of privileged actions.
package audit

import (
	"context"
	"errors"
	"time"

	"chat-platform/internal/auth"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
// Audit is internal-only; these records are never exposed to users.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = auth.ClientIP(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogForcedEnd records a room admin ending someone else's call.
func (s *Service) LogForcedEnd(ctx context.Context, actorUserID, callID, roomID, callerID string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallForceEnded,
		ActorUserID:   actorUserID,
		CallID:        callID,
		RoomID:        roomID,
		SubjectUserID: callerID,
		Message:       "call ended by room admin",
	})
}
