package calls

import (
	"context"
	"sort"
	"sync"
)

// Repository persists sessions and their rosters.
type Repository interface {
	// CreateSession stores the session and all its participant rows atomically.
	CreateSession(ctx context.Context, s CallSession, participants []CallParticipant) error
	GetSession(ctx context.Context, callID string) (CallSession, error)
	ListParticipants(ctx context.Context, callID string) ([]CallParticipant, error)
	// Apply writes one state transition atomically.
	Apply(ctx context.Context, ch Change) error
	// ListForUser returns sessions the user has a participant row in, newest first.
	ListForUser(ctx context.Context, userID string, q ListQuery) ([]CallSession, error)
}

// Change is the set of rows touched by one transition. Session is nil when
// the session row itself is unchanged.
type Change struct {
	Session      *CallSession
	Participants []CallParticipant
}

type ListQuery struct {
	// ActiveOnly keeps non-ended sessions where the user is still invited or joined.
	ActiveOnly bool
	Limit      int
}

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu           sync.Mutex
	sessions     map[string]CallSession
	participants map[string][]CallParticipant
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions:     make(map[string]CallSession),
		participants: make(map[string][]CallParticipant),
	}
}

func (r *MemoryRepo) CreateSession(ctx context.Context, s CallSession, participants []CallParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrInvalidArgument
	}
	r.sessions[s.ID] = s
	rows := make([]CallParticipant, len(participants))
	copy(rows, participants)
	r.participants[s.ID] = rows
	return nil
}

func (r *MemoryRepo) GetSession(ctx context.Context, callID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) ListParticipants(ctx context.Context, callID string) ([]CallParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.participants[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]CallParticipant, len(rows))
	copy(out, rows)
	return out, nil
}

func (r *MemoryRepo) Apply(ctx context.Context, ch Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.Session != nil {
		if _, ok := r.sessions[ch.Session.ID]; !ok {
			return ErrNotFound
		}
	}
	for _, p := range ch.Participants {
		if indexOf(r.participants[p.CallID], p.UserID) < 0 {
			return ErrNotFound
		}
	}

	if ch.Session != nil {
		r.sessions[ch.Session.ID] = *ch.Session
	}
	for _, p := range ch.Participants {
		rows := r.participants[p.CallID]
		rows[indexOf(rows, p.UserID)] = p
	}
	return nil
}

func (r *MemoryRepo) ListForUser(ctx context.Context, userID string, q ListQuery) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallSession
	for id, rows := range r.participants {
		i := indexOf(rows, userID)
		if i < 0 {
			continue
		}
		s := r.sessions[id]
		if q.ActiveOnly && (s.Status == SessionEnded || !rows[i].Status.Current()) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func indexOf(rows []CallParticipant, userID string) int {
	for i, p := range rows {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}
