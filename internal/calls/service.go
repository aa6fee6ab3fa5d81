package calls

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-platform/internal/directory"
	"chat-platform/internal/events"
	"chat-platform/internal/notify"
	"chat-platform/pkg/logger"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Presence is the live-delivery side of the connection registry.
type Presence interface {
	IsOnline(userID string) bool
	SendPersonal(userID string, payload any) bool
}

// Notifier records a notification for later delivery. It must not block.
type Notifier interface {
	Enqueue(n notify.Notification) bool
}

// Auditor records privileged actions. Failures are logged, never returned.
type Auditor interface {
	LogForcedEnd(ctx context.Context, actorUserID, callID, roomID, callerID string) error
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	lockStripes = 64
)

// Service owns the call lifecycle.
//
// Every mutation of one call runs under that call's stripe lock, from reading
// the session to persisting the change. Events are sent only after the lock
// is released: a failed send disconnects the recipient, and the disconnect
// hook re-enters the service for the same call.
type Service struct {
	repo     Repository
	dir      directory.Directory
	presence Presence
	notifier Notifier
	audit    Auditor

	locks [lockStripes]sync.Mutex

	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
	log   *slog.Logger
}

func NewService(repo Repository, dir directory.Directory, presence Presence, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		presence: presence,
		notifier: notifier,
		clock:    time.Now,
		newID:    uuid.NewString,
		log:      logger.Component(log, "calls"),
	}
}

// SetAuditor enables audit records for admin-ended calls.
func (s *Service) SetAuditor(a Auditor) {
	s.audit = a
}

type InitiateRequest struct {
	CallerID       string
	CallType       CallType
	RoomID         string
	ParticipantIDs []string
}

// delivery is one event owed to one user once the call lock is released.
type delivery struct {
	to     string
	typ    events.Type
	callID string
	actor  string
	event  any
}

func (s *Service) lockFor(callID string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(callID)%lockStripes]
}

// InitiateCall creates the session with the caller JOINED and every other
// participant INVITED, then sends invitations. With no explicit participants
// and a room, the room's members are invited.
func (s *Service) InitiateCall(ctx context.Context, req InitiateRequest) (CallSession, error) {
	if req.CallerID == "" || !req.CallType.Valid() {
		return CallSession{}, ErrInvalidArgument
	}
	req.RoomID = strings.TrimSpace(req.RoomID)

	ids := req.ParticipantIDs
	if len(ids) == 0 && req.RoomID != "" {
		members, err := s.dir.RoomMemberIDs(ctx, req.RoomID)
		if err != nil {
			return CallSession{}, fmt.Errorf("room members: %w", err)
		}
		ids = members
	}
	invitees := dedupe(ids, req.CallerID)
	if len(invitees) == 0 {
		return CallSession{}, fmt.Errorf("%w: no participants to invite", ErrInvalidArgument)
	}

	now := s.clock().UTC()
	session := CallSession{
		ID:        s.newID(),
		CallerID:  req.CallerID,
		CallType:  req.CallType,
		Status:    SessionInitiated,
		RoomID:    req.RoomID,
		StartedAt: now,
	}
	rows := make([]CallParticipant, 0, len(invitees)+1)
	rows = append(rows, CallParticipant{CallID: session.ID, UserID: req.CallerID, Status: ParticipantJoined, JoinedAt: &now})
	for _, uid := range invitees {
		rows = append(rows, CallParticipant{CallID: session.ID, UserID: uid, Status: ParticipantInvited})
	}

	if err := s.repo.CreateSession(ctx, session, rows); err != nil {
		return CallSession{}, err
	}

	callerName := s.displayName(ctx, req.CallerID)
	ds := make([]delivery, 0, len(invitees))
	for _, uid := range invitees {
		ds = append(ds, delivery{
			to:     uid,
			typ:    events.CallInvitation,
			callID: session.ID,
			actor:  req.CallerID,
			event: InvitationEvent{
				Envelope:   events.NewEnvelope(events.CallInvitation, now),
				CallID:     session.ID,
				CallerID:   req.CallerID,
				CallerName: callerName,
				CallType:   session.CallType,
				RoomID:     session.RoomID,
			},
		})
	}
	s.log.Info("call initiated", "call_id", session.ID, "caller_id", req.CallerID, "invitees", len(invitees), "room_id", session.RoomID)
	s.dispatch(ds)
	return session, nil
}

// RingCall records that an invitee's client is alerting. The first ring moves
// the session from INITIATED to RINGING; the caller is told either way.
func (s *Service) RingCall(ctx context.Context, callID, userID string) error {
	return s.withCall(ctx, callID, func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error) {
		p, ok := find(rows, userID)
		if !ok || p.Status != ParticipantInvited || sess.Status == SessionEnded {
			return Change{}, nil, ErrInvalidState
		}
		var ch Change
		if sess.Status == SessionInitiated {
			sess.Status = SessionRinging
			ch.Session = &sess
		}
		return ch, []delivery{participantDelivery(sess.CallerID, events.CallRinging, callID, userID, now)}, nil
	})
}

// JoinCall moves an invited participant to JOINED and the session to ACTIVE.
// The user must hold a live connection; this is checked under the call lock
// so a concurrent disconnect either sees the JOINED row or makes the join fail.
func (s *Service) JoinCall(ctx context.Context, callID, userID string) error {
	return s.withCall(ctx, callID, func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error) {
		if !sess.Status.Joinable() {
			return Change{}, nil, ErrInvalidState
		}
		p, ok := find(rows, userID)
		if !ok {
			return Change{}, nil, ErrInvalidState
		}
		if p.Status == ParticipantJoined {
			return Change{}, nil, nil
		}
		if !CanTransitionParticipant(p.Status, ParticipantJoined) {
			return Change{}, nil, ErrInvalidState
		}
		if s.presence != nil && !s.presence.IsOnline(userID) {
			return Change{}, nil, ErrNotConnected
		}

		p.Status = ParticipantJoined
		p.JoinedAt = &now
		sess.Status = SessionActive

		var ds []delivery
		for _, o := range others(rows, userID) {
			ds = append(ds, participantDelivery(o, events.UserJoined, callID, userID, now))
		}
		return Change{Session: &sess, Participants: []CallParticipant{p}}, ds, nil
	})
}

// LeaveCall marks the participant LEFT. When at most one JOINED participant
// remains the session ends and that participant is marked LEFT too.
func (s *Service) LeaveCall(ctx context.Context, callID, userID string) error {
	return s.withCall(ctx, callID, func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error) {
		return leave(sess, rows, userID, now)
	})
}

// RejectCall declines an invitation. Only the caller is told.
func (s *Service) RejectCall(ctx context.Context, callID, userID string) error {
	return s.withCall(ctx, callID, func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error) {
		p, ok := find(rows, userID)
		if !ok || sess.Status == SessionEnded || !CanTransitionParticipant(p.Status, ParticipantRejected) {
			return Change{}, nil, ErrInvalidState
		}
		p.Status = ParticipantRejected
		return Change{Participants: []CallParticipant{p}},
			[]delivery{participantDelivery(sess.CallerID, events.CallRejected, callID, userID, now)},
			nil
	})
}

// EndCall ends the call for everyone. Only the caller or an admin of the
// call's room may do this.
func (s *Service) EndCall(ctx context.Context, callID, userID string) error {
	sess, err := s.repo.GetSession(ctx, callID)
	if err != nil {
		return err
	}
	if err := s.authorizeEnd(ctx, sess, userID); err != nil {
		return err
	}

	err = s.withCall(ctx, callID, func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error) {
		if sess.Status == SessionEnded {
			return Change{}, nil, ErrInvalidState
		}
		recipients := others(rows, userID)
		end(&sess, now)

		ch := Change{Session: &sess}
		for _, p := range rows {
			if p.Status == ParticipantJoined {
				p.Status = ParticipantLeft
				p.LeftAt = &now
				ch.Participants = append(ch.Participants, p)
			}
		}
		return ch, endedDeliveries(recipients, sess, userID, now), nil
	})
	if err != nil {
		return err
	}

	if userID != sess.CallerID && s.audit != nil {
		if aerr := s.audit.LogForcedEnd(ctx, userID, callID, sess.RoomID, sess.CallerID); aerr != nil {
			s.log.Warn("audit append failed", "call_id", callID, "err", aerr)
		}
	}
	return nil
}

func (s *Service) authorizeEnd(ctx context.Context, sess CallSession, userID string) error {
	if userID != "" && userID == sess.CallerID {
		return nil
	}
	if sess.RoomID == "" || userID == "" {
		return ErrNotPermitted
	}
	ok, err := s.dir.IsRoomAdmin(ctx, sess.RoomID, userID)
	if err != nil {
		return fmt.Errorf("room admin lookup: %w", err)
	}
	if !ok {
		return ErrNotPermitted
	}
	return nil
}

// HandleDisconnect leaves every call in which userID is still JOINED.
// It is registered as a connection-registry disconnect hook.
func (s *Service) HandleDisconnect(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	active, err := s.repo.ListForUser(ctx, userID, ListQuery{ActiveOnly: true})
	if err != nil {
		s.log.Error("disconnect cleanup: list calls failed", "user_id", userID, "err", err)
		return
	}
	for _, c := range active {
		err := s.withCall(ctx, c.ID, func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error) {
			// reconnected before cleanup got the lock
			if s.presence != nil && s.presence.IsOnline(userID) {
				return Change{}, nil, nil
			}
			if p, ok := find(rows, userID); !ok || p.Status != ParticipantJoined || sess.Status == SessionEnded {
				return Change{}, nil, nil
			}
			return leave(sess, rows, userID, now)
		})
		if err != nil {
			s.log.Error("disconnect cleanup: leave failed", "user_id", userID, "call_id", c.ID, "err", err)
		}
	}
}

// Call returns a session and its roster.
func (s *Service) Call(ctx context.Context, callID string) (CallSession, []CallParticipant, error) {
	sess, err := s.repo.GetSession(ctx, callID)
	if err != nil {
		return CallSession{}, nil, err
	}
	rows, err := s.repo.ListParticipants(ctx, callID)
	if err != nil {
		return CallSession{}, nil, err
	}
	return sess, rows, nil
}

// ActiveCalls lists non-ended calls where userID is still invited or joined.
func (s *Service) ActiveCalls(ctx context.Context, userID string) ([]CallView, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	sessions, err := s.repo.ListForUser(ctx, userID, ListQuery{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, sessions)
}

// CallHistory lists the newest calls userID took part in.
func (s *Service) CallHistory(ctx context.Context, userID string, limit int) ([]CallView, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sessions, err := s.repo.ListForUser(ctx, userID, ListQuery{Limit: limit})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, sessions)
}

func (s *Service) views(ctx context.Context, sessions []CallSession) ([]CallView, error) {
	out := make([]CallView, 0, len(sessions))
	seen := make(map[string]struct{})
	var ids []string
	for _, sess := range sessions {
		rows, err := s.repo.ListParticipants(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		v := CallView{CallSession: sess, Participants: make([]ParticipantView, 0, len(rows))}
		for _, p := range rows {
			v.Participants = append(v.Participants, ParticipantView{CallParticipant: p})
			if _, ok := seen[p.UserID]; !ok {
				seen[p.UserID] = struct{}{}
				ids = append(ids, p.UserID)
			}
		}
		out = append(out, v)
	}

	profiles, err := s.dir.Profiles(ctx, ids)
	if err != nil {
		// names are cosmetic; keep the listing
		s.log.Warn("profile lookup failed", "err", err)
		return out, nil
	}
	for i := range out {
		if p, ok := profiles[out[i].CallerID]; ok {
			out[i].CallerName = p.Name()
		}
		for j := range out[i].Participants {
			if p, ok := profiles[out[i].Participants[j].UserID]; ok {
				out[i].Participants[j].Username = p.Username
				out[i].Participants[j].DisplayName = p.DisplayName
			}
		}
	}
	return out, nil
}

type transition func(sess CallSession, rows []CallParticipant, now time.Time) (Change, []delivery, error)

func (s *Service) withCall(ctx context.Context, callID string, fn transition) error {
	if callID == "" {
		return ErrInvalidArgument
	}
	mu := s.lockFor(callID)
	mu.Lock()

	ds, err := s.applyLocked(ctx, callID, fn)
	mu.Unlock()

	if err != nil {
		return err
	}
	s.dispatch(ds)
	return nil
}

func (s *Service) applyLocked(ctx context.Context, callID string, fn transition) ([]delivery, error) {
	sess, err := s.repo.GetSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}

	ch, ds, err := fn(sess, rows, s.clock().UTC())
	if err != nil {
		return nil, err
	}
	if ch.Session == nil && len(ch.Participants) == 0 {
		return ds, nil
	}
	if ch.Session != nil && !CanTransitionSession(sess.Status, ch.Session.Status) {
		return nil, ErrInvalidState
	}
	if err := s.repo.Apply(ctx, ch); err != nil {
		return nil, err
	}
	if ch.Session != nil && ch.Session.Status != sess.Status {
		s.log.Info("call status changed", "call_id", callID, "from", sess.Status, "to", ch.Session.Status)
	}
	return ds, nil
}

// dispatch sends each event live when possible and always records a notification.
func (s *Service) dispatch(ds []delivery) {
	for _, d := range ds {
		delivered := false
		if s.presence != nil {
			delivered = s.presence.SendPersonal(d.to, d.event)
		}
		if s.notifier != nil {
			s.notifier.Enqueue(notify.Notification{
				UserID:    d.to,
				Type:      d.typ,
				CallID:    d.callID,
				ActorID:   d.actor,
				Delivered: delivered,
			})
		}
	}
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	profiles, err := s.dir.Profiles(ctx, []string{userID})
	if err != nil {
		s.log.Warn("profile lookup failed", "user_id", userID, "err", err)
		return userID
	}
	if p, ok := profiles[userID]; ok {
		return p.Name()
	}
	return userID
}

func leave(sess CallSession, rows []CallParticipant, userID string, now time.Time) (Change, []delivery, error) {
	p, ok := find(rows, userID)
	if !ok || sess.Status == SessionEnded || !CanTransitionParticipant(p.Status, ParticipantLeft) {
		return Change{}, nil, ErrInvalidState
	}
	p.Status = ParticipantLeft
	p.LeftAt = &now
	ch := Change{Participants: []CallParticipant{p}}

	recipients := others(rows, userID)
	var ds []delivery
	for _, o := range recipients {
		ds = append(ds, participantDelivery(o, events.UserLeft, sess.ID, userID, now))
	}

	var stillJoined []CallParticipant
	for _, r := range rows {
		if r.UserID != userID && r.Status == ParticipantJoined {
			stillJoined = append(stillJoined, r)
		}
	}
	if len(stillJoined) > 1 {
		return ch, ds, nil
	}

	end(&sess, now)
	ch.Session = &sess
	for _, r := range stillJoined {
		r.Status = ParticipantLeft
		r.LeftAt = &now
		ch.Participants = append(ch.Participants, r)
	}
	return ch, append(ds, endedDeliveries(recipients, sess, userID, now)...), nil
}

func end(sess *CallSession, now time.Time) {
	sess.Status = SessionEnded
	sess.EndedAt = &now
	sess.DurationSeconds = int(now.Sub(sess.StartedAt) / time.Second)
	if sess.DurationSeconds < 0 {
		sess.DurationSeconds = 0
	}
}

func endedDeliveries(recipients []string, sess CallSession, endedBy string, now time.Time) []delivery {
	ds := make([]delivery, 0, len(recipients))
	for _, uid := range recipients {
		ds = append(ds, delivery{
			to:     uid,
			typ:    events.CallEnded,
			callID: sess.ID,
			actor:  endedBy,
			event: EndedEvent{
				Envelope:        events.NewEnvelope(events.CallEnded, now),
				CallID:          sess.ID,
				EndedBy:         endedBy,
				DurationSeconds: sess.DurationSeconds,
			},
		})
	}
	return ds
}

func participantDelivery(to string, typ events.Type, callID, userID string, now time.Time) delivery {
	return delivery{
		to:     to,
		typ:    typ,
		callID: callID,
		actor:  userID,
		event: ParticipantEvent{
			Envelope: events.NewEnvelope(typ, now),
			CallID:   callID,
			UserID:   userID,
		},
	}
}

func find(rows []CallParticipant, userID string) (CallParticipant, bool) {
	for _, p := range rows {
		if p.UserID == userID {
			return p, true
		}
	}
	return CallParticipant{}, false
}

// others returns the current (invited or joined) participants except userID.
func others(rows []CallParticipant, userID string) []string {
	var out []string
	for _, p := range rows {
		if p.UserID != userID && p.Status.Current() {
			out = append(out, p.UserID)
		}
	}
	return out
}

func dedupe(ids []string, exclude string) []string {
	seen := map[string]struct{}{exclude: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
