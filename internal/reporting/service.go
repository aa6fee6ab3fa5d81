// Package reporting derives per-user call statistics from stored call records.
package reporting

import (
	"context"
	"errors"
	"fmt"

	"chat-platform/internal/calls"
)

var ErrInvalidRequest = fmt.Errorf("%w: reporting: invalid request", calls.ErrInvalidArgument)

// maxScan bounds how many of the user's newest calls one summary reads.
const maxScan = 1000

// Source is the read side of the call store.
type Source interface {
	ListForUser(ctx context.Context, userID string, q calls.ListQuery) ([]calls.CallSession, error)
	ListParticipants(ctx context.Context, callID string) ([]calls.CallParticipant, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	sessions, err := s.src.ListForUser(ctx, req.UserID, calls.ListQuery{Limit: maxScan})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range}
	answeredDuration := 0
	for _, sess := range sessions {
		if sess.StartedAt.Before(req.Range.From) || !sess.StartedAt.Before(req.Range.To) {
			continue
		}
		rows, err := s.src.ListParticipants(ctx, sess.ID)
		if err != nil {
			return CallsSummary{}, fmt.Errorf("participants of %s: %w", sess.ID, err)
		}

		out.TotalCalls++
		switch sess.CallType {
		case calls.CallTypeAudio:
			out.AudioCalls++
		case calls.CallTypeVideo:
			out.VideoCalls++
		}
		if sess.CallerID == req.UserID {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}

		switch outcome(sess, rows, req.UserID) {
		case outcomeInProgress:
			out.InProgressCalls++
		case outcomeRejected:
			out.RejectedCalls++
		case outcomeMissed:
			out.MissedCalls++
		case outcomeAnswered:
			out.AnsweredCalls++
			answeredDuration += sess.DurationSeconds
		}
	}
	out.TotalDurationSeconds = answeredDuration
	if out.AnsweredCalls > 0 {
		out.AverageDurationSeconds = answeredDuration / out.AnsweredCalls
	}
	// older calls may have been cut off by maxScan
	if len(sessions) == maxScan && sessions[len(sessions)-1].StartedAt.After(req.Range.From) {
		out.Truncated = true
	}
	return out, nil
}

type callOutcome int

const (
	outcomeInProgress callOutcome = iota
	outcomeAnswered
	outcomeMissed
	outcomeRejected
)

// outcome classifies a call from userID's point of view. A call is answered
// for userID when both they and at least one other participant joined.
func outcome(sess calls.CallSession, rows []calls.CallParticipant, userID string) callOutcome {
	if sess.Status != calls.SessionEnded {
		return outcomeInProgress
	}
	selfJoined, otherJoined := false, false
	for _, p := range rows {
		if p.UserID == userID {
			if p.Status == calls.ParticipantRejected {
				return outcomeRejected
			}
			selfJoined = p.JoinedAt != nil
			continue
		}
		if p.JoinedAt != nil {
			otherJoined = true
		}
	}
	if selfJoined && otherJoined {
		return outcomeAnswered
	}
	return outcomeMissed
}
