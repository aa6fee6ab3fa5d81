package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-platform/pkg/utils"
)

// NOTE: PostgresRepo assumes these tables exist:
//
//	call_sessions (
//	  id TEXT PRIMARY KEY, caller_id TEXT NOT NULL, call_type TEXT NOT NULL,
//	  status TEXT NOT NULL, room_id TEXT NULL, started_at TIMESTAMPTZ NOT NULL,
//	  ended_at TIMESTAMPTZ NULL, duration_seconds INT NOT NULL DEFAULT 0
//	)
//	call_participants (
//	  call_id TEXT REFERENCES call_sessions(id), user_id TEXT NOT NULL,
//	  status TEXT NOT NULL, joined_at TIMESTAMPTZ NULL, left_at TIMESTAMPTZ NULL,
//	  PRIMARY KEY (call_id, user_id)
//	)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateSession(ctx context.Context, s CallSession, participants []CallParticipant) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const qs = `
INSERT INTO call_sessions (id, caller_id, call_type, status, room_id, started_at, ended_at, duration_seconds)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
		if _, err := tx.ExecContext(ctx, qs,
			s.ID,
			s.CallerID,
			s.CallType,
			s.Status,
			nullString(s.RoomID),
			s.StartedAt,
			s.EndedAt,
			s.DurationSeconds,
		); err != nil {
			return fmt.Errorf("insert call session: %w", err)
		}

		const qp = `
INSERT INTO call_participants (call_id, user_id, status, joined_at, left_at)
VALUES ($1,$2,$3,$4,$5)
`
		for _, p := range participants {
			if _, err := tx.ExecContext(ctx, qp, p.CallID, p.UserID, p.Status, p.JoinedAt, p.LeftAt); err != nil {
				return fmt.Errorf("insert call participant: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) GetSession(ctx context.Context, callID string) (CallSession, error) {
	const q = `
SELECT id, caller_id, call_type, status, room_id, started_at, ended_at, duration_seconds
FROM call_sessions
WHERE id = $1
`
	return scanSession(r.db.QueryRowContext(ctx, q, callID))
}

func (r *PostgresRepo) ListParticipants(ctx context.Context, callID string) ([]CallParticipant, error) {
	const q = `
SELECT call_id, user_id, status, joined_at, left_at
FROM call_participants
WHERE call_id = $1
ORDER BY user_id
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallParticipant
	for rows.Next() {
		var p CallParticipant
		if err := rows.Scan(&p.CallID, &p.UserID, &p.Status, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *PostgresRepo) Apply(ctx context.Context, ch Change) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if s := ch.Session; s != nil {
			// ended rows are never rewritten
			const q = `
UPDATE call_sessions
SET status = $2, ended_at = $3, duration_seconds = $4
WHERE id = $1 AND status <> 'ended'
`
			if err := execOne(ctx, tx, q, s.ID, s.Status, s.EndedAt, s.DurationSeconds); err != nil {
				return fmt.Errorf("update call session: %w", err)
			}
		}

		const qp = `
UPDATE call_participants
SET status = $3, joined_at = $4, left_at = $5
WHERE call_id = $1 AND user_id = $2
`
		for _, p := range ch.Participants {
			if err := execOne(ctx, tx, qp, p.CallID, p.UserID, p.Status, p.JoinedAt, p.LeftAt); err != nil {
				return fmt.Errorf("update call participant: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) ListForUser(ctx context.Context, userID string, q ListQuery) ([]CallSession, error) {
	query := `
SELECT s.id, s.caller_id, s.call_type, s.status, s.room_id, s.started_at, s.ended_at, s.duration_seconds
FROM call_sessions s
JOIN call_participants p ON p.call_id = s.id
WHERE p.user_id = $1
`
	if q.ActiveOnly {
		query += "  AND s.status <> 'ended' AND p.status IN ('invited', 'joined')\n"
	}
	query += "ORDER BY s.started_at DESC, s.id\n"

	args := []any{userID}
	if q.Limit > 0 {
		query += "LIMIT $2\n"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var s CallSession
	var roomID sql.NullString
	if err := row.Scan(
		&s.ID,
		&s.CallerID,
		&s.CallType,
		&s.Status,
		&roomID,
		&s.StartedAt,
		&s.EndedAt,
		&s.DurationSeconds,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	s.RoomID = roomID.String
	return s, nil
}

func execOne(ctx context.Context, q utils.Querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
