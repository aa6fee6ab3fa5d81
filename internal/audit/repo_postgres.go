package audit

import (
	"context"
	"database/sql"
	"fmt"

	"chat-platform/pkg/utils"
)

// NOTE: PostgresRepo expects
//
//	CREATE TABLE audit_events (
//	  id              uuid PRIMARY KEY,
//	  type            text NOT NULL,
//	  actor_user_id   text NOT NULL,
//	  ip_address      text,
//	  call_id         text,
//	  room_id         text,
//	  subject_user_id text,
//	  message         text,
//	  created_at      timestamptz NOT NULL
//	);
//
// with UPDATE and DELETE revoked from the service role.
type PostgresRepo struct {
	db utils.Querier
}

func NewPostgresRepo(db utils.Querier) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, ip_address, call_id, room_id, subject_user_id, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.ActorUserID,
		nullable(e.IPAddress), nullable(e.CallID), nullable(e.RoomID), nullable(e.SubjectUserID),
		e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
