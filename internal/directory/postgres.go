package directory

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: Postgres assumes the platform tables
// - users (id, username, display_name)
// - room_members (room_id, user_id, role)
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
SELECT id, username, COALESCE(display_name, '')
FROM users
WHERE id = ANY($1)
`
	rows, err := p.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pr Profile
		if err := rows.Scan(&pr.ID, &pr.Username, &pr.DisplayName); err != nil {
			return nil, err
		}
		out[pr.ID] = pr
	}
	return out, rows.Err()
}

func (p *Postgres) IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	const q = `
SELECT role
FROM room_members
WHERE room_id = $1 AND user_id = $2
`
	var role string
	if err := p.db.QueryRowContext(ctx, q, roomID, userID).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return IsAdminRole(role), nil
}

func (p *Postgres) RoomMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	const q = `
SELECT user_id
FROM room_members
WHERE room_id = $1
ORDER BY user_id
`
	rows, err := p.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
