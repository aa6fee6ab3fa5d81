package directory

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"

	"chat-platform/internal/sqltest"
)

func TestPostgres_ProfilesPassesIDsAsArray(t *testing.T) {
	ctx := context.Background()
	db, fake := sqltest.Open()
	defer db.Close()
	p := NewPostgres(db)

	fake.On("FROM users", sqltest.Result{
		Columns: []string{"id", "username", "display_name"},
		Rows: [][]driver.Value{
			{"A", "alice", "Alice"},
			{"B", "bob", ""},
		},
	})
	got, err := p.Profiles(ctx, []string{"A", "B", "ghost"})
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	if len(got) != 2 || got["A"].Name() != "Alice" || got["B"].Name() != "bob" {
		t.Fatalf("unexpected profiles %+v", got)
	}
	if _, ok := got["ghost"]; ok {
		t.Fatalf("unknown ids must be omitted")
	}

	q := fake.Find("FROM users")
	if len(q) != 1 {
		t.Fatalf("expected one query, got %d", len(q))
	}
	if ids, ok := q[0].Args[0].([]string); !ok || !reflect.DeepEqual(ids, []string{"A", "B", "ghost"}) {
		t.Fatalf("expected ids bound as []string for ANY($1), got %#v", q[0].Args[0])
	}

	if out, err := p.Profiles(ctx, nil); err != nil || len(out) != 0 {
		t.Fatalf("empty lookup: %v %v", out, err)
	}
	if len(fake.Find("FROM users")) != 1 {
		t.Fatalf("empty lookup must not hit the database")
	}
}

func TestPostgres_IsRoomAdmin(t *testing.T) {
	ctx := context.Background()
	db, fake := sqltest.Open()
	defer db.Close()
	p := NewPostgres(db)
	roleCols := []string{"role"}

	fake.On("SELECT role", sqltest.Result{Columns: roleCols, Rows: [][]driver.Value{{RoleOwner}}})
	if ok, err := p.IsRoomAdmin(ctx, "r1", "A"); err != nil || !ok {
		t.Fatalf("owner should be admin: %v %v", ok, err)
	}

	fake.On("SELECT role", sqltest.Result{Columns: roleCols, Rows: [][]driver.Value{{RoleMember}}})
	if ok, err := p.IsRoomAdmin(ctx, "r1", "B"); err != nil || ok {
		t.Fatalf("member must not be admin: %v %v", ok, err)
	}

	// no membership row
	if ok, err := p.IsRoomAdmin(ctx, "r1", "Z"); err != nil || ok {
		t.Fatalf("non-member: %v %v", ok, err)
	}

	boom := errors.New("conn reset")
	fake.On("SELECT role", sqltest.Result{Err: boom})
	if _, err := p.IsRoomAdmin(ctx, "r1", "A"); !errors.Is(err, boom) {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestPostgres_RoomMemberIDs(t *testing.T) {
	db, fake := sqltest.Open()
	defer db.Close()
	p := NewPostgres(db)

	fake.On("FROM room_members", sqltest.Result{
		Columns: []string{"user_id"},
		Rows:    [][]driver.Value{{"A"}, {"B"}},
	})
	ids, err := p.RoomMemberIDs(context.Background(), "r1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"A", "B"}) {
		t.Fatalf("unexpected members %v", ids)
	}
	if q := fake.Find("FROM room_members"); len(q) != 1 || q[0].Args[0] != "r1" {
		t.Fatalf("unexpected statements %+v", q)
	}
}
