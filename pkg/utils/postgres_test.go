package utils

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

type failingBeginner struct{ err error }

func (f failingBeginner) BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error) {
	return nil, f.err
}

func TestWithTx_ReturnsBeginError(t *testing.T) {
	want := errors.New("begin failed")
	called := false
	err := WithTx(context.Background(), failingBeginner{err: want}, nil, func(context.Context, *sql.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected begin error, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run when BeginTx fails")
	}
}

func TestWithTx_NilDB(t *testing.T) {
	if err := WithTx(context.Background(), nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestPostgresPoolDefaults(t *testing.T) {
	p := PostgresPoolConfig{MaxOpenConns: 10}.withDefaults()
	if p.MaxIdleConns != 10 {
		t.Fatalf("expected idle conns to follow max open, got %d", p.MaxIdleConns)
	}
	if p.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout %v", p.PingTimeout)
	}
}
