// Package sqltest is an in-memory database/sql driver for repository tests.
// It does not parse SQL: statements are matched by substring against canned
// results, and every statement is recorded with its arguments.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
)

// Result is the canned outcome of one statement.
type Result struct {
	Columns      []string
	Rows         [][]driver.Value
	RowsAffected int64
	Err          error
}

// Call is one recorded statement. Transaction ends are recorded as
// "COMMIT" and "ROLLBACK".
type Call struct {
	Query string
	Args  []any
}

type expectation struct {
	match string
	res   Result
}

// Fake holds the canned results and the statement log of one *sql.DB.
type Fake struct {
	mu       sync.Mutex
	expected []expectation
	calls    []Call
}

// Open returns a *sql.DB backed by a new Fake. It holds a single connection
// so statements are logged in execution order.
func Open() (*sql.DB, *Fake) {
	f := &Fake{}
	db := sql.OpenDB(connector{f: f})
	db.SetMaxOpenConns(1)
	return db, f
}

// On queues res for the next statement containing match. Results are used
// once, in the order they were queued. Unmatched queries return no rows and
// unmatched execs report one affected row.
func (f *Fake) On(match string, res Result) {
	f.mu.Lock()
	f.expected = append(f.expected, expectation{match: match, res: res})
	f.mu.Unlock()
}

// Calls returns the statement log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Find returns the recorded statements containing match.
func (f *Fake) Find(match string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.Contains(c.Query, match) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(query string, args []driver.NamedValue) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	f.calls = append(f.calls, Call{Query: query, Args: vals})

	for i, e := range f.expected {
		if strings.Contains(query, e.match) {
			f.expected = append(f.expected[:i], f.expected[i+1:]...)
			return e.res
		}
	}
	return Result{RowsAffected: 1}
}

type connector struct{ f *Fake }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &conn{f: c.f}, nil }

func (c connector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("sqltest: use Open")
}

type conn struct{ f *Fake }

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("sqltest: prepared statements are not supported")
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) { return tx{f: c.f}, nil }

// CheckNamedValue passes every argument through unchanged, the way the pgx
// stdlib driver hands slices and custom types to pgx.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res := c.f.record(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return driver.RowsAffected(res.RowsAffected), nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	res := c.f.record(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{cols: res.Columns, data: res.Rows}, nil
}

type tx struct{ f *Fake }

func (t tx) Commit() error {
	t.f.record("COMMIT", nil)
	return nil
}

func (t tx) Rollback() error {
	t.f.record("ROLLBACK", nil)
	return nil
}

type rows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *rows) Columns() []string { return r.cols }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}
