package etl

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
)

// scriptedRows is one canned result set keyed off a query fragment.
type scriptedRows struct {
	columns []string
	values  [][]driver.Value
}

type scriptedResponse struct {
	match string
	rows  *scriptedRows
	err   error
}

// recordedCall is one statement the engine executed against the fake.
type recordedCall struct {
	query string
	args  []driver.Value
}

// fakeDB scripts responses by query substring and records every
// statement, transaction begin, commit and rollback it sees.
type fakeDB struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     []recordedCall
	events    []string
}

func (f *fakeDB) open() *sql.DB {
	return sql.OpenDB(fakeConnector{db: f})
}

func (f *fakeDB) respondRows(match string, columns []string, values ...[]driver.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, scriptedResponse{
		match: match,
		rows:  &scriptedRows{columns: columns, values: values},
	})
}

func (f *fakeDB) respondErr(match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, scriptedResponse{match: match, err: err})
}

func (f *fakeDB) lookup(query string) *scriptedResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.responses {
		if strings.Contains(query, f.responses[i].match) {
			return &f.responses[i]
		}
	}
	return nil
}

func (f *fakeDB) record(query string, args []driver.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{query: query, args: args})
}

func (f *fakeDB) event(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}

// callsMatching returns the recorded statements containing fragment.
func (f *fakeDB) callsMatching(fragment string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if strings.Contains(c.query, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDB) sawEvent(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == name {
			return true
		}
	}
	return false
}

// driver plumbing

type fakeConnector struct{ db *fakeDB }

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{db: c.db}, nil
}

func (c fakeConnector) Driver() driver.Driver { return fakeDriverStub{} }

type fakeDriverStub struct{}

func (fakeDriverStub) Open(string) (driver.Conn, error) {
	return nil, errors.New("open by name not supported")
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.db.event("begin")
	return &fakeTx{db: c.db}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.record(query, namedValues(args))
	if resp := c.db.lookup(query); resp != nil && resp.err != nil {
		return nil, resp.err
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.record(query, namedValues(args))
	resp := c.db.lookup(query)
	if resp == nil {
		return &fakeRows{}, nil
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &fakeRows{columns: resp.rows.columns, values: resp.rows.values}, nil
}

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Commit() error {
	t.db.event("commit")
	return nil
}

func (t *fakeTx) Rollback() error {
	t.db.event("rollback")
	return nil
}

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}

func namedValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}
