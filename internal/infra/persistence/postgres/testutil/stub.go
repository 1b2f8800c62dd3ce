// Package testutil provides a stub database/sql driver understanding the small
// statement set issued by the postgres backend.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// StubConn records statements and keeps table rows in memory.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailPing   bool
	FailExec   bool
	FailQuery  bool
	RowsErr    error
	FailTables map[string]bool
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored for table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	head := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(head, "INSERT INTO"):
		table, cols, conflict, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		if len(conflict) > 0 {
			kept := c.Tables[table][:0:0]
			for _, existing := range c.Tables[table] {
				if matchesAll(existing, row, conflict) {
					continue
				}
				kept = append(kept, existing)
			}
			c.Tables[table] = kept
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(head, "DELETE FROM"):
		table, preds, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		want, err := bindPredicates(preds, args)
		if err != nil {
			return nil, err
		}
		var kept []map[string]any
		var n int64
		for _, row := range c.Tables[table] {
			if matchesAll(row, want, preds.cols()) {
				n++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(n), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[sel.table] {
		return nil, fmt.Errorf("query fail for %s", sel.table)
	}
	want, err := bindPredicates(sel.where, args)
	if err != nil {
		return nil, err
	}
	var matched []map[string]any
	for _, row := range c.Tables[sel.table] {
		if matchesAll(row, want, sel.where.cols()) {
			matched = append(matched, row)
		}
	}
	if sel.orderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			a, _ := matched[i][sel.orderBy].(int64)
			b, _ := matched[j][sel.orderBy].(int64)
			return a < b
		})
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(sel.cols))
		for i, col := range sel.cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: sel.cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// predicate is a "col = $n" clause.
type predicate struct {
	col string
	arg int
}

type predicates []predicate

func (p predicates) cols() []string {
	out := make([]string, len(p))
	for i, pr := range p {
		out[i] = pr.col
	}
	return out
}

type selectStmt struct {
	table   string
	cols    []string
	where   predicates
	orderBy string
}

func bindPredicates(preds predicates, args []driver.NamedValue) (map[string]any, error) {
	out := make(map[string]any, len(preds))
	for _, p := range preds {
		if p.arg < 1 || p.arg > len(args) {
			return nil, fmt.Errorf("missing arg $%d", p.arg)
		}
		out[p.col] = args[p.arg-1].Value
	}
	return out, nil
}

func matchesAll(row, want map[string]any, cols []string) bool {
	for _, col := range cols {
		if !valuesEqual(row[col], want[col]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && bytes.Equal(ab, bb)
	}
	return a == b
}

func parseInsert(query string) (string, []string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	cols := splitColumns(rest[open+1 : closeIdx])
	var conflict []string
	if idx := strings.Index(up, "ON CONFLICT"); idx != -1 {
		tail := query[idx+len("ON CONFLICT"):]
		o := strings.Index(tail, "(")
		c := strings.Index(tail, ")")
		if o == -1 || c <= o {
			return "", nil, nil, fmt.Errorf("cannot parse conflict target: %s", query)
		}
		conflict = splitColumns(tail[o+1 : c])
	}
	return table, cols, conflict, nil
}

func parseDelete(query string) (string, predicates, error) {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	prefix := "delete from "
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	rest := trimmed[len(prefix):]
	whereIdx := strings.Index(strings.ToLower(rest), " where ")
	if whereIdx == -1 {
		return strings.ToLower(strings.TrimSpace(rest)), nil, nil
	}
	preds, err := parseWhere(rest[whereIdx+len(" where "):])
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(strings.TrimSpace(rest[:whereIdx])), preds, nil
}

func parseSelect(query string) (selectStmt, error) {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select ") {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	stmt := selectStmt{cols: splitColumns(trimmed[len("select "):fromIdx])}
	rest := trimmed[fromIdx+len(" from "):]
	if idx := strings.Index(strings.ToLower(rest), " order by "); idx != -1 {
		stmt.orderBy = strings.ToLower(strings.TrimSpace(rest[idx+len(" order by "):]))
		rest = rest[:idx]
	}
	if idx := strings.Index(strings.ToLower(rest), " where "); idx != -1 {
		preds, err := parseWhere(rest[idx+len(" where "):])
		if err != nil {
			return selectStmt{}, err
		}
		stmt.where = preds
		rest = rest[:idx]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	stmt.table = strings.ToLower(fields[0])
	return stmt, nil
}

func parseWhere(raw string) (predicates, error) {
	var out predicates
	for _, clause := range strings.Split(strings.ToLower(raw), " and ") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("cannot parse predicate: %s", clause)
		}
		ref := strings.TrimPrefix(strings.TrimSpace(parts[1]), "$")
		n, err := strconv.Atoi(ref)
		if err != nil {
			return nil, fmt.Errorf("unsupported predicate value: %s", clause)
		}
		out = append(out, predicate{col: strings.TrimSpace(parts[0]), arg: n})
	}
	return out, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
