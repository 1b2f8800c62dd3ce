// Package postgres persists entity records to Postgres through the pgx
// database/sql driver, storing each record as a JSONB document.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"wildtrack/internal/infra/persistence/sqlbundle"
	"wildtrack/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring Backend adheres to the domain persistence port.
var _ domain.Backend = (*Backend)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/wildtrack?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Backend stores one row per record keyed by kind and id.
type Backend struct {
	db *sql.DB
}

// NewBackend opens a Postgres connection using dsn (falls back to DefaultDSN),
// verifies it and ensures the entities table exists.
func NewBackend(ctx context.Context, dsn string) (*Backend, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.Postgres()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure entities table: %w", err)
		}
	}
	return &Backend{db: db}, nil
}

// Put upserts the record.
func (b *Backend) Put(ctx context.Context, kind domain.Kind, e domain.Entity) error {
	data, err := domain.MarshalEntity(e)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", kind, e.ID, err)
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO entities(kind,id,seq,deleted,payload) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (kind,id) DO UPDATE SET seq = EXCLUDED.seq, deleted = EXCLUDED.deleted, payload = EXCLUDED.payload`,
		string(kind), e.ID, e.Seq, e.Deleted, data); err != nil {
		return fmt.Errorf("upsert %s %d: %w", kind, e.ID, err)
	}
	return nil
}

// Get loads a single record.
func (b *Backend) Get(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, bool, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM entities WHERE kind = $1 AND id = $2`, string(kind), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entity{}, false, nil
	}
	if err != nil {
		return domain.Entity{}, false, fmt.Errorf("select %s %d: %w", kind, id, err)
	}
	e, err := domain.UnmarshalEntity(payload)
	if err != nil {
		return domain.Entity{}, false, fmt.Errorf("decode %s %d: %w", kind, id, err)
	}
	return e, true, nil
}

// Delete removes a record. Missing records are ignored.
func (b *Backend) Delete(ctx context.Context, kind domain.Kind, id int64) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM entities WHERE kind = $1 AND id = $2`, string(kind), id); err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	return nil
}

// Scan returns the records of kind matching filter ordered by insertion sequence.
func (b *Backend) Scan(ctx context.Context, kind domain.Kind, filter domain.Filter) ([]domain.Entity, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT payload FROM entities WHERE kind = $1 ORDER BY seq`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Entity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e, err := domain.UnmarshalEntity(payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if filter.Matches(e.Attributes) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

// Close releases the connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *Backend) DB() *sql.DB { return b.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
