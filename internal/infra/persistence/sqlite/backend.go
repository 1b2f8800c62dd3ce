// Package sqlite persists entity records to a local SQLite database using the
// pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"wildtrack/internal/infra/persistence/sqlbundle"
	"wildtrack/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring Backend adheres to the domain persistence port.
var _ domain.Backend = (*Backend)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "wildtrack.db"

// Backend stores one row per record, keyed by kind and id, with the encoded
// entity kept as a JSON blob.
type Backend struct {
	db   *sql.DB
	path string
}

// NewBackend opens (creating when absent) the database at path.
func NewBackend(path string) (*Backend, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serialises writers and keeps :memory: databases coherent
	db.SetMaxOpenConns(1)
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.SQLite()) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure entities table: %w", err)
		}
	}
	return &Backend{db: db, path: path}, nil
}

// Put upserts the record.
func (b *Backend) Put(ctx context.Context, kind domain.Kind, e domain.Entity) error {
	data, err := domain.MarshalEntity(e)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", kind, e.ID, err)
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO entities(kind,id,seq,deleted,payload) VALUES(?,?,?,?,?)
		ON CONFLICT(kind,id) DO UPDATE SET seq=excluded.seq, deleted=excluded.deleted, payload=excluded.payload`,
		string(kind), e.ID, e.Seq, e.Deleted, data); err != nil {
		return fmt.Errorf("upsert %s %d: %w", kind, e.ID, err)
	}
	return nil
}

// Get loads a single record.
func (b *Backend) Get(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, bool, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM entities WHERE kind = ? AND id = ?`, string(kind), id).Scan(&payload)
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
	if _, err := b.db.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	return nil
}

// Scan returns the records of kind matching filter ordered by insertion sequence.
func (b *Backend) Scan(ctx context.Context, kind domain.Kind, filter domain.Filter) ([]domain.Entity, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT payload FROM entities WHERE kind = ? ORDER BY seq`, string(kind))
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

// Close releases the database handle.
func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (b *Backend) DB() *sql.DB { return b.db }

// Path returns the configured database path.
func (b *Backend) Path() string { return b.path }
