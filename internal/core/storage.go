package core

import (
	"context"
	"fmt"

	"wildtrack/internal/infra/persistence/memory"
	"wildtrack/internal/infra/persistence/postgres"
	"wildtrack/internal/infra/persistence/sqlite"
	"wildtrack/pkg/domain"
)

// StorageDriver identifies a concrete persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// DefaultSQLitePath is the database file used when none is configured.
const DefaultSQLitePath = sqlite.DefaultPath

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenBackend opens the configured backend. Defaults to sqlite when the
// driver is unset.
func OpenBackend(ctx context.Context, cfg StorageConfig) (domain.Backend, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewBackend(), nil
	case StorageSQLite:
		return sqlite.NewBackend(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewBackend(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenService opens the configured backend and a service over it.
func OpenService(ctx context.Context, cfg StorageConfig, opts ...Option) (*Service, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := NewService(ctx, backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return svc, nil
}
