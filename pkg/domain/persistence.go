package domain

import "context"

// Backend is the persistence collaborator a registry delegates durable
// storage to. Records are bucketed by kind.
type Backend interface {
	// Put inserts or replaces the record stored under (kind, e.ID).
	Put(ctx context.Context, kind Kind, e Entity) error
	// Get returns the stored record, soft-deleted ones included.
	Get(ctx context.Context, kind Kind, id int64) (Entity, bool, error)
	// Delete physically removes the record. Missing records are not an error.
	Delete(ctx context.Context, kind Kind, id int64) error
	// Scan returns the records of kind matching filter ordered by Seq,
	// soft-deleted ones included.
	Scan(ctx context.Context, kind Kind, filter Filter) ([]Entity, error)
	// Close releases backend resources.
	Close() error
}
