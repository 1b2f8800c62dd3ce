// Package memory provides an in-process implementation of the persistence
// port used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"wildtrack/pkg/domain"
)

// Compile-time contract assertion ensuring Backend adheres to the domain persistence port.
var _ domain.Backend = (*Backend)(nil)

// Backend keeps records in per-kind buckets.
type Backend struct {
	mu      sync.RWMutex
	buckets map[domain.Kind]map[int64]domain.Entity
}

// NewBackend constructs an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{buckets: make(map[domain.Kind]map[int64]domain.Entity)}
}

// Put inserts or replaces a record.
func (b *Backend) Put(_ context.Context, kind domain.Kind, e domain.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.buckets[kind]
	if !ok {
		bucket = make(map[int64]domain.Entity)
		b.buckets[kind] = bucket
	}
	bucket[e.ID] = e.Clone()
	return nil
}

// Get returns a stored record.
func (b *Backend) Get(_ context.Context, kind domain.Kind, id int64) (domain.Entity, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.buckets[kind][id]
	if !ok {
		return domain.Entity{}, false, nil
	}
	return e.Clone(), true, nil
}

// Delete removes a stored record.
func (b *Backend) Delete(_ context.Context, kind domain.Kind, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets[kind], id)
	return nil
}

// Scan returns matching records ordered by Seq.
func (b *Backend) Scan(_ context.Context, kind domain.Kind, filter domain.Filter) ([]domain.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bucket := b.buckets[kind]
	out := make([]domain.Entity, 0, len(bucket))
	for _, e := range bucket {
		if !filter.Matches(e.Attributes) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
