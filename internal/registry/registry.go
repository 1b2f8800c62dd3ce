// Package registry provides the authoritative in-memory store mapping entity
// ids to records for one entity kind, optionally writing through to a
// persistence backend.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"wildtrack/pkg/domain"
)

// Registry owns the records of a single kind. All operations are atomic with
// respect to each other; readers never observe a partially applied mutation.
type Registry struct {
	mu      sync.RWMutex
	kind    domain.Kind
	schema  domain.Schema
	records map[int64]domain.Entity
	order   []int64
	nextID  int64
	seq     int64
	indexes map[string]*index
	backend domain.Backend
	nowFn   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackend makes the registry write every mutation through to b.
func WithBackend(b domain.Backend) Option {
	return func(r *Registry) { r.backend = b }
}

// WithIndex maintains equality indexes on the given attributes.
func WithIndex(fields ...string) Option {
	return func(r *Registry) {
		for _, f := range fields {
			r.indexes[f] = newIndex(f)
		}
	}
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.nowFn = now
		}
	}
}

// New constructs an empty registry for kind.
func New(kind domain.Kind, opts ...Option) (*Registry, error) {
	schema, err := domain.SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		kind:    kind,
		schema:  schema,
		records: make(map[int64]domain.Entity),
		nextID:  1,
		indexes: make(map[string]*index),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, f := range schema.Unique {
		r.indexes[f] = newIndex(f)
	}
	for _, opt := range opts {
		opt(r)
	}
	for name := range r.indexes {
		if _, ok := schema.Field(name); !ok {
			return nil, domain.ValidationError{Kind: kind, Field: name, Reason: "cannot be indexed: not a known attribute"}
		}
	}
	return r, nil
}

// Open constructs a registry and hydrates it from the configured backend.
func Open(ctx context.Context, kind domain.Kind, opts ...Option) (*Registry, error) {
	r, err := New(kind, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Kind returns the kind of record held.
func (r *Registry) Kind() domain.Kind { return r.kind }

// Schema returns the attribute schema enforced by the registry.
func (r *Registry) Schema() domain.Schema { return r.schema }

// Load replaces in-memory state with the records stored in the backend.
func (r *Registry) Load(ctx context.Context) error {
	if r.backend == nil {
		return nil
	}
	records, err := r.backend.Scan(ctx, r.kind, domain.Filter{})
	if err != nil {
		return fmt.Errorf("load %s: %w", r.kind, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset(records)
	return nil
}

// Create validates attrs, assigns an id and stores the record. An explicit
// id may be supplied through the "id" attribute.
func (r *Registry) Create(ctx context.Context, attrs domain.Attributes) (int64, error) {
	change, err := r.CreateTracked(ctx, attrs)
	if err != nil {
		return 0, err
	}
	return change.After.ID, nil
}

// CreateWithID stores a record under a caller-chosen id.
func (r *Registry) CreateWithID(ctx context.Context, id int64, attrs domain.Attributes) error {
	withID := attrs.Clone()
	if withID == nil {
		withID = domain.Attributes{}
	}
	withID["id"] = id
	_, err := r.CreateTracked(ctx, withID)
	return err
}

// CreateTracked behaves like Create and returns the applied change.
func (r *Registry) CreateTracked(ctx context.Context, attrs domain.Attributes) (domain.Change, error) {
	input := attrs.Clone()
	var explicit int64
	if raw, ok := input["id"]; ok {
		id, err := parseID(r.kind, raw)
		if err != nil {
			return domain.Change{}, err
		}
		explicit = id
		delete(input, "id")
	}
	normalized, err := r.schema.ValidateCreate(input)
	if err != nil {
		return domain.Change{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevNext, prevSeq := r.nextID, r.seq
	id := explicit
	if id == 0 {
		id = r.allocateID()
	} else if _, exists := r.records[id]; exists {
		return domain.Change{}, domain.DuplicateKeyError{Kind: r.kind, ID: id}
	}
	if err := r.checkUnique(id, normalized); err != nil {
		r.nextID = prevNext
		return domain.Change{}, err
	}

	now := r.nowFn()
	r.seq++
	entity := domain.Entity{
		Base:       domain.Base{ID: id, Seq: r.seq, CreatedAt: now, UpdatedAt: now},
		Kind:       r.kind,
		Attributes: normalized,
	}
	if id >= r.nextID {
		r.nextID = id + 1
	}
	r.insert(entity)
	if err := r.persist(ctx, entity); err != nil {
		r.drop(id)
		r.nextID, r.seq = prevNext, prevSeq
		return domain.Change{}, err
	}
	after := entity.Clone()
	return domain.Change{Kind: r.kind, Action: domain.ActionCreate, After: &after}, nil
}

// Get returns a copy of the live record with id.
func (r *Registry) Get(id int64) (domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.live(id)
	if err != nil {
		return domain.Entity{}, err
	}
	return e.Clone(), nil
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.records {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// ListBy returns the live records matching filter in insertion order. The
// empty filter returns every live record.
func (r *Registry) ListBy(filter domain.Filter) ([]domain.Entity, error) {
	f, err := filter.Validate(r.schema)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := r.candidates(f)
	out := make([]domain.Entity, 0, len(candidates))
	for _, id := range candidates {
		e := r.records[id]
		if e.Deleted || !f.Matches(e.Attributes) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// Update applies a partial attribute set to a live record.
func (r *Registry) Update(ctx context.Context, id int64, patch domain.Attributes) error {
	_, err := r.UpdateTracked(ctx, id, patch)
	return err
}

// UpdateTracked behaves like Update and returns the applied change.
func (r *Registry) UpdateTracked(ctx context.Context, id int64, patch domain.Attributes) (domain.Change, error) {
	if _, ok := patch["id"]; ok {
		return domain.Change{}, domain.ValidationError{Kind: r.kind, Field: "id", Reason: "is immutable"}
	}
	normalized, err := r.schema.ValidatePatch(patch)
	if err != nil {
		return domain.Change{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.live(id)
	if err != nil {
		return domain.Change{}, err
	}
	next := current.Clone()
	for k, v := range normalized {
		if v == nil {
			delete(next.Attributes, k)
			continue
		}
		next.Attributes[k] = v
	}
	if err := r.checkUnique(id, next.Attributes); err != nil {
		return domain.Change{}, err
	}
	next.UpdatedAt = r.nowFn()
	r.replace(current, next)
	if err := r.persist(ctx, next); err != nil {
		r.replace(next, current)
		return domain.Change{}, err
	}
	before, after := current.Clone(), next.Clone()
	return domain.Change{Kind: r.kind, Action: domain.ActionUpdate, Before: &before, After: &after}, nil
}

// Remove soft-deletes a live record. Its id stays reserved.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	_, err := r.RemoveTracked(ctx, id)
	return err
}

// RemoveTracked behaves like Remove and returns the applied change.
func (r *Registry) RemoveTracked(ctx context.Context, id int64) (domain.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.live(id)
	if err != nil {
		return domain.Change{}, err
	}
	next := current.Clone()
	next.Deleted = true
	next.UpdatedAt = r.nowFn()
	r.replace(current, next)
	if err := r.persist(ctx, next); err != nil {
		r.replace(next, current)
		return domain.Change{}, err
	}
	before := current.Clone()
	return domain.Change{Kind: r.kind, Action: domain.ActionDelete, Before: &before}, nil
}

// Purge physically removes a record, live or soft-deleted, releasing its id.
func (r *Registry) Purge(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[id]
	if !ok {
		return domain.NotFoundError{Kind: r.kind, ID: id}
	}
	r.drop(id)
	if r.backend != nil {
		if err := r.backend.Delete(ctx, r.kind, id); err != nil {
			r.insert(current)
			return fmt.Errorf("purge %s %d: %w", r.kind, id, err)
		}
	}
	return nil
}

// Revert undoes a change previously returned by one of the tracked methods.
func (r *Registry) Revert(ctx context.Context, change domain.Change) error {
	if change.Kind != r.kind {
		return fmt.Errorf("revert: change for %s applied to %s registry", change.Kind, r.kind)
	}
	switch change.Action {
	case domain.ActionCreate:
		id := change.After.ID
		if err := r.Purge(ctx, id); err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		// Hand the id back when it was the most recent allocation.
		if r.nextID == id+1 {
			r.nextID = id
		}
		return nil
	case domain.ActionUpdate, domain.ActionDelete:
		r.mu.Lock()
		defer r.mu.Unlock()
		prev := change.Before.Clone()
		current, ok := r.records[prev.ID]
		if !ok {
			return domain.NotFoundError{Kind: r.kind, ID: prev.ID}
		}
		r.replace(current, prev)
		if err := r.persist(ctx, prev); err != nil {
			r.replace(prev, current)
			return err
		}
		return nil
	}
	return fmt.Errorf("revert: unknown action %q", change.Action)
}

// Snapshot returns a copy of every record, soft-deleted ones included, in
// insertion order.
func (r *Registry) Snapshot() []domain.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].Clone())
	}
	return out
}

// Restore replaces the registry content with records, writing them through
// to the backend and removing backend records absent from the snapshot.
func (r *Registry) Restore(ctx context.Context, records []domain.Entity) error {
	seen := make(map[int64]struct{}, len(records))
	for _, e := range records {
		if e.Kind != r.kind {
			return domain.ValidationError{Kind: r.kind, Reason: fmt.Sprintf("snapshot record %d has kind %s", e.ID, e.Kind)}
		}
		if _, dup := seen[e.ID]; dup {
			return domain.DuplicateKeyError{Kind: r.kind, ID: e.ID}
		}
		seen[e.ID] = struct{}{}
	}
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b domain.Entity) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backend != nil {
		if err := r.restoreBackend(ctx, sorted, seen); err != nil {
			return fmt.Errorf("restore %s: %w", r.kind, err)
		}
	}
	r.reset(sorted)
	return nil
}

// restoreBackend writes records before pruning so a failed write leaves the
// backend matching the in-memory state. Callers hold r.mu.
func (r *Registry) restoreBackend(ctx context.Context, records []domain.Entity, keep map[int64]struct{}) error {
	for i, e := range records {
		if err := r.backend.Put(ctx, r.kind, e); err != nil {
			r.undoBackend(ctx, records[:i])
			return err
		}
	}
	stored, err := r.backend.Scan(ctx, r.kind, domain.Filter{})
	if err != nil {
		r.undoBackend(ctx, records)
		return err
	}
	for _, e := range stored {
		if _, ok := keep[e.ID]; ok {
			continue
		}
		if err := r.backend.Delete(ctx, r.kind, e.ID); err != nil {
			r.undoBackend(ctx, records)
			return err
		}
	}
	return nil
}

// undoBackend drops written records the registry never held and rewrites the
// in-memory state. Best effort: the caller is already reporting an error.
func (r *Registry) undoBackend(ctx context.Context, written []domain.Entity) {
	for _, e := range written {
		if _, ok := r.records[e.ID]; !ok {
			_ = r.backend.Delete(ctx, r.kind, e.ID)
		}
	}
	for _, id := range r.order {
		_ = r.backend.Put(ctx, r.kind, r.records[id])
	}
}

// live returns the stored record when it exists and is not soft-deleted.
// Callers hold r.mu.
func (r *Registry) live(id int64) (domain.Entity, error) {
	e, ok := r.records[id]
	if !ok {
		return domain.Entity{}, domain.NotFoundError{Kind: r.kind, ID: id}
	}
	if e.Deleted {
		return domain.Entity{}, domain.NotFoundError{Kind: r.kind, ID: id, Deleted: true}
	}
	return e, nil
}

func (r *Registry) allocateID() int64 {
	for {
		id := r.nextID
		r.nextID++
		if _, taken := r.records[id]; !taken {
			return id
		}
	}
}

func (r *Registry) checkUnique(id int64, attrs domain.Attributes) error {
	for _, field := range r.schema.Unique {
		v, ok := attrs[field]
		if !ok {
			continue
		}
		for _, other := range r.indexes[field].lookup(v) {
			if other != id {
				return domain.DuplicateKeyError{Kind: r.kind, Field: field, Value: v}
			}
		}
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, e domain.Entity) error {
	if r.backend == nil {
		return nil
	}
	if err := r.backend.Put(ctx, r.kind, e); err != nil {
		return fmt.Errorf("persist %s %d: %w", r.kind, e.ID, err)
	}
	return nil
}

// insert appends a new record. Callers hold r.mu.
func (r *Registry) insert(e domain.Entity) {
	r.records[e.ID] = e
	pos, _ := slices.BinarySearchFunc(r.order, e.Seq, func(id int64, seq int64) int {
		return cmpInt(r.records[id].Seq, seq)
	})
	r.order = slices.Insert(r.order, pos, e.ID)
	if !e.Deleted {
		r.indexAdd(e)
	}
}

// drop removes a record entirely. Callers hold r.mu.
func (r *Registry) drop(id int64) {
	e, ok := r.records[id]
	if !ok {
		return
	}
	if !e.Deleted {
		r.indexRemove(e)
	}
	delete(r.records, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// replace swaps a stored record for a new version with the same id.
func (r *Registry) replace(prev, next domain.Entity) {
	if !prev.Deleted {
		r.indexRemove(prev)
	}
	r.records[next.ID] = next
	if !next.Deleted {
		r.indexAdd(next)
	}
}

func (r *Registry) reset(records []domain.Entity) {
	r.records = make(map[int64]domain.Entity, len(records))
	r.order = r.order[:0]
	for _, idx := range r.indexes {
		idx.clear()
	}
	r.nextID, r.seq = 1, 0
	for _, e := range records {
		e = e.Clone()
		r.records[e.ID] = e
		r.order = append(r.order, e.ID)
		if !e.Deleted {
			r.indexAdd(e)
		}
		if e.ID >= r.nextID {
			r.nextID = e.ID + 1
		}
		if e.Seq > r.seq {
			r.seq = e.Seq
		}
	}
}

func parseID(kind domain.Kind, raw any) (int64, error) {
	var id int64
	switch v := raw.(type) {
	case int:
		id = int64(v)
	case int32:
		id = int64(v)
	case int64:
		id = v
	default:
		return 0, domain.ValidationError{Kind: kind, Field: "id", Reason: fmt.Sprintf("must be an integer, got %T", raw)}
	}
	if id <= 0 {
		return 0, domain.ValidationError{Kind: kind, Field: "id", Reason: "must be > 0"}
	}
	return id, nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
