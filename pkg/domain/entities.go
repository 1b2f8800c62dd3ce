// Package domain defines the tracked entity records, their kind schemas, the
// persistence port and rule evaluation primitives used by wildtrack.
package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Kind identifies the type of record held by a registry.
type Kind string

// Supported entity kinds used by registries, persistence buckets and rules.
const (
	// KindAnimal identifies an individual tracked animal.
	KindAnimal Kind = "animal"
	// KindHabitat identifies a habitat an animal can be assigned to.
	KindHabitat Kind = "habitat"
	// KindMigrationPath identifies a route between two habitats.
	KindMigrationPath Kind = "migration_path"
	// KindMigration identifies a scheduled or running migration.
	KindMigration Kind = "migration"
	// KindMeal identifies a meal in the catalog.
	KindMeal Kind = "meal"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindAnimal, KindHabitat, KindMigrationPath, KindMigration, KindMeal}
}

// Base contains the bookkeeping fields shared by all records.
type Base struct {
	ID        int64     `json:"id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is a uniquely identified record of one kind. Attributes hold the
// kind-specific fields declared by the kind's Schema.
type Entity struct {
	Base
	Kind       Kind       `json:"kind"`
	Attributes Attributes `json:"attributes"`
	Deleted    bool       `json:"deleted,omitempty"`
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	e.Attributes = e.Attributes.Clone()
	return e
}

// Details flattens the entity into a single map including its id, matching
// the "get details" views exposed by the managers.
func (e Entity) Details() map[string]any {
	out := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		out[k] = v
	}
	out["id"] = e.ID
	return out
}

// Attributes maps field names to normalized values (string, int64, float64).
type Attributes map[string]any

// Clone returns a shallow copy of the attribute map. Values are scalars so a
// shallow copy is a full copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the named attribute when it holds a string.
func (a Attributes) String(name string) (string, bool) {
	v, ok := a[name].(string)
	return v, ok
}

// Int returns the named attribute when it holds an integer.
func (a Attributes) Int(name string) (int64, bool) {
	v, ok := a[name].(int64)
	return v, ok
}

// Float returns the named attribute when it holds a float.
func (a Attributes) Float(name string) (float64, bool) {
	v, ok := a[name].(float64)
	return v, ok
}

// MarshalEntity encodes an entity for persistence buckets.
func MarshalEntity(e Entity) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntity decodes a persisted entity and restores canonical
// attribute types using the kind schema (JSON numbers lose int/float identity).
func UnmarshalEntity(data []byte) (Entity, error) {
	var raw struct {
		Base
		Kind       Kind                       `json:"kind"`
		Attributes map[string]json.RawMessage `json:"attributes"`
		Deleted    bool                       `json:"deleted"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entity{}, err
	}
	schema, err := SchemaFor(raw.Kind)
	if err != nil {
		return Entity{}, err
	}
	attrs, err := schema.decode(raw.Attributes)
	if err != nil {
		return Entity{}, err
	}
	return Entity{Base: raw.Base, Kind: raw.Kind, Attributes: attrs, Deleted: raw.Deleted}, nil
}
