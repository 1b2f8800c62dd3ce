package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FieldType enumerates the attribute value types a schema can declare.
type FieldType string

// Supported field types. Time values are stored as canonical strings.
const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeTime   FieldType = "time"
)

// Bound constrains numeric fields.
type Bound int

// Numeric bounds.
const (
	Unbounded Bound = iota
	NonNegative
	Positive
)

const dateLayout = "2006-01-02"

// Field declares one attribute of a kind.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Bound    Bound
	Enum     []string
	Default  any
}

// Schema declares the attribute set of a kind.
type Schema struct {
	Kind   Kind
	Fields []Field
	// Unique lists attributes whose values may not repeat across live records.
	Unique []string
}

// Migration statuses.
const (
	MigrationScheduled  = "scheduled"
	MigrationInProgress = "in_progress"
	MigrationCompleted  = "completed"
	MigrationCancelled  = "cancelled"
)

// Meal difficulties.
const (
	DifficultyLow  = "LOW"
	DifficultyMed  = "MED"
	DifficultyHigh = "HIGH"
)

var schemas = map[Kind]Schema{
	KindAnimal: {
		Kind: KindAnimal,
		Fields: []Field{
			{Name: "species", Type: TypeString, Required: true},
			{Name: "age", Type: TypeInt, Bound: NonNegative},
			{Name: "health_status", Type: TypeString},
			{Name: "habitat_id", Type: TypeInt, Bound: Positive},
		},
	},
	KindHabitat: {
		Kind: KindHabitat,
		Fields: []Field{
			{Name: "geographic_area", Type: TypeString, Required: true},
			{Name: "size", Type: TypeInt, Required: true, Bound: Positive},
			{Name: "environment_type", Type: TypeString, Required: true},
		},
	},
	KindMigrationPath: {
		Kind: KindMigrationPath,
		Fields: []Field{
			{Name: "species", Type: TypeString, Required: true},
			{Name: "start_location", Type: TypeInt, Required: true, Bound: Positive},
			{Name: "destination", Type: TypeInt, Required: true, Bound: Positive},
			{Name: "duration", Type: TypeInt, Bound: Positive},
		},
	},
	KindMigration: {
		Kind: KindMigration,
		Fields: []Field{
			{Name: "species", Type: TypeString, Required: true},
			{Name: "current_location", Type: TypeString, Required: true},
			{Name: "start_date", Type: TypeTime, Required: true},
			{Name: "status", Type: TypeString, Enum: []string{MigrationScheduled, MigrationInProgress, MigrationCompleted, MigrationCancelled}, Default: MigrationScheduled},
			{Name: "path_id", Type: TypeInt, Bound: Positive},
		},
	},
	KindMeal: {
		Kind: KindMeal,
		Fields: []Field{
			{Name: "meal", Type: TypeString, Required: true},
			{Name: "cuisine", Type: TypeString, Required: true},
			{Name: "price", Type: TypeFloat, Required: true, Bound: NonNegative},
			{Name: "difficulty", Type: TypeString, Required: true, Enum: []string{DifficultyLow, DifficultyMed, DifficultyHigh}},
			{Name: "battles", Type: TypeInt, Bound: NonNegative, Default: int64(0)},
			{Name: "wins", Type: TypeInt, Bound: NonNegative, Default: int64(0)},
		},
		Unique: []string{"meal"},
	},
}

// SchemaFor returns the schema registered for kind.
func SchemaFor(kind Kind) (Schema, error) {
	s, ok := schemas[kind]
	if !ok {
		return Schema{}, ValidationError{Kind: kind, Reason: "unknown entity kind"}
	}
	return s, nil
}

// ParseKind resolves a user supplied kind name.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if _, err := SchemaFor(k); err != nil {
		return "", err
	}
	return k, nil
}

// Field looks up a field declaration by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ValidateCreate checks a full attribute set and returns a normalized copy
// with defaults applied.
func (s Schema) ValidateCreate(attrs Attributes) (Attributes, error) {
	out := make(Attributes, len(s.Fields))
	for name, raw := range attrs {
		f, ok := s.Field(name)
		if !ok {
			return nil, ValidationError{Kind: s.Kind, Field: name, Reason: "is not a known attribute"}
		}
		if raw == nil {
			continue
		}
		v, err := s.check(f, raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; ok {
			continue
		}
		if f.Default != nil {
			out[f.Name] = f.Default
			continue
		}
		if f.Required {
			return nil, ValidationError{Kind: s.Kind, Field: f.Name, Reason: "is required"}
		}
	}
	return out, nil
}

// ValidatePatch checks a partial attribute set. A nil value clears an
// optional attribute; clearing a required one fails.
func (s Schema) ValidatePatch(patch Attributes) (Attributes, error) {
	if len(patch) == 0 {
		return nil, ValidationError{Kind: s.Kind, Reason: "no attributes to update"}
	}
	out := make(Attributes, len(patch))
	for name, raw := range patch {
		f, ok := s.Field(name)
		if !ok {
			return nil, ValidationError{Kind: s.Kind, Field: name, Reason: "is not a known attribute"}
		}
		if raw == nil {
			if f.Required {
				return nil, ValidationError{Kind: s.Kind, Field: name, Reason: "is required"}
			}
			out[name] = nil
			continue
		}
		v, err := s.check(f, raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Parse converts a textual value (CLI flags, query strings) into the field's type.
func (s Schema) Parse(name, raw string) (any, error) {
	f, ok := s.Field(name)
	if !ok {
		return nil, ValidationError{Kind: s.Kind, Field: name, Reason: "is not a known attribute"}
	}
	switch f.Type {
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, ValidationError{Kind: s.Kind, Field: name, Reason: fmt.Sprintf("must be an integer, got %q", raw)}
		}
		return n, nil
	case TypeFloat:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, ValidationError{Kind: s.Kind, Field: name, Reason: fmt.Sprintf("must be a float, got %q", raw)}
		}
		return n, nil
	default:
		return raw, nil
	}
}

func (s Schema) check(f Field, raw any) (any, error) {
	invalid := func(reason string) error {
		return ValidationError{Kind: s.Kind, Field: f.Name, Reason: reason}
	}
	switch f.Type {
	case TypeString:
		v, ok := raw.(string)
		if !ok {
			return nil, invalid(fmt.Sprintf("must be a string, got %T", raw))
		}
		if f.Required && strings.TrimSpace(v) == "" {
			return nil, invalid("must not be empty")
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, v) {
			return nil, invalid(fmt.Sprintf("must be one of %s, got %q", strings.Join(f.Enum, ", "), v))
		}
		return v, nil
	case TypeInt:
		v, ok := toInt64(raw)
		if !ok {
			return nil, invalid(fmt.Sprintf("must be an integer, got %T", raw))
		}
		if err := checkBound(f, float64(v)); err != "" {
			return nil, invalid(err)
		}
		return v, nil
	case TypeFloat:
		var v float64
		switch n := raw.(type) {
		case float64:
			v = n
		case float32:
			v = float64(n)
		default:
			return nil, invalid(fmt.Sprintf("must be a float, got %T", raw))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalid("must be a finite number")
		}
		if err := checkBound(f, v); err != "" {
			return nil, invalid(err)
		}
		return v, nil
	case TypeTime:
		v, err := canonicalTime(raw)
		if err != nil {
			return nil, invalid(err.Error())
		}
		return v, nil
	}
	return nil, invalid("has an unsupported type")
}

func checkBound(f Field, v float64) string {
	switch f.Bound {
	case NonNegative:
		if v < 0 {
			return "must be >= 0"
		}
	case Positive:
		if v <= 0 {
			return "must be > 0"
		}
	}
	return ""
}

func toInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

func toFloat64(raw any) (float64, bool) {
	if n, ok := toInt64(raw); ok {
		return float64(n), true
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// canonicalTime accepts time.Time, RFC 3339 timestamps and plain dates. Dates
// stay dates; timestamps are rendered in UTC.
func canonicalTime(raw any) (string, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		if t, err := time.Parse(dateLayout, v); err == nil {
			return t.Format(dateLayout), nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
		return "", fmt.Errorf("must be a date (YYYY-MM-DD) or RFC 3339 timestamp, got %q", v)
	}
	return "", fmt.Errorf("must be a date, got %T", raw)
}

// decode restores canonical attribute types from persisted JSON.
func (s Schema) decode(raw map[string]json.RawMessage) (Attributes, error) {
	out := make(Attributes, len(raw))
	for name, msg := range raw {
		f, ok := s.Field(name)
		if !ok {
			return nil, fmt.Errorf("decode %s: unknown attribute %q", s.Kind, name)
		}
		if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			continue
		}
		switch f.Type {
		case TypeInt:
			var n int64
			if err := json.Unmarshal(msg, &n); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", s.Kind, name, err)
			}
			out[name] = n
		case TypeFloat:
			var n float64
			if err := json.Unmarshal(msg, &n); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", s.Kind, name, err)
			}
			out[name] = n
		default:
			var str string
			if err := json.Unmarshal(msg, &str); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", s.Kind, name, err)
			}
			out[name] = str
		}
	}
	return out, nil
}
