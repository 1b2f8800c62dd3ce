package domain

import "fmt"

// Filter selects records by attribute equality and inclusive numeric ranges.
// The zero Filter matches every record.
type Filter struct {
	Equals map[string]any
	Min    map[string]float64
	Max    map[string]float64
}

// Where returns a filter with a single equality constraint.
func Where(field string, value any) Filter {
	return Filter{}.Eq(field, value)
}

// Eq returns a copy of f with an added equality constraint.
func (f Filter) Eq(field string, value any) Filter {
	out := f.clone()
	if out.Equals == nil {
		out.Equals = map[string]any{}
	}
	out.Equals[field] = value
	return out
}

// AtLeast returns a copy of f requiring field >= v.
func (f Filter) AtLeast(field string, v float64) Filter {
	out := f.clone()
	if out.Min == nil {
		out.Min = map[string]float64{}
	}
	out.Min[field] = v
	return out
}

// AtMost returns a copy of f requiring field <= v.
func (f Filter) AtMost(field string, v float64) Filter {
	out := f.clone()
	if out.Max == nil {
		out.Max = map[string]float64{}
	}
	out.Max[field] = v
	return out
}

// Between returns a copy of f requiring lo <= field <= hi.
func (f Filter) Between(field string, lo, hi float64) Filter {
	return f.AtLeast(field, lo).AtMost(field, hi)
}

// Empty reports whether the filter has no constraints.
func (f Filter) Empty() bool {
	return len(f.Equals) == 0 && len(f.Min) == 0 && len(f.Max) == 0
}

// Validate checks that every constrained field exists on the schema and that
// range constraints only target numeric fields. Equality values are
// normalized to the field's type.
func (f Filter) Validate(s Schema) (Filter, error) {
	out := Filter{}
	for name, v := range f.Equals {
		field, ok := s.Field(name)
		if !ok {
			return Filter{}, ValidationError{Kind: s.Kind, Field: name, Reason: "is not a known attribute"}
		}
		if v == nil {
			out = out.Eq(name, nil)
			continue
		}
		if field.Type == TypeFloat {
			n, ok := toFloat64(v)
			if !ok {
				return Filter{}, ValidationError{Kind: s.Kind, Field: name, Reason: fmt.Sprintf("must be a number, got %T", v)}
			}
			out = out.Eq(name, n)
			continue
		}
		norm, err := s.check(Field{Name: field.Name, Type: field.Type}, v)
		if err != nil {
			return Filter{}, err
		}
		out = out.Eq(name, norm)
	}
	for _, bounds := range []map[string]float64{f.Min, f.Max} {
		for name := range bounds {
			field, ok := s.Field(name)
			if !ok {
				return Filter{}, ValidationError{Kind: s.Kind, Field: name, Reason: "is not a known attribute"}
			}
			if field.Type != TypeInt && field.Type != TypeFloat {
				return Filter{}, ValidationError{Kind: s.Kind, Field: name, Reason: fmt.Sprintf("range filters need a numeric attribute, %s is %s", name, field.Type)}
			}
		}
	}
	for name, v := range f.Min {
		out = out.AtLeast(name, v)
	}
	for name, v := range f.Max {
		out = out.AtMost(name, v)
	}
	return out, nil
}

// Matches reports whether attrs satisfy every constraint. A nil equality
// value matches an absent attribute.
func (f Filter) Matches(attrs Attributes) bool {
	for name, want := range f.Equals {
		got, ok := attrs[name]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	for name, lo := range f.Min {
		n, ok := toFloat64(attrs[name])
		if !ok || n < lo {
			return false
		}
	}
	for name, hi := range f.Max {
		n, ok := toFloat64(attrs[name])
		if !ok || n > hi {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if af, ok := toFloat64(a); ok {
		bf, ok := toFloat64(b)
		return ok && af == bf
	}
	return a == b
}

func (f Filter) clone() Filter {
	out := Filter{}
	if f.Equals != nil {
		out.Equals = make(map[string]any, len(f.Equals))
		for k, v := range f.Equals {
			out.Equals[k] = v
		}
	}
	if f.Min != nil {
		out.Min = make(map[string]float64, len(f.Min))
		for k, v := range f.Min {
			out.Min[k] = v
		}
	}
	if f.Max != nil {
		out.Max = make(map[string]float64, len(f.Max))
		for k, v := range f.Max {
			out.Max[k] = v
		}
	}
	return out
}
