package domain

import (
	"errors"
	"testing"
)

func TestFilterMatches(t *testing.T) {
	attrs := Attributes{"geographic_area": "North", "size": int64(20), "environment_type": "forest"}
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"zero filter", Filter{}, true},
		{"equality", Where("geographic_area", "North"), true},
		{"equality miss", Where("geographic_area", "South"), false},
		{"numeric equality across types", Where("size", 20.0), true},
		{"inclusive range", Filter{}.Between("size", 20, 20), true},
		{"below min", Filter{}.AtLeast("size", 21), false},
		{"above max", Filter{}.AtMost("size", 19), false},
		{"range on missing attribute", Filter{}.AtLeast("age", 0), false},
		{"nil matches absent", Where("health_status", nil), true},
		{"nil rejects present", Where("size", nil), false},
		{"combined", Where("environment_type", "forest").AtLeast("size", 10), true},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(attrs); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestFilterBuildersDoNotAlias(t *testing.T) {
	base := Where("species", "Lion")
	narrowed := base.Eq("age", int64(3))
	if len(base.Equals) != 1 {
		t.Fatalf("builder mutated receiver: %+v", base)
	}
	if len(narrowed.Equals) != 2 || narrowed.Empty() {
		t.Fatalf("unexpected narrowed filter %+v", narrowed)
	}
	if !(Filter{}).Empty() {
		t.Fatalf("zero filter should be empty")
	}
}

func TestFilterValidate(t *testing.T) {
	s := mustSchema(t, KindMeal)
	f, err := Where("wins", 2).Eq("price", int64(4)).AtLeast("battles", 1).Validate(s)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if f.Equals["wins"] != int64(2) || f.Equals["price"] != 4.0 || f.Min["battles"] != 1 {
		t.Fatalf("expected normalized filter, got %+v", f)
	}

	bad := []Filter{
		Where("spice", "hot"),
		Where("wins", "two"),
		Where("price", "cheap"),
		Filter{}.AtLeast("cuisine", 1),
		Filter{}.AtMost("spice", 1),
	}
	for _, f := range bad {
		if _, err := f.Validate(s); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", f, err)
		}
	}
}
