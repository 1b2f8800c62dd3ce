package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wildtrack/internal/infra/persistence/memory"
	"wildtrack/internal/registry"
	"wildtrack/pkg/domain"
)

func mealAttrs(name string, price float64) domain.Attributes {
	return domain.Attributes{"meal": name, "cuisine": "Meal Cuisine", "price": price, "difficulty": "LOW"}
}

func newMeals(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg, err := registry.New(domain.KindMeal, opts...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestCreateThenGetReturnsInput(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)

	id, err := reg.Create(ctx, mealAttrs("Meal Name", 42.0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	got, err := reg.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := domain.Attributes{
		"meal": "Meal Name", "cuisine": "Meal Cuisine", "price": 42.0, "difficulty": "LOW",
		"battles": int64(0), "wins": int64(0),
	}
	if diff := cmp.Diff(want, got.Attributes); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
	if got.ID != id || got.Kind != domain.KindMeal {
		t.Fatalf("unexpected identity %+v", got.Base)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		attrs domain.Attributes
		field string
	}{
		{"negative price", mealAttrs("A", -1.0), "price"},
		{"integer price", domain.Attributes{"meal": "A", "cuisine": "C", "price": 42, "difficulty": "LOW"}, "price"},
		{"bad difficulty", domain.Attributes{"meal": "A", "cuisine": "C", "price": 1.0, "difficulty": "EASY"}, "difficulty"},
		{"non-string difficulty", domain.Attributes{"meal": "A", "cuisine": "C", "price": 1.0, "difficulty": 9}, "difficulty"},
		{"missing cuisine", domain.Attributes{"meal": "A", "price": 1.0, "difficulty": "LOW"}, "cuisine"},
		{"unknown attribute", domain.Attributes{"meal": "A", "cuisine": "C", "price": 1.0, "difficulty": "LOW", "rating": 5}, "rating"},
		{"bad id", domain.Attributes{"id": -3, "meal": "A", "cuisine": "C", "price": 1.0, "difficulty": "LOW"}, "id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newMeals(t)
			_, err := reg.Create(ctx, tc.attrs)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr domain.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected field %q, got %+v", tc.field, err)
			}
			if reg.Len() != 0 {
				t.Fatalf("failed create must not store a record")
			}
		})
	}
}

func TestNegativePriceMessage(t *testing.T) {
	reg := newMeals(t)
	_, err := reg.Create(context.Background(), mealAttrs("Meal Name", -1.0))
	if err == nil || err.Error() != "meal: price must be >= 0" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestGetMissingOnEmptyRegistry(t *testing.T) {
	reg := newMeals(t)
	_, err := reg.Get(999)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err.Error() != "meal with ID 999 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestDuplicateExplicitID(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)
	if err := reg.CreateWithID(ctx, 7, mealAttrs("First", 1.0)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := reg.CreateWithID(ctx, 7, mealAttrs("Second", 2.0))
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	first, err := reg.Get(7)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if name, _ := first.Attributes.String("meal"); name != "First" {
		t.Fatalf("first entity changed: %+v", first)
	}
	next, err := reg.Create(ctx, mealAttrs("Third", 3.0))
	if err != nil {
		t.Fatalf("create after explicit id: %v", err)
	}
	if next != 8 {
		t.Fatalf("expected allocator to continue after explicit id, got %d", next)
	}
}

func TestUniqueMealName(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)
	id, err := reg.Create(ctx, mealAttrs("Soup", 3.0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Create(ctx, mealAttrs("Soup", 4.0)); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
	if err := reg.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	next, err := reg.Create(ctx, mealAttrs("Soup", 4.0))
	if err != nil {
		t.Fatalf("name of removed meal should be reusable: %v", err)
	}
	if next != 2 {
		t.Fatalf("rejected duplicate consumed an id: got %d, want 2", next)
	}
}

func TestRejectedCreateKeepsSequence(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)
	if _, err := reg.Create(ctx, mealAttrs("Soup", 3.0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	for range 3 {
		if _, err := reg.Create(ctx, mealAttrs("Soup", 1.0)); !errors.Is(err, domain.ErrDuplicateKey) {
			t.Fatalf("expected duplicate name error, got %v", err)
		}
	}
	id, err := reg.Create(ctx, mealAttrs("Stew", 2.0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := reg.Get(id)
	if id != 2 || got.Seq != 2 {
		t.Fatalf("expected id 2 seq 2, got id %d seq %d", id, got.Seq)
	}
}

func TestRemoveThenGetFails(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)
	id, _ := reg.Create(ctx, mealAttrs("A", 1.0))
	if err := reg.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err := reg.Get(id)
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || !nf.Deleted {
		t.Fatalf("expected deleted not-found error, got %v", err)
	}
	if err := reg.Remove(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second remove should fail, got %v", err)
	}
	if err := reg.CreateWithID(ctx, id, mealAttrs("B", 1.0)); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("removed id must stay reserved, got %v", err)
	}
	if err := reg.Update(ctx, id, domain.Attributes{"price": 2.0}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update of removed record should fail, got %v", err)
	}
}

func TestUpdateChangesOnlyNamedField(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)
	id, _ := reg.Create(ctx, mealAttrs("A", 1.0))
	before, _ := reg.Get(id)

	if err := reg.Update(ctx, id, domain.Attributes{"price": 9.5}); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, _ := reg.Get(id)
	want := before.Attributes.Clone()
	want["price"] = 9.5
	if diff := cmp.Diff(want, after.Attributes); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}

	for _, patch := range []domain.Attributes{
		{"rating": 1},
		{"price": -2.0},
		{"meal": nil},
		{"id": 4},
		{},
	} {
		if err := reg.Update(ctx, id, patch); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("patch %v: expected validation error, got %v", patch, err)
		}
	}
	unchanged, _ := reg.Get(id)
	if diff := cmp.Diff(after.Attributes, unchanged.Attributes); diff != "" {
		t.Fatalf("invalid patch mutated record:\n%s", diff)
	}
}

func TestUpdateClearsOptionalAttribute(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.New(domain.KindAnimal)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	id, err := reg.Create(ctx, domain.Attributes{"species": "wolf", "age": 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Update(ctx, id, domain.Attributes{"age": nil}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ := reg.Get(id)
	if _, ok := got.Attributes["age"]; ok {
		t.Fatalf("expected age to be cleared: %+v", got.Attributes)
	}
}

func TestListByOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	for _, indexed := range []bool{false, true} {
		t.Run(fmt.Sprintf("indexed=%v", indexed), func(t *testing.T) {
			var opts []registry.Option
			if indexed {
				opts = append(opts, registry.WithIndex("geographic_area", "environment_type"))
			}
			reg, err := registry.New(domain.KindHabitat, opts...)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			seed := []struct {
				id   int64
				area string
				size int
				env  string
			}{
				{5, "north", 10, "forest"},
				{2, "south", 50, "desert"},
				{9, "north", 120, "tundra"},
				{1, "north", 60, "forest"},
			}
			for _, h := range seed {
				if err := reg.CreateWithID(ctx, h.id, domain.Attributes{"geographic_area": h.area, "size": h.size, "environment_type": h.env}); err != nil {
					t.Fatalf("seed %d: %v", h.id, err)
				}
			}
			if err := reg.Remove(ctx, 9); err != nil {
				t.Fatalf("remove: %v", err)
			}

			all, err := reg.ListBy(domain.Filter{})
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if got := ids(all); !cmp.Equal(got, []int64{5, 2, 1}) {
				t.Fatalf("expected creation order [5 2 1], got %v", got)
			}

			north, _ := reg.ListBy(domain.Where("geographic_area", "north"))
			if got := ids(north); !cmp.Equal(got, []int64{5, 1}) {
				t.Fatalf("north: got %v", got)
			}

			mid, _ := reg.ListBy(domain.Filter{}.Between("size", 40, 100))
			if got := ids(mid); !cmp.Equal(got, []int64{2, 1}) {
				t.Fatalf("size range: got %v", got)
			}

			combo, _ := reg.ListBy(domain.Where("geographic_area", "north").Eq("environment_type", "forest").AtLeast("size", 20))
			if got := ids(combo); !cmp.Equal(got, []int64{1}) {
				t.Fatalf("combined: got %v", got)
			}

			if err := reg.Update(ctx, 5, domain.Attributes{"geographic_area": "south"}); err != nil {
				t.Fatalf("update: %v", err)
			}
			south, _ := reg.ListBy(domain.Where("geographic_area", "south"))
			if got := ids(south); !cmp.Equal(got, []int64{5, 2}) {
				t.Fatalf("south after move should keep insertion order, got %v", got)
			}

			if _, err := reg.ListBy(domain.Where("colour", "red")); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error for unknown field, got %v", err)
			}
			if _, err := reg.ListBy(domain.Filter{}.AtLeast("geographic_area", 1)); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error for range on string, got %v", err)
			}
		})
	}
}

func TestReturnedEntitiesAreCopies(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)
	id, _ := reg.Create(ctx, mealAttrs("A", 1.0))
	got, _ := reg.Get(id)
	got.Attributes["price"] = 100.0
	again, _ := reg.Get(id)
	if p, _ := again.Attributes.Float("price"); p != 1.0 {
		t.Fatalf("registry state leaked through returned entity")
	}
}

func TestRevertRestoresPreviousState(t *testing.T) {
	ctx := context.Background()
	reg := newMeals(t)

	created, err := reg.CreateTracked(ctx, mealAttrs("A", 1.0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.After.ID
	updated, err := reg.UpdateTracked(ctx, id, domain.Attributes{"price": 5.0})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := reg.Revert(ctx, updated); err != nil {
		t.Fatalf("revert update: %v", err)
	}
	got, _ := reg.Get(id)
	if p, _ := got.Attributes.Float("price"); p != 1.0 {
		t.Fatalf("expected price restored, got %v", p)
	}

	removed, err := reg.RemoveTracked(ctx, id)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := reg.Revert(ctx, removed); err != nil {
		t.Fatalf("revert remove: %v", err)
	}
	if _, err := reg.Get(id); err != nil {
		t.Fatalf("expected record back after revert: %v", err)
	}

	if err := reg.Revert(ctx, created); err != nil {
		t.Fatalf("revert create: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry after reverting create")
	}
	if err := reg.CreateWithID(ctx, id, mealAttrs("A", 1.0)); err != nil {
		t.Fatalf("reverted create should release its id: %v", err)
	}
}

func TestWriteThroughAndReload(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reg, err := registry.Open(ctx, domain.KindMigration,
		registry.WithBackend(backend),
		registry.WithClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := reg.Create(ctx, domain.Attributes{"species": "crane", "current_location": "lake", "start_date": "2024-03-01"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _ := reg.Create(ctx, domain.Attributes{"species": "goose", "current_location": "marsh", "start_date": "2024-03-02T08:00:00+02:00"})
	if err := reg.Remove(ctx, first); err != nil {
		t.Fatalf("remove: %v", err)
	}

	reloaded, err := registry.Open(ctx, domain.KindMigration, registry.WithBackend(backend))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	live, _ := reloaded.ListBy(domain.Filter{})
	if got := ids(live); !cmp.Equal(got, []int64{second}) {
		t.Fatalf("expected only %d live after reload, got %v", second, got)
	}
	got, _ := reloaded.Get(second)
	if date, _ := got.Attributes.String("start_date"); date != "2024-03-02T06:00:00Z" {
		t.Fatalf("expected canonical UTC timestamp, got %q", date)
	}
	if status, _ := got.Attributes.String("status"); status != domain.MigrationScheduled {
		t.Fatalf("expected default status, got %q", status)
	}
	if !got.CreatedAt.Equal(clock) {
		t.Fatalf("expected injected clock, got %v", got.CreatedAt)
	}
	if _, err := reloaded.Get(first); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removed record must stay removed after reload: %v", err)
	}
	third, _ := reloaded.Create(ctx, domain.Attributes{"species": "swan", "current_location": "river", "start_date": "2024-04-01"})
	if third != 3 {
		t.Fatalf("expected id allocation to continue at 3, got %d", third)
	}
}

type failingBackend struct {
	*memory.Backend
	failPut bool
}

func (f *failingBackend) Put(ctx context.Context, kind domain.Kind, e domain.Entity) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.Backend.Put(ctx, kind, e)
}

func TestBackendFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{Backend: memory.NewBackend()}
	reg := newMeals(t, registry.WithBackend(backend))
	id, err := reg.Create(ctx, mealAttrs("A", 1.0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	backend.failPut = true
	if _, err := reg.Create(ctx, mealAttrs("B", 1.0)); err == nil {
		t.Fatalf("expected persist error")
	}
	if err := reg.Update(ctx, id, domain.Attributes{"price": 3.0}); err == nil {
		t.Fatalf("expected persist error on update")
	}
	if err := reg.Remove(ctx, id); err == nil {
		t.Fatalf("expected persist error on remove")
	}
	backend.failPut = false

	all, _ := reg.ListBy(domain.Filter{})
	if len(all) != 1 {
		t.Fatalf("expected only the first record, got %d", len(all))
	}
	if p, _ := all[0].Attributes.Float("price"); p != 1.0 {
		t.Fatalf("failed update leaked into state: %v", p)
	}
	next, err := reg.Create(ctx, mealAttrs("B", 1.0))
	if err != nil || next != 2 {
		t.Fatalf("expected id 2 after failed create, got %d (%v)", next, err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := newMeals(t)
	a, _ := src.Create(ctx, mealAttrs("A", 1.0))
	_, _ = src.Create(ctx, mealAttrs("B", 2.0))
	_ = src.Remove(ctx, a)

	backend := memory.NewBackend()
	dst := newMeals(t, registry.WithBackend(backend))
	_, _ = dst.Create(ctx, mealAttrs("stale", 9.0))
	_, _ = dst.Create(ctx, mealAttrs("stale-2", 9.0))
	_, _ = dst.Create(ctx, mealAttrs("stale-3", 9.0))
	if err := dst.Restore(ctx, src.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch:\n%s", diff)
	}
	stored, _ := backend.Scan(ctx, domain.KindMeal, domain.Filter{})
	if len(stored) != 2 {
		t.Fatalf("expected backend pruned to snapshot, got %d records", len(stored))
	}
	if err := dst.Restore(ctx, []domain.Entity{{Kind: domain.KindAnimal}}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected kind mismatch error, got %v", err)
	}
}

// pickyBackend rejects writes of the meal named reject.
type pickyBackend struct {
	*memory.Backend
	reject string
}

func (b *pickyBackend) Put(ctx context.Context, kind domain.Kind, e domain.Entity) error {
	if name, _ := e.Attributes.String("meal"); name == b.reject {
		return errors.New("disk full")
	}
	return b.Backend.Put(ctx, kind, e)
}

func TestFailedRestoreKeepsBackendInSync(t *testing.T) {
	ctx := context.Background()
	src := newMeals(t)
	for _, name := range []string{"X", "Y", "Z"} {
		if _, err := src.Create(ctx, mealAttrs(name, 1.0)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	backend := &pickyBackend{Backend: memory.NewBackend()}
	dst := newMeals(t, registry.WithBackend(backend))
	for _, name := range []string{"A", "B", "C", "D"} {
		if _, err := dst.Create(ctx, mealAttrs(name, 2.0)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	before := dst.Snapshot()

	backend.reject = "Z"
	if err := dst.Restore(ctx, src.Snapshot()); err == nil {
		t.Fatalf("expected restore to fail")
	}
	if diff := cmp.Diff(before, dst.Snapshot()); diff != "" {
		t.Fatalf("failed restore changed memory:\n%s", diff)
	}

	stored, err := backend.Scan(ctx, domain.KindMeal, domain.Filter{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if diff := cmp.Diff(before, stored); diff != "" {
		t.Fatalf("failed restore left the backend diverged:\n%s", diff)
	}
}

func TestConcurrentCreatesAssignUniqueIDs(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.New(domain.KindAnimal, registry.WithIndex("species"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := reg.Create(ctx, domain.Attributes{"species": fmt.Sprintf("s%d", w%3)})
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				_, _ = reg.Get(id)
				_, _ = reg.ListBy(domain.Where("species", "s1"))
			}
		}(w)
	}
	wg.Wait()
	all, _ := reg.ListBy(domain.Filter{})
	seen := map[int64]bool{}
	for _, e := range all {
		if seen[e.ID] {
			t.Fatalf("duplicate id %d", e.ID)
		}
		seen[e.ID] = true
	}
	if len(all) != workers*perWorker {
		t.Fatalf("expected %d records, got %d", workers*perWorker, len(all))
	}
}

func TestNewRejectsUnknownIndexAndKind(t *testing.T) {
	if _, err := registry.New(domain.KindMeal, registry.WithIndex("colour")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown index field error, got %v", err)
	}
	if _, err := registry.New(domain.Kind("dragon")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func ids(entities []domain.Entity) []int64 {
	out := make([]int64, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ID)
	}
	return out
}
