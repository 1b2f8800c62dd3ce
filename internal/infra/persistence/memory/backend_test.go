package memory_test

import (
	"context"
	"testing"

	"wildtrack/internal/infra/persistence/memory"
	"wildtrack/pkg/domain"
)

func TestBackendPutGetScanDelete(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBackend()

	put := func(id, seq int64, species string) {
		t.Helper()
		e := domain.Entity{Base: domain.Base{ID: id, Seq: seq}, Kind: domain.KindAnimal, Attributes: domain.Attributes{"species": species}}
		if err := b.Put(ctx, domain.KindAnimal, e); err != nil {
			t.Fatalf("put %d: %v", id, err)
		}
	}
	put(10, 2, "wolf")
	put(3, 1, "bear")
	put(7, 3, "wolf")

	got, ok, err := b.Get(ctx, domain.KindAnimal, 3)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	got.Attributes["species"] = "mutated"
	again, _, _ := b.Get(ctx, domain.KindAnimal, 3)
	if again.Attributes["species"] != "bear" {
		t.Fatalf("backend leaked internal state")
	}
	if _, ok, _ := b.Get(ctx, domain.KindHabitat, 3); ok {
		t.Fatalf("buckets must be separated by kind")
	}

	all, err := b.Scan(ctx, domain.KindAnimal, domain.Filter{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(all) != 3 || all[0].ID != 3 || all[1].ID != 10 || all[2].ID != 7 {
		t.Fatalf("expected seq order [3 10 7], got %+v", all)
	}
	wolves, _ := b.Scan(ctx, domain.KindAnimal, domain.Where("species", "wolf"))
	if len(wolves) != 2 {
		t.Fatalf("expected two wolves, got %d", len(wolves))
	}

	if err := b.Delete(ctx, domain.KindAnimal, 10); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, domain.KindAnimal, 999); err != nil {
		t.Fatalf("delete missing should be a no-op: %v", err)
	}
	if _, ok, _ := b.Get(ctx, domain.KindAnimal, 10); ok {
		t.Fatalf("expected record removed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
