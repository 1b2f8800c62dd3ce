package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"wildtrack/internal/blob/core"
)

func TestStorePutGetListDelete(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store %s %s", s.Driver(), s.Root())
	}
	info, err := s.Put(ctx, "snapshots/2024/meal.json", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"kind": "meal"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	// sha256("hello")
	if info.Size != 5 || info.ETag != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "snapshots/2024/meal.json", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, "snapshots/2024/animal.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put animal: %v", err)
	}

	got, rc, err := s.Get(ctx, "snapshots/2024/meal.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" || got.Metadata["kind"] != "meal" || got.ContentType != "application/json" {
		t.Fatalf("unexpected get %q %+v", data, got)
	}
	if head, err := s.Head(ctx, "snapshots/2024/meal.json"); err != nil || head.Size != 5 {
		t.Fatalf("head: %+v %v", head, err)
	}

	list, err := s.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "snapshots/2024/animal.json" || list[1].Key != "snapshots/2024/meal.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if none, err := s.List(ctx, "nothing/"); err != nil || len(none) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, none)
	}

	if ok, err := s.Delete(ctx, "snapshots/2024/meal.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(root, "snapshots", "2024", "meal.json.meta")); !os.IsNotExist(err) {
		t.Fatalf("expected sidecar removed, got %v", err)
	}
	if ok, err := s.Delete(ctx, "snapshots/2024/meal.json"); err != nil || ok {
		t.Fatalf("expected missing delete to report false: %v %v", ok, err)
	}
	if _, _, err := s.Get(ctx, "snapshots/2024/meal.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, "snapshots/2024/meal.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", "/abs", "../up", "a/../../b", "x.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	if got, err := sanitizeKey("a//b/./c"); err != nil || got != "a/b/c" {
		t.Fatalf("expected cleaned key, got %q %v", got, err)
	}
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Put(context.Background(), "../escape", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected traversal to fail")
	}
}
