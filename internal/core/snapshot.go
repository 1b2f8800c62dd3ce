package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"wildtrack/internal/blob"
	"wildtrack/pkg/domain"
)

// DefaultSnapshotPrefix is the blob key prefix snapshots are written under.
const DefaultSnapshotPrefix = "snapshots"

const snapshotVersion = 1

type snapshotDocument struct {
	ID      string                             `json:"id"`
	Version int                                `json:"version"`
	TakenAt time.Time                          `json:"taken_at"`
	Records map[domain.Kind][]json.RawMessage `json:"records"`
}

// SnapshotExporter writes the content of every registry, soft-deleted
// records included, to a blob store and restores it back.
type SnapshotExporter struct {
	svc    *Service
	store  blob.Store
	prefix string
}

// NewSnapshotExporter binds svc to store. An empty prefix uses DefaultSnapshotPrefix.
func NewSnapshotExporter(svc *Service, store blob.Store, prefix string) *SnapshotExporter {
	if prefix == "" {
		prefix = DefaultSnapshotPrefix
	}
	return &SnapshotExporter{svc: svc, store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

// Export writes a new snapshot and returns its blob info.
func (e *SnapshotExporter) Export(ctx context.Context) (blob.Info, error) {
	var info blob.Info
	_, err := e.svc.mutate(ctx, "export_snapshot", "", func(*Transaction) error {
		doc := snapshotDocument{
			ID:      uuid.NewString(),
			Version: snapshotVersion,
			TakenAt: e.svc.now(),
			Records: make(map[domain.Kind][]json.RawMessage, len(domain.Kinds())),
		}
		for _, kind := range domain.Kinds() {
			records := e.svc.registries[kind].Snapshot()
			encoded := make([]json.RawMessage, 0, len(records))
			for _, r := range records {
				data, err := domain.MarshalEntity(r)
				if err != nil {
					return fmt.Errorf("encode %s %d: %w", kind, r.ID, err)
				}
				encoded = append(encoded, data)
			}
			doc.Records[kind] = encoded
		}
		payload, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		key := fmt.Sprintf("%s/%s-%s.json", e.prefix, doc.TakenAt.UTC().Format("20060102T150405Z"), doc.ID)
		info, err = e.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/json",
			Metadata:    map[string]string{"snapshot-id": doc.ID},
		})
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		return nil
	})
	return info, err
}

// List returns the stored snapshots, oldest first.
func (e *SnapshotExporter) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := e.store.List(ctx, e.prefix+"/")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Latest returns the most recent snapshot.
func (e *SnapshotExporter) Latest(ctx context.Context) (blob.Info, error) {
	infos, err := e.List(ctx)
	if err != nil {
		return blob.Info{}, err
	}
	if len(infos) == 0 {
		return blob.Info{}, fmt.Errorf("no snapshots under %s: %w", e.prefix, blob.ErrNotFound)
	}
	return infos[len(infos)-1], nil
}

// Restore replaces the content of every registry with the snapshot stored
// under key. The snapshot is fully decoded before any registry is touched.
func (e *SnapshotExporter) Restore(ctx context.Context, key string) error {
	_, err := e.svc.mutate(ctx, "restore_snapshot", "", func(*Transaction) error {
		_, rc, err := e.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read snapshot %s: %w", key, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read snapshot %s: %w", key, err)
		}
		records, err := decodeSnapshot(data)
		if err != nil {
			return fmt.Errorf("decode snapshot %s: %w", key, err)
		}
		kinds := domain.Kinds()
		previous := make(map[domain.Kind][]domain.Entity, len(kinds))
		for _, kind := range kinds {
			previous[kind] = e.svc.registries[kind].Snapshot()
		}
		for i, kind := range kinds {
			if err := e.svc.registries[kind].Restore(ctx, records[kind]); err != nil {
				e.rollback(ctx, kinds[:i], previous)
				return err
			}
		}
		return nil
	})
	return err
}

// rollback puts the already restored kinds back to their previous content,
// newest first.
func (e *SnapshotExporter) rollback(ctx context.Context, restored []domain.Kind, previous map[domain.Kind][]domain.Entity) {
	for i := len(restored) - 1; i >= 0; i-- {
		kind := restored[i]
		if err := e.svc.registries[kind].Restore(ctx, previous[kind]); err != nil {
			e.svc.logger.Error("snapshot rollback failed", "kind", kind, "error", err)
		}
	}
}

func decodeSnapshot(data []byte) (map[domain.Kind][]domain.Entity, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	out := make(map[domain.Kind][]domain.Entity, len(doc.Records))
	for kind, raws := range doc.Records {
		if _, err := domain.SchemaFor(kind); err != nil {
			return nil, err
		}
		entities := make([]domain.Entity, 0, len(raws))
		for _, raw := range raws {
			e, err := domain.UnmarshalEntity(raw)
			if err != nil {
				return nil, err
			}
			entities = append(entities, e)
		}
		out[kind] = entities
	}
	return out, nil
}
