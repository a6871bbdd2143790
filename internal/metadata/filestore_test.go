package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipdock/clipdock/internal/video"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func testRecord(id string, uploadedAt time.Time) *video.Record {
	return &video.Record{
		ID:              id,
		Filename:        "clip.mp4",
		OwnerClient:     "acme",
		OwnerProject:    "launch",
		UploadTimestamp: uploadedAt,
		SizeBytes:       2048,
		StorageStatus:   video.StatusLocalOnly,
		IsActive:        true,
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	rec := testRecord("vid-1", time.Now())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Record file lands next to the payload location
	if _, err := os.Stat(filepath.Join(store.Root(), "vid-1", MetadataFileName)); err != nil {
		t.Fatalf("record file not written: %v", err)
	}

	loaded, err := store.Load(ctx, "vid-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Filename != "clip.mp4" || loaded.OwnerClient != "acme" {
		t.Errorf("unexpected record: %+v", loaded)
	}
}

func TestFileStore_Load_NotFound(t *testing.T) {
	store := newTestFileStore(t)

	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_IndexOrdering(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, testRecord("vid-old", now.Add(-2*time.Hour)))
	_ = store.Save(ctx, testRecord("vid-new", now))
	_ = store.Save(ctx, testRecord("vid-mid", now.Add(-time.Hour)))

	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].ID != "vid-new" || all[1].ID != "vid-mid" || all[2].ID != "vid-old" {
		t.Errorf("index not sorted newest-first: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestFileStore_Save_ReplacesInIndex(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	rec := testRecord("vid-1", time.Now())
	_ = store.Save(ctx, rec)

	rec.SizeBytes = 4096
	_ = store.Save(ctx, rec)

	all, _ := store.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected 1 record after re-save, got %d", len(all))
	}
	if all[0].SizeBytes != 4096 {
		t.Errorf("index holds stale record: size = %d", all[0].SizeBytes)
	}
}

func TestFileStore_Update(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, testRecord("vid-1", time.Now()))

	status := video.StatusMirrored
	key := "videos/vid-1/clip.mp4"
	updated, err := store.Update(ctx, "vid-1", Partial{
		StorageStatus: &status,
		RemoteKey:     &key,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.StorageStatus != video.StatusMirrored {
		t.Errorf("expected mirrored, got %s", updated.StorageStatus)
	}
	if updated.RemoteKey != key {
		t.Errorf("expected remote key %s, got %s", key, updated.RemoteKey)
	}
	// Untouched fields survive the merge
	if updated.Filename != "clip.mp4" {
		t.Errorf("merge clobbered filename: %s", updated.Filename)
	}

	// The update is visible through the index too
	mirrored, _ := store.ListByStatus(ctx, video.StatusMirrored)
	if len(mirrored) != 1 {
		t.Errorf("expected 1 mirrored record in index, got %d", len(mirrored))
	}
}

func TestFileStore_Update_NotFound(t *testing.T) {
	store := newTestFileStore(t)

	_, err := store.Update(context.Background(), "missing", Partial{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_Delete(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, testRecord("vid-1", time.Now()))

	if err := store.Delete(ctx, "vid-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := store.Load(ctx, "vid-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected record gone, got %v", err)
	}
	all, _ := store.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("expected empty index after delete, got %d records", len(all))
	}
}

func TestFileStore_Delete_NotFound(t *testing.T) {
	store := newTestFileStore(t)

	err := store.Delete(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_ListFilters(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()
	now := time.Now()

	a := testRecord("vid-a", now)
	b := testRecord("vid-b", now.Add(-time.Minute))
	b.OwnerClient = "globex"
	b.OwnerProject = "relaunch"
	b.StorageStatus = video.StatusMirrored
	c := testRecord("vid-c", now.Add(-2*time.Minute))
	c.IsActive = false

	for _, rec := range []*video.Record{a, b, c} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	byClient, _ := store.ListByClient(ctx, "acme")
	if len(byClient) != 2 {
		t.Errorf("ListByClient(acme) = %d records, want 2", len(byClient))
	}

	byProject, _ := store.ListByProject(ctx, "relaunch")
	if len(byProject) != 1 || byProject[0].ID != "vid-b" {
		t.Errorf("ListByProject(relaunch) unexpected: %v", byProject)
	}

	byStatus, _ := store.ListByStatus(ctx, video.StatusMirrored)
	if len(byStatus) != 1 || byStatus[0].ID != "vid-b" {
		t.Errorf("ListByStatus(mirrored) unexpected: %v", byStatus)
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 2 {
		t.Errorf("ListActive() = %d records, want 2", len(active))
	}
}

func TestFileStore_RebuildIndex(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, testRecord("vid-1", now))
	_ = store.Save(ctx, testRecord("vid-2", now.Add(-time.Minute)))

	// Lose the index out-of-band
	if err := os.Remove(filepath.Join(store.Root(), "index.json")); err != nil {
		t.Fatalf("remove index: %v", err)
	}
	all, _ := store.ListAll(ctx)
	if len(all) != 0 {
		t.Fatalf("expected records hidden without index, got %d", len(all))
	}

	count, err := store.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex() error = %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 records rebuilt, got %d", count)
	}

	all, _ = store.ListAll(ctx)
	if len(all) != 2 || all[0].ID != "vid-1" {
		t.Errorf("rebuilt index unexpected: %v", all)
	}
}

func TestFileStore_RebuildIndex_SkipsBrokenRecords(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, testRecord("vid-good", time.Now()))

	// Corrupt JSON
	corruptDir := filepath.Join(store.Root(), "vid-corrupt")
	if err := os.MkdirAll(corruptDir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corruptDir, MetadataFileName), []byte("{not json"), 0640); err != nil {
		t.Fatal(err)
	}

	// Structurally valid JSON failing validation
	invalid := testRecord("vid-invalid", time.Now())
	invalid.StorageStatus = "cloud"
	_ = store.Save(ctx, invalid)

	// Orphan directory with no record file at all
	if err := os.MkdirAll(filepath.Join(store.Root(), "vid-orphan"), 0750); err != nil {
		t.Fatal(err)
	}

	count, err := store.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex() error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected only the good record indexed, got %d", count)
	}
}

func TestFileStore_Validate(t *testing.T) {
	store := newTestFileStore(t)

	t.Run("valid record", func(t *testing.T) {
		result := store.Validate(testRecord("vid-1", time.Now()))
		if !result.Valid {
			t.Errorf("expected valid, got errors: %v", result.Errors)
		}
	})

	t.Run("missing required fields", func(t *testing.T) {
		rec := testRecord("vid-1", time.Now())
		rec.Filename = ""
		rec.OwnerClient = ""
		result := store.Validate(rec)
		if result.Valid {
			t.Error("expected invalid record")
		}
		if len(result.Errors) < 2 {
			t.Errorf("expected at least 2 errors, got %v", result.Errors)
		}
	})

	t.Run("bad enum value", func(t *testing.T) {
		rec := testRecord("vid-1", time.Now())
		rec.StorageStatus = "cloud"
		result := store.Validate(rec)
		if result.Valid {
			t.Error("expected invalid record")
		}
	})

	t.Run("zero upload timestamp", func(t *testing.T) {
		rec := testRecord("vid-1", time.Time{})
		result := store.Validate(rec)
		if result.Valid {
			t.Error("expected invalid record")
		}
	})
}
