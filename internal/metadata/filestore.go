package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/clipdock/clipdock/internal/video"
)

const (
	// MetadataFileName is the per-video record file inside the video directory.
	// A video directory without this file is considered orphaned.
	MetadataFileName = "metadata.json"
	// indexFileName is the denormalized list index at the storage root.
	indexFileName = "index.json"
)

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore is a file-backed implementation of Store.
// Each record lives at <root>/<id>/metadata.json next to the video payload;
// the list index lives at <root>/index.json. The mutex serializes index
// read-modify-write cycles within this process only; concurrent writers
// from other processes are not coordinated.
type FileStore struct {
	mu       sync.Mutex
	root     string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewFileStore creates a file-backed metadata store rooted at the video
// storage directory. The directory is created if it doesn't exist.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create metadata root: %w", err)
	}
	return &FileStore{
		root:     root,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

// Root returns the storage root directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.root, id, MetadataFileName)
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.root, indexFileName)
}

func ctxCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}

// Save persists the record file and upserts it into the list index.
// The two writes are treated as a unit; if the index write fails after the
// record write succeeded, RebuildIndex restores consistency later.
func (s *FileStore) Save(ctx context.Context, rec *video.Record) error {
	if err := ctxCheck(ctx); err != nil {
		return err
	}

	dir := filepath.Dir(s.recordPath(rec.ID))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(rec.ID), data, 0640); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertIndex(rec)
}

// Load retrieves a record by ID. Returns ErrNotFound if it does not exist.
func (s *FileStore) Load(ctx context.Context, id string) (*video.Record, error) {
	if err := ctxCheck(ctx); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	var rec video.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

// Update merges partial fields into an existing record and re-saves it,
// triggering the same index upsert as Save.
func (s *FileStore) Update(ctx context.Context, id string, fields Partial) (*video.Record, error) {
	rec, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	fields.Apply(rec)
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record from both the index and the record store.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctxCheck(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	removedFromIndex, idxErr := s.removeFromIndex(id)
	s.mu.Unlock()

	err := os.Remove(s.recordPath(id))
	if err != nil && os.IsNotExist(err) {
		if !removedFromIndex {
			return ErrNotFound
		}
		err = nil
	}
	if err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	return idxErr
}

// ListAll returns every record in the index, newest upload first.
func (s *FileStore) ListAll(ctx context.Context) ([]*video.Record, error) {
	if err := ctxCheck(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

// ListByClient returns records owned by the given client.
func (s *FileStore) ListByClient(ctx context.Context, client string) ([]*video.Record, error) {
	return s.filter(ctx, func(r *video.Record) bool { return r.OwnerClient == client })
}

// ListByProject returns records owned by the given project.
func (s *FileStore) ListByProject(ctx context.Context, project string) ([]*video.Record, error) {
	return s.filter(ctx, func(r *video.Record) bool { return r.OwnerProject == project })
}

// ListByStatus returns records with the given storage status.
func (s *FileStore) ListByStatus(ctx context.Context, status video.StorageStatus) ([]*video.Record, error) {
	return s.filter(ctx, func(r *video.Record) bool { return r.StorageStatus == status })
}

// ListActive returns records whose downloads are permitted.
func (s *FileStore) ListActive(ctx context.Context) ([]*video.Record, error) {
	return s.filter(ctx, func(r *video.Record) bool { return r.IsActive })
}

func (s *FileStore) filter(ctx context.Context, keep func(*video.Record) bool) ([]*video.Record, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*video.Record, 0, len(all))
	for _, rec := range all {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// RebuildIndex walks every per-video record on disk, validates each, and
// regenerates the index from scratch. Unreadable or invalid records are
// skipped and logged rather than aborting the rebuild.
func (s *FileStore) RebuildIndex(ctx context.Context) (int, error) {
	if err := ctxCheck(ctx); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read storage root: %w", err)
	}

	var records []*video.Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		data, err := os.ReadFile(s.recordPath(entry.Name()))
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("skipping unreadable record during index rebuild",
					slog.String("video_id", entry.Name()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		var rec video.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping corrupt record during index rebuild",
				slog.String("video_id", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		if result := s.Validate(&rec); !result.Valid {
			s.logger.Warn("skipping invalid record during index rebuild",
				slog.String("video_id", entry.Name()),
				slog.Any("errors", result.Errors),
			)
			continue
		}

		records = append(records, &rec)
	}

	sortByUploadTime(records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeIndex(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Validate checks a record for missing required fields and bad enum values.
func (s *FileStore) Validate(rec *video.Record) ValidationResult {
	return validateRecord(s.validate, rec)
}

// readIndex loads the list index. A missing index file is treated as empty.
func (s *FileStore) readIndex() ([]*video.Record, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []*video.Record{}, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var records []*video.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	return records, nil
}

// writeIndex replaces the list index atomically via a temp file rename.
func (s *FileStore) writeIndex(records []*video.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// upsertIndex replaces the record by ID (or appends it) and keeps the index
// sorted by upload time descending. Caller must hold the mutex.
func (s *FileStore) upsertIndex(rec *video.Record) error {
	records, err := s.readIndex()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range records {
		if existing.ID == rec.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	sortByUploadTime(records)
	return s.writeIndex(records)
}

// removeFromIndex drops the record by ID. Caller must hold the mutex.
func (s *FileStore) removeFromIndex(id string) (bool, error) {
	records, err := s.readIndex()
	if err != nil {
		return false, err
	}

	kept := records[:0]
	removed := false
	for _, rec := range records {
		if rec.ID == id {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeIndex(kept)
}

func sortByUploadTime(records []*video.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UploadTimestamp.Equal(records[j].UploadTimestamp) {
			return records[i].ID < records[j].ID
		}
		return records[i].UploadTimestamp.After(records[j].UploadTimestamp)
	})
}
