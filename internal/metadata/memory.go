package metadata

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/clipdock/clipdock/internal/video"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; production uses FileStore.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*video.Record
	validate *validator.Validate
}

// NewMemoryStore creates a new in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*video.Record),
		validate: validator.New(),
	}
}

// Save persists a record to the in-memory storage.
// Creates a clone to avoid external mutations.
func (s *MemoryStore) Save(_ context.Context, rec *video.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Load retrieves a record by its ID.
// Returns a clone to prevent external mutations.
func (s *MemoryStore) Load(_ context.Context, id string) (*video.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Update merges partial fields into an existing record.
func (s *MemoryStore) Update(_ context.Context, id string, fields Partial) (*video.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := rec.Clone()
	fields.Apply(updated)
	s.records[id] = updated
	return updated.Clone(), nil
}

// Delete removes a record from storage.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// ListAll returns all records, newest upload first.
func (s *MemoryStore) ListAll(_ context.Context) ([]*video.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*video.Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	sortByUploadTime(result)
	return result, nil
}

// ListByClient returns records owned by the given client.
func (s *MemoryStore) ListByClient(ctx context.Context, client string) ([]*video.Record, error) {
	return s.filterAll(ctx, func(r *video.Record) bool { return r.OwnerClient == client })
}

// ListByProject returns records owned by the given project.
func (s *MemoryStore) ListByProject(ctx context.Context, project string) ([]*video.Record, error) {
	return s.filterAll(ctx, func(r *video.Record) bool { return r.OwnerProject == project })
}

// ListByStatus returns records with the given storage status.
func (s *MemoryStore) ListByStatus(ctx context.Context, status video.StorageStatus) ([]*video.Record, error) {
	return s.filterAll(ctx, func(r *video.Record) bool { return r.StorageStatus == status })
}

// ListActive returns records whose downloads are permitted.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*video.Record, error) {
	return s.filterAll(ctx, func(r *video.Record) bool { return r.IsActive })
}

func (s *MemoryStore) filterAll(ctx context.Context, keep func(*video.Record) bool) ([]*video.Record, error) {
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

// RebuildIndex is a no-op for the in-memory store; the map is the index.
func (s *MemoryStore) RebuildIndex(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Validate checks a record for missing required fields and bad enum values.
func (s *MemoryStore) Validate(rec *video.Record) ValidationResult {
	return validateRecord(s.validate, rec)
}
