// Package recovery finds video payloads on disk that have no metadata
// record, validates them, reconstructs best-effort metadata, and
// reintegrates them into the metadata store. Every discovered orphan gets
// a durable registry entry that accumulates recovery attempts; files that
// fail validation are moved to a quarantine directory for manual review,
// never deleted.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clipdock/clipdock/internal/video"
)

// Status is the recovery state of a registered orphan.
type Status string

const (
	// StatusPending means the orphan was discovered but not yet processed.
	StatusPending Status = "pending"
	// StatusRecovered means metadata was reconstructed and persisted.
	StatusRecovered Status = "recovered"
	// StatusFailed means reconstruction or persistence failed.
	StatusFailed Status = "failed"
	// StatusInvalid means the file failed validation and is not a video.
	StatusInvalid Status = "invalid"
)

// registryFileName is the registry file inside the recovery directory.
const registryFileName = "orphan-registry.json"

// Entry is the durable record of one discovered orphan. Entries are
// updated in place on each recovery attempt and never removed
// automatically; the attempt counter accumulates across scans.
type Entry struct {
	VideoID      string        `json:"videoId"`
	FilePath     string        `json:"filePath"`
	SizeBytes    int64         `json:"sizeBytes"`
	DiscoveredAt time.Time     `json:"discoveredAt"`
	AttemptCount int           `json:"attemptCount"`
	LastAttempt  time.Time     `json:"lastAttempt,omitempty"`
	Status       Status        `json:"status"`
	Recovered    *video.Record `json:"recoveredRecord,omitempty"`
}

// Registry persists orphan entries as a single JSON file under the
// recovery directory. All operations are read-modify-write under a
// process-wide mutex; writes go through a temp file and rename.
type Registry struct {
	mu   sync.Mutex
	path string
}

// NewRegistry creates a registry stored in the given recovery directory.
// The directory is created if it doesn't exist.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create recovery directory: %w", err)
	}
	return &Registry{path: filepath.Join(dir, registryFileName)}, nil
}

// Discover registers an orphan if it is not already known.
// Re-discovering an existing entry refreshes its file path and size but
// keeps its history.
func (r *Registry) Discover(ctx context.Context, orphan OrphanFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	entries, err := r.load()
	if err != nil {
		return err
	}

	entry, ok := entries[orphan.VideoID]
	if !ok {
		entry = &Entry{
			VideoID:      orphan.VideoID,
			DiscoveredAt: time.Now(),
			Status:       StatusPending,
		}
		entries[orphan.VideoID] = entry
	}
	entry.FilePath = orphan.Path
	entry.SizeBytes = orphan.SizeBytes

	return r.save(entries)
}

// RecordAttempt records the outcome of a recovery attempt, incrementing
// the attempt counter. The reconstructed record is stored with the entry
// when recovery succeeded.
func (r *Registry) RecordAttempt(ctx context.Context, videoID string, status Status, rec *video.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	entries, err := r.load()
	if err != nil {
		return err
	}

	entry, ok := entries[videoID]
	if !ok {
		entry = &Entry{
			VideoID:      videoID,
			DiscoveredAt: time.Now(),
		}
		entries[videoID] = entry
	}
	entry.AttemptCount++
	entry.LastAttempt = time.Now()
	entry.Status = status
	if rec != nil {
		entry.Recovered = rec.Clone()
	}

	return r.save(entries)
}

// Get returns the entry for a video identifier, or nil if unknown.
func (r *Registry) Get(ctx context.Context, videoID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	return entries[videoID], nil
}

// List returns all registry entries.
func (r *Registry) List(ctx context.Context) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	return out, nil
}

func (r *Registry) load() (map[string]*Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]*Entry), nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	return entries, nil
}

func (r *Registry) save(entries map[string]*Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
