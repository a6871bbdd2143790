// Package metadata provides the durable key-to-VideoRecord mapping.
// It defines the Store interface (port) plus file-backed and in-memory
// implementations. The file-backed store keeps one JSON record per video
// next to the payload and a denormalized index for fast enumeration;
// RebuildIndex regenerates the index from the per-record files and is the
// store's only corruption-recovery mechanism.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/clipdock/clipdock/internal/video"
)

// ErrNotFound is returned when a record cannot be found by ID.
var ErrNotFound = errors.New("metadata: record not found")

// Store defines the interface for video record persistence.
// It acts as a port in the hexagonal architecture pattern.
//
// The store does not reject invalid writes; validation is a caller concern
// exercised through Validate before reintegration of untrusted records.
type Store interface {
	// Save persists a record and upserts it into the list index.
	// If the record already exists, it is replaced.
	Save(ctx context.Context, rec *video.Record) error

	// Load retrieves a record by its unique identifier.
	// Returns ErrNotFound if the record does not exist.
	Load(ctx context.Context, id string) (*video.Record, error)

	// Update merges the given partial fields into an existing record and
	// re-saves it. Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, id string, fields Partial) (*video.Record, error)

	// Delete removes a record from both the index and the record store.
	// Returns ErrNotFound if the record does not exist.
	Delete(ctx context.Context, id string) error

	// ListAll returns every record in the index, newest upload first.
	ListAll(ctx context.Context) ([]*video.Record, error)

	// ListByClient returns records owned by the given client.
	ListByClient(ctx context.Context, client string) ([]*video.Record, error)

	// ListByProject returns records owned by the given project.
	ListByProject(ctx context.Context, project string) ([]*video.Record, error)

	// ListByStatus returns records with the given storage status.
	ListByStatus(ctx context.Context, status video.StorageStatus) ([]*video.Record, error)

	// ListActive returns records whose downloads are permitted.
	ListActive(ctx context.Context) ([]*video.Record, error)

	// RebuildIndex regenerates the list index from the authoritative
	// per-record store, skipping unreadable or invalid records.
	// Returns the number of records indexed.
	RebuildIndex(ctx context.Context) (int, error)

	// Validate checks a record for missing required fields and bad enum values.
	Validate(rec *video.Record) ValidationResult
}

// Partial describes a set of record fields to merge during Update.
// Nil fields are left untouched.
type Partial struct {
	Filename          *string
	OwnerClient       *string
	OwnerProject      *string
	SizeBytes         *int64
	DownloadCount     *int64
	StorageStatus     *video.StorageStatus
	LocalPath         *string
	RemoteKey         *string
	IsActive          *bool
	IntegrityChecksum *string
	Compression       *video.CompressionState
}

// Apply merges the non-nil fields into the record.
func (p Partial) Apply(rec *video.Record) {
	if p.Filename != nil {
		rec.Filename = *p.Filename
	}
	if p.OwnerClient != nil {
		rec.OwnerClient = *p.OwnerClient
	}
	if p.OwnerProject != nil {
		rec.OwnerProject = *p.OwnerProject
	}
	if p.SizeBytes != nil {
		rec.SizeBytes = *p.SizeBytes
	}
	if p.DownloadCount != nil {
		rec.DownloadCount = *p.DownloadCount
	}
	if p.StorageStatus != nil {
		rec.StorageStatus = *p.StorageStatus
	}
	if p.LocalPath != nil {
		rec.LocalPath = *p.LocalPath
	}
	if p.RemoteKey != nil {
		rec.RemoteKey = *p.RemoteKey
	}
	if p.IsActive != nil {
		rec.IsActive = *p.IsActive
	}
	if p.IntegrityChecksum != nil {
		rec.IntegrityChecksum = *p.IntegrityChecksum
	}
	if p.Compression != nil {
		comp := *p.Compression
		rec.Compression = &comp
	}
}

// ValidationResult reports the outcome of record validation.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// validateRecord runs required-field checks via the struct validator plus
// explicit enum checks that struct tags cannot express.
func validateRecord(v *validator.Validate, rec *video.Record) ValidationResult {
	var errs []string

	if err := v.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("field %s failed %s check", fe.Field(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if !rec.StorageStatus.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown storage status %q", rec.StorageStatus))
	}
	if rec.Compression != nil && !rec.Compression.Status.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown compression status %q", rec.Compression.Status))
	}
	if rec.UploadTimestamp.IsZero() {
		errs = append(errs, "upload timestamp is not set")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
