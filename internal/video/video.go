// Package video provides the VideoRecord domain entity for stored videos.
// It defines the record persisted alongside every video payload, the
// storage-status enum tracking where authoritative bytes live, and the
// compression sub-record for asynchronous post-processing jobs.
package video

import (
	"time"

	"github.com/clipdock/clipdock/internal/video/id"
)

// StorageStatus indicates which backend(s) currently hold authoritative bytes.
type StorageStatus string

const (
	// StatusLocalOnly indicates only the local copy is guaranteed.
	StatusLocalOnly StorageStatus = "local-only"
	// StatusMirrored indicates both local and remote copies exist.
	StatusMirrored StorageStatus = "mirrored"
	// StatusRemoteOnly indicates only the remote copy is presumed retrievable.
	StatusRemoteOnly StorageStatus = "remote-only"
)

// IsValid returns true if the storage status is a recognized value.
func (s StorageStatus) IsValid() bool {
	return s == StatusLocalOnly || s == StatusMirrored || s == StatusRemoteOnly
}

// HasRemote returns true if a remote copy is presumed retrievable.
func (s StorageStatus) HasRemote() bool {
	return s == StatusMirrored || s == StatusRemoteOnly
}

// CompressionStatus represents the state of an asynchronous compression job.
type CompressionStatus string

const (
	// CompressionProcessing indicates the encoder is still working.
	CompressionProcessing CompressionStatus = "processing"
	// CompressionCompleted indicates the encoder finished successfully.
	CompressionCompleted CompressionStatus = "completed"
	// CompressionFailed indicates the encoder gave up.
	CompressionFailed CompressionStatus = "failed"
)

// IsValid returns true if the compression status is a recognized value.
func (s CompressionStatus) IsValid() bool {
	return s == CompressionProcessing || s == CompressionCompleted || s == CompressionFailed
}

// CompressionState tracks an asynchronous post-processing job for a record.
// Its lifecycle is independent from the record itself: it starts in
// "processing" and ends in "completed" or "failed".
type CompressionState struct {
	// Status is the current compression job state.
	Status CompressionStatus `json:"status"`
	// OriginalSizeBytes is the payload size before compression.
	OriginalSizeBytes int64 `json:"originalSizeBytes"`
	// CompressedSizeBytes is the payload size after compression, once known.
	CompressedSizeBytes int64 `json:"compressedSizeBytes,omitempty"`
	// StartedAt is when the compression job began.
	StartedAt time.Time `json:"startedAt"`
	// CompletedAt is when the compression job reached a terminal state.
	CompletedAt time.Time `json:"completedAt"`
}

// Record is the metadata entry for one uploaded video.
// The ID is assigned at first successful persistence and is immutable.
type Record struct {
	// ID is the opaque unique identifier for this video.
	ID string `json:"id" validate:"required"`
	// Filename is the original client-supplied file name.
	Filename string `json:"filename" validate:"required"`
	// OwnerClient is the client the video belongs to.
	OwnerClient string `json:"ownerClient" validate:"required"`
	// OwnerProject is the project the video belongs to.
	OwnerProject string `json:"ownerProject" validate:"required"`
	// UploadTimestamp is the creation time, set once.
	UploadTimestamp time.Time `json:"uploadTimestamp"`
	// SizeBytes is the byte length of the stored payload.
	SizeBytes int64 `json:"sizeBytes" validate:"gte=0"`
	// DownloadCount is incremented by the read path only.
	DownloadCount int64 `json:"downloadCount"`
	// StorageStatus tracks where authoritative bytes currently live.
	StorageStatus StorageStatus `json:"storageStatus" validate:"required"`
	// LocalPath is the payload location on disk, when a local copy exists.
	LocalPath string `json:"localPath,omitempty"`
	// RemoteKey is the object key in the remote store, when a remote copy exists.
	RemoteKey string `json:"remoteKey,omitempty"`
	// IsActive gates whether downloads are permitted.
	IsActive bool `json:"isActive"`
	// IntegrityChecksum is the SHA-256 hex digest computed at write time.
	IntegrityChecksum string `json:"integrityChecksum,omitempty"`
	// Compression tracks an optional asynchronous post-processing job.
	Compression *CompressionState `json:"compressionState,omitempty"`
}

// New creates a new Record with a generated ID, active downloads,
// and local-only storage status.
func New(filename, ownerClient, ownerProject string) *Record {
	return &Record{
		ID:              id.Generate(),
		Filename:        filename,
		OwnerClient:     ownerClient,
		OwnerProject:    ownerProject,
		UploadTimestamp: time.Now(),
		StorageStatus:   StatusLocalOnly,
		IsActive:        true,
	}
}

// Clone creates a deep copy of the record for safe reads.
func (r *Record) Clone() *Record {
	c := *r
	if r.Compression != nil {
		comp := *r.Compression
		c.Compression = &comp
	}
	return &c
}

// BeginCompression initializes the compression sub-record in "processing" state.
func (r *Record) BeginCompression(originalSize int64) {
	r.Compression = &CompressionState{
		Status:            CompressionProcessing,
		OriginalSizeBytes: originalSize,
		StartedAt:         time.Now(),
	}
}

// CompleteCompression marks the compression job as finished with the result size.
func (r *Record) CompleteCompression(compressedSize int64) {
	if r.Compression == nil {
		return
	}
	r.Compression.Status = CompressionCompleted
	r.Compression.CompressedSizeBytes = compressedSize
	r.Compression.CompletedAt = time.Now()
}

// FailCompression marks the compression job as failed.
func (r *Record) FailCompression() {
	if r.Compression == nil {
		return
	}
	r.Compression.Status = CompressionFailed
	r.Compression.CompletedAt = time.Now()
}
