// Package server provides the HTTP surface for ClipDock.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// UploadResponse is the HTTP response after a successful upload.
type UploadResponse struct {
	// ID is the unique identifier of the stored video.
	ID string `json:"id"`
	// Filename is the stored file name.
	Filename string `json:"filename"`
	// SizeBytes is the stored payload size.
	SizeBytes int64 `json:"sizeBytes"`
	// StorageStatus reports where the bytes currently live.
	StorageStatus string `json:"storageStatus"`
	// Checksum is the SHA-256 hex digest of the payload.
	Checksum string `json:"checksum"`
}

// VideoResponse is the HTTP response for video record details.
type VideoResponse struct {
	ID              string               `json:"id"`
	Filename        string               `json:"filename"`
	OwnerClient     string               `json:"ownerClient"`
	OwnerProject    string               `json:"ownerProject"`
	UploadTimestamp time.Time            `json:"uploadTimestamp"`
	SizeBytes       int64                `json:"sizeBytes"`
	DownloadCount   int64                `json:"downloadCount"`
	StorageStatus   string               `json:"storageStatus"`
	IsActive        bool                 `json:"isActive"`
	Compression     *CompressionResponse `json:"compression,omitempty"`
}

// CompressionResponse reports the state of a compression job.
type CompressionResponse struct {
	Status              string `json:"status"`
	OriginalSizeBytes   int64  `json:"originalSizeBytes"`
	CompressedSizeBytes int64  `json:"compressedSizeBytes,omitempty"`
}

// DeleteResponse reports the per-backend outcome of a delete.
type DeleteResponse struct {
	// Success is true when at least one backend deletion succeeded.
	Success bool `json:"success"`
	// Advisory lists backend failures that did not fail the delete overall.
	Advisory string `json:"advisory,omitempty"`
	// LocalDeleted, RemoteDeleted and MetadataDeleted break down the result.
	LocalDeleted    bool `json:"localDeleted"`
	RemoteDeleted   bool `json:"remoteDeleted"`
	MetadataDeleted bool `json:"metadataDeleted"`
}

// DownloadURLResponse carries a shareable link for a video.
type DownloadURLResponse struct {
	// URL is either a presigned remote URL or a local payload path.
	URL string `json:"url"`
	// Source says which backend the link points at.
	Source string `json:"source"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}
