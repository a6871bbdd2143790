// Package compress defines the encoder port and the service that drives
// a video's compression lifecycle. The actual encoding is an external
// collaborator; this package owns only the state transitions around it.
package compress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipdock/clipdock/internal/video"
)

// Compressor defines the interface for the external video encoder.
// Implementations typically shell out to ffmpeg or call a transcoding
// service; correctness of the encoding itself is their concern.
type Compressor interface {
	// Compress re-encodes the payload at src into dst and returns the
	// resulting size in bytes.
	Compress(ctx context.Context, src, dst string) (int64, error)
}

// Lifecycle is the slice of the storage coordinator the service needs:
// the three compression state transitions on a stored record.
type Lifecycle interface {
	BeginCompression(ctx context.Context, id string) (*video.Record, error)
	CompleteCompression(ctx context.Context, id string, compressedSize int64) (*video.Record, error)
	FailCompression(ctx context.Context, id string) (*video.Record, error)
}

// Service runs compression jobs and records their outcome on the video
// record. A job starts in processing and ends in completed or failed;
// the record itself stays readable throughout.
type Service struct {
	compressor Compressor
	lifecycle  Lifecycle
	logger     *slog.Logger
}

// NewService creates a compression service.
func NewService(compressor Compressor, lifecycle Lifecycle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		compressor: compressor,
		lifecycle:  lifecycle,
		logger:     logger,
	}
}

// Run compresses the payload at src into dst and records the outcome on
// the record. The returned record reflects the terminal compression
// state. An encoder failure is recorded, then returned.
func (s *Service) Run(ctx context.Context, id, src, dst string) (*video.Record, error) {
	if _, err := s.lifecycle.BeginCompression(ctx, id); err != nil {
		return nil, fmt.Errorf("begin compression: %w", err)
	}

	size, err := s.compressor.Compress(ctx, src, dst)
	if err != nil {
		s.logger.Warn("compression failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		if rec, failErr := s.lifecycle.FailCompression(ctx, id); failErr == nil {
			return rec, fmt.Errorf("compress: %w", err)
		}
		return nil, fmt.Errorf("compress: %w", err)
	}

	rec, err := s.lifecycle.CompleteCompression(ctx, id, size)
	if err != nil {
		return nil, fmt.Errorf("record compression result: %w", err)
	}

	s.logger.Info("compression finished",
		slog.String("video_id", id),
		slog.Int64("original_bytes", rec.Compression.OriginalSizeBytes),
		slog.Int64("compressed_bytes", size),
	)
	return rec, nil
}
