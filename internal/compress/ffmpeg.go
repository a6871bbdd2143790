package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrEmptySource is returned when the source path is empty.
var ErrEmptySource = errors.New("compress: source path is required")

// Compile-time check that FFmpegCompressor implements Compressor.
var _ Compressor = (*FFmpegCompressor)(nil)

// FFmpegCompressor implements Compressor using the ffmpeg CLI with a
// CRF-based H.264 encode.
type FFmpegCompressor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// crf is the constant rate factor; higher means smaller and lossier.
	crf int
}

// NewFFmpegCompressor creates a new FFmpegCompressor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegCompressor(ffmpegPath string, crf int) *FFmpegCompressor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if crf <= 0 {
		crf = 28
	}
	return &FFmpegCompressor{ffmpegPath: ffmpegPath, crf: crf}
}

// Compress re-encodes src into dst and returns the output size.
func (c *FFmpegCompressor) Compress(ctx context.Context, src, dst string) (int64, error) {
	if src == "" {
		return 0, ErrEmptySource
	}

	args := []string{
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", c.crf),
		"-preset", "medium",
		"-c:a", "copy",
		dst,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("stat output: %w", err)
	}
	return info.Size(), nil
}
