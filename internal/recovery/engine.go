package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipdock/clipdock/internal/metadata"
	"github.com/clipdock/clipdock/internal/storage"
	"github.com/clipdock/clipdock/internal/video"
)

// fallbackOwner is used for owner fields when the filename yields fewer
// than two tokens to infer them from.
const fallbackOwner = "recovered"

// quarantineDirName is the holding subdirectory for files that failed
// validation, created under the recovery directory.
const quarantineDirName = "quarantine"

// OrphanFile is a payload file discovered in a directory with no metadata
// record. It is recomputed on every scan, never persisted as its own
// entity.
type OrphanFile struct {
	// VideoID is the candidate identifier, derived from the directory name.
	VideoID string
	// Path is the absolute file location.
	Path string
	// Filename is the base name of the file.
	Filename string
	// SizeBytes is the file size at scan time.
	SizeBytes int64
	// ModTime approximates when the file was written.
	ModTime time.Time
}

// Result summarizes a batch recovery run.
type Result struct {
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
}

// Engine scans the local storage tree for orphans and reintegrates them.
// Per orphan the state machine is pending to recovered, invalid, or
// failed; each transition is recorded in the registry with an
// incrementing attempt counter.
type Engine struct {
	meta          metadata.Store
	local         *storage.LocalStore
	registry      *Registry
	quarantineDir string
	minBytes      int64
	logger        *slog.Logger
}

// NewEngine creates a recovery engine over the given stores.
// recoveryDir hosts the quarantine subdirectory; minBytes is the size
// floor below which a file cannot be a legitimate video.
func NewEngine(meta metadata.Store, local *storage.LocalStore, registry *Registry, recoveryDir string, minBytes int64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		meta:          meta,
		local:         local,
		registry:      registry,
		quarantineDir: filepath.Join(recoveryDir, quarantineDirName),
		minBytes:      minBytes,
		logger:        logger,
	}
}

// Local exposes the underlying local store for collaborators that adjust
// recovered payloads.
func (e *Engine) Local() *storage.LocalStore {
	return e.local
}

// ScanForOrphans walks the storage root and reports every regular file
// sitting in a directory that has no metadata record. Directories with a
// metadata file are skipped entirely regardless of their other contents.
// Validation happens later; the scan itself reports all files so the
// quarantine sweep sees non-video strays too.
func (e *Engine) ScanForOrphans(ctx context.Context) ([]OrphanFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	dirs, err := os.ReadDir(e.local.Root())
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	var orphans []OrphanFile
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}

		dirPath := filepath.Join(e.local.Root(), dir.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			e.logger.Warn("skipping unreadable video directory",
				slog.String("dir", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		if hasMetadataFile(files) {
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				e.logger.Warn("skipping unstatable file",
					slog.String("file", filepath.Join(dirPath, f.Name())),
					slog.String("error", err.Error()),
				)
				continue
			}
			orphans = append(orphans, OrphanFile{
				VideoID:   dir.Name(),
				Path:      filepath.Join(dirPath, f.Name()),
				Filename:  f.Name(),
				SizeBytes: info.Size(),
				ModTime:   info.ModTime(),
			})
		}
	}
	return orphans, nil
}

func hasMetadataFile(files []os.DirEntry) bool {
	for _, f := range files {
		if !f.IsDir() && f.Name() == metadata.MetadataFileName {
			return true
		}
	}
	return false
}

// ValidateOrphanFile is the cheap sanity gate before reconstruction:
// recognized video extension, size above the floor, and readable. No
// codec or container inspection happens here.
func (e *Engine) ValidateOrphanFile(orphan OrphanFile) bool {
	if !storage.IsVideoFilename(orphan.Filename) {
		return false
	}
	if orphan.SizeBytes < e.minBytes {
		return false
	}
	f, err := os.Open(orphan.Path) // #nosec G304 - path comes from a directory scan
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// ReconstructMetadata infers a best-effort record for the orphan. Owner
// fields come from splitting the filename on separators; with fewer than
// two tokens they fall back to a sentinel instead of failing. The full
// file is checksummed, an intentional cost since a recovered file's
// provenance cannot be verified any other way. Returns nil without error
// if the file cannot be read.
func (e *Engine) ReconstructMetadata(ctx context.Context, orphan OrphanFile) (*video.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	checksum, err := storage.Checksum(orphan.Path)
	if err != nil {
		e.logger.Warn("orphan unreadable during reconstruction",
			slog.String("file", orphan.Path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	client, project := inferOwners(orphan.Filename)

	uploadedAt := orphan.ModTime
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	return &video.Record{
		ID:                orphan.VideoID,
		Filename:          orphan.Filename,
		OwnerClient:       client,
		OwnerProject:      project,
		UploadTimestamp:   uploadedAt,
		SizeBytes:         orphan.SizeBytes,
		StorageStatus:     video.StatusLocalOnly,
		LocalPath:         orphan.Path,
		IsActive:          true,
		IntegrityChecksum: checksum,
	}, nil
}

// inferOwners derives client and project from the filename stem by
// splitting on hyphen, underscore and space.
func inferOwners(filename string) (client, project string) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	if len(tokens) < 2 {
		return fallbackOwner, fallbackOwner
	}
	return tokens[0], tokens[1]
}

// RecoverOrphan runs validate, reconstruct, persist for one orphan.
// A nil return means recovery did not happen; the registry records
// whether the orphan was invalid (failed validation) or failed
// (reconstruction or persistence error).
func (e *Engine) RecoverOrphan(ctx context.Context, orphan OrphanFile) *video.Record {
	if err := e.registry.Discover(ctx, orphan); err != nil {
		e.logger.Warn("failed to register orphan discovery",
			slog.String("video_id", orphan.VideoID),
			slog.String("error", err.Error()),
		)
	}

	if !e.ValidateOrphanFile(orphan) {
		e.recordAttempt(ctx, orphan.VideoID, StatusInvalid, nil)
		return nil
	}

	rec, err := e.ReconstructMetadata(ctx, orphan)
	if err != nil || rec == nil {
		e.recordAttempt(ctx, orphan.VideoID, StatusFailed, nil)
		return nil
	}

	if result := e.meta.Validate(rec); !result.Valid {
		e.logger.Warn("reconstructed record failed validation",
			slog.String("video_id", orphan.VideoID),
			slog.Any("errors", result.Errors),
		)
		e.recordAttempt(ctx, orphan.VideoID, StatusFailed, nil)
		return nil
	}

	if err := e.meta.Save(ctx, rec); err != nil {
		e.logger.Warn("failed to persist recovered record",
			slog.String("video_id", orphan.VideoID),
			slog.String("error", err.Error()),
		)
		e.recordAttempt(ctx, orphan.VideoID, StatusFailed, nil)
		return nil
	}

	e.recordAttempt(ctx, orphan.VideoID, StatusRecovered, rec)
	e.logger.Info("recovered orphan",
		slog.String("video_id", orphan.VideoID),
		slog.String("file", orphan.Path),
		slog.Int64("size_bytes", orphan.SizeBytes),
	)
	return rec
}

func (e *Engine) recordAttempt(ctx context.Context, videoID string, status Status, rec *video.Record) {
	if err := e.registry.RecordAttempt(ctx, videoID, status, rec); err != nil {
		e.logger.Warn("failed to update orphan registry",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()),
		)
	}
}

// RecoverAllOrphans scans once and attempts recovery of every candidate
// independently. One candidate's failure never aborts the others.
func (e *Engine) RecoverAllOrphans(ctx context.Context) (Result, error) {
	orphans, err := e.ScanForOrphans(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, orphan := range orphans {
		if rec := e.RecoverOrphan(ctx, orphan); rec != nil {
			result.Recovered++
		} else {
			result.Failed++
		}
	}

	if result.Recovered > 0 || result.Failed > 0 {
		e.logger.Info("orphan recovery pass finished",
			slog.Int("recovered", result.Recovered),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// CleanupInvalidOrphans re-scans and moves every file failing validation
// into the quarantine directory, renamed to carry its original video
// identifier and filename. Files are moved, never deleted; quarantine is
// for manual inspection.
func (e *Engine) CleanupInvalidOrphans(ctx context.Context) (int, error) {
	orphans, err := e.ScanForOrphans(ctx)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, orphan := range orphans {
		if e.ValidateOrphanFile(orphan) {
			continue
		}
		if err := e.quarantine(orphan); err != nil {
			e.logger.Warn("failed to quarantine file",
				slog.String("file", orphan.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.recordAttempt(ctx, orphan.VideoID, StatusInvalid, nil)
		moved++
	}

	if moved > 0 {
		e.logger.Info("quarantined invalid orphan files", slog.Int("count", moved))
	}
	return moved, nil
}

// quarantine moves the file under the quarantine directory as
// <videoId>_<filename>.
func (e *Engine) quarantine(orphan OrphanFile) error {
	if err := os.MkdirAll(e.quarantineDir, 0750); err != nil {
		return fmt.Errorf("create quarantine directory: %w", err)
	}
	dest := filepath.Join(e.quarantineDir, fmt.Sprintf("%s_%s", orphan.VideoID, orphan.Filename))
	if err := os.Rename(orphan.Path, dest); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}
	return nil
}
