// Package hybrid composes the metadata store with the local and remote
// object storage backends behind a single durable-write/durable-read API.
// Local disk is the durability anchor: a save fails if the local write
// fails, while remote mirroring is best-effort and never blocks the caller.
// Reads go local-first with remote fallback.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/clipdock/clipdock/internal/metadata"
	"github.com/clipdock/clipdock/internal/storage"
	"github.com/clipdock/clipdock/internal/video"
)

// Static errors for coordinator operations.
var (
	// ErrNotFound is returned when the video exists in no backend.
	ErrNotFound = errors.New("hybrid: video not found in any backend")
	// ErrVideoInactive is returned when downloads are disabled for a record.
	ErrVideoInactive = errors.New("hybrid: video is inactive")
	// ErrAlreadyBackedUp is returned by BackupVideo when a remote copy already exists.
	ErrAlreadyBackedUp = errors.New("hybrid: already backed up")
	// ErrRemoteDisabled is returned when an operation requires the remote store
	// and none is configured.
	ErrRemoteDisabled = errors.New("hybrid: remote storage is not configured")
)

// Source identifies which backend served a read.
type Source string

const (
	// SourceLocal means the bytes came from local disk. Not cacheable
	// across requests.
	SourceLocal Source = "local"
	// SourceRemote means the bytes came from the remote store. Remote URLs
	// are long-lived, so these results are cacheable.
	SourceRemote Source = "remote"
)

// Stream is the result of a successful video read.
type Stream struct {
	Body     io.ReadCloser
	Size     int64
	Filename string
	Source   Source
}

// DeleteResult reports the per-backend outcome of a delete.
// Deletion succeeds overall when at least one attempted backend succeeded;
// remaining failures are surfaced as the advisory string, not as an error.
type DeleteResult struct {
	LocalDeleted    bool
	RemoteDeleted   bool
	MetadataDeleted bool
	Advisory        string
}

// Succeeded reports whether at least one backend deletion went through.
func (r *DeleteResult) Succeeded() bool {
	return r.LocalDeleted || r.RemoteDeleted || r.MetadataDeleted
}

// Availability is the result of independent existence probes across the
// three stores. Diagnostic only; it never gates normal operation.
type Availability struct {
	Local    bool `json:"local"`
	Remote   bool `json:"remote"`
	Metadata bool `json:"metadata"`
}

// Stats aggregates record and payload counts across the stores.
// ActiveUploads is filled in by the boundary layer, which owns the
// upload state tracker.
type Stats struct {
	TotalRecords   int                         `json:"totalRecords"`
	ActiveRecords  int                         `json:"activeRecords"`
	ActiveUploads  int                         `json:"activeUploads"`
	RecordsByState map[video.StorageStatus]int `json:"recordsByState"`
	MetadataBytes  int64                       `json:"metadataBytes"`
	LocalFiles     int                         `json:"localFiles"`
	LocalBytes     int64                       `json:"localBytes"`
}

// ConnStatus reports per-backend connectivity.
type ConnStatus struct {
	LocalOK   bool   `json:"localOk"`
	LocalErr  string `json:"localErr,omitempty"`
	RemoteOK  bool   `json:"remoteOk"`
	RemoteErr string `json:"remoteErr,omitempty"`
}

// Coordinator presents a single storage API over the metadata store, the
// local disk store and an optional remote store.
type Coordinator struct {
	meta   metadata.Store
	local  *storage.LocalStore
	remote storage.Remote
	links  *storage.LinkCache
	mirror bool
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRemote attaches a remote store and enables best-effort mirroring.
func WithRemote(remote storage.Remote) Option {
	return func(c *Coordinator) {
		c.remote = remote
		c.mirror = true
	}
}

// WithLinkCache attaches a presigned-link cache for download URLs.
func WithLinkCache(links *storage.LinkCache) Option {
	return func(c *Coordinator) {
		c.links = links
	}
}

// WithMirroring toggles the mirror step independently of remote reads.
func WithMirroring(enabled bool) Option {
	return func(c *Coordinator) {
		c.mirror = enabled
	}
}

// NewCoordinator creates a coordinator over the given stores.
func NewCoordinator(meta metadata.Store, local *storage.LocalStore, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		meta:   meta,
		local:  local,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SaveVideo persists the payload locally, writes the metadata record, and
// then attempts a best-effort remote mirror. The local write and metadata
// write must both succeed; a remote failure downgrades nothing and the
// save still returns successfully with a local-only record.
func (c *Coordinator) SaveVideo(ctx context.Context, data io.Reader, filename, ownerClient, ownerProject string) (*video.Record, error) {
	filename, err := storage.CleanFilename(filename)
	if err != nil {
		return nil, err
	}
	rec := video.New(filename, ownerClient, ownerProject)

	path, size, checksum, err := c.local.Save(ctx, rec.ID, filename, data)
	if err != nil {
		return nil, fmt.Errorf("local write failed: %w", err)
	}

	rec.LocalPath = path
	rec.SizeBytes = size
	rec.IntegrityChecksum = checksum

	if err := c.meta.Save(ctx, rec); err != nil {
		// The payload stays on disk as a recoverable orphan.
		return nil, fmt.Errorf("metadata write failed: %w", err)
	}

	if c.mirror && c.remote != nil {
		if err := c.mirrorToRemote(ctx, rec); err != nil {
			c.logger.Warn("remote mirror failed, keeping local-only",
				slog.String("video_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return rec, nil
}

// mirrorToRemote uploads the local payload and flips the record to mirrored.
func (c *Coordinator) mirrorToRemote(ctx context.Context, rec *video.Record) error {
	body, _, err := c.local.Open(ctx, rec.ID, rec.Filename)
	if err != nil {
		return fmt.Errorf("open local payload: %w", err)
	}
	defer func() { _ = body.Close() }()

	key := storage.ObjectKey(rec.ID, rec.Filename)
	tags := map[string]string{
		"video-id": rec.ID,
		"client":   rec.OwnerClient,
		"project":  rec.OwnerProject,
	}
	if err := c.remote.Put(ctx, key, body, tags); err != nil {
		return err
	}

	status := video.StatusMirrored
	updated, err := c.meta.Update(ctx, rec.ID, metadata.Partial{
		StorageStatus: &status,
		RemoteKey:     &key,
	})
	if err != nil {
		return fmt.Errorf("record mirror status: %w", err)
	}

	*rec = *updated
	return nil
}

// GetVideoStream returns the video bytes, trying local disk first and
// falling back to the remote store on any local failure. The download
// counter is incremented on success from either path.
func (c *Coordinator) GetVideoStream(ctx context.Context, id string) (*Stream, error) {
	rec, err := c.meta.Load(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !rec.IsActive {
		return nil, ErrVideoInactive
	}

	body, size, err := c.local.Open(ctx, id, rec.Filename)
	if err == nil {
		c.countDownload(ctx, rec)
		return &Stream{Body: body, Size: size, Filename: rec.Filename, Source: SourceLocal}, nil
	}

	c.logger.Debug("local read failed, trying remote",
		slog.String("video_id", id),
		slog.String("error", err.Error()),
	)

	if c.remote == nil {
		return nil, ErrNotFound
	}

	keys := c.remoteKeys(rec)
	body, size, _, err = storage.GetFirst(ctx, c.remote, keys)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.countDownload(ctx, rec)
	return &Stream{Body: body, Size: size, Filename: rec.Filename, Source: SourceRemote}, nil
}

// remoteKeys returns the recorded remote key when present, or the ordered
// candidate probes when it is not.
func (c *Coordinator) remoteKeys(rec *video.Record) []string {
	if rec.RemoteKey != "" {
		return []string{rec.RemoteKey}
	}
	return storage.CandidateKeys(rec.ID, rec.Filename)
}

// countDownload bumps the download counter. A lost update here is
// tolerable; the counter is advisory.
func (c *Coordinator) countDownload(ctx context.Context, rec *video.Record) {
	count := rec.DownloadCount + 1
	if _, err := c.meta.Update(ctx, rec.ID, metadata.Partial{DownloadCount: &count}); err != nil {
		c.logger.Warn("failed to record download",
			slog.String("video_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// BackupVideo is an idempotent manual mirror trigger.
// Returns ErrAlreadyBackedUp when a remote copy already exists and
// metadata.ErrNotFound when the record does not exist.
func (c *Coordinator) BackupVideo(ctx context.Context, id string) error {
	rec, err := c.meta.Load(ctx, id)
	if err != nil {
		return err
	}
	if rec.StorageStatus.HasRemote() {
		return ErrAlreadyBackedUp
	}
	if c.remote == nil {
		return ErrRemoteDisabled
	}
	return c.mirrorToRemote(ctx, rec)
}

// DeleteVideo attempts deletion from local storage, remote storage, and
// the metadata store independently. The remote attempt is skipped when the
// record never had a remote copy; a skipped backend is neither success
// nor failure. ErrNotFound is returned only when every attempted backend
// failed.
func (c *Coordinator) DeleteVideo(ctx context.Context, id string) (*DeleteResult, error) {
	result := &DeleteResult{}
	var advisories []string

	rec, err := c.meta.Load(ctx, id)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		advisories = append(advisories, fmt.Sprintf("metadata read: %v", err))
	}

	// Local payload
	var localErr error
	if rec != nil {
		localErr = c.local.Delete(ctx, id, rec.Filename)
	} else {
		localErr = c.local.DeleteAll(ctx, id)
	}
	if localErr != nil {
		advisories = append(advisories, fmt.Sprintf("local: %v", localErr))
	} else {
		result.LocalDeleted = true
	}

	// Remote copy, only when one is recorded
	if rec != nil && rec.RemoteKey != "" && c.remote != nil {
		if err := c.remote.Delete(ctx, rec.RemoteKey); err != nil {
			advisories = append(advisories, fmt.Sprintf("remote: %v", err))
		} else {
			result.RemoteDeleted = true
			if c.links != nil {
				c.links.Invalidate(rec.RemoteKey)
			}
		}
	}

	// Metadata record and index entry
	if err := c.meta.Delete(ctx, id); err != nil {
		if !errors.Is(err, metadata.ErrNotFound) || rec != nil {
			advisories = append(advisories, fmt.Sprintf("metadata: %v", err))
		}
	} else {
		result.MetadataDeleted = true
	}

	result.Advisory = strings.Join(advisories, "; ")
	if !result.Succeeded() {
		return result, ErrNotFound
	}
	return result, nil
}

// CheckVideoAvailability runs independent existence probes across all
// three stores.
func (c *Coordinator) CheckVideoAvailability(ctx context.Context, id string) (*Availability, error) {
	avail := &Availability{}

	rec, err := c.meta.Load(ctx, id)
	if err == nil {
		avail.Metadata = true
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return nil, err
	}

	hasLocal, err := c.local.HasPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	avail.Local = hasLocal

	if c.remote != nil {
		keys := storage.CandidateKeys(id, "")
		if rec != nil {
			keys = c.remoteKeys(rec)
		}
		for _, key := range keys {
			ok, err := c.remote.Exists(ctx, key)
			if err != nil {
				return nil, err
			}
			if ok {
				avail.Remote = true
				break
			}
		}
	}

	return avail, nil
}

// GetStorageStats aggregates counts across the metadata index and the
// local storage tree.
func (c *Coordinator) GetStorageStats(ctx context.Context) (*Stats, error) {
	records, err := c.meta.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalRecords:   len(records),
		RecordsByState: make(map[video.StorageStatus]int),
	}
	for _, rec := range records {
		stats.RecordsByState[rec.StorageStatus]++
		stats.MetadataBytes += rec.SizeBytes
		if rec.IsActive {
			stats.ActiveRecords++
		}
	}

	files, bytes, err := c.local.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.LocalFiles = files
	stats.LocalBytes = bytes
	return stats, nil
}

// TestConnections probes each backend. Local is probed with a writability
// check; remote with an existence call on a sentinel key, where a clean
// "does not exist" still proves the connection works.
func (c *Coordinator) TestConnections(ctx context.Context) *ConnStatus {
	status := &ConnStatus{}

	if err := c.local.Ping(ctx); err != nil {
		status.LocalErr = err.Error()
	} else {
		status.LocalOK = true
	}

	if c.remote == nil {
		status.RemoteErr = ErrRemoteDisabled.Error()
		return status
	}
	if _, err := c.remote.Exists(ctx, "healthcheck/ping"); err != nil {
		status.RemoteErr = err.Error()
	} else {
		status.RemoteOK = true
	}
	return status
}

// GetDownloadURL returns a shareable link for the video. Records with a
// remote copy get a presigned URL (cached); local-only records return the
// payload path so the boundary layer can stream directly.
func (c *Coordinator) GetDownloadURL(ctx context.Context, id string) (string, Source, error) {
	rec, err := c.meta.Load(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	if !rec.IsActive {
		return "", "", ErrVideoInactive
	}

	if rec.StorageStatus.HasRemote() && c.links != nil {
		key := rec.RemoteKey
		if key == "" {
			key = storage.ObjectKey(rec.ID, rec.Filename)
		}
		url, err := c.links.URL(ctx, key)
		if err != nil {
			return "", "", err
		}
		return url, SourceRemote, nil
	}

	return rec.LocalPath, SourceLocal, nil
}

// BeginCompression marks a record as having an in-flight compression job.
func (c *Coordinator) BeginCompression(ctx context.Context, id string) (*video.Record, error) {
	rec, err := c.meta.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.BeginCompression(rec.SizeBytes)
	return c.meta.Update(ctx, id, metadata.Partial{Compression: rec.Compression})
}

// CompleteCompression records a finished compression job and its result size.
func (c *Coordinator) CompleteCompression(ctx context.Context, id string, compressedSize int64) (*video.Record, error) {
	rec, err := c.meta.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.CompleteCompression(compressedSize)
	return c.meta.Update(ctx, id, metadata.Partial{Compression: rec.Compression})
}

// FailCompression records a failed compression job.
func (c *Coordinator) FailCompression(ctx context.Context, id string) (*video.Record, error) {
	rec, err := c.meta.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.FailCompression()
	return c.meta.Update(ctx, id, metadata.Partial{Compression: rec.Compression})
}

// Metadata exposes the underlying metadata store for collaborators that
// need read access (listing, validation) without going through storage.
func (c *Coordinator) Metadata() metadata.Store {
	return c.meta
}

// Local exposes the underlying local store.
func (c *Coordinator) Local() *storage.LocalStore {
	return c.local
}
