package hybrid

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/clipdock/clipdock/internal/metadata"
	"github.com/clipdock/clipdock/internal/storage"
	"github.com/clipdock/clipdock/internal/video"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return local
}

func newTestCoordinator(t *testing.T) (*Coordinator, metadata.Store, *storage.LocalStore, *storage.MemoryRemote) {
	t.Helper()
	meta := metadata.NewMemoryStore()
	local := newLocalStore(t)
	remote := storage.NewMemoryRemote()
	c := NewCoordinator(meta, local, testLogger(), WithRemote(remote))
	return c, meta, local, remote
}

func TestSaveVideoMirrored(t *testing.T) {
	c, _, local, remote := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("payload bytes"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	if rec.StorageStatus != video.StatusMirrored {
		t.Errorf("expected status %q, got %q", video.StatusMirrored, rec.StorageStatus)
	}
	if rec.RemoteKey != storage.ObjectKey(rec.ID, "clip.mp4") {
		t.Errorf("unexpected remote key %q", rec.RemoteKey)
	}
	if rec.SizeBytes != int64(len("payload bytes")) {
		t.Errorf("expected size %d, got %d", len("payload bytes"), rec.SizeBytes)
	}
	if rec.IntegrityChecksum == "" {
		t.Error("expected checksum to be set")
	}

	exists, err := local.Exists(ctx, rec.ID, "clip.mp4")
	if err != nil || !exists {
		t.Errorf("expected local payload to exist, exists=%v err=%v", exists, err)
	}
	if remote.Len() != 1 {
		t.Errorf("expected 1 remote object, got %d", remote.Len())
	}
}

func TestSaveVideoSanitizesFilename(t *testing.T) {
	c, _, local, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "../../escape.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	// The record and the disk must agree on the base name.
	if rec.Filename != "escape.mp4" {
		t.Errorf("expected base filename, got %q", rec.Filename)
	}
	if rec.LocalPath != local.Path(rec.ID, "escape.mp4") {
		t.Errorf("payload escaped the video directory: %s", rec.LocalPath)
	}

	stream, err := c.GetVideoStream(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetVideoStream failed: %v", err)
	}
	_ = stream.Body.Close()

	if _, err := c.SaveVideo(ctx, strings.NewReader("data"), "..", "acme", "launch"); err == nil {
		t.Error("expected error for filename without a base name")
	}
}

func TestSaveVideoRemoteFailureKeepsLocalOnly(t *testing.T) {
	c, meta, _, remote := newTestCoordinator(t)
	ctx := context.Background()

	remote.FailPut = &storage.RemoteError{Kind: storage.KindServerError, Err: errors.New("boom")}

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo should succeed despite remote failure: %v", err)
	}

	if rec.StorageStatus != video.StatusLocalOnly {
		t.Errorf("expected status %q, got %q", video.StatusLocalOnly, rec.StorageStatus)
	}
	if rec.RemoteKey != "" {
		t.Errorf("expected empty remote key, got %q", rec.RemoteKey)
	}

	stored, err := meta.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("metadata load failed: %v", err)
	}
	if stored.StorageStatus != video.StatusLocalOnly {
		t.Errorf("persisted status should be local-only, got %q", stored.StorageStatus)
	}
}

func TestSaveVideoNoRemoteConfigured(t *testing.T) {
	meta := metadata.NewMemoryStore()
	local := newLocalStore(t)
	c := NewCoordinator(meta, local, testLogger())

	rec, err := c.SaveVideo(context.Background(), strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}
	if rec.StorageStatus != video.StatusLocalOnly {
		t.Errorf("expected status %q, got %q", video.StatusLocalOnly, rec.StorageStatus)
	}
}

func TestGetVideoStreamLocal(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("video content"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	stream, err := c.GetVideoStream(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetVideoStream failed: %v", err)
	}
	defer stream.Body.Close()

	if stream.Source != SourceLocal {
		t.Errorf("expected source %q, got %q", SourceLocal, stream.Source)
	}
	data, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(data) != "video content" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestGetVideoStreamRemoteFallback(t *testing.T) {
	c, meta, local, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("video content"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	// Local copy vanishes out-of-band.
	if err := local.Delete(ctx, rec.ID, "clip.mp4"); err != nil {
		t.Fatalf("delete local: %v", err)
	}

	stream, err := c.GetVideoStream(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetVideoStream should fall back to remote: %v", err)
	}
	defer stream.Body.Close()

	if stream.Source != SourceRemote {
		t.Errorf("expected source %q, got %q", SourceRemote, stream.Source)
	}
	data, _ := io.ReadAll(stream.Body)
	if string(data) != "video content" {
		t.Errorf("unexpected content %q", data)
	}

	stored, err := meta.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("metadata load failed: %v", err)
	}
	if stored.DownloadCount != 1 {
		t.Errorf("expected download count 1, got %d", stored.DownloadCount)
	}
}

func TestGetVideoStreamCandidateProbe(t *testing.T) {
	c, meta, _, remote := newTestCoordinator(t)
	ctx := context.Background()

	// A remote copy exists under a probe key but the record never learned it.
	rec := video.New("video.mov", "acme", "launch")
	if err := meta.Save(ctx, rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
	key := storage.ObjectKey(rec.ID, "video.mov")
	if err := remote.Put(ctx, key, strings.NewReader("bytes"), nil); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	stream, err := c.GetVideoStream(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetVideoStream failed: %v", err)
	}
	defer stream.Body.Close()
	if stream.Source != SourceRemote {
		t.Errorf("expected source %q, got %q", SourceRemote, stream.Source)
	}
}

func TestGetVideoStreamNotFound(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	_, err := c.GetVideoStream(context.Background(), "vid-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetVideoStreamBothBackendsMissing(t *testing.T) {
	c, _, local, remote := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}
	if err := local.Delete(ctx, rec.ID, "clip.mp4"); err != nil {
		t.Fatalf("delete local: %v", err)
	}
	if err := remote.Delete(ctx, rec.RemoteKey); err != nil {
		t.Fatalf("delete remote: %v", err)
	}

	_, err = c.GetVideoStream(ctx, rec.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetVideoStreamInactive(t *testing.T) {
	c, meta, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}
	inactive := false
	if _, err := meta.Update(ctx, rec.ID, metadata.Partial{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err = c.GetVideoStream(ctx, rec.ID)
	if !errors.Is(err, ErrVideoInactive) {
		t.Errorf("expected ErrVideoInactive, got %v", err)
	}
}

func TestBackupVideoIdempotent(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	// Already mirrored by the save.
	err = c.BackupVideo(ctx, rec.ID)
	if !errors.Is(err, ErrAlreadyBackedUp) {
		t.Errorf("expected ErrAlreadyBackedUp, got %v", err)
	}
}

func TestBackupVideoAfterMirrorFailure(t *testing.T) {
	c, meta, _, remote := newTestCoordinator(t)
	ctx := context.Background()

	remote.FailPut = &storage.RemoteError{Kind: storage.KindServerError, Err: errors.New("boom")}
	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}
	remote.FailPut = nil

	if err := c.BackupVideo(ctx, rec.ID); err != nil {
		t.Fatalf("BackupVideo failed: %v", err)
	}

	stored, err := meta.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("metadata load failed: %v", err)
	}
	if stored.StorageStatus != video.StatusMirrored {
		t.Errorf("expected status %q, got %q", video.StatusMirrored, stored.StorageStatus)
	}
	if stored.RemoteKey == "" {
		t.Error("expected remote key to be recorded")
	}
}

func TestBackupVideoNotFound(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	err := c.BackupVideo(context.Background(), "vid-missing")
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected metadata.ErrNotFound, got %v", err)
	}
}

func TestDeleteVideoFull(t *testing.T) {
	c, meta, local, remote := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	result, err := c.DeleteVideo(ctx, rec.ID)
	if err != nil {
		t.Fatalf("DeleteVideo failed: %v", err)
	}
	if !result.LocalDeleted || !result.RemoteDeleted || !result.MetadataDeleted {
		t.Errorf("expected all backends deleted, got %+v", result)
	}
	if result.Advisory != "" {
		t.Errorf("expected no advisory, got %q", result.Advisory)
	}

	if _, err := meta.Load(ctx, rec.ID); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("record should be gone, got %v", err)
	}
	exists, _ := local.Exists(ctx, rec.ID, "clip.mp4")
	if exists {
		t.Error("local payload should be gone")
	}
	if remote.Len() != 0 {
		t.Errorf("remote should be empty, has %d objects", remote.Len())
	}
}

func TestDeleteVideoPartialFailureIsAdvisory(t *testing.T) {
	c, _, _, remote := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	remote.FailDelete = &storage.RemoteError{Kind: storage.KindServerError, Err: errors.New("throttled")}

	result, err := c.DeleteVideo(ctx, rec.ID)
	if err != nil {
		t.Fatalf("DeleteVideo should succeed when local and metadata deletes work: %v", err)
	}
	if !result.Succeeded() {
		t.Error("expected overall success")
	}
	if result.RemoteDeleted {
		t.Error("remote delete should have failed")
	}
	if result.Advisory == "" {
		t.Error("expected a non-empty advisory for the remote failure")
	}
}

func TestDeleteVideoSkipsRemoteWithoutKey(t *testing.T) {
	c, _, _, remote := newTestCoordinator(t)
	ctx := context.Background()

	remote.FailPut = &storage.RemoteError{Kind: storage.KindServerError, Err: errors.New("boom")}
	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	result, err := c.DeleteVideo(ctx, rec.ID)
	if err != nil {
		t.Fatalf("DeleteVideo failed: %v", err)
	}
	if result.RemoteDeleted {
		t.Error("remote delete should be skipped for local-only records")
	}
	if result.Advisory != "" {
		t.Errorf("skipped backend must not produce an advisory, got %q", result.Advisory)
	}
}

func TestDeleteVideoNothingAnywhere(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	result, err := c.DeleteVideo(context.Background(), "vid-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if result.Succeeded() {
		t.Error("no backend should report success")
	}
}

func TestCheckVideoAvailability(t *testing.T) {
	c, _, local, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	avail, err := c.CheckVideoAvailability(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckVideoAvailability failed: %v", err)
	}
	if !avail.Local || !avail.Remote || !avail.Metadata {
		t.Errorf("expected presence everywhere, got %+v", avail)
	}

	if err := local.Delete(ctx, rec.ID, "clip.mp4"); err != nil {
		t.Fatalf("delete local: %v", err)
	}
	avail, err = c.CheckVideoAvailability(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckVideoAvailability failed: %v", err)
	}
	if avail.Local {
		t.Error("local probe should report absence after out-of-band delete")
	}
	if !avail.Remote || !avail.Metadata {
		t.Errorf("remote and metadata should be unaffected, got %+v", avail)
	}
}

func TestGetStorageStats(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.SaveVideo(ctx, strings.NewReader("0123456789"), "clip.mp4", "acme", "launch"); err != nil {
			t.Fatalf("SaveVideo failed: %v", err)
		}
	}

	stats, err := c.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", stats.TotalRecords)
	}
	if stats.ActiveRecords != 3 {
		t.Errorf("expected 3 active records, got %d", stats.ActiveRecords)
	}
	if stats.RecordsByState[video.StatusMirrored] != 3 {
		t.Errorf("expected 3 mirrored records, got %d", stats.RecordsByState[video.StatusMirrored])
	}
	if stats.LocalFiles != 3 {
		t.Errorf("expected 3 local files, got %d", stats.LocalFiles)
	}
	if stats.LocalBytes != 30 {
		t.Errorf("expected 30 local bytes, got %d", stats.LocalBytes)
	}
}

func TestTestConnections(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	status := c.TestConnections(context.Background())
	if !status.LocalOK {
		t.Errorf("local probe failed: %s", status.LocalErr)
	}
	if !status.RemoteOK {
		t.Errorf("remote probe failed: %s", status.RemoteErr)
	}
}

func TestTestConnectionsNoRemote(t *testing.T) {
	c := NewCoordinator(metadata.NewMemoryStore(), newLocalStore(t), testLogger())

	status := c.TestConnections(context.Background())
	if !status.LocalOK {
		t.Errorf("local probe failed: %s", status.LocalErr)
	}
	if status.RemoteOK {
		t.Error("remote probe should not report OK without a remote store")
	}
}

func TestGetDownloadURL(t *testing.T) {
	meta := metadata.NewMemoryStore()
	local := newLocalStore(t)
	remote := storage.NewMemoryRemote()
	links := storage.NewLinkCache(remote, 16, time.Hour)
	c := NewCoordinator(meta, local, testLogger(), WithRemote(remote), WithLinkCache(links))
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	url, source, err := c.GetDownloadURL(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDownloadURL failed: %v", err)
	}
	if source != SourceRemote {
		t.Errorf("expected source %q, got %q", SourceRemote, source)
	}
	if !strings.Contains(url, rec.RemoteKey) {
		t.Errorf("expected url to reference remote key, got %q", url)
	}
}

func TestGetDownloadURLLocalOnly(t *testing.T) {
	c, _, _, remote := newTestCoordinator(t)
	ctx := context.Background()

	remote.FailPut = &storage.RemoteError{Kind: storage.KindServerError, Err: errors.New("boom")}
	rec, err := c.SaveVideo(ctx, strings.NewReader("data"), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	url, source, err := c.GetDownloadURL(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDownloadURL failed: %v", err)
	}
	if source != SourceLocal {
		t.Errorf("expected source %q, got %q", SourceLocal, source)
	}
	if _, err := os.Stat(url); err != nil {
		t.Errorf("expected local path to exist: %v", err)
	}
}

func TestCompressionLifecycle(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	rec, err := c.SaveVideo(ctx, bytes.NewReader(make([]byte, 100)), "clip.mp4", "acme", "launch")
	if err != nil {
		t.Fatalf("SaveVideo failed: %v", err)
	}

	updated, err := c.BeginCompression(ctx, rec.ID)
	if err != nil {
		t.Fatalf("BeginCompression failed: %v", err)
	}
	if updated.Compression == nil || updated.Compression.Status != video.CompressionProcessing {
		t.Fatalf("expected processing compression state, got %+v", updated.Compression)
	}
	if updated.Compression.OriginalSizeBytes != 100 {
		t.Errorf("expected original size 100, got %d", updated.Compression.OriginalSizeBytes)
	}

	updated, err = c.CompleteCompression(ctx, rec.ID, 40)
	if err != nil {
		t.Fatalf("CompleteCompression failed: %v", err)
	}
	if updated.Compression.Status != video.CompressionCompleted {
		t.Errorf("expected completed, got %q", updated.Compression.Status)
	}
	if updated.Compression.CompressedSizeBytes != 40 {
		t.Errorf("expected compressed size 40, got %d", updated.Compression.CompressedSizeBytes)
	}
}
