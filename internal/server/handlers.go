package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/clipdock/clipdock/internal/compress"
	"github.com/clipdock/clipdock/internal/hybrid"
	"github.com/clipdock/clipdock/internal/maintenance"
	"github.com/clipdock/clipdock/internal/metadata"
	"github.com/clipdock/clipdock/internal/upload"
	"github.com/clipdock/clipdock/internal/video"
)

// maxUploadBytes bounds the multipart form parse. Payload streaming is
// not buffered by this limit, only the form metadata.
const maxUploadBytes = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	coordinator  *hybrid.Coordinator
	orchestrator *upload.Orchestrator
	compress     *compress.Service
	maintenance  *maintenance.Service
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(coordinator *hybrid.Coordinator, orchestrator *upload.Orchestrator, compressSvc *compress.Service, svc *maintenance.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		coordinator:  coordinator,
		orchestrator: orchestrator,
		compress:     compressSvc,
		maintenance:  svc,
		logger:       logger,
	}
}

// Health handles GET /healthz requests. Local storage must be writable
// for the service to report healthy; the remote store is advisory.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.coordinator.TestConnections(r.Context())
	code := http.StatusOK
	if !status.LocalOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// UploadVideo handles POST /videos requests with a multipart form:
// a "file" part plus "client" and "project" fields.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	client := r.FormValue("client")
	project := r.FormValue("project")
	if client == "" || project == "" {
		writeError(w, http.StatusBadRequest, "client and project fields are required", "MISSING_OWNER")
		return
	}

	rec, err := h.orchestrator.HandleUploadWithRecovery(r.Context(), file, header.Filename, client, project, header.Size)
	if err != nil {
		h.logger.Error("upload failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "upload failed", "UPLOAD_FAILED")
		return
	}

	h.logger.Info("video uploaded",
		slog.String("video_id", rec.ID),
		slog.String("client", client),
		slog.Int64("size_bytes", rec.SizeBytes),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		ID:            rec.ID,
		Filename:      rec.Filename,
		SizeBytes:     rec.SizeBytes,
		StorageStatus: string(rec.StorageStatus),
		Checksum:      rec.IntegrityChecksum,
	})
}

// GetVideo handles GET /videos/{id} requests, streaming the payload.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "video ID is required", "MISSING_VIDEO_ID")
		return
	}

	stream, err := h.coordinator.GetVideoStream(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, hybrid.ErrNotFound):
			writeError(w, http.StatusNotFound, "video not found", "VIDEO_NOT_FOUND")
		case errors.Is(err, hybrid.ErrVideoInactive):
			writeError(w, http.StatusForbidden, "video is inactive", "VIDEO_INACTIVE")
		default:
			h.logger.Error("failed to stream video",
				slog.String("video_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read video", "VIDEO_READ_FAILED")
		}
		return
	}
	defer func() { _ = stream.Body.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stream.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(stream.Size, 10))
	w.Header().Set("X-Storage-Source", string(stream.Source))

	if _, err := io.Copy(w, stream.Body); err != nil {
		h.logger.Warn("video stream interrupted",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// GetVideoInfo handles GET /videos/{id}/info requests.
func (h *Handlers) GetVideoInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.coordinator.Metadata().Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found", "VIDEO_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load record", "RECORD_LOAD_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(rec))
}

// ListVideos handles GET /videos requests with optional client, project
// and status filters.
func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	meta := h.coordinator.Metadata()
	ctx := r.Context()

	var (
		records []*video.Record
		err     error
	)
	switch {
	case r.URL.Query().Get("client") != "":
		records, err = meta.ListByClient(ctx, r.URL.Query().Get("client"))
	case r.URL.Query().Get("project") != "":
		records, err = meta.ListByProject(ctx, r.URL.Query().Get("project"))
	case r.URL.Query().Get("status") != "":
		records, err = meta.ListByStatus(ctx, video.StorageStatus(r.URL.Query().Get("status")))
	default:
		records, err = meta.ListAll(ctx)
	}
	if err != nil {
		h.logger.Error("failed to list videos",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list videos", "LIST_FAILED")
		return
	}

	out := make([]VideoResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toVideoResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteVideo handles DELETE /videos/{id} requests. Partial backend
// failure still reports success with an advisory, as long as at least
// one backend deletion went through.
func (h *Handlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.coordinator.DeleteVideo(r.Context(), id)
	if err != nil {
		if errors.Is(err, hybrid.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found", "VIDEO_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed", "DELETE_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{
		Success:         result.Succeeded(),
		Advisory:        result.Advisory,
		LocalDeleted:    result.LocalDeleted,
		RemoteDeleted:   result.RemoteDeleted,
		MetadataDeleted: result.MetadataDeleted,
	})
}

// BackupVideo handles POST /videos/{id}/backup requests, an idempotent
// manual mirror trigger.
func (h *Handlers) BackupVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.coordinator.BackupVideo(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, hybrid.ErrAlreadyBackedUp):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, metadata.ErrNotFound):
		writeError(w, http.StatusNotFound, "video not found", "VIDEO_NOT_FOUND")
	case errors.Is(err, hybrid.ErrRemoteDisabled):
		writeError(w, http.StatusConflict, "remote storage is not configured", "REMOTE_DISABLED")
	default:
		h.logger.Error("backup failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "backup failed", "BACKUP_FAILED")
	}
}

// CompressVideo handles POST /videos/{id}/compress requests, running a
// synchronous re-encode of the local payload. The compressed file lands
// next to the original; the original is kept.
func (h *Handlers) CompressVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.coordinator.Metadata().Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found", "VIDEO_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load record", "RECORD_LOAD_FAILED")
		return
	}

	src := rec.LocalPath
	if src == "" {
		src = h.coordinator.Local().Path(rec.ID, rec.Filename)
	}
	dst := filepath.Join(filepath.Dir(src), "compressed_"+rec.Filename)

	updated, err := h.compress.Run(r.Context(), id, src, dst)
	if err != nil {
		h.logger.Error("compression failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "compression failed", "COMPRESSION_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toVideoResponse(updated))
}

// GetDownloadURL handles GET /videos/{id}/url requests.
func (h *Handlers) GetDownloadURL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	url, source, err := h.coordinator.GetDownloadURL(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, hybrid.ErrNotFound):
			writeError(w, http.StatusNotFound, "video not found", "VIDEO_NOT_FOUND")
		case errors.Is(err, hybrid.ErrVideoInactive):
			writeError(w, http.StatusForbidden, "video is inactive", "VIDEO_INACTIVE")
		default:
			writeError(w, http.StatusInternalServerError, "failed to build link", "LINK_FAILED")
		}
		return
	}
	writeJSON(w, http.StatusOK, DownloadURLResponse{URL: url, Source: string(source)})
}

// GetAvailability handles GET /videos/{id}/availability requests.
func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	avail, err := h.coordinator.CheckVideoAvailability(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "availability check failed", "AVAILABILITY_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// GetStats handles GET /stats requests. The in-flight upload count is
// advisory; a tracker read failure degrades it to zero instead of failing
// the whole response.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coordinator.GetStorageStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats collection failed", "STATS_FAILED")
		return
	}

	active, err := h.orchestrator.ActiveUploadCount(r.Context())
	if err != nil {
		h.logger.Warn("failed to count active uploads",
			slog.String("error", err.Error()),
		)
	} else {
		stats.ActiveUploads = active
	}

	writeJSON(w, http.StatusOK, stats)
}

// RunRecovery handles POST /recovery/run requests, a synchronous
// on-demand maintenance pass.
func (h *Handlers) RunRecovery(w http.ResponseWriter, r *http.Request) {
	report, err := h.maintenance.ForceRecoveryCheck(r.Context())
	if err != nil {
		h.logger.Error("on-demand recovery failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "recovery failed", "RECOVERY_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetRecoveryStatus handles GET /recovery/status requests.
func (h *Handlers) GetRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.maintenance.GetStatus())
}

func toVideoResponse(rec *video.Record) VideoResponse {
	resp := VideoResponse{
		ID:              rec.ID,
		Filename:        rec.Filename,
		OwnerClient:     rec.OwnerClient,
		OwnerProject:    rec.OwnerProject,
		UploadTimestamp: rec.UploadTimestamp,
		SizeBytes:       rec.SizeBytes,
		DownloadCount:   rec.DownloadCount,
		StorageStatus:   string(rec.StorageStatus),
		IsActive:        rec.IsActive,
	}
	if rec.Compression != nil {
		resp.Compression = &CompressionResponse{
			Status:              string(rec.Compression.Status),
			OriginalSizeBytes:   rec.Compression.OriginalSizeBytes,
			CompressedSizeBytes: rec.Compression.CompressedSizeBytes,
		}
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
