package server

import (
	"log/slog"
	"net/http"
)

// NewRouter creates the HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing. A non-nil
// metricsHandler is mounted at /metrics.
func NewRouter(h *Handlers, logger *slog.Logger, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("POST /videos", h.UploadVideo)
	mux.HandleFunc("GET /videos", h.ListVideos)
	mux.HandleFunc("GET /videos/{id}", h.GetVideo)
	mux.HandleFunc("GET /videos/{id}/info", h.GetVideoInfo)
	mux.HandleFunc("DELETE /videos/{id}", h.DeleteVideo)
	mux.HandleFunc("POST /videos/{id}/backup", h.BackupVideo)
	mux.HandleFunc("POST /videos/{id}/compress", h.CompressVideo)
	mux.HandleFunc("GET /videos/{id}/url", h.GetDownloadURL)
	mux.HandleFunc("GET /videos/{id}/availability", h.GetAvailability)

	mux.HandleFunc("GET /stats", h.GetStats)
	mux.HandleFunc("POST /recovery/run", h.RunRecovery)
	mux.HandleFunc("GET /recovery/status", h.GetRecoveryStatus)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)

	return chain(mux)
}
