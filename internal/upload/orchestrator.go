// Package upload wraps raw byte-stream persistence with an idempotence
// check and an automatic orphan-recovery fallback. A duplicate upload
// returns the already-stored record without consuming the stream; a
// failed upload that left a plausible partial file on disk is recovered
// instead of discarded.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/clipdock/clipdock/internal/metadata"
	"github.com/clipdock/clipdock/internal/recovery"
	"github.com/clipdock/clipdock/internal/uploadstate"
	"github.com/clipdock/clipdock/internal/video"
)

// Persister is the byte-stream persistence collaborator. Given a stream
// it writes all bytes to durable storage and returns the fully populated
// record, or fails without partially returning.
type Persister interface {
	SaveVideo(ctx context.Context, data io.Reader, filename, ownerClient, ownerProject string) (*video.Record, error)
}

// Tolerances are the relative size bands for duplicate matching.
// The idempotence band is tight since it matches completed uploads; the
// recovery band is looser since a failed upload may have written a
// partial but plausible file. Both are policy knobs, not invariants.
type Tolerances struct {
	Idempotency float64
	Recovery    float64
}

// DefaultTolerances returns the stock 5% / 10% bands.
func DefaultTolerances() Tolerances {
	return Tolerances{Idempotency: 0.05, Recovery: 0.10}
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	ExpiredUploads int `json:"expiredUploads"`
	Recovered      int `json:"recovered"`
	Failed         int `json:"failed"`
	Quarantined    int `json:"quarantined"`
}

// Orchestrator coordinates upload state tracking, duplicate detection
// and orphan-recovery fallback around the persistence layer.
type Orchestrator struct {
	persister Persister
	meta      metadata.Store
	tracker   *uploadstate.Tracker
	engine    *recovery.Engine
	tol       Tolerances
	logger    *slog.Logger
}

// NewOrchestrator creates an upload orchestrator.
func NewOrchestrator(persister Persister, meta metadata.Store, tracker *uploadstate.Tracker, engine *recovery.Engine, tol Tolerances, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		persister: persister,
		meta:      meta,
		tracker:   tracker,
		engine:    engine,
		tol:       tol,
		logger:    logger,
	}
}

// HandleUploadWithRecovery persists an upload with idempotence and
// failure-recovery policy:
//
//  1. Track the attempt as an active upload state.
//  2. Recover any orphans left behind by earlier attempts, then look for
//     an existing record with the same owners, filename and a size within
//     the idempotency band. A match is returned without consuming the
//     stream.
//  3. Otherwise persist the stream. On success the state is completed.
//  4. On failure the state is failed and a fresh scan looks for an
//     orphan within the recovery band of the expected size; a recovered
//     orphan is patched to the request's owners and filename and returned.
//  5. With no recoverable orphan the original failure propagates.
func (o *Orchestrator) HandleUploadWithRecovery(ctx context.Context, data io.Reader, filename, ownerClient, ownerProject string, expectedSize int64) (*video.Record, error) {
	state := uploadstate.New(filename, ownerClient, ownerProject, expectedSize)
	if err := o.tracker.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("track upload: %w", err)
	}

	if existing := o.findExisting(ctx, filename, ownerClient, ownerProject, expectedSize); existing != nil {
		o.logger.Info("duplicate upload matched existing record",
			slog.String("upload_id", state.UploadID),
			slog.String("video_id", existing.ID),
		)
		o.markCompleted(ctx, state.UploadID, existing.ID)
		return existing, nil
	}

	rec, err := o.persister.SaveVideo(ctx, data, filename, ownerClient, ownerProject)
	if err == nil {
		o.markCompleted(ctx, state.UploadID, rec.ID)
		return rec, nil
	}

	o.markFailed(ctx, state.UploadID, err)

	if recovered := o.recoverFromFailure(ctx, filename, ownerClient, ownerProject, expectedSize); recovered != nil {
		o.logger.Info("upload failure recovered from orphaned file",
			slog.String("upload_id", state.UploadID),
			slog.String("video_id", recovered.ID),
		)
		return recovered, nil
	}

	return nil, fmt.Errorf("upload failed with no recoverable orphan: %w", err)
}

// markCompleted flips the attempt state to completed with the video ID
// assigned at persistence. State tracking is advisory; a failure here is
// logged, never propagated.
func (o *Orchestrator) markCompleted(ctx context.Context, uploadID, videoID string) {
	if _, err := o.tracker.MarkCompleted(ctx, uploadID, videoID); err != nil {
		o.logger.Warn("failed to mark upload completed",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
	}
}

// markFailed flips the attempt state to failed with the cause recorded.
func (o *Orchestrator) markFailed(ctx context.Context, uploadID string, cause error) {
	if _, err := o.tracker.MarkFailed(ctx, uploadID, cause.Error()); err != nil {
		o.logger.Warn("failed to mark upload failed",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
	}
}

// findExisting runs the idempotence check. It first sweeps up orphans so
// records left behind by another process are visible, then matches on
// owner pair, filename and size band.
func (o *Orchestrator) findExisting(ctx context.Context, filename, ownerClient, ownerProject string, expectedSize int64) *video.Record {
	if _, err := o.engine.RecoverAllOrphans(ctx); err != nil {
		o.logger.Warn("pre-upload orphan sweep failed",
			slog.String("error", err.Error()),
		)
	}

	records, err := o.meta.ListByClient(ctx, ownerClient)
	if err != nil {
		o.logger.Warn("duplicate lookup failed",
			slog.String("error", err.Error()),
		)
		return nil
	}

	for _, rec := range records {
		if rec.OwnerProject != ownerProject || rec.Filename != filename {
			continue
		}
		if withinTolerance(rec.SizeBytes, expectedSize, o.tol.Idempotency) {
			return rec
		}
	}
	return nil
}

// recoverFromFailure scans for orphans plausibly written by the failed
// attempt and recovers the first one within the recovery band, patching
// its inferred fields to the request intent.
func (o *Orchestrator) recoverFromFailure(ctx context.Context, filename, ownerClient, ownerProject string, expectedSize int64) *video.Record {
	orphans, err := o.engine.ScanForOrphans(ctx)
	if err != nil {
		o.logger.Warn("post-failure orphan scan failed",
			slog.String("error", err.Error()),
		)
		return nil
	}

	for _, orphan := range orphans {
		if !withinTolerance(orphan.SizeBytes, expectedSize, o.tol.Recovery) {
			continue
		}
		rec := o.engine.RecoverOrphan(ctx, orphan)
		if rec == nil {
			continue
		}

		patch := metadata.Partial{
			OwnerClient:  &ownerClient,
			OwnerProject: &ownerProject,
		}
		// The record must keep naming the payload actually on disk, so the
		// file is renamed before the filename is patched.
		if filename == rec.Filename {
			patch.Filename = &filename
		} else if newPath, renameErr := o.engine.Local().Rename(ctx, rec.ID, rec.Filename, filename); renameErr != nil {
			o.logger.Warn("payload rename failed, keeping inferred filename",
				slog.String("video_id", rec.ID),
				slog.String("error", renameErr.Error()),
			)
		} else {
			patch.Filename = &filename
			patch.LocalPath = &newPath
		}

		patched, err := o.meta.Update(ctx, rec.ID, patch)
		if err != nil {
			o.logger.Warn("failed to patch recovered record",
				slog.String("video_id", rec.ID),
				slog.String("error", err.Error()),
			)
			return rec
		}
		return patched
	}
	return nil
}

// withinTolerance reports whether actual is within the relative band of
// expected. A non-positive expected size only matches exactly.
func withinTolerance(actual, expected int64, tol float64) bool {
	if expected <= 0 {
		return actual == expected
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= tol*float64(expected)
}

// ActiveUploadCount reports how many attempts are still in active state.
func (o *Orchestrator) ActiveUploadCount(ctx context.Context) (int, error) {
	states, err := o.tracker.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(states), nil
}

// RunMaintenance combines the periodic cleanups in one entry point:
// expired upload states, a full orphan recovery pass, and the quarantine
// sweep of invalid files.
func (o *Orchestrator) RunMaintenance(ctx context.Context, uploadRetentionHours int) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}

	expired, err := o.tracker.CleanupExpired(ctx, uploadRetentionHours)
	if err != nil {
		return nil, fmt.Errorf("cleanup expired uploads: %w", err)
	}
	report.ExpiredUploads = expired

	result, err := o.engine.RecoverAllOrphans(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover orphans: %w", err)
	}
	report.Recovered = result.Recovered
	report.Failed = result.Failed

	quarantined, err := o.engine.CleanupInvalidOrphans(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup invalid orphans: %w", err)
	}
	report.Quarantined = quarantined

	return report, nil
}
