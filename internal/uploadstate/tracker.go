package uploadstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrStateNotFound is returned when no state record exists for an upload ID.
// There is no implicit creation on update.
var ErrStateNotFound = errors.New("uploadstate: state not found")

// Tracker persists upload attempt state, one JSON file per upload ID.
type Tracker struct {
	dir    string
	logger *slog.Logger
}

// NewTracker creates a tracker writing state files under dir.
// The directory is created if it doesn't exist.
func NewTracker(dir string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Tracker{dir: dir, logger: logger}, nil
}

func (t *Tracker) statePath(uploadID string) string {
	return filepath.Join(t.dir, uploadID+".json")
}

// Save persists the state record, replacing any existing one.
func (t *Tracker) Save(ctx context.Context, state *State) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(t.statePath(state.UploadID), data, 0640); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load retrieves the state record for an upload ID.
// Returns ErrStateNotFound if no record exists.
func (t *Tracker) Load(ctx context.Context, uploadID string) (*State, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	data, err := os.ReadFile(t.statePath(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", uploadID, err)
	}
	return &state, nil
}

// UpdateProgress records bytes seen so far and bumps last activity.
// Fails with ErrStateNotFound if no prior state exists, and with
// ErrInvalidTransition if the attempt already reached a terminal state.
func (t *Tracker) UpdateProgress(ctx context.Context, uploadID string, uploadedSize int64) (*State, error) {
	state, err := t.Load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if state.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	state.UploadedSize = uploadedSize
	state.LastActivity = time.Now()
	if err := t.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// MarkCompleted transitions the attempt to completed and records the
// video ID assigned at persistence.
func (t *Tracker) MarkCompleted(ctx context.Context, uploadID, videoID string) (*State, error) {
	state, err := t.Load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := state.TransitionTo(StatusCompleted); err != nil {
		return nil, err
	}

	state.VideoID = videoID
	state.UploadedSize = state.TotalSize
	if err := t.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// MarkFailed transitions the attempt to failed, increments the retry
// count and stores the error message.
func (t *Tracker) MarkFailed(ctx context.Context, uploadID, errMsg string) (*State, error) {
	state, err := t.Load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := state.TransitionTo(StatusFailed); err != nil {
		return nil, err
	}

	state.RetryCount++
	state.LastError = errMsg
	if err := t.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// ListActive returns all attempts still in active status.
func (t *Tracker) ListActive(ctx context.Context) ([]*State, error) {
	states, err := t.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*State, 0, len(states))
	for _, state := range states {
		if state.Status == StatusActive {
			active = append(active, state)
		}
	}
	return active, nil
}

// CleanupExpired removes state records that are terminal AND whose last
// activity is older than maxAgeHours. Active uploads are never removed
// regardless of age; a long-stalled active upload is a signal for manual
// investigation, not automatic cleanup. Returns the number removed.
func (t *Tracker) CleanupExpired(ctx context.Context, maxAgeHours int) (int, error) {
	states, err := t.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	removed := 0
	for _, state := range states {
		if !state.IsTerminal() || !state.LastActivity.Before(cutoff) {
			continue
		}
		if err := os.Remove(t.statePath(state.UploadID)); err != nil {
			t.logger.Warn("failed to remove expired upload state",
				slog.String("upload_id", state.UploadID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

// ListAll reads every state file in the directory, skipping unreadable ones.
func (t *Tracker) ListAll(ctx context.Context) ([]*State, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	states := make([]*State, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		uploadID := strings.TrimSuffix(entry.Name(), ".json")
		state, err := t.Load(ctx, uploadID)
		if err != nil {
			t.logger.Warn("skipping unreadable upload state",
				slog.String("upload_id", uploadID),
				slog.String("error", err.Error()),
			)
			continue
		}
		states = append(states, state)
	}
	return states, nil
}
