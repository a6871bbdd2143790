package uploadstate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	return tracker
}

func TestNew(t *testing.T) {
	state := New("clip.mp4", "acme", "launch", 2048)

	if state.UploadID == "" {
		t.Error("expected generated upload ID")
	}
	if state.Status != StatusActive {
		t.Errorf("expected active status, got %s", state.Status)
	}
	if state.TotalSize != 2048 {
		t.Errorf("expected total size 2048, got %d", state.TotalSize)
	}
	if state.StartTime.IsZero() || state.LastActivity.IsZero() {
		t.Error("expected timestamps to be set")
	}

	other := New("clip.mp4", "acme", "launch", 2048)
	if other.UploadID == state.UploadID {
		t.Error("expected unique upload IDs per attempt")
	}
}

func TestState_TransitionTo(t *testing.T) {
	t.Run("active to completed", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 1)
		if err := state.TransitionTo(StatusCompleted); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("active to failed", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 1)
		if err := state.TransitionTo(StatusFailed); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("failed does not return to active", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 1)
		_ = state.TransitionTo(StatusFailed)
		if err := state.TransitionTo(StatusActive); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("terminal states are final", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 1)
		_ = state.TransitionTo(StatusCompleted)
		if err := state.TransitionTo(StatusFailed); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestTracker_SaveLoad(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	state := New("clip.mp4", "acme", "launch", 2048)
	if err := tracker.Save(ctx, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := tracker.Load(ctx, state.UploadID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Filename != "clip.mp4" || loaded.Status != StatusActive {
		t.Errorf("unexpected state: %+v", loaded)
	}
}

func TestTracker_Load_NotFound(t *testing.T) {
	tracker := newTestTracker(t)

	_, err := tracker.Load(context.Background(), "missing")
	if !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestTracker_UpdateProgress(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	t.Run("updates bytes and activity", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 2048)
		_ = tracker.Save(ctx, state)

		updated, err := tracker.UpdateProgress(ctx, state.UploadID, 1024)
		if err != nil {
			t.Fatalf("UpdateProgress() error = %v", err)
		}
		if updated.UploadedSize != 1024 {
			t.Errorf("expected uploaded size 1024, got %d", updated.UploadedSize)
		}
	})

	t.Run("fails loudly without prior state", func(t *testing.T) {
		_, err := tracker.UpdateProgress(ctx, "missing", 512)
		if !errors.Is(err, ErrStateNotFound) {
			t.Errorf("expected ErrStateNotFound, got %v", err)
		}
	})

	t.Run("rejects progress on terminal state", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 2048)
		_ = tracker.Save(ctx, state)
		_, _ = tracker.MarkCompleted(ctx, state.UploadID, "vid-1")

		_, err := tracker.UpdateProgress(ctx, state.UploadID, 2048)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestTracker_MarkCompleted(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	state := New("clip.mp4", "acme", "launch", 2048)
	_ = tracker.Save(ctx, state)

	completed, err := tracker.MarkCompleted(ctx, state.UploadID, "vid-1")
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
	if completed.VideoID != "vid-1" {
		t.Errorf("expected video ID vid-1, got %s", completed.VideoID)
	}
	if completed.UploadedSize != completed.TotalSize {
		t.Errorf("expected uploaded size to equal total on completion")
	}
}

func TestTracker_MarkFailed(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	t.Run("records retry count and error", func(t *testing.T) {
		state := New("clip.mp4", "acme", "launch", 2048)
		_ = tracker.Save(ctx, state)

		failed, err := tracker.MarkFailed(ctx, state.UploadID, "stream broke")
		if err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
		if failed.Status != StatusFailed {
			t.Errorf("expected failed, got %s", failed.Status)
		}
		if failed.RetryCount != 1 {
			t.Errorf("expected retry count 1, got %d", failed.RetryCount)
		}
		if failed.LastError != "stream broke" {
			t.Errorf("expected last error recorded, got %q", failed.LastError)
		}
	})

	t.Run("fails loudly without prior state", func(t *testing.T) {
		_, err := tracker.MarkFailed(ctx, "missing", "boom")
		if !errors.Is(err, ErrStateNotFound) {
			t.Errorf("expected ErrStateNotFound, got %v", err)
		}
	})
}

func TestTracker_ListActive(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	active := New("a.mp4", "acme", "launch", 1)
	done := New("b.mp4", "acme", "launch", 1)
	failed := New("c.mp4", "acme", "launch", 1)
	for _, s := range []*State{active, done, failed} {
		_ = tracker.Save(ctx, s)
	}
	_, _ = tracker.MarkCompleted(ctx, done.UploadID, "vid-1")
	_, _ = tracker.MarkFailed(ctx, failed.UploadID, "boom")

	actives, err := tracker.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(actives) != 1 || actives[0].UploadID != active.UploadID {
		t.Errorf("expected only the active attempt, got %v", actives)
	}
}

func TestTracker_CleanupExpired(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	// Completed 25 hours ago: eligible
	expired := New("a.mp4", "acme", "launch", 1)
	expired.Status = StatusCompleted
	expired.LastActivity = time.Now().Add(-25 * time.Hour)
	_ = tracker.Save(ctx, expired)

	// Active 25 hours ago: never removed
	stalled := New("b.mp4", "acme", "launch", 1)
	stalled.LastActivity = time.Now().Add(-25 * time.Hour)
	_ = tracker.Save(ctx, stalled)

	// Completed just now: too fresh
	fresh := New("c.mp4", "acme", "launch", 1)
	fresh.Status = StatusCompleted
	_ = tracker.Save(ctx, fresh)

	removed, err := tracker.CleanupExpired(ctx, 24)
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if _, err := tracker.Load(ctx, expired.UploadID); !errors.Is(err, ErrStateNotFound) {
		t.Error("expected expired state to be removed")
	}
	if _, err := tracker.Load(ctx, stalled.UploadID); err != nil {
		t.Error("stalled active upload must never be removed")
	}
	if _, err := tracker.Load(ctx, fresh.UploadID); err != nil {
		t.Error("fresh terminal state must survive")
	}
}
