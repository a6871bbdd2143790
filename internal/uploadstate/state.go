// Package uploadstate provides durable tracking of upload attempts.
// Each attempt gets its own state record, keyed by an upload identifier
// that is distinct from the video identifier: the video ID is only known
// once persistence commits. An interrupted upload leaves its record behind
// for diagnosis; it is never resumed byte-for-byte.
package uploadstate

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of an upload attempt.
type Status string

const (
	// StatusActive indicates bytes are (or were last seen) flowing.
	StatusActive Status = "active"
	// StatusCompleted indicates the upload persisted successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the upload ended in an error.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when an invalid status transition is attempted.
var ErrInvalidTransition = errors.New("uploadstate: invalid status transition")

// validTransitions defines which status transitions are allowed.
// A failed upload does not go back to active; a fresh attempt gets a
// fresh state record.
var validTransitions = map[Status][]Status{
	StatusActive:    {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// State is the durable record of one upload attempt.
type State struct {
	// UploadID is the unique identifier for this attempt.
	UploadID string `json:"uploadId"`
	// VideoID is filled in once persistence succeeds.
	VideoID string `json:"videoId,omitempty"`
	// Filename is the client-supplied file name.
	Filename string `json:"filename"`
	// OwnerClient and OwnerProject mirror the eventual video record.
	OwnerClient  string `json:"ownerClient"`
	OwnerProject string `json:"ownerProject"`
	// TotalSize is the declared upload size in bytes.
	TotalSize int64 `json:"totalSize"`
	// UploadedSize is the number of bytes seen so far.
	UploadedSize int64 `json:"uploadedSize"`
	// Status is the current attempt state.
	Status Status `json:"status"`
	// RetryCount counts failures recorded against this attempt.
	RetryCount int `json:"retryCount"`
	// LastError is the most recent failure message.
	LastError string `json:"lastError,omitempty"`
	// StartTime is when the attempt began.
	StartTime time.Time `json:"startTime"`
	// LastActivity is bumped on every progress update and status change.
	LastActivity time.Time `json:"lastActivity"`
}

// New creates a new active upload state with a generated upload ID.
func New(filename, ownerClient, ownerProject string, totalSize int64) *State {
	now := time.Now()
	return &State{
		UploadID:     uuid.NewString(),
		Filename:     filename,
		OwnerClient:  ownerClient,
		OwnerProject: ownerProject,
		TotalSize:    totalSize,
		Status:       StatusActive,
		StartTime:    now,
		LastActivity: now,
	}
}

// TransitionTo attempts to change the attempt status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (s *State) TransitionTo(status Status) error {
	if !canTransition(s.Status, status) {
		return ErrInvalidTransition
	}
	s.Status = status
	s.LastActivity = time.Now()
	return nil
}

// IsTerminal returns true if the attempt is in a terminal state.
func (s *State) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}
