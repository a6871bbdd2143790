package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrorKind is the closed set of failure classes produced at the
// remote-storage boundary. Internal logic switches on these instead of
// vendor error codes.
type ErrorKind string

const (
	// KindNotFound means the object does not exist. Not retryable.
	KindNotFound ErrorKind = "not_found"
	// KindAccessDenied means credentials or policy reject the operation. Not retryable.
	KindAccessDenied ErrorKind = "access_denied"
	// KindRateLimited means the store is throttling. Retryable.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServerError means the store failed internally. Retryable.
	KindServerError ErrorKind = "server_error"
	// KindUnknown covers everything else, including transport failures. Retryable.
	KindUnknown ErrorKind = "unknown"
)

// Retryable reports whether an operation failing with this kind is worth
// repeating. Permanent failures (missing objects, rejected credentials)
// fail fast.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindServerError || k == KindUnknown
}

// RemoteError is a classified failure from the remote store.
type RemoteError struct {
	Kind ErrorKind
	Key  string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote storage %s (key %q): %v", e.Kind, e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the error is a classified missing-object failure.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindNotFound
}

// Remote defines the interface for the S3-compatible object store.
// All returned errors are *RemoteError values.
type Remote interface {
	// Put uploads data under the given key with optional metadata tags.
	Put(ctx context.Context, key string, data io.Reader, tags map[string]string) error

	// Get returns a reader over the object and its size.
	// The caller is responsible for closing the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Delete removes the object.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Presign returns a time-bounded fetch URL for the object.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// knownExtensions is the ordered list of payload extensions probed when a
// record's remote key is unknown. Order is a visible policy, not buried
// control flow.
var knownExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}

// IsVideoFilename reports whether the filename carries a recognized
// video extension. Matching is case-insensitive.
func IsVideoFilename(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, known := range knownExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// ObjectKey returns the canonical remote key for a video payload.
func ObjectKey(id, filename string) string {
	return fmt.Sprintf("videos/%s/%s", id, filename)
}

// CandidateKeys returns the ordered remote keys to try for a video whose
// exact key may not be recorded: the canonical key first, then one
// fallback per known extension.
func CandidateKeys(id, filename string) []string {
	keys := make([]string, 0, len(knownExtensions)+1)
	if filename != "" {
		keys = append(keys, ObjectKey(id, filename))
	}
	for _, ext := range knownExtensions {
		key := ObjectKey(id, "video"+ext)
		if len(keys) > 0 && keys[0] == key {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// GetFirst tries the keys in order and returns the first object found,
// along with the key that matched. Missing keys are skipped; any other
// failure aborts the probe since it is environmental, not a miss.
// If every key is missing, a KindNotFound error for the last key is returned.
func GetFirst(ctx context.Context, r Remote, keys []string) (io.ReadCloser, int64, string, error) {
	var lastErr error
	for _, key := range keys {
		body, size, err := r.Get(ctx, key)
		if err == nil {
			return body, size, key, nil
		}
		if !IsNotFound(err) {
			return nil, 0, "", err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &RemoteError{Kind: KindNotFound, Err: errors.New("no candidate keys")}
	}
	return nil, 0, "", lastErr
}
