// Package storage provides the two object storage backends for video
// payloads: a local disk tree keyed by video identifier and an
// S3-compatible remote store. The Remote interface is the port for the
// remote backend; errors crossing it are classified into a closed set so
// callers never inspect vendor error fields directly.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore writes and reads video payloads under a root directory,
// one subdirectory per video identifier. It is the durability anchor:
// write failures here are fatal to the save as a whole.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local store rooted at the given directory.
// The directory is created if it doesn't exist.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "clipdock", "videos")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &LocalStore{root: root}, nil
}

// Root returns the storage root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Path returns the payload path for a video without touching the disk.
func (s *LocalStore) Path(id, filename string) string {
	return filepath.Join(s.root, id, filename)
}

// CleanFilename reduces a client-supplied filename to its base name so it
// cannot escape the video directory or carry path separators. Names that
// do not denote a regular file are rejected.
func CleanFilename(name string) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid payload filename %q", name)
	}
	return name, nil
}

// Save streams data into <root>/<id>/<filename>, computing the SHA-256
// checksum as it writes. The filename is reduced to its base name before
// use. A partial file is removed on error.
func (s *LocalStore) Save(ctx context.Context, id, filename string, data io.Reader) (path string, size int64, checksum string, err error) {
	select {
	case <-ctx.Done():
		return "", 0, "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	filename, err = CleanFilename(filename)
	if err != nil {
		return "", 0, "", err
	}

	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", 0, "", fmt.Errorf("create video directory: %w", err)
	}

	path = filepath.Join(dir, filename)
	f, err := os.Create(path) // #nosec G304 - path is derived from a generated id
	if err != nil {
		return "", 0, "", fmt.Errorf("create payload file: %w", err)
	}

	hasher := sha256.New()
	size, err = io.Copy(f, io.TeeReader(data, hasher))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", 0, "", fmt.Errorf("write payload: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", 0, "", fmt.Errorf("close payload file: %w", err)
	}

	return path, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open returns a reader over the payload and its size.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStore) Open(ctx context.Context, id, filename string) (io.ReadCloser, int64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path := s.Path(id, filename)
	f, err := os.Open(path) // #nosec G304 - path is derived from a generated id
	if err != nil {
		return nil, 0, fmt.Errorf("open payload: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat payload: %w", err)
	}

	return f, info.Size(), nil
}

// Rename moves a payload file to a new name within the same video
// directory and returns the new path. Renaming to the current name is a
// no-op.
func (s *LocalStore) Rename(ctx context.Context, id, oldName, newName string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	newName, err := CleanFilename(newName)
	if err != nil {
		return "", err
	}

	oldPath := s.Path(id, oldName)
	newPath := s.Path(id, newName)
	if oldPath == newPath {
		return newPath, nil
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("rename payload: %w", err)
	}
	return newPath, nil
}

// Exists reports whether the payload file is present on disk.
func (s *LocalStore) Exists(ctx context.Context, id, filename string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	_, err := os.Stat(s.Path(id, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat payload: %w", err)
	}
	return true, nil
}

// Delete removes the payload file, then the video directory if it is empty.
// A directory still holding other files (such as the metadata record) is
// left in place.
func (s *LocalStore) Delete(ctx context.Context, id, filename string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := os.Remove(s.Path(id, filename)); err != nil {
		return fmt.Errorf("remove payload: %w", err)
	}

	// Best-effort: os.Remove refuses non-empty directories.
	_ = os.Remove(filepath.Join(s.root, id))
	return nil
}

// DeleteAll removes the entire video directory, payload and metadata alike.
// Returns an error if the directory does not exist, so callers can tell a
// deletion apart from a no-op.
func (s *LocalStore) DeleteAll(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir := filepath.Join(s.root, id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("video directory %s does not exist", id)
		}
		return fmt.Errorf("stat video directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove video directory: %w", err)
	}
	return nil
}

// HasPayload reports whether the video directory holds any payload file
// besides the metadata record.
func (s *LocalStore) HasPayload(ctx context.Context, id string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	entries, err := os.ReadDir(filepath.Join(s.root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read video directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && entry.Name() != "metadata.json" {
			return true, nil
		}
	}
	return false, nil
}

// Stats walks the storage tree and returns the payload file count and
// total payload bytes, excluding metadata records and the index.
func (s *LocalStore) Stats(ctx context.Context) (files int, bytes int64, err error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, 0, fmt.Errorf("read storage root: %w", err)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return 0, 0, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}
		if !entry.IsDir() {
			continue
		}

		inner, err := os.ReadDir(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		for _, file := range inner {
			if file.IsDir() || file.Name() == "metadata.json" {
				continue
			}
			info, err := file.Info()
			if err != nil {
				continue
			}
			files++
			bytes += info.Size()
		}
	}
	return files, bytes, nil
}

// Ping verifies the storage root is writable by creating and removing a
// probe file.
func (s *LocalStore) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.root, ".probe_*")
	if err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Checksum recomputes the SHA-256 hex digest over a payload file.
func Checksum(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from a directory scan
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
