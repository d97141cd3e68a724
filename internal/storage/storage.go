// Package storage provides the object store holding uploaded media bytes and the
// scratch area used while processing. It defines the Store interface (port) for
// hexagonal architecture and implementations for local disk and S3 storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store defines the interface for the backing byte store.
// Objects are addressed by slash separated keys scoped by tenant.
type Store interface {
	// Put writes data under key, replacing any existing object,
	// and returns the number of bytes written.
	Put(ctx context.Context, key string, data io.Reader) (int64, error)

	// Stat returns object metadata. Returns ErrNotFound if the object is missing.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// OpenRange opens a reader positioned at offset that yields length bytes,
	// or everything through the end of the object when length is negative.
	// The caller is responsible for closing the returned ReadCloser.
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Materialize makes the object available as a local file for tools that need
	// a filesystem path. Copies, if any, are written below dir.
	Materialize(ctx context.Context, key, dir string) (string, error)
}

var (
	tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
	extPattern    = regexp.MustCompile(`^[a-z0-9]{1,10}$`)
)

// ObjectKey builds the key for a media record: <tenant>/<mediaID><ext>.
// ext is optional and normalised to lower case; unusable extensions are dropped.
func ObjectKey(tenantID, mediaID, ext string) (string, error) {
	if !tenantPattern.MatchString(tenantID) || strings.Contains(tenantID, "..") {
		return "", fmt.Errorf("%w: tenant %q", ErrInvalidKey, tenantID)
	}
	if !tenantPattern.MatchString(mediaID) || strings.Contains(mediaID, "..") {
		return "", fmt.Errorf("%w: media id %q", ErrInvalidKey, mediaID)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !extPattern.MatchString(ext) {
		return tenantID + "/" + mediaID, nil
	}
	return tenantID + "/" + mediaID + "." + ext, nil
}

// cleanKey validates a key and returns it in canonical form.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// checkContext returns a wrapped error if ctx is already done.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}
