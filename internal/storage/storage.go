// Package storage bridges the byte streams of the archive codec to object
// storage backends addressed by name.
//
// A Backend exposes four primitives (open, read, write, close) keyed on an
// integer handle, the same shape a remote file server offers. The Adapter
// binds one object of a Backend to a context and turns those primitives into
// an io.Reader / io.Writer / io.Closer that the codec can drive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// OpenMode selects how an object is opened.
type OpenMode uint8

const (
	// OpenRead opens an existing object for sequential reading.
	OpenRead OpenMode = iota
	// OpenWrite creates the object, truncating any previous content.
	OpenWrite
)

func (m OpenMode) String() string {
	switch m {
	case OpenRead:
		return "read"
	case OpenWrite:
		return "write"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Handle identifies an open object within one Backend.
type Handle int

// Backend is the primitive I/O surface of an object store.
//
// Read returns (0, io.EOF) at the end of the object. A backend must be safe
// for concurrent use on distinct handles.
type Backend interface {
	Open(ctx context.Context, name string, mode OpenMode) (Handle, error)
	Read(ctx context.Context, h Handle, p []byte) (int, error)
	Write(ctx context.Context, h Handle, p []byte) (int, error)
	Close(ctx context.Context, h Handle) error
}

// Store is a Backend that holds client resources which must be released
// once no session uses it anymore.
type Store interface {
	Backend
	Release() error
}

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when the named object does not exist.
	ErrNotFound = errors.New("storage: object not found")

	// ErrInvalidName is returned for empty names or names outside the store.
	ErrInvalidName = errors.New("storage: invalid object name")

	// ErrBadHandle is returned for handles that are not open, or that were
	// opened in the other mode.
	ErrBadHandle = errors.New("storage: bad handle")

	// ErrOpen wraps any failure of the backend's open primitive.
	ErrOpen = errors.New("storage: open failed")

	// ErrRead wraps any failure of the backend's read primitive.
	ErrRead = errors.New("storage: read failed")

	// ErrWrite wraps any failure of the backend's write primitive.
	ErrWrite = errors.New("storage: write failed")

	// ErrClose wraps any failure of the backend's close primitive.
	ErrClose = errors.New("storage: close failed")
)

// cleanName turns an object name into a slash-separated relative key.
// Leading slashes and ".." elements cannot climb above the store root.
func cleanName(name string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}
