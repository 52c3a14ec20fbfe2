package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Amaury/collection-archive/internal/metrics"
)

// DefaultBufferSize is the size of the adapter's transfer buffer.
const DefaultBufferSize = 8192

// minBufferSize is the smallest transfer buffer accepted.
const minBufferSize = 512

// Adapter binds one named object of a Backend to a context and exposes it as
// an io.Reader, io.Writer and io.Closer. It owns a fixed-size transfer buffer
// that batches small codec reads and writes into backend calls.
//
// An Adapter is not safe for concurrent use.
type Adapter struct {
	ctx     context.Context
	backend Backend
	name    string
	size    int
	metrics *metrics.Collector

	mode   OpenMode
	handle Handle
	open   bool
	br     *bufio.Reader
	bw     *bufio.Writer
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithBufferSize sets the transfer buffer size. Values below 512 bytes are
// raised to 512.
func WithBufferSize(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.size = max(n, minBufferSize)
		}
	}
}

// WithMetrics counts transferred bytes on c.
func WithMetrics(c *metrics.Collector) AdapterOption {
	return func(a *Adapter) {
		a.metrics = c
	}
}

// NewAdapter returns an unopened adapter for name on backend. The context is
// passed to every backend call made through the adapter.
func NewAdapter(ctx context.Context, backend Backend, name string, opts ...AdapterOption) *Adapter {
	a := &Adapter{ctx: ctx, backend: backend, name: name, size: DefaultBufferSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the object name the adapter is bound to.
func (a *Adapter) Name() string {
	return a.name
}

// Open opens the object in the given mode.
func (a *Adapter) Open(mode OpenMode) error {
	if a.open {
		return fmt.Errorf("%w: %s already open", ErrOpen, a.name)
	}
	h, err := a.backend.Open(a.ctx, a.name, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpen, a.name, err)
	}
	a.handle, a.mode, a.open = h, mode, true
	switch mode {
	case OpenRead:
		a.br = bufio.NewReaderSize(primitiveReader{a}, a.size)
	case OpenWrite:
		a.bw = bufio.NewWriterSize(primitiveWriter{a}, a.size)
	}
	return nil
}

// Read implements io.Reader over the backend's read primitive.
func (a *Adapter) Read(p []byte) (int, error) {
	if !a.open || a.mode != OpenRead {
		return 0, fmt.Errorf("%w: %s is not open for reading", ErrBadHandle, a.name)
	}
	return a.br.Read(p)
}

// Write implements io.Writer over the backend's write primitive.
func (a *Adapter) Write(p []byte) (int, error) {
	if !a.open || a.mode != OpenWrite {
		return 0, fmt.Errorf("%w: %s is not open for writing", ErrBadHandle, a.name)
	}
	return a.bw.Write(p)
}

// Close flushes pending writes and closes the backend handle. The handle is
// closed even when the flush fails. Closing an unopened adapter is a no-op.
func (a *Adapter) Close() error {
	if !a.open {
		return nil
	}
	a.open = false

	var flushErr error
	if a.mode == OpenWrite {
		flushErr = a.bw.Flush()
	}
	var closeErr error
	if err := a.backend.Close(a.ctx, a.handle); err != nil {
		closeErr = fmt.Errorf("%w: %s: %w", ErrClose, a.name, err)
	}
	a.br, a.bw = nil, nil
	return errors.Join(flushErr, closeErr)
}

// primitiveReader issues one backend read per call.
type primitiveReader struct{ a *Adapter }

func (r primitiveReader) Read(p []byte) (int, error) {
	n, err := r.a.backend.Read(r.a.ctx, r.a.handle, p)
	r.a.metrics.BytesTransferred("read", n)
	switch {
	case err == io.EOF:
		return n, io.EOF
	case err != nil:
		return n, fmt.Errorf("%w: %s: %w", ErrRead, r.a.name, err)
	case n == 0 && len(p) > 0:
		// A zero-byte read signals the end of the stream.
		return 0, io.EOF
	}
	return n, nil
}

// primitiveWriter issues one backend write per call.
type primitiveWriter struct{ a *Adapter }

func (w primitiveWriter) Write(p []byte) (int, error) {
	n, err := w.a.backend.Write(w.a.ctx, w.a.handle, p)
	w.a.metrics.BytesTransferred("write", n)
	if err != nil {
		return n, fmt.Errorf("%w: %s: %w", ErrWrite, w.a.name, err)
	}
	return n, nil
}
