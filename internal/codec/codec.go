// Package codec frames container entries for the tar and zip formats and
// applies stream filters (gzip, zstd, lz4, bzip2) around them.
//
// Writers and readers work on plain io streams; they never close the
// underlying stream, which belongs to the caller.
package codec

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"
)

// Format identifies the container framing.
type Format uint8

const (
	FormatTar Format = iota
	FormatZip
)

func (f Format) String() string {
	switch f {
	case FormatTar:
		return "tar"
	case FormatZip:
		return "zip"
	default:
		return fmt.Sprintf("unknown(%d)", f)
	}
}

// Filter identifies the stream compression wrapped around the container.
type Filter uint8

const (
	FilterNone Filter = iota
	FilterGzip
	FilterZstd
	FilterLZ4
	FilterBzip2 // read only
)

func (f Filter) String() string {
	switch f {
	case FilterNone:
		return "none"
	case FilterGzip:
		return "gzip"
	case FilterZstd:
		return "zstd"
	case FilterLZ4:
		return "lz4"
	case FilterBzip2:
		return "bzip2"
	default:
		return fmt.Sprintf("unknown(%d)", f)
	}
}

// Sentinel errors for codec operations.
var (
	// ErrUnsupported is returned for format/filter combinations the codec
	// cannot produce, and for entry types it cannot frame.
	ErrUnsupported = errors.New("codec: unsupported format, filter or entry type")

	// ErrNoEntry is returned when payload is read or written before a
	// header.
	ErrNoEntry = errors.New("codec: no current entry")
)

// Header describes one container entry.
type Header struct {
	Name     string
	Mode     fs.FileMode // type and permission bits
	Size     int64
	ModTime  time.Time
	Linkname string
}

// Writer frames entries into a container. Each WriteHeader starts a new
// entry whose payload is supplied through Write.
type Writer interface {
	WriteHeader(hdr *Header) error
	io.Writer
	// Close finishes the container and flushes the filter.
	Close() error
}

// Reader walks the entries of a container in order.
type Reader interface {
	// Next advances to the next entry, skipping any unread payload of the
	// current one. It returns io.EOF after the last entry.
	Next() (*Header, error)
	io.Reader
	Close() error
	Format() Format
	Filter() Filter
}

// NewWriter returns a Writer producing format wrapped in filter on w.
func NewWriter(w io.Writer, format Format, filter Filter) (Writer, error) {
	switch format {
	case FormatTar:
		fw, err := newFilterWriter(w, filter)
		if err != nil {
			return nil, err
		}
		return newTarWriter(fw), nil
	case FormatZip:
		if filter != FilterNone {
			return nil, fmt.Errorf("%w: zip with %s filter", ErrUnsupported, filter)
		}
		return newZipWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: format %s", ErrUnsupported, format)
	}
}
