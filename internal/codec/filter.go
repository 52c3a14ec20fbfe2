package codec

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Magic numbers at the start of filtered streams and zip containers.
var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4   = []byte{0x04, 0x22, 0x4d, 0x18}
	magicBzip2 = []byte("BZh")
	magicZip   = []byte("PK\x03\x04")
	magicZipEm = []byte("PK\x05\x06") // empty archive
)

// sniffLen is the number of leading bytes inspected for detection.
const sniffLen = 4

// peek returns up to sniffLen leading bytes without consuming them. Short
// streams are not an error.
func peek(br *bufio.Reader) ([]byte, error) {
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head, nil
}

// detectFilter identifies the filter from a stream's leading bytes.
func detectFilter(head []byte) Filter {
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return FilterGzip
	case bytes.HasPrefix(head, magicZstd):
		return FilterZstd
	case bytes.HasPrefix(head, magicLZ4):
		return FilterLZ4
	case bytes.HasPrefix(head, magicBzip2):
		return FilterBzip2
	default:
		return FilterNone
	}
}

// detectFormat identifies the container format from unfiltered bytes.
func detectFormat(head []byte) Format {
	if bytes.HasPrefix(head, magicZip) || bytes.HasPrefix(head, magicZipEm) {
		return FormatZip
	}
	return FormatTar
}

// newFilterWriter wraps w in the compressor for filter. Closing the result
// flushes the compressor but leaves w open.
func newFilterWriter(w io.Writer, filter Filter) (io.WriteCloser, error) {
	switch filter {
	case FilterNone:
		return nopWriteCloser{w}, nil
	case FilterGzip:
		return gzip.NewWriter(w), nil
	case FilterZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return enc, nil
	case FilterLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: cannot write %s filter", ErrUnsupported, filter)
	}
}

// newFilterReader wraps r in the decompressor for filter.
func newFilterReader(r io.Reader, filter Filter) (io.ReadCloser, error) {
	switch filter {
	case FilterNone:
		return io.NopCloser(r), nil
	case FilterGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return zr, nil
	case FilterZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	case FilterLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case FilterBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: cannot read %s filter", ErrUnsupported, filter)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
