package codec

import (
	"archive/tar"
	"bufio"
	"errors"
	"io"
)

// NewReader detects the filter and the format of the stream r and returns a
// Reader positioned before the first entry. Detection inspects leading magic
// bytes; a stream with no known filter magic is read unfiltered, and any
// unfiltered stream that is not a zip is read as tar.
func NewReader(r io.Reader) (Reader, error) {
	br := bufio.NewReader(r)
	head, err := peek(br)
	if err != nil {
		return nil, err
	}
	filter := detectFilter(head)

	fr, err := newFilterReader(br, filter)
	if err != nil {
		return nil, err
	}

	inner := bufio.NewReader(fr)
	head, err = peek(inner)
	if err != nil {
		_ = fr.Close()
		return nil, err
	}

	if detectFormat(head) == FormatZip {
		zr, err := newZipReader(inner, filter)
		closeErr := fr.Close()
		if err != nil {
			return nil, errors.Join(err, closeErr)
		}
		return zr, nil
	}
	return &tarReader{tr: tar.NewReader(inner), filter: fr, kind: filter}, nil
}
