package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
)

type zipWriter struct {
	zw  *zip.Writer
	cur io.Writer
}

func newZipWriter(w io.Writer) *zipWriter {
	return &zipWriter{zw: zip.NewWriter(w)}
}

func (w *zipWriter) WriteHeader(h *Header) error {
	fh := &zip.FileHeader{Name: h.Name, Modified: h.ModTime}
	switch {
	case h.Mode.IsRegular():
		fh.Method = zip.Deflate
	case h.Mode.IsDir():
		fh.Method = zip.Store
		if !strings.HasSuffix(fh.Name, "/") {
			fh.Name += "/"
		}
	default:
		return fmt.Errorf("%w: %s has type %s in zip", ErrUnsupported, h.Name, h.Mode.Type())
	}
	fh.SetMode(h.Mode)

	cur, err := w.zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	w.cur = cur
	return nil
}

func (w *zipWriter) Write(p []byte) (int, error) {
	if w.cur == nil {
		return 0, ErrNoEntry
	}
	return w.cur.Write(p)
}

// Close writes the central directory.
func (w *zipWriter) Close() error {
	return w.zw.Close()
}

// zipReader spools the container to a temporary file, since the zip
// central directory sits at the end of the stream.
type zipReader struct {
	spool *os.File
	files []*zip.File
	next  int
	cur   io.ReadCloser
	kind  Filter
}

func newZipReader(r io.Reader, kind Filter) (*zipReader, error) {
	spool, err := os.CreateTemp("", "collection-archive-*.zip")
	if err != nil {
		return nil, err
	}
	zr := &zipReader{spool: spool, kind: kind}

	size, err := io.Copy(spool, r)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	archive, err := zip.NewReader(spool, size)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	zr.files = archive.File
	return zr, nil
}

func (r *zipReader) Next() (*Header, error) {
	if err := r.closeCurrent(); err != nil {
		return nil, err
	}
	if r.next >= len(r.files) {
		return nil, io.EOF
	}
	f := r.files[r.next]
	r.next++

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	r.cur = rc
	return &Header{
		Name:    strings.TrimSuffix(f.Name, "/"),
		Mode:    f.Mode(),
		Size:    int64(f.UncompressedSize64),
		ModTime: f.Modified,
	}, nil
}

func (r *zipReader) Read(p []byte) (int, error) {
	if r.cur == nil {
		return 0, ErrNoEntry
	}
	return r.cur.Read(p)
}

func (r *zipReader) closeCurrent() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

// Close releases the current entry and removes the spool file.
func (r *zipReader) Close() error {
	return errors.Join(r.closeCurrent(), r.spool.Close(), os.Remove(r.spool.Name()))
}

func (r *zipReader) Format() Format { return FormatZip }
func (r *zipReader) Filter() Filter { return r.kind }
