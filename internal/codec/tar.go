package codec

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Mode bits of the tar header beyond the permissions.
const (
	tarSetuid = 0o4000
	tarSetgid = 0o2000
	tarSticky = 0o1000
)

type tarWriter struct {
	tw     *tar.Writer
	filter io.WriteCloser
	begun  bool
}

func newTarWriter(fw io.WriteCloser) *tarWriter {
	return &tarWriter{tw: tar.NewWriter(fw), filter: fw}
}

func (w *tarWriter) WriteHeader(h *Header) error {
	hdr := &tar.Header{
		Name:    h.Name,
		Mode:    tarMode(h.Mode),
		ModTime: h.ModTime,
	}
	switch {
	case h.Mode.IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = h.Size
	case h.Mode.IsDir():
		hdr.Typeflag = tar.TypeDir
	case h.Mode&fs.ModeSymlink != 0:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = h.Linkname
	default:
		return fmt.Errorf("%w: %s has type %s", ErrUnsupported, h.Name, h.Mode.Type())
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	w.begun = true
	return nil
}

// tarMode returns the permission and special bits of mode as stored in a
// tar header.
func tarMode(mode fs.FileMode) int64 {
	m := int64(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		m |= tarSetuid
	}
	if mode&fs.ModeSetgid != 0 {
		m |= tarSetgid
	}
	if mode&fs.ModeSticky != 0 {
		m |= tarSticky
	}
	return m
}

func (w *tarWriter) Write(p []byte) (int, error) {
	if !w.begun {
		return 0, ErrNoEntry
	}
	return w.tw.Write(p)
}

// Close writes the tar trailer and flushes the filter.
func (w *tarWriter) Close() error {
	return errors.Join(w.tw.Close(), w.filter.Close())
}

type tarReader struct {
	tr     *tar.Reader
	filter io.ReadCloser
	kind   Filter
	begun  bool
}

func (r *tarReader) Next() (*Header, error) {
	hdr, err := r.tr.Next()
	if err != nil {
		r.begun = false
		return nil, err
	}
	r.begun = true
	return &Header{
		Name:     hdr.Name,
		Mode:     hdr.FileInfo().Mode(),
		Size:     hdr.Size,
		ModTime:  hdr.ModTime,
		Linkname: hdr.Linkname,
	}, nil
}

func (r *tarReader) Read(p []byte) (int, error) {
	if !r.begun {
		return 0, ErrNoEntry
	}
	return r.tr.Read(p)
}

func (r *tarReader) Close() error   { return r.filter.Close() }
func (r *tarReader) Format() Format { return FormatTar }
func (r *tarReader) Filter() Filter { return r.kind }
