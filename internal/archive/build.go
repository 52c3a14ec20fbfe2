package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/Amaury/collection-archive/internal/codec"
	"github.com/Amaury/collection-archive/internal/manifest"
)

// chunkSize is the size of the copy buffer used for item payloads.
const chunkSize = 8192

// source is an item whose local file has been checked.
type source struct {
	item manifest.Item
	info fs.FileInfo
}

// finalize writes the manifest and every item, then closes the codec and
// the storage object. The storage object is closed on every path.
func (s *Session) finalize(st *buildState) error {
	sources, err := s.preflight(st.manifest)
	if err != nil {
		// Nothing has reached the codec yet; only the object is released.
		return errors.Join(err, s.adapter.Close())
	}

	writeErr := s.writeEntries(st, sources)

	// Close the codec, then the object, whatever happened before.
	var codecErr error
	if err := st.writer.Close(); err != nil {
		codecErr = fmt.Errorf("%w: %s: %w", ErrWrite, s.name, err)
	}
	var closeErr error
	if err := s.adapter.Close(); err != nil {
		closeErr = fmt.Errorf("%w: %s: %w", ErrWrite, s.name, err)
	}

	if err := errors.Join(writeErr, codecErr, closeErr); err != nil {
		return err
	}
	s.opts.log().Info("archive written",
		"destination", s.name,
		"collection", s.collection,
		"item_count", len(sources),
	)
	return nil
}

// preflight stats every item source. Depending on the missing source
// policy, an unavailable source either aborts the build or is removed from
// the manifest, so that the manifest written matches the entries written.
func (s *Session) preflight(m *manifest.Manifest) ([]source, error) {
	sources := make([]source, 0, m.Len())
	skipped := make(map[int]bool)
	for i, it := range m.Items {
		info, err := statSource(it.Path)
		if err != nil {
			if s.opts.missing == MissingSourceAbort {
				return nil, err
			}
			s.opts.log().Warn("skipping unavailable item", "path", it.Path, "error", err)
			s.opts.metrics.ItemProcessed("skipped")
			skipped[i] = true
			continue
		}
		sources = append(sources, source{item: it, info: info})
	}

	// Drop skipped items so the manifest matches the entries.
	if len(skipped) > 0 {
		i := -1
		m.Retain(func(manifest.Item) bool {
			i++
			return !skipped[i]
		})
	}
	return sources, nil
}

func statSource(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return nil, fmt.Errorf("%w: %s has unsupported type %s", ErrSourceUnavailable, path, info.Mode().Type())
	}
	return info, nil
}

// writeEntries writes the manifest entry followed by one entry per source.
// It stops at the first failure.
func (s *Session) writeEntries(st *buildState, sources []source) error {
	// Manifest first.
	data, err := st.manifest.Encode()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrManifest, s.name, err)
	}
	hdr := &codec.Header{
		Name:    manifest.FileName,
		Mode:    manifest.FileMode,
		Size:    int64(len(data)),
		ModTime: s.opts.now(),
	}
	if err := st.writer.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: %s: %s header: %w", ErrWrite, s.name, manifest.FileName, err)
	}
	if _, err := st.writer.Write(data); err != nil {
		return fmt.Errorf("%w: %s: %s: %w", ErrWrite, s.name, manifest.FileName, err)
	}

	// Then the items, in manifest order, sharing one copy buffer.
	buf := make([]byte, chunkSize)
	for _, src := range sources {
		if err := s.writeItem(st.writer, src, buf); err != nil {
			return err
		}
		s.opts.metrics.ItemProcessed("packed")
	}
	return nil
}

// writeItem writes the header and payload of one item. The payload is
// exactly the size recorded at preflight; a source that shrank since then
// fails the build.
func (s *Session) writeItem(w codec.Writer, src source, buf []byte) error {
	path := src.item.Path
	hdr := &codec.Header{
		Name:    path,
		Mode:    src.info.Mode(),
		ModTime: src.info.ModTime(),
	}
	if src.info.IsDir() {
		if err := w.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%w: %s: %s header: %w", ErrWrite, s.name, path, err)
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer f.Close()

	// The size is the one seen at preflight.
	hdr.Size = src.info.Size()
	if err := w.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: %s: %s header: %w", ErrWrite, s.name, path, err)
	}

	n, readErr, writeErr := copyChunks(w, io.LimitReader(f, hdr.Size), buf)
	switch {
	case writeErr != nil:
		return fmt.Errorf("%w: %s: %s: %w", ErrWrite, s.name, path, writeErr)
	case readErr != nil:
		return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, path, readErr)
	case n != hdr.Size:
		return fmt.Errorf("%w: %s: size changed from %d to %d bytes", ErrSourceUnavailable, path, hdr.Size, n)
	}
	s.opts.log().Debug("item packed", "path", path, "bytes", n)
	return nil
}

// copyChunks copies src to dst through buf, one write per read. Read and
// write failures are reported separately.
func copyChunks(dst io.Writer, src io.Reader, buf []byte) (written int64, readErr, writeErr error) {
	for {
		n, err := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr == nil && m < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, nil, werr
			}
		}
		if err == io.EOF {
			return written, nil, nil
		}
		if err != nil {
			return written, err, nil
		}
	}
}
