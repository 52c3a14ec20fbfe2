package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Amaury/collection-archive/internal/manifest"
)

// Next advances to the next item entry and returns its name. At the end of
// the container it returns io.EOF; a failure to decode the container
// returns an error wrapping ErrRead. After either, the session has no
// current entry and every further call returns the same result.
func (s *Session) Next() (string, error) {
	st, err := s.reading()
	if err != nil {
		return "", err
	}
	if st.done != nil {
		return "", st.done
	}

	hdr, err := st.reader.Next()
	if err != nil {
		// End or failure, the result sticks.
		st.cursor = nil
		if errors.Is(err, io.EOF) {
			st.done = io.EOF
			s.opts.log().Debug("end of archive", "source", s.name, "entries", st.index)
		} else {
			st.done = fmt.Errorf("%w: %s: entry %d: %w", ErrRead, s.name, st.index+1, err)
			s.opts.metrics.Error("read")
		}
		return "", st.done
	}

	st.index++
	st.cursor = &cursor{entry: entryFromHeader(hdr)}

	// Mismatches are reported, not fatal: metadata follows the index.
	if it, ok := st.manifest.Item(st.index - 1); !ok {
		s.opts.log().Warn("entry beyond manifest", "source", s.name, "entry", hdr.Name, "index", st.index)
	} else if it.Path != hdr.Name {
		s.opts.log().Warn("entry does not match manifest item",
			"source", s.name,
			"entry", hdr.Name,
			"path", it.Path,
			"index", st.index,
		)
	}
	return hdr.Name, nil
}

// Entry returns the entry under the cursor.
func (s *Session) Entry() (Entry, error) {
	_, cur, err := s.current()
	if err != nil {
		return Entry{}, err
	}
	return cur.entry, nil
}

// Index returns the number of entries Next has returned successfully.
func (s *Session) Index() int {
	if st, ok := s.state.(*readState); ok {
		return st.index
	}
	return 0
}

// Metadata returns a copy of the metadata of the manifest item matching the
// current entry. A nil result is recorded null metadata.
func (s *Session) Metadata() (json.RawMessage, error) {
	it, err := s.Item()
	if err != nil {
		return nil, err
	}
	return it.Metadata, nil
}

// Item returns a copy of the manifest item matching the current entry.
func (s *Session) Item() (manifest.Item, error) {
	st, _, err := s.current()
	if err != nil {
		return manifest.Item{}, err
	}
	it, ok := st.manifest.Item(st.index - 1)
	if !ok {
		return manifest.Item{}, fmt.Errorf("%w: %s: entry %d, manifest lists %d items",
			ErrItemOutOfRange, s.name, st.index, st.manifest.Len())
	}
	return it, nil
}

// WriteItemTo streams the payload of the current entry to w in 8 KiB
// chunks. The payload can be read once per entry.
func (s *Session) WriteItemTo(w io.Writer) (int64, error) {
	cur, err := s.unconsumed()
	if err != nil {
		return 0, err
	}
	return s.drain(cur, w)
}

func (s *Session) drain(cur *cursor, w io.Writer) (int64, error) {
	st := s.state.(*readState)
	cur.consumed = true

	n, readErr, writeErr := copyChunks(w, st.reader, make([]byte, chunkSize))
	switch {
	case writeErr != nil:
		return n, fmt.Errorf("%w: %s: %w", ErrWrite, cur.entry.Name, writeErr)
	case readErr != nil:
		s.opts.metrics.Error("read")
		return n, fmt.Errorf("%w: %s: %s: %w", ErrRead, s.name, cur.entry.Name, readErr)
	}
	return n, nil
}

// ExtractItem writes the current entry to the local path destination.
// Regular files are created or replaced, directories are created and
// symbolic links are recreated. Permission bits, including setuid, setgid
// and sticky, and the modification time of the entry are applied after the
// content is written, so the process umask does not alter them. Parent
// directories are created as needed.
func (s *Session) ExtractItem(destination string) (err error) {
	if _, err := s.unconsumed(); err != nil {
		return err
	}

	x, err := NewExtractor(filepath.Dir(destination))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, x.Close())
	}()
	return s.ExtractItemTo(x, filepath.Base(destination))
}

// ExtractItemTo writes the current entry to name, a path relative to the
// extractor's directory. Nothing is created or followed outside that
// directory, whatever links earlier entries created. The mode and time of a
// directory entry are applied when the extractor is closed.
func (s *Session) ExtractItemTo(x *Extractor, name string) error {
	cur, err := s.unconsumed()
	if err != nil {
		return err
	}
	e := cur.entry
	name = filepath.Clean(filepath.FromSlash(name))

	// Parents first. The root refuses any that resolve outside it.
	if dir := filepath.Dir(name); dir != "." {
		if err := x.root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
		}
	}

	switch {
	case e.Mode.IsDir():
		cur.consumed = true
		if err := x.root.MkdirAll(name, 0o700); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
		}
		// Keep the directory writable until its content is in place.
		if err := x.root.Chmod(name, 0o700); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
		}
		x.dirs = append(x.dirs, pendingDir{name: name, entry: e})
	case e.Mode&fs.ModeSymlink != 0:
		cur.consumed = true
		if err := x.replace(name); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
		}
		if err := x.root.Symlink(e.Linkname, name); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
		}
	case e.Mode.IsRegular():
		if err := x.replace(name); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
		}
		if err := s.extractFile(cur, x.root, name); err != nil {
			return err
		}
		if err := x.apply(name, e); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s has unsupported type %s", ErrWrite, e.Name, e.Mode.Type())
	}

	s.opts.metrics.ItemProcessed("extracted")
	s.opts.log().Debug("item extracted", "entry", e.Name, "destination", name)
	return nil
}

func (s *Session) extractFile(cur *cursor, root *os.Root, name string) error {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, cur.entry.Mode.Perm()|0o200)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	// The file is closed on every path, including a failed copy.
	_, copyErr := s.drain(cur, f)
	closeErr := f.Close()
	if copyErr != nil {
		return errors.Join(copyErr, closeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %w", ErrWrite, closeErr)
	}
	return nil
}

// unconsumed returns the cursor when its payload has not been read yet.
func (s *Session) unconsumed() (*cursor, error) {
	_, cur, err := s.current()
	if err != nil {
		return nil, err
	}
	if cur.consumed {
		return nil, fmt.Errorf("%w: %s", ErrEntryConsumed, cur.entry.Name)
	}
	return cur, nil
}

// current returns the read state and the cursor, or why there is none.
func (s *Session) current() (*readState, *cursor, error) {
	st, err := s.reading()
	if err != nil {
		return nil, nil, err
	}
	if st.cursor == nil {
		if st.index == 0 && st.done == nil {
			return nil, nil, fmt.Errorf("%w: %s: Next has not been called", ErrNoCurrentEntry, s.name)
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrNoCurrentEntry, s.name)
	}
	return st, st.cursor, nil
}
