// Package archive packs stored objects into a single self-describing
// container and unpacks such containers.
//
// A container's first entry is always the manifest (INDEX.json), listing the
// origin collection and one item per following entry, in order. A Session
// is either building a container (Create, AddItem, Close) or reading one
// (Open, Next, ExtractItem, Metadata, Close). All container bytes go through
// a storage.Backend, so the same session code serves local disk and remote
// object stores.
//
// A Session is not safe for concurrent use.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/Amaury/collection-archive/internal/codec"
	"github.com/Amaury/collection-archive/internal/manifest"
	"github.com/Amaury/collection-archive/internal/storage"
)

// MaxManifestSize bounds the manifest entry accepted by Open.
const MaxManifestSize = 64 << 20

// Mode is the lifecycle state of a Session.
type Mode uint8

const (
	ModeBuilding Mode = iota
	ModeReading
	ModeClosed
)

func (m Mode) String() string {
	switch m {
	case ModeBuilding:
		return "building"
	case ModeReading:
		return "reading"
	case ModeClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Entry describes the container entry under the cursor.
type Entry struct {
	Name     string
	Mode     fs.FileMode
	Size     int64
	ModTime  time.Time
	Linkname string
}

func entryFromHeader(h *codec.Header) Entry {
	return Entry{
		Name:     h.Name,
		Mode:     h.Mode,
		Size:     h.Size,
		ModTime:  h.ModTime,
		Linkname: h.Linkname,
	}
}

type state interface {
	mode() Mode
}

type buildState struct {
	manifest *manifest.Manifest
	writer   codec.Writer
}

type cursor struct {
	entry    Entry
	consumed bool
}

type readState struct {
	manifest *manifest.Manifest
	reader   codec.Reader
	cursor   *cursor
	index    int   // successful Next calls
	done     error // terminal result of Next, repeated once set
}

type closedState struct{}

func (*buildState) mode() Mode { return ModeBuilding }
func (*readState) mode() Mode  { return ModeReading }
func (closedState) mode() Mode { return ModeClosed }

// Session is one build or read pass over a container.
type Session struct {
	name       string
	collection string
	adapter    *storage.Adapter
	opts       options
	state      state
}

// Create starts building the container destination on backend. The format
// and filter follow the destination's extension (see codec.FormatForPath);
// unrecognized names are written as gzip-compressed tar.
//
// Items are registered with AddItem and written by Close. The context is
// used for every backend call of the session.
func Create(ctx context.Context, backend storage.Backend, destination, collection string, opts ...Option) (*Session, error) {
	o := newOptions(opts)

	// Pick the container from the destination extension.
	format, filter, ok := codec.FormatForPath(destination)
	if !ok {
		format, filter = codec.FormatTar, codec.FilterGzip
		o.log().Debug("no format for extension, using gzip tar", "destination", destination)
	}

	// Open the storage object, then the codec on top of it.
	adapter := storage.NewAdapter(ctx, backend, destination, o.adapterOptions()...)
	if err := adapter.Open(storage.OpenWrite); err != nil {
		o.metrics.Error("open")
		return nil, fmt.Errorf("%w: %w", ErrIOOpen, err)
	}
	w, err := codec.NewWriter(adapter, format, filter)
	if err != nil {
		o.metrics.Error("codec")
		return nil, errors.Join(
			fmt.Errorf("%w: %s: %w", ErrCodecInit, destination, err),
			adapter.Close(),
		)
	}

	o.metrics.SessionStarted(ModeBuilding.String())
	o.log().Info("building archive",
		"destination", destination,
		"collection", collection,
		"format", format.String(),
		"filter", filter.String(),
	)
	return &Session{
		name:       destination,
		collection: collection,
		adapter:    adapter,
		opts:       o,
		state:      &buildState{manifest: manifest.New(collection), writer: w},
	}, nil
}

// Open starts reading the container source on backend. The filter and
// format are detected from the stream. The manifest is read and validated
// before Open returns; the session is then positioned before the first item
// entry.
func Open(ctx context.Context, backend storage.Backend, source string, opts ...Option) (*Session, error) {
	o := newOptions(opts)

	// Open the storage object; the codec sniffs filter and format.
	adapter := storage.NewAdapter(ctx, backend, source, o.adapterOptions()...)
	if err := adapter.Open(storage.OpenRead); err != nil {
		o.metrics.Error("open")
		return nil, fmt.Errorf("%w: %w", ErrIOOpen, err)
	}
	r, err := codec.NewReader(adapter)
	if err != nil {
		o.metrics.Error("codec")
		return nil, errors.Join(
			fmt.Errorf("%w: %s: %w", ErrCodecInit, source, err),
			adapter.Close(),
		)
	}

	// The manifest must come first.
	m, err := readManifest(r, source)
	if err != nil {
		o.metrics.Error("manifest")
		return nil, errors.Join(err, r.Close(), adapter.Close())
	}

	o.metrics.SessionStarted(ModeReading.String())
	o.log().Info("reading archive",
		"source", source,
		"collection", m.Collection,
		"item_count", m.Len(),
		"format", r.Format().String(),
		"filter", r.Filter().String(),
	)
	return &Session{
		name:       source,
		collection: m.Collection,
		adapter:    adapter,
		opts:       o,
		state:      &readState{manifest: m, reader: r},
	}, nil
}

// readManifest consumes the first entry of r, which must be the manifest.
func readManifest(r codec.Reader, source string) (*manifest.Manifest, error) {
	hdr, err := r.Next()
	switch {
	case errors.Is(err, io.EOF):
		return nil, fmt.Errorf("%w: %s: empty container", ErrFormat, source)
	case errors.Is(err, storage.ErrRead):
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, source, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, source, err)
	}
	if hdr.Name != manifest.FileName {
		return nil, fmt.Errorf("%w: %s: expected %s as first entry, got %q",
			ErrFormat, source, manifest.FileName, hdr.Name)
	}
	if !hdr.Mode.IsRegular() {
		return nil, fmt.Errorf("%w: %s: %s is not a regular file", ErrFormat, source, manifest.FileName)
	}
	// Bound the read before trusting the header size.
	if hdr.Size > MaxManifestSize {
		return nil, fmt.Errorf("%w: %s: %s is %d bytes, limit is %d",
			ErrManifest, source, manifest.FileName, hdr.Size, MaxManifestSize)
	}

	data, err := io.ReadAll(io.LimitReader(r, hdr.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %w", ErrRead, source, manifest.FileName, err)
	}
	if int64(len(data)) != hdr.Size {
		return nil, fmt.Errorf("%w: %s: %s truncated at %d of %d bytes",
			ErrRead, source, manifest.FileName, len(data), hdr.Size)
	}

	m, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifest, source, err)
	}
	return m, nil
}

// Name returns the storage object name of the container.
func (s *Session) Name() string {
	return s.name
}

// Mode returns the session's current state.
func (s *Session) Mode() Mode {
	return s.state.mode()
}

// Collection returns the origin collection of the container.
func (s *Session) Collection() string {
	return s.collection
}

// Items returns a copy of the manifest items, in container order. A closed
// session has no items.
func (s *Session) Items() []manifest.Item {
	switch st := s.state.(type) {
	case *buildState:
		return st.manifest.All()
	case *readState:
		return st.manifest.All()
	default:
		return nil
	}
}

// AddItem registers an item to be packed by Close. path names both the
// local source file and the entry in the container. metadata is copied; it
// may be a json.RawMessage or any value encoding/json accepts, and nil
// records null.
func (s *Session) AddItem(path string, metadata any) error {
	st, err := s.building()
	if err != nil {
		return err
	}
	if err := st.manifest.Add(path, metadata); err != nil {
		return fmt.Errorf("%w: %w", ErrManifest, err)
	}
	s.opts.log().Debug("item registered", "path", path, "item_count", st.manifest.Len())
	return nil
}

// Close finishes the session. A building session writes the manifest and
// every item and then closes the container; errors of every step are
// joined. A reading session releases the codec and the storage object.
// Closing a closed session returns nil.
func (s *Session) Close() error {
	switch st := s.state.(type) {
	case *buildState:
		// Closed whatever finalize returns; a failed build cannot be retried.
		s.state = closedState{}
		err := s.finalize(st)
		if err != nil {
			s.opts.metrics.Error("build")
		}
		return err
	case *readState:
		s.state = closedState{}
		var readErr error
		if err := st.reader.Close(); err != nil {
			readErr = fmt.Errorf("%w: %s: %w", ErrRead, s.name, err)
		}
		return errors.Join(readErr, s.adapter.Close())
	default:
		return nil
	}
}

func (s *Session) building() (*buildState, error) {
	switch st := s.state.(type) {
	case *buildState:
		return st, nil
	case *readState:
		return nil, fmt.Errorf("%w: %s is open for reading", ErrWrongMode, s.name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.name)
	}
}

func (s *Session) reading() (*readState, error) {
	switch st := s.state.(type) {
	case *readState:
		return st, nil
	case *buildState:
		return nil, fmt.Errorf("%w: %s is open for building", ErrWrongMode, s.name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.name)
	}
}
