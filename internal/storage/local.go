package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local stores objects as files below a root directory. Names are confined
// to the root; a name such as "../x" resolves to "x" inside it.
type Local struct {
	dir     string
	root    *os.Root
	handles handleTable[*localFile]
}

type localFile struct {
	f    *os.File
	mode OpenMode
}

// NewLocal opens dir as the root of a local store. The directory is created
// when missing.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Local{dir: dir, root: root}, nil
}

// Dir returns the root directory.
func (l *Local) Dir() string {
	return l.dir
}

// Open opens name below the root. OpenWrite creates missing parent
// directories.
func (l *Local) Open(ctx context.Context, name string, mode OpenMode) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key, err := cleanName(name)
	if err != nil {
		return 0, err
	}
	native := filepath.FromSlash(key)

	var f *os.File
	switch mode {
	case OpenRead:
		f, err = l.root.Open(native)
	case OpenWrite:
		if err = l.mkdirParents(key); err != nil {
			return 0, err
		}
		f, err = l.root.OpenFile(native, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	default:
		return 0, fmt.Errorf("unsupported open mode %s", mode)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return 0, err
	}
	return l.handles.add(&localFile{f: f, mode: mode}), nil
}

// mkdirParents creates every parent of key inside the root.
func (l *Local) mkdirParents(key string) error {
	dir := path.Dir(key)
	if dir == "." {
		return nil
	}
	var prefix string
	for _, part := range strings.Split(dir, "/") {
		prefix = path.Join(prefix, part)
		err := l.root.Mkdir(filepath.FromSlash(prefix), 0o755)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// Read reads from an object opened with OpenRead.
func (l *Local) Read(ctx context.Context, h Handle, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lf, err := l.handles.get(h)
	if err != nil {
		return 0, err
	}
	if lf.mode != OpenRead {
		return 0, fmt.Errorf("%w: %d is not open for reading", ErrBadHandle, h)
	}
	return lf.f.Read(p)
}

// Write writes to an object opened with OpenWrite.
func (l *Local) Write(ctx context.Context, h Handle, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lf, err := l.handles.get(h)
	if err != nil {
		return 0, err
	}
	if lf.mode != OpenWrite {
		return 0, fmt.Errorf("%w: %d is not open for writing", ErrBadHandle, h)
	}
	return lf.f.Write(p)
}

// Close closes the file behind h.
func (l *Local) Close(_ context.Context, h Handle) error {
	lf, err := l.handles.remove(h)
	if err != nil {
		return err
	}
	return lf.f.Close()
}

// Release closes the root directory.
func (l *Local) Release() error {
	return l.root.Close()
}
