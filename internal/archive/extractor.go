package archive

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// specialBits are the mode bits beyond the permissions that extraction
// restores.
const specialBits = fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// Extractor restores entries below a local directory. Every path goes
// through an os.Root, so a link created by one entry cannot lead a later
// entry outside the directory.
type Extractor struct {
	root *os.Root
	dirs []pendingDir
}

// pendingDir is a directory whose mode and time wait for its content.
type pendingDir struct {
	name  string
	entry Entry
}

// NewExtractor creates dir when missing and opens it as the extraction root.
func NewExtractor(dir string) (*Extractor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return &Extractor{root: root}, nil
}

// Root returns the extraction root, for reading back what was extracted.
func (x *Extractor) Root() *os.Root {
	return x.root
}

// Close applies the mode and time of every extracted directory, deepest
// first, then closes the root.
func (x *Extractor) Close() error {
	slices.SortStableFunc(x.dirs, func(a, b pendingDir) int {
		return cmp.Compare(depth(b.name), depth(a.name))
	})

	var errs []error
	for _, d := range x.dirs {
		if err := x.apply(d.name, d.entry); err != nil {
			errs = append(errs, err)
		}
	}
	x.dirs = nil

	if err := x.root.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// apply sets the mode bits and modification time of an extracted entry.
func (x *Extractor) apply(name string, e Entry) error {
	if err := x.root.Chmod(name, e.Mode.Perm()|e.Mode&specialBits); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
	}
	if e.ModTime.IsZero() {
		return nil
	}
	if err := x.root.Chtimes(name, e.ModTime, e.ModTime); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, e.Name, err)
	}
	return nil
}

// replace removes a non-directory already at name. A new entry then never
// writes through an old link, nor into a read-only file.
func (x *Extractor) replace(name string) error {
	info, err := x.root.Lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	return x.root.Remove(name)
}

func depth(name string) int {
	return strings.Count(filepath.ToSlash(name), "/")
}
