package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/Amaury/collection-archive/internal/archive"
)

// sidecarSuffix is appended to an extracted file's name for its metadata.
const sidecarSuffix = ".metadata.json"

// ErrChecksum is returned when an extracted file does not match the digest
// recorded in its metadata.
var ErrChecksum = errors.New("checksum mismatch")

type extractOptions struct {
	sidecar  bool
	noVerify bool
}

func runExtract(ctx context.Context, args []string, _, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	var opts extractOptions
	flagSet.BoolVar(&opts.sidecar, "sidecar", false, "write each item's metadata next to it as <file>"+sidecarSuffix)
	flagSet.BoolVar(&opts.noVerify, "no-verify", false, "skip blake2b verification of extracted files")

	configPath, args, err := parseFlags(flagSet, args, stderr)
	if errors.Is(err, errHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: collection-archive extract ARCHIVE DEST [PREFIX ...]")
	}
	name, dest, prefixes := args[0], args[1], args[2:]

	return withEnv(ctx, configPath, stderr, func(e *env) (err error) {
		if err := e.checkName(name); err != nil {
			return err
		}
		s, err := archive.Open(ctx, e.store, name, e.sessionOptions()...)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.Close())
		}()

		// Everything lands below dest; directory modes are applied on close.
		x, err := archive.NewExtractor(dest)
		if err != nil {
			return err
		}
		n, err := extract(s, x, prefixes, opts)
		if err := errors.Join(err, x.Close()); err != nil {
			return err
		}
		e.logger.Info("extraction complete", "source", name, "destination", dest, "item_count", n)
		return nil
	})
}

// extract restores every entry matching prefixes below the extractor's
// directory and returns the number of entries extracted.
func extract(s *archive.Session, x *archive.Extractor, prefixes []string, opts extractOptions) (int, error) {
	count := 0
	for {
		name, err := s.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if !matchesPrefix(name, prefixes) {
			continue
		}

		// Fold the name below dest, then extract through the root.
		rel, err := confine(name)
		if err != nil {
			return count, err
		}
		if err := s.ExtractItemTo(x, rel); err != nil {
			return count, err
		}
		count++

		// Entries past the manifest have no metadata to check or write.
		metadata, err := s.Metadata()
		if errors.Is(err, archive.ErrItemOutOfRange) {
			continue
		}
		if err != nil {
			return count, err
		}

		entry, err := s.Entry()
		if err != nil {
			return count, err
		}
		// Verify regular files against the recorded digest.
		if !opts.noVerify && entry.Mode.IsRegular() {
			if want := expectedDigest(metadata); want != "" {
				got, err := rootDigest(x.Root(), rel)
				if err != nil {
					return count, err
				}
				if got != want {
					return count, fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksum, name, want, got)
				}
			}
		}

		// Write the metadata next to the entry.
		if opts.sidecar {
			doc := metadata
			if doc == nil {
				doc = []byte("null")
			}
			if err := x.Root().WriteFile(rel+sidecarSuffix, append(doc, '\n'), 0o644); err != nil {
				return count, err
			}
		}
	}
}

// confine maps an entry name to a relative local path. Absolute names and
// ".." elements are folded below the destination.
func confine(name string) (string, error) {
	rel := path.Clean("/" + name)
	if rel == "/" {
		return "", fmt.Errorf("entry name %q has no path below the destination", name)
	}
	return filepath.FromSlash(rel[1:]), nil
}
