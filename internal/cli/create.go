package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/pflag"

	"github.com/Amaury/collection-archive/internal/archive"
)

func runCreate(ctx context.Context, args []string, _, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
	var metadataFile string
	flagSet.StringVar(&metadataFile, "metadata", "", "JSON file mapping item path to metadata (default: size, mtime, mode, blake2b)")

	configPath, args, err := parseFlags(flagSet, args, stderr)
	if errors.Is(err, errHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return errors.New("usage: collection-archive create ARCHIVE COLLECTION PATH [PATH ...]")
	}
	name, collection, inputs := args[0], args[1], args[2:]

	// Metadata comes from --metadata, or is computed from each path.
	var supplied map[string]json.RawMessage
	if metadataFile != "" {
		if supplied, err = loadMetadataFile(metadataFile); err != nil {
			return err
		}
	}

	paths, err := collectPaths(inputs)
	if err != nil {
		return err
	}

	// Compute everything before opening the archive, so that a bad input
	// leaves no partial archive behind.
	metadata := make([]any, len(paths))
	for i, p := range paths {
		if supplied != nil {
			if raw, ok := supplied[p]; ok {
				metadata[i] = raw
			}
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if metadata[i], err = describe(p, info); err != nil {
			return err
		}
	}

	return withEnv(ctx, configPath, stderr, func(e *env) error {
		if err := e.checkName(name); err != nil {
			return err
		}
		s, err := archive.Create(ctx, e.store, name, collection, e.sessionOptions()...)
		if err != nil {
			return err
		}
		// Items are only registered here; Close writes them.
		for i, p := range paths {
			if err := s.AddItem(p, metadata[i]); err != nil {
				return errors.Join(err, s.Close())
			}
		}
		return s.Close()
	})
}

// collectPaths walks the inputs without following symlinks and returns every
// regular file and directory, sorted bytewise and de-duplicated so that a
// directory always precedes its content.
func collectPaths(inputs []string) ([]string, error) {
	var paths []string
	for _, in := range inputs {
		err := filepath.WalkDir(filepath.Clean(in), func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Type().IsRegular() {
				paths = append(paths, filepath.ToSlash(p))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

func loadMetadataFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("metadata file %s must be a JSON object: %w", path, err)
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
