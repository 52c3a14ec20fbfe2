// Package cli implements the collection-archive command line: create, ls
// and extract over the configured storage backend.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Aliases for the CLI commands for convenience.
var (
	aliasesCreate  = map[string]bool{"c": true, "-c": true, "create": true, "--create": true}
	aliasesList    = map[string]bool{"l": true, "-l": true, "ls": true, "--ls": true}
	aliasesExtract = map[string]bool{"x": true, "-x": true, "extract": true, "--extract": true}
	aliasesHelp    = map[string]bool{"h": true, "-h": true, "help": true, "--help": true}
)

// Run dispatches argv (program name first) to a command. Listings go to
// stdout; logs and flag errors go to stderr.
func Run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	if len(argv) < 2 || aliasesHelp[argv[1]] {
		printHelp(stdout)
		return nil
	}

	cmd, args := argv[1], argv[2:]
	switch {
	case aliasesCreate[cmd]:
		return runCreate(ctx, args, stdout, stderr)
	case aliasesList[cmd]:
		return runList(ctx, args, stdout, stderr)
	case aliasesExtract[cmd]:
		return runExtract(ctx, args, stdout, stderr)
	default:
		return fmt.Errorf("unknown command %q. Use --help", cmd)
	}
}

// errHelp is returned by parseFlags after --help printed the usage.
var errHelp = errors.New("help requested")

// parseFlags parses args with the flags common to every command added to
// flagSet. It returns the config path and the positional arguments.
func parseFlags(flagSet *pflag.FlagSet, args []string, stderr io.Writer) (string, []string, error) {
	var configPath string
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+envConfigName+")")
	flagSet.SetOutput(stderr)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", nil, errHelp
		}
		return "", nil, err
	}
	return configPath, flagSet.Args(), nil
}

// printHelp prints CLI usage, environment, and examples.
func printHelp(w io.Writer) {
	fmt.Fprintln(w, `collection-archive: pack stored objects into a self-describing archive

USAGE:
  collection-archive (c|-c|create|--create)   [--config F] [--metadata FILE] ARCHIVE COLLECTION PATH [PATH ...]
  collection-archive (l|-l|ls|--ls)           [--config F] ARCHIVE [PREFIX ...]
  collection-archive (x|-x|extract|--extract) [--config F] [--sidecar] [--no-verify] ARCHIVE DEST [PREFIX ...]
  collection-archive (h|-h|help|--help)

The archive format follows the ARCHIVE extension: .tar, .tar.gz/.tgz,
.tar.zst/.tzst, .tar.lz4/.tlz4 or .zip (gzip tar otherwise). Reading detects
the format from the content. ARCHIVE names an object in the configured
storage; PATH and DEST are local. With fs storage, ARCHIVE is relative to
storage.fs.root (default: the current directory) and must not be absolute.

ENV:
  COLLECTION_ARCHIVE_CONFIG       Config file when --config is not given
  COLLECTION_ARCHIVE_STORAGE      Storage type override (fs, memory, s3, gcs)
  COLLECTION_ARCHIVE_FS_ROOT      Root directory of fs storage
  COLLECTION_ARCHIVE_S3_BUCKET    S3 bucket (also _S3_REGION, _S3_ENDPOINT)
  COLLECTION_ARCHIVE_GCS_BUCKET   GCS bucket

EXAMPLES:
  collection-archive create  run-42.tar.zst 11100/run-42 data/
  collection-archive ls      run-42.tar.zst
  collection-archive extract run-42.tar.zst /restore data/raw`)
}
