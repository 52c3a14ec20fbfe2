package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/Amaury/collection-archive/internal/archive"
)

func runList(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
	configPath, args, err := parseFlags(flagSet, args, stderr)
	if errors.Is(err, errHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return errors.New("usage: collection-archive ls ARCHIVE [PREFIX ...]")
	}
	name, prefixes := args[0], args[1:]

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
		return list(s, prefixes, stdout)
	})
}

// list prints the collection, then an ls-like line per entry matching the
// optional prefixes, in container order.
func list(s *archive.Session, prefixes []string, w io.Writer) error {
	fmt.Fprintf(w, "collection %s (%d items)\n", s.Collection(), len(s.Items()))
	for {
		name, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		// Skip entries outside the requested prefixes.
		if !matchesPrefix(name, prefixes) {
			continue
		}
		entry, err := s.Entry()
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%c %04o %9s %s %s\n",
			typeChar(entry.Mode),
			entry.Mode.Perm(),
			humanize.IBytes(uint64(entry.Size)),
			formatLocalTime(entry.ModTime),
			name,
		)
	}
}

// typeChar picks a single-char type marker.
func typeChar(mode fs.FileMode) rune {
	switch {
	case mode.IsDir():
		return 'd'
	case mode&fs.ModeSymlink != 0:
		return 'l'
	case mode&fs.ModeNamedPipe != 0:
		return 'p'
	default:
		return '-'
	}
}

// formatLocalTime formats a timestamp in local time as "YYYY-MM-DD HH:MM".
func formatLocalTime(t time.Time) string {
	return t.In(time.Local).Format("2006-01-02 15:04")
}

// matchesPrefix reports whether name starts with any of prefixes. No
// prefixes match everything.
func matchesPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
