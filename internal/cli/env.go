package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/Amaury/collection-archive/internal/archive"
	"github.com/Amaury/collection-archive/internal/config"
	"github.com/Amaury/collection-archive/internal/metrics"
	"github.com/Amaury/collection-archive/internal/storage"
)

const envConfigName = config.EnvConfig

// env holds what every command needs: configuration, logger, storage and
// metrics.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	metrics *metrics.Collector
}

func setup(ctx context.Context, configPath string, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(stderr)

	var collector *metrics.Collector
	if cfg.Metrics.Textfile != "" {
		if collector, err = metrics.NewCollector(); err != nil {
			return nil, err
		}
	}

	store, err := storage.New(ctx, cfg.Backend())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	logger.Debug("storage ready", "type", cfg.Storage.Type)

	return &env{cfg: cfg, logger: logger, store: store, metrics: collector}, nil
}

// sessionOptions returns the archive options derived from the config.
func (e *env) sessionOptions() []archive.Option {
	return []archive.Option{
		archive.WithLogger(e.logger),
		archive.WithMetrics(e.metrics),
		archive.WithBufferSize(e.cfg.Transfer.BufferSize),
		archive.WithMissingSource(e.cfg.MissingSource()),
	}
}

// checkName rejects absolute archive names on fs storage, where every name
// resolves below the configured root.
func (e *env) checkName(name string) error {
	if e.cfg.Storage.Type != string(storage.TypeFS) || !filepath.IsAbs(name) {
		return nil
	}
	return fmt.Errorf("archive name %q is absolute; fs storage resolves names below %s (set storage.fs.root or $%s instead)",
		name, e.cfg.Storage.FS.Root, config.EnvFSRoot)
}

// close releases the storage and writes the metrics textfile.
func (e *env) close() error {
	var errs []error
	if err := e.store.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release storage: %w", err))
	}
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
		errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
	}
	return errors.Join(errs...)
}

// withEnv runs fn with a fresh env and joins the teardown error into its
// result.
func withEnv(ctx context.Context, configPath string, stderr io.Writer, fn func(*env) error) (err error) {
	e, err := setup(ctx, configPath, stderr)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, e.close())
	}()
	return fn(e)
}
