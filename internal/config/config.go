// Package config provides configuration loading for collection-archive.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --config flag passed to a command, or
//   - the COLLECTION_ARCHIVE_CONFIG environment variable
//
// There is no automatic discovery. When neither is set the defaults apply,
// which store archives on the local filesystem relative to the working
// directory. A small set of environment variables override the storage
// section after the file is loaded, so that one config file can serve
// several buckets or roots.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Amaury/collection-archive/internal/archive"
	"github.com/Amaury/collection-archive/internal/storage"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "COLLECTION_ARCHIVE_CONFIG"

// Environment variables that override storage settings.
const (
	EnvStorage    = "COLLECTION_ARCHIVE_STORAGE"
	EnvFSRoot     = "COLLECTION_ARCHIVE_FS_ROOT"
	EnvS3Bucket   = "COLLECTION_ARCHIVE_S3_BUCKET"
	EnvS3Region   = "COLLECTION_ARCHIVE_S3_REGION"
	EnvS3Endpoint = "COLLECTION_ARCHIVE_S3_ENDPOINT"
	EnvGCSBucket  = "COLLECTION_ARCHIVE_GCS_BUCKET"
)

// Config is the configuration of the collection-archive command.
type Config struct {
	// Storage selects where archives are read and written.
	Storage StorageConfig `yaml:"storage"`

	// Transfer tunes how items move in and out of archives.
	Transfer TransferConfig `yaml:"transfer"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log"`

	// Metrics configures the metrics export.
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects and configures the archive storage backend.
type StorageConfig struct {
	// Type is one of fs, memory, s3, gcs.
	// Default: fs
	Type string `yaml:"type"`

	FS  FSConfig  `yaml:"fs"`
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// FSConfig configures the local filesystem backend.
type FSConfig struct {
	// Root is the directory archive names are resolved against.
	// ${VAR} references are expanded. Default: .
	Root string `yaml:"root"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`

	// PartSize is the multipart upload part size in bytes.
	// Default: 8 MiB, minimum 5 MiB.
	PartSize int64 `yaml:"part_size"`
}

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// TransferConfig tunes item transfer.
type TransferConfig struct {
	// BufferSize is the storage adapter buffer in bytes.
	// Default: 8192, minimum 512.
	BufferSize int `yaml:"buffer_size"`

	// MissingSource is what create does with items whose source vanished:
	// abort or skip. Default: abort
	MissingSource string `yaml:"missing_source"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is text or json. Default: text
	Format string `yaml:"format"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Textfile, when set, receives the counters in the Prometheus text
	// format when a command finishes.
	Textfile string `yaml:"textfile"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type: string(storage.TypeFS),
			FS:   FSConfig{Root: "."},
			S3:   S3Config{PartSize: storage.DefaultPartSize},
		},
		Transfer: TransferConfig{
			BufferSize:    storage.DefaultBufferSize,
			MissingSource: archive.MissingSourceAbort.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from path, or from the file named by
// COLLECTION_ARCHIVE_CONFIG when path is empty, or returns the defaults
// when neither is set. Environment overrides are applied and the result is
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Storage.FS.Root = os.ExpandEnv(cfg.Storage.FS.Root)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML file into the config. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv applies the storage environment overrides.
func (c *Config) applyEnv() {
	override := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	override(&c.Storage.Type, EnvStorage)
	override(&c.Storage.FS.Root, EnvFSRoot)
	override(&c.Storage.S3.Bucket, EnvS3Bucket)
	override(&c.Storage.S3.Region, EnvS3Region)
	override(&c.Storage.S3.Endpoint, EnvS3Endpoint)
	override(&c.Storage.GCS.Bucket, EnvGCSBucket)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch storage.Type(c.Storage.Type) {
	case storage.TypeFS:
		if c.Storage.FS.Root == "" {
			errs = append(errs, errors.New("storage.fs.root is required for fs storage"))
		}
	case storage.TypeMemory:
	case storage.TypeS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for s3 storage"))
		}
		if c.Storage.S3.PartSize != 0 && c.Storage.S3.PartSize < storage.MinPartSize {
			errs = append(errs, fmt.Errorf("storage.s3.part_size must be at least %d", storage.MinPartSize))
		}
	case storage.TypeGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required for gcs storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage.type: %q", c.Storage.Type))
	}

	if c.Transfer.BufferSize < 512 {
		errs = append(errs, errors.New("transfer.buffer_size must be at least 512"))
	}
	if _, err := archive.ParseMissingSourcePolicy(c.Transfer.MissingSource); err != nil {
		errs = append(errs, fmt.Errorf("transfer.missing_source: %w", err))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log.format: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Backend returns the storage configuration in the form storage.New takes.
func (c *Config) Backend() storage.Config {
	return storage.Config{
		Type:   storage.Type(c.Storage.Type),
		FSRoot: c.Storage.FS.Root,
		S3: storage.S3Config{
			Bucket:   c.Storage.S3.Bucket,
			Region:   c.Storage.S3.Region,
			Endpoint: c.Storage.S3.Endpoint,
			Prefix:   c.Storage.S3.Prefix,
			PartSize: c.Storage.S3.PartSize,
		},
		GCS: storage.GCSConfig{
			Bucket: c.Storage.GCS.Bucket,
			Prefix: c.Storage.GCS.Prefix,
		},
	}
}

// MissingSource returns the parsed missing source policy.
func (c *Config) MissingSource() archive.MissingSourcePolicy {
	p, _ := archive.ParseMissingSourcePolicy(c.Transfer.MissingSource)
	return p
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
