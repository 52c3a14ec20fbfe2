package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amaury/collection-archive/internal/archive"
	"github.com/Amaury/collection-archive/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// clearEnv unsets every variable Load consults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvConfig, EnvStorage, EnvFSRoot, EnvS3Bucket, EnvS3Region, EnvS3Endpoint, EnvGCSBucket} {
		t.Setenv(name, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fs", cfg.Storage.Type)
	assert.Equal(t, ".", cfg.Storage.FS.Root)
	assert.Equal(t, storage.DefaultBufferSize, cfg.Transfer.BufferSize)
	assert.Equal(t, archive.MissingSourceAbort, cfg.MissingSource())

	b := cfg.Backend()
	assert.Equal(t, storage.TypeFS, b.Type)
	assert.Equal(t, ".", b.FSRoot)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  type: s3
  s3:
    bucket: archives
    region: eu-west-1
    endpoint: http://localhost:9000
    prefix: coll/
    part_size: 16777216
transfer:
  buffer_size: 65536
  missing_source: skip
log:
  level: debug
  format: json
metrics:
  textfile: /tmp/archive.prom
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, archive.MissingSourceSkip, cfg.MissingSource())
	assert.Equal(t, 65536, cfg.Transfer.BufferSize)
	assert.Equal(t, "/tmp/archive.prom", cfg.Metrics.Textfile)

	b := cfg.Backend()
	assert.Equal(t, storage.TypeS3, b.Type)
	assert.Equal(t, storage.S3Config{
		Bucket:   "archives",
		Region:   "eu-west-1",
		Endpoint: "http://localhost:9000",
		Prefix:   "coll/",
		PartSize: 16 << 20,
	}, b.S3)
}

func TestLoadFromEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "storage:\n  type: memory\n")
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "storage:\n  type: fs\n  fs:\n    root: /srv/archives\n")
	t.Setenv(EnvStorage, "gcs")
	t.Setenv(EnvGCSBucket, "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gcs", cfg.Storage.Type)
	assert.Equal(t, "from-env", cfg.Storage.GCS.Bucket)
	assert.Equal(t, "/srv/archives", cfg.Storage.FS.Root)
}

func TestFSRootExpandsVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARCHIVE_BASE", "/data")
	cfg, err := Load(writeConfig(t, "storage:\n  fs:\n    root: ${ARCHIVE_BASE}/store\n"))
	require.NoError(t, err)
	assert.Equal(t, "/data/store", cfg.Storage.FS.Root)
}

func TestLoadRejects(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "storage:\n  kind: fs\n", "kind"},
		{"bad yaml", "storage: [", "failed to load config"},
		{"unknown type", "storage:\n  type: ftp\n", "storage.type"},
		{"s3 without bucket", "storage:\n  type: s3\n", "storage.s3.bucket"},
		{"small part size", "storage:\n  type: s3\n  s3:\n    bucket: b\n    part_size: 1024\n", "part_size"},
		{"gcs without bucket", "storage:\n  type: gcs\n", "storage.gcs.bucket"},
		{"small buffer", "transfer:\n  buffer_size: 100\n", "buffer_size"},
		{"bad policy", "transfer:\n  missing_source: ignore\n", "missing_source"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogger(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Log.Level = "warn"
	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "path", "a/b")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "path=a/b")

	cfg.Log.Format = "json"
	cfg.Log.Level = "debug"
	buf.Reset()
	cfg.Logger(&buf).Debug("event", "item_count", 3)
	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, `"item_count":3`)
	assert.True(t, cfg.Logger(&buf).Enabled(t.Context(), slog.LevelDebug))
}
