package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amaury/collection-archive/internal/codec"
	"github.com/Amaury/collection-archive/internal/manifest"
	"github.com/Amaury/collection-archive/internal/storage"
)

type testItem struct {
	path     string
	data     []byte
	mode     os.FileMode
	metadata any
}

var testModTime = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

// inTempDir switches to a fresh directory so items can use relative paths.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeSource(t *testing.T, it testItem) {
	t.Helper()
	mode := it.mode
	if mode == 0 {
		mode = 0o644
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(it.path), 0o755))
	require.NoError(t, os.WriteFile(it.path, it.data, 0o600))
	require.NoError(t, os.Chmod(it.path, mode))
	require.NoError(t, os.Chtimes(it.path, testModTime, testModTime))
}

func buildArchive(t *testing.T, backend storage.Backend, name, collection string, items []testItem, opts ...Option) {
	t.Helper()
	s, err := Create(context.Background(), backend, name, collection, opts...)
	require.NoError(t, err)
	for _, it := range items {
		writeSource(t, it)
		require.NoError(t, s.AddItem(it.path, it.metadata))
	}
	require.NoError(t, s.Close())
}

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	inTempDir(t)
	items := []testItem{
		{path: "a.txt", data: []byte("hello\n"), metadata: map[string]any{"k": 1}},
		{path: "docs/b.bin", data: patterned(3*chunkSize + 17), metadata: json.RawMessage(`["x",true]`)},
		{path: "empty", data: nil},
	}

	for _, name := range []string{
		"out.tar", "out.tar.gz", "out.tgz", "out.tar.zst", "out.tzst",
		"out.tar.lz4", "out.zip", "out.bin",
	} {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemory()
			buildArchive(t, store, name, "coll-1", items)
			assert.Zero(t, store.OpenHandles())

			s, err := Open(context.Background(), store, name)
			require.NoError(t, err)
			assert.Equal(t, ModeReading, s.Mode())
			assert.Equal(t, "coll-1", s.Collection())
			require.Len(t, s.Items(), len(items))

			for i, want := range items {
				got, err := s.Next()
				require.NoError(t, err)
				assert.Equal(t, want.path, got)
				assert.Equal(t, i+1, s.Index())

				md, err := s.Metadata()
				require.NoError(t, err)
				if want.metadata == nil {
					assert.Nil(t, md)
				} else {
					expected, err := json.Marshal(want.metadata)
					require.NoError(t, err)
					assert.JSONEq(t, string(expected), string(md))
				}

				var buf bytes.Buffer
				n, err := s.WriteItemTo(&buf)
				require.NoError(t, err)
				assert.Equal(t, int64(len(want.data)), n)
				assert.Equal(t, want.data, buf.Bytes())
			}

			_, err = s.Next()
			assert.ErrorIs(t, err, io.EOF)
			_, err = s.Next()
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, len(items), s.Index())

			require.NoError(t, s.Close())
			assert.Equal(t, ModeClosed, s.Mode())
			assert.Zero(t, store.OpenHandles())
		})
	}
}

func TestUnknownExtensionIsGzipTar(t *testing.T) {
	inTempDir(t)
	store := storage.NewMemory()
	buildArchive(t, store, "archive.data", "c", []testItem{{path: "f", data: []byte("x")}})

	data, ok := store.Get("archive.data")
	require.True(t, ok)
	r, err := codec.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, codec.FormatTar, r.Format())
	assert.Equal(t, codec.FilterGzip, r.Filter())
}

func TestManifestIsFirstEntry(t *testing.T) {
	inTempDir(t)
	store := storage.NewMemory()
	buildArchive(t, store, "out.tar", "coll", []testItem{
		{path: "one", data: []byte("1"), metadata: map[string]string{"a": "<b>"}},
		{path: "two", data: []byte("2")},
	})

	data, ok := store.Get("out.tar")
	require.True(t, ok)
	r, err := codec.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	hdr, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, manifest.FileName, hdr.Name)
	assert.True(t, hdr.Mode.IsRegular())
	assert.Equal(t, os.FileMode(0o444), hdr.Mode.Perm())

	doc, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, int64(len(doc)), hdr.Size)
	assert.Equal(t, `{
  "collection": "coll",
  "items": [
    {
      "path": "one",
      "metadata": {
        "a": "<b>"
      }
    },
    {
      "path": "two",
      "metadata": null
    }
  ]
}`, string(doc))

	var names []string
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"one", "two"}, names)
}

func TestEmptyManifest(t *testing.T) {
	store := storage.NewMemory()
	s, err := Create(context.Background(), store, "empty.tar", "nothing")
	require.NoError(t, err)
	assert.Empty(t, s.Items())
	require.NoError(t, s.Close())

	data, ok := store.Get("empty.tar")
	require.True(t, ok)
	r, err := codec.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	doc, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "{\n  \"collection\": \"nothing\",\n  \"items\": []\n}", string(doc))

	s, err = Open(context.Background(), store, "empty.tar")
	require.NoError(t, err)
	assert.Equal(t, "nothing", s.Collection())
	assert.Empty(t, s.Items())
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, s.Close())
}

// rawContainer writes entries with the codec directly, bypassing Session.
func rawContainer(t *testing.T, format codec.Format, filter codec.Filter, entries map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, format, filter)
	require.NoError(t, err)
	for _, name := range order {
		data := entries[name]
		require.NoError(t, w.WriteHeader(&codec.Header{
			Name: name, Mode: 0o644, Size: int64(len(data)), ModTime: testModTime,
		}))
		_, err := w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOpenRejects(t *testing.T) {
	t.Parallel()

	validDoc := []byte(`{"collection":"c","items":[]}`)
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "manifest not first",
			data: rawContainer(t, codec.FormatTar, codec.FilterGzip, map[string][]byte{
				"data.txt": []byte("x"), manifest.FileName: validDoc,
			}, "data.txt", manifest.FileName),
			want: ErrFormat,
		},
		{
			name: "zip manifest not first",
			data: rawContainer(t, codec.FormatZip, codec.FilterNone, map[string][]byte{
				"data.txt": []byte("x"),
			}, "data.txt"),
			want: ErrFormat,
		},
		{
			name: "not an archive",
			data: []byte("this is plain text, not a container"),
			want: ErrFormat,
		},
		{
			name: "empty object",
			data: nil,
			want: ErrFormat,
		},
		{
			name: "manifest not json",
			data: rawContainer(t, codec.FormatTar, codec.FilterNone, map[string][]byte{
				manifest.FileName: []byte("{not json"),
			}, manifest.FileName),
			want: ErrManifest,
		},
		{
			name: "collection not a string",
			data: rawContainer(t, codec.FormatTar, codec.FilterNone, map[string][]byte{
				manifest.FileName: []byte(`{"collection":1,"items":[]}`),
			}, manifest.FileName),
			want: ErrManifest,
		},
		{
			name: "item without path",
			data: rawContainer(t, codec.FormatTar, codec.FilterNone, map[string][]byte{
				manifest.FileName: []byte(`{"collection":"c","items":[{"metadata":null}]}`),
			}, manifest.FileName),
			want: ErrManifest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := storage.NewMemory()
			require.NoError(t, store.Put("in", tt.data))

			s, err := Open(context.Background(), store, "in")
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, s)
			assert.Zero(t, store.OpenHandles())
		})
	}
}

func TestOpenMissingObject(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	s, err := Open(context.Background(), store, "absent.tar")
	require.ErrorIs(t, err, ErrIOOpen)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Nil(t, s)
}

func TestExtractItemRestoresModeAndTime(t *testing.T) {
	src := inTempDir(t)
	items := []testItem{
		{path: "bin/run.sh", data: []byte("#!/bin/sh\n"), mode: 0o750},
		{path: "ro.txt", data: patterned(chunkSize + 1), mode: 0o440},
	}
	store := storage.NewMemory()
	buildArchive(t, store, "out.tar.zst", "c", items)

	s, err := Open(context.Background(), store, "out.tar.zst")
	require.NoError(t, err)
	defer s.Close()

	dest := filepath.Join(src, "restore", "nested")
	for _, want := range items {
		name, err := s.Next()
		require.NoError(t, err)

		entry, err := s.Entry()
		require.NoError(t, err)
		assert.Equal(t, want.mode, entry.Mode.Perm())

		target := filepath.Join(dest, name)
		require.NoError(t, s.ExtractItem(target))

		got, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, want.data, got)

		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.Equal(t, want.mode, info.Mode().Perm())
		assert.True(t, testModTime.Equal(info.ModTime()), "mtime %s", info.ModTime())
	}
}

func TestExtractDirectoryEntry(t *testing.T) {
	src := inTempDir(t)
	require.NoError(t, os.Mkdir("folder", 0o755))
	require.NoError(t, os.Chmod("folder", 0o750))

	store := storage.NewMemory()
	s, err := Create(context.Background(), store, "d.tar", "c")
	require.NoError(t, err)
	require.NoError(t, s.AddItem("folder", nil))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), store, "d.tar")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Next()
	require.NoError(t, err)
	entry, err := s.Entry()
	require.NoError(t, err)
	assert.True(t, entry.Mode.IsDir())

	target := filepath.Join(src, "out", "folder")
	require.NoError(t, s.ExtractItem(target))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestMissingSourceAbort(t *testing.T) {
	inTempDir(t)
	writeSource(t, testItem{path: "present", data: []byte("p")})

	store := storage.NewMemory()
	s, err := Create(context.Background(), store, "out.tar", "c")
	require.NoError(t, err)
	require.NoError(t, s.AddItem("present", nil))
	require.NoError(t, s.AddItem("missing", nil))

	err = s.Close()
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, store.OpenHandles())

	_, err = Open(context.Background(), store, "out.tar")
	assert.ErrorIs(t, err, ErrFormat)
}

func TestMissingSourceSkip(t *testing.T) {
	inTempDir(t)
	writeSource(t, testItem{path: "first", data: []byte("1")})
	writeSource(t, testItem{path: "third", data: []byte("3")})

	store := storage.NewMemory()
	s, err := Create(context.Background(), store, "out.tgz", "c", WithMissingSource(MissingSourceSkip))
	require.NoError(t, err)
	require.NoError(t, s.AddItem("first", "m1"))
	require.NoError(t, s.AddItem("second", "m2"))
	require.NoError(t, s.AddItem("third", "m3"))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), store, "out.tgz")
	require.NoError(t, err)
	defer s.Close()

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Path)
	assert.Equal(t, "third", items[1].Path)

	for _, want := range []string{"first", "third"} {
		name, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, want, name)
		it, err := s.Item()
		require.NoError(t, err)
		assert.Equal(t, want, it.Path)
	}
	md, err := s.Metadata()
	require.NoError(t, err)
	assert.JSONEq(t, `"m3"`, string(md))
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDanglingSymlinkSource(t *testing.T) {
	inTempDir(t)
	require.NoError(t, os.Symlink("nowhere", "dangling"))

	store := storage.NewMemory()
	s, err := Create(context.Background(), store, "out.tar", "c")
	require.NoError(t, err)
	require.NoError(t, s.AddItem("dangling", nil))
	assert.ErrorIs(t, s.Close(), ErrSourceUnavailable)
}

func TestWrongModeAndClosed(t *testing.T) {
	inTempDir(t)
	store := storage.NewMemory()

	b, err := Create(context.Background(), store, "out.tar", "c")
	require.NoError(t, err)
	_, err = b.Next()
	assert.ErrorIs(t, err, ErrWrongMode)
	_, err = b.Metadata()
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.ErrorIs(t, b.ExtractItem("x"), ErrWrongMode)
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.AddItem("late", nil), ErrClosed)
	_, err = b.Next()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, b.Close())
	assert.Nil(t, b.Items())

	r, err := Open(context.Background(), store, "out.tar")
	require.NoError(t, err)
	assert.ErrorIs(t, r.AddItem("x", nil), ErrWrongMode)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	_, err = r.Entry()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddItemRejectsInvalidMetadata(t *testing.T) {
	t.Parallel()
	s, err := Create(context.Background(), storage.NewMemory(), "out.tar", "c")
	require.NoError(t, err)
	defer s.Close()

	err = s.AddItem("p", json.RawMessage(`{broken`))
	require.ErrorIs(t, err, ErrManifest)
	assert.Empty(t, s.Items())
}

func TestNoCurrentEntry(t *testing.T) {
	inTempDir(t)
	store := storage.NewMemory()
	buildArchive(t, store, "out.tar", "c", []testItem{{path: "only", data: []byte("1"), metadata: 1}})

	s, err := Open(context.Background(), store, "out.tar")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Metadata()
	assert.ErrorIs(t, err, ErrNoCurrentEntry)
	_, err = s.Entry()
	assert.ErrorIs(t, err, ErrNoCurrentEntry)
	_, err = s.WriteItemTo(io.Discard)
	assert.ErrorIs(t, err, ErrNoCurrentEntry)

	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Metadata()
	require.NoError(t, err)

	_, err = s.Next()
	require.ErrorIs(t, err, io.EOF)
	_, err = s.Metadata()
	assert.ErrorIs(t, err, ErrNoCurrentEntry)
	assert.ErrorIs(t, s.ExtractItem("x"), ErrNoCurrentEntry)
}

func TestEntryConsumedOnce(t *testing.T) {
	dir := inTempDir(t)
	store := storage.NewMemory()
	buildArchive(t, store, "out.tar", "c", []testItem{{path: "f", data: []byte("payload")}})

	s, err := Open(context.Background(), store, "out.tar")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.WriteItemTo(io.Discard)
	require.NoError(t, err)

	_, err = s.WriteItemTo(io.Discard)
	assert.ErrorIs(t, err, ErrEntryConsumed)
	assert.ErrorIs(t, s.ExtractItem(filepath.Join(dir, "out")), ErrEntryConsumed)
}

func TestItemOutOfRange(t *testing.T) {
	t.Parallel()
	doc, err := manifest.New("c").Encode()
	require.NoError(t, err)

	store := storage.NewMemory()
	require.NoError(t, store.Put("extra.tar", rawContainer(t, codec.FormatTar, codec.FilterNone,
		map[string][]byte{manifest.FileName: doc, "stray": []byte("s")},
		manifest.FileName, "stray")))

	s, err := Open(context.Background(), store, "extra.tar")
	require.NoError(t, err)
	defer s.Close()

	name, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "stray", name)
	_, err = s.Metadata()
	assert.ErrorIs(t, err, ErrItemOutOfRange)

	var buf bytes.Buffer
	_, err = s.WriteItemTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "s", buf.String())
}

func TestNextReportsTruncatedContainer(t *testing.T) {
	inTempDir(t)
	store := storage.NewMemory()
	buildArchive(t, store, "out.tar", "c", []testItem{
		{path: "big", data: patterned(10000)},
		{path: "after", data: []byte("a")},
	})

	data, ok := store.Get("out.tar")
	require.True(t, ok)
	// Cut inside the payload of "big": two trailer blocks, "after" (header
	// and one data block) and part of the payload.
	cut := len(data) - 1024 - 1024 - 4000
	require.NoError(t, store.Put("cut.tar", data[:cut]))

	s, err := Open(context.Background(), store, "cut.tar")
	require.NoError(t, err)
	defer s.Close()

	name, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "big", name)

	_, err = s.Next()
	require.ErrorIs(t, err, ErrRead)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, s.Index())

	_, again := s.Next()
	assert.Equal(t, err, again)
	_, err = s.Entry()
	assert.ErrorIs(t, err, ErrNoCurrentEntry)
}

func TestLocalBackendRoundTrip(t *testing.T) {
	inTempDir(t)
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	defer store.Release()

	items := []testItem{{path: "x/y.txt", data: []byte("local"), metadata: map[string]int{"n": 5}}}
	buildArchive(t, store, "nested/out.tar.lz4", "c", items, WithBufferSize(1024))

	_, err = os.Stat(filepath.Join(store.Dir(), "nested", "out.tar.lz4"))
	require.NoError(t, err)

	s, err := Open(context.Background(), store, "nested/out.tar.lz4", WithBufferSize(1024))
	require.NoError(t, err)
	defer s.Close()
	name, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "x/y.txt", name)
	var buf bytes.Buffer
	_, err = s.WriteItemTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "local", buf.String())
}

func TestParseMissingSourcePolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]MissingSourcePolicy{
		"":      MissingSourceAbort,
		"abort": MissingSourceAbort,
		"skip":  MissingSourceSkip,
	} {
		got, err := ParseMissingSourcePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}
	_, err := ParseMissingSourcePolicy("ignore")
	assert.Error(t, err)
}
