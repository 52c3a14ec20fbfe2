//go:build gcp

package storage

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client  *gcs.Client
	bucket  string
	prefix  string
	handles handleTable[*gcsObject]
}

type gcsObject struct {
	mode OpenMode
	r    *gcs.Reader
	w    *gcs.Writer
}

// NewGCS creates a GCS backend using application default credentials.
func NewGCS(ctx context.Context, cfg GCSConfig) (Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (g *GCS) Open(ctx context.Context, name string, mode OpenMode) (Handle, error) {
	key, err := cleanName(name)
	if err != nil {
		return 0, err
	}
	obj := g.client.Bucket(g.bucket).Object(g.prefix + key)

	switch mode {
	case OpenRead:
		r, err := obj.NewReader(ctx)
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return 0, fmt.Errorf("%w: gs://%s/%s%s", ErrNotFound, g.bucket, g.prefix, key)
		}
		if err != nil {
			return 0, fmt.Errorf("gcs get failed for %s: %w", key, err)
		}
		return g.handles.add(&gcsObject{mode: mode, r: r}), nil
	case OpenWrite:
		w := obj.NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		return g.handles.add(&gcsObject{mode: mode, w: w}), nil
	default:
		return 0, fmt.Errorf("unsupported open mode %s", mode)
	}
}

func (g *GCS) Read(_ context.Context, h Handle, p []byte) (int, error) {
	obj, err := g.handles.get(h)
	if err != nil {
		return 0, err
	}
	if obj.mode != OpenRead {
		return 0, fmt.Errorf("%w: %d is not open for reading", ErrBadHandle, h)
	}
	return obj.r.Read(p)
}

func (g *GCS) Write(_ context.Context, h Handle, p []byte) (int, error) {
	obj, err := g.handles.get(h)
	if err != nil {
		return 0, err
	}
	if obj.mode != OpenWrite {
		return 0, fmt.Errorf("%w: %d is not open for writing", ErrBadHandle, h)
	}
	return obj.w.Write(p)
}

// Close closes the reader, or finalizes the upload of a writer.
func (g *GCS) Close(_ context.Context, h Handle) error {
	obj, err := g.handles.remove(h)
	if err != nil {
		return err
	}
	if obj.mode == OpenRead {
		return obj.r.Close()
	}
	if err := obj.w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

// Release closes the GCS client.
func (g *GCS) Release() error {
	return g.client.Close()
}
