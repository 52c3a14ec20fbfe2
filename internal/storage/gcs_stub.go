//go:build !gcp

package storage

import (
	"context"
	"errors"
)

// NewGCS reports that GCS support was not compiled in.
func NewGCS(_ context.Context, _ GCSConfig) (Store, error) {
	return nil, errors.New("GCS storage is not enabled in this build (use -tags gcp)")
}
