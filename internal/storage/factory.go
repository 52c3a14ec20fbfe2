package storage

import (
	"context"
	"errors"
	"fmt"
)

// Type names a storage backend.
type Type string

const (
	TypeFS     Type = "fs"
	TypeMemory Type = "memory"
	TypeS3     Type = "s3"
	TypeGCS    Type = "gcs"
)

// GCSConfig holds configuration for the GCS backend.
type GCSConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// Config selects and configures a backend.
type Config struct {
	Type   Type
	FSRoot string
	S3     S3Config
	GCS    GCSConfig
}

// New creates the backend described by cfg. An empty type selects the local
// filesystem.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeFS, "":
		if cfg.FSRoot == "" {
			return nil, errors.New("fs root is required for fs storage")
		}
		local, err := NewLocal(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return local, nil
	case TypeMemory:
		return NewMemory(), nil
	case TypeS3:
		b, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return b, nil
	case TypeGCS:
		return NewGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
