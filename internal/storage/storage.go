// Package storage provides the object storage operations the garbage
// collector needs to remove data files of unreferenced commits.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakemeta/lakemeta/internal/config"
)

// Common errors for storage operations.
var (
	ErrDeleteFailed = errors.New("delete failed")
	// ErrForeignObject is returned for a path that lies outside the
	// storage root (another bucket, another directory tree).
	ErrForeignObject = errors.New("object outside storage root")
)

// ObjectStorage abstracts the object store holding table data files.
// Paths are data file paths as recorded in commits: a URI such as
// s3://bucket/key or file:///dir/key, or a key relative to the root.
type ObjectStorage interface {
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object keys under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Open builds the object storage described by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.Endpoint != "",
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
