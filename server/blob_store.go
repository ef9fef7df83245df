package server

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a blob does not exist in the backing store.
var ErrNotFound = errors.New("file not found")

// BlobProperties holds the backend-sourced metadata for a stored blob.
// The blob store is the source of truth for these values; they are never
// tracked independently.
type BlobProperties struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	OriginalName string    `json:"original_name,omitempty"`
}

// BlobStore defines the interface for blob storage operations
type BlobStore interface {
	// EnsureBucket creates the backing bucket if it does not exist
	EnsureBucket(ctx context.Context) error

	// Put uploads a blob under the given key
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType, originalName string) error

	// Exists reports whether a blob with the given key is present
	Exists(ctx context.Context, key string) (bool, error)

	// GetProperties retrieves the metadata for a blob
	GetProperties(ctx context.Context, key string) (*BlobProperties, error)

	// Get retrieves a blob's content along with its metadata
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobProperties, error)

	// Delete removes a blob
	Delete(ctx context.Context, key string) error

	// ListKeys returns all blob keys in the bucket
	ListKeys(ctx context.Context) ([]string, error)
}
