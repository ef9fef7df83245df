package server

import (
	"context"
	"io"
	"log"
)

// CachedBlobStore wraps a BlobStore with a properties cache. Blob bodies
// always stream from the backend; only metadata lookups are cached.
type CachedBlobStore struct {
	store BlobStore
	cache Cache
}

// NewCachedBlobStore creates a blob store that serves properties from the
// given cache when possible
func NewCachedBlobStore(store BlobStore, cache Cache) *CachedBlobStore {
	return &CachedBlobStore{
		store: store,
		cache: cache,
	}
}

// EnsureBucket delegates to the underlying store
func (c *CachedBlobStore) EnsureBucket(ctx context.Context) error {
	return c.store.EnsureBucket(ctx)
}

// Put uploads through the underlying store and invalidates any cached
// properties for the key
func (c *CachedBlobStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType, originalName string) error {
	if err := c.store.Put(ctx, key, data, size, contentType, originalName); err != nil {
		return err
	}

	if err := c.cache.DeleteProperties(ctx, key); err != nil {
		log.Printf("failed to invalidate cached properties for %s: %v", key, err)
	}

	return nil
}

// Exists delegates to the underlying store
func (c *CachedBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

// GetProperties returns cached properties when present, otherwise reads
// from the underlying store and fills the cache
func (c *CachedBlobStore) GetProperties(ctx context.Context, key string) (*BlobProperties, error) {
	if props, err := c.cache.GetProperties(ctx, key); err == nil {
		return props, nil
	}

	props, err := c.store.GetProperties(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetProperties(ctx, key, props); err != nil {
		log.Printf("failed to cache properties for %s: %v", key, err)
	}

	return props, nil
}

// Get streams the blob from the underlying store. The properties that ride
// along with the read are used to refresh the cache.
func (c *CachedBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *BlobProperties, error) {
	body, props, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	if err := c.cache.SetProperties(ctx, key, props); err != nil {
		log.Printf("failed to cache properties for %s: %v", key, err)
	}

	return body, props, nil
}

// Delete removes the blob from the underlying store and drops any cached
// properties
func (c *CachedBlobStore) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}

	if err := c.cache.DeleteProperties(ctx, key); err != nil {
		log.Printf("failed to invalidate cached properties for %s: %v", key, err)
	}

	return nil
}

// ListKeys delegates to the underlying store
func (c *CachedBlobStore) ListKeys(ctx context.Context) ([]string, error) {
	return c.store.ListKeys(ctx)
}
