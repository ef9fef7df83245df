package server

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// memoryBlobStore is an in-memory BlobStore used by tests
type memoryBlobStore struct {
	mu       sync.Mutex
	blobs    map[string]*memoryBlob
	err      error // when set, every operation fails with this error
	propsErr error // when set, only GetProperties fails with this error
}

type memoryBlob struct {
	data  []byte
	props BlobProperties
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string]*memoryBlob)}
}

func (m *memoryBlobStore) EnsureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *memoryBlobStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType, originalName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	m.blobs[key] = &memoryBlob{
		data: b,
		props: BlobProperties{
			Size:         int64(len(b)),
			ContentType:  contentType,
			LastModified: time.Now(),
			OriginalName: originalName,
		},
	}
	return nil
}

func (m *memoryBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}

	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memoryBlobStore) GetProperties(ctx context.Context, key string) (*BlobProperties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.propsErr != nil {
		return nil, m.propsErr
	}

	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}

	props := blob.props
	return &props, nil
}

func (m *memoryBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *BlobProperties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}

	blob, ok := m.blobs[key]
	if !ok {
		return nil, nil, ErrNotFound
	}

	props := blob.props
	return io.NopCloser(bytes.NewReader(blob.data)), &props, nil
}

func (m *memoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	delete(m.blobs, key)
	return nil
}

func (m *memoryBlobStore) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	keys := make([]string, 0, len(m.blobs))
	for key := range m.blobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// count returns the number of stored blobs
func (m *memoryBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// remove drops a blob without going through Delete
func (m *memoryBlobStore) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
}

// setLastModified overrides a blob's modification time
func (m *memoryBlobStore) setLastModified(key string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blob, ok := m.blobs[key]; ok {
		blob.props.LastModified = ts
	}
}

// setFailure makes every subsequent operation fail with err
func (m *memoryBlobStore) setFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// setPropertiesFailure makes only property lookups fail with err, leaving
// the other operations working
func (m *memoryBlobStore) setPropertiesFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propsErr = err
}
