package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// MaxUploadBytes is the largest accepted upload size (10 MiB)
const MaxUploadBytes = 10 * 1024 * 1024

// downloadPathPrefix is the route downloads are served under
const downloadPathPrefix = "/api/download/"

var (
	// ErrUnsupportedType indicates the file's extension is not on the allow list
	ErrUnsupportedType = errors.New("file type not allowed")

	// ErrFileTooLarge indicates the file exceeds MaxUploadBytes
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// allowedExtensions is the set of file extensions accepted for upload,
// compared lowercase without the leading dot
var allowedExtensions = map[string]bool{
	"txt":  true,
	"pdf":  true,
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"doc":  true,
	"docx": true,
	"xls":  true,
	"xlsx": true,
}

// allowedExtensionsDisplay is surfaced in validation errors; keep it in
// sync with allowedExtensions
const allowedExtensionsDisplay = "txt, pdf, png, jpg, jpeg, gif, doc, docx, xls, xlsx"

// FileInfo describes a stored file
type FileInfo struct {
	Name         string    `json:"name"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url"`
}

// FileRegistry manages stored files on top of a blob store. Keys are
// generated as "<epoch-millis>-<original name>" so listings stay unique
// even when the same file is uploaded twice.
type FileRegistry struct {
	blobs BlobStore
}

// NewFileRegistry creates a new file registry
func NewFileRegistry(blobs BlobStore) *FileRegistry {
	return &FileRegistry{blobs: blobs}
}

// Validate checks an upload candidate against the extension allow list and
// the size limit. The extension is checked first so an oversized file of a
// disallowed type reports the type error.
func (r *FileRegistry) Validate(name string, size int64) error {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" || !allowedExtensions[ext] {
		return fmt.Errorf("%q: %w (allowed: %s)", name, ErrUnsupportedType, allowedExtensionsDisplay)
	}

	if size > MaxUploadBytes {
		return fmt.Errorf("%q (%d bytes): %w", name, size, ErrFileTooLarge)
	}

	return nil
}

// Register validates the candidate, derives a unique key and stores the
// file. Nothing is written when validation fails.
func (r *FileRegistry) Register(ctx context.Context, originalName string, size int64, contentType string, data io.Reader) (*FileInfo, error) {
	// Some clients send a full path as the file name. Keep only the final
	// segment, whichever separator style the client used, so the derived
	// key never contains a path separator.
	originalName = path.Base(originalName)
	if idx := strings.LastIndexByte(originalName, '\\'); idx >= 0 {
		originalName = originalName[idx+1:]
	}

	if err := r.Validate(originalName, size); err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), originalName)
	if err := r.blobs.Put(ctx, key, data, size, contentType, originalName); err != nil {
		return nil, err
	}

	return &FileInfo{
		Name:         key,
		OriginalName: originalName,
		Size:         size,
		ContentType:  contentType,
		URL:          downloadURL(key),
	}, nil
}

// List returns all stored files, newest first. Any backend failure aborts
// the listing rather than returning a partial result.
func (r *FileRegistry) List(ctx context.Context) ([]*FileInfo, error) {
	keys, err := r.blobs.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	files := make([]*FileInfo, 0, len(keys))
	for _, key := range keys {
		props, err := r.blobs.GetProperties(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get properties for %s: %v", key, err)
		}

		files = append(files, fileInfoFromProps(key, props))
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].LastModified.Equal(files[j].LastModified) {
			return files[i].LastModified.After(files[j].LastModified)
		}
		return files[i].Name > files[j].Name
	})

	return files, nil
}

// Fetch opens a stored file for reading. The caller must close the
// returned body.
func (r *FileRegistry) Fetch(ctx context.Context, key string) (io.ReadCloser, *FileInfo, error) {
	if !validKey(key) {
		return nil, nil, fmt.Errorf("file %q: %w", key, ErrNotFound)
	}

	body, props, err := r.blobs.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	return body, fileInfoFromProps(key, props), nil
}

// Remove deletes a stored file. Removing a file that does not exist
// reports ErrNotFound.
func (r *FileRegistry) Remove(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("file %q: %w", key, ErrNotFound)
	}

	exists, err := r.blobs.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("file %q: %w", key, ErrNotFound)
	}

	return r.blobs.Delete(ctx, key)
}

// OriginalNameFromKey recovers the original file name from a registry key
// by stripping the epoch-millis prefix. Keys without the prefix are
// returned unchanged.
func OriginalNameFromKey(key string) string {
	idx := strings.Index(key, "-")
	if idx <= 0 {
		return key
	}
	for _, c := range key[:idx] {
		if c < '0' || c > '9' {
			return key
		}
	}
	return key[idx+1:]
}

func fileInfoFromProps(key string, props *BlobProperties) *FileInfo {
	originalName := props.OriginalName
	if originalName == "" {
		originalName = OriginalNameFromKey(key)
	}

	return &FileInfo{
		Name:         key,
		OriginalName: originalName,
		Size:         props.Size,
		ContentType:  props.ContentType,
		LastModified: props.LastModified,
		URL:          downloadURL(key),
	}
}

func downloadURL(key string) string {
	return downloadPathPrefix + url.PathEscape(key)
}

// validKey rejects keys that are empty or contain path separators. Such
// keys can never have been produced by Register.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	if strings.ContainsAny(key, "/\\") {
		return false
	}
	return true
}
