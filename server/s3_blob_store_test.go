package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
)

const testRegion = "us-west-2"

// skipWithoutAWSCredentials skips integration tests when no AWS
// credentials are present in the environment
func skipWithoutAWSCredentials(t *testing.T) {
	t.Helper()
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		t.Skip("Skipping test: AWS credentials not available")
	}
}

// setupTestStore creates a blob store against a fresh test bucket and
// registers cleanup that empties and removes the bucket
func setupTestStore(t *testing.T) *S3BlobStore {
	t.Helper()

	bucket := fmt.Sprintf("file-manager-test-%d", time.Now().UnixNano())
	store, err := NewS3BlobStore(testRegion, bucket)
	if err != nil {
		t.Fatalf("Failed to create S3 blob store: %v", err)
	}

	ctx := context.Background()
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	t.Cleanup(func() {
		keys, err := store.ListKeys(ctx)
		if err != nil {
			t.Logf("Error listing test bucket for cleanup: %v", err)
			return
		}
		for _, key := range keys {
			if err := store.Delete(ctx, key); err != nil {
				t.Logf("Error deleting test blob %s: %v", key, err)
			}
		}
		if _, err := store.s3Client.DeleteBucket(&s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
			t.Logf("Error deleting test bucket (may need manual cleanup): %v", err)
		}
	})

	return store
}

// TestS3BlobStore_PutGetDelete tests the blob round trip against S3
func TestS3BlobStore_PutGetDelete(t *testing.T) {
	skipWithoutAWSCredentials(t)
	store := setupTestStore(t)
	ctx := context.Background()

	content := []byte("hello from the integration test")
	key := fmt.Sprintf("%d-notes.txt", time.Now().UnixMilli())

	// Upload
	err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), "text/plain", "notes.txt")
	if err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	// Exists
	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Failed to check blob: %v", err)
	}
	if !exists {
		t.Error("Expected blob to exist after upload")
	}

	// Properties
	props, err := store.GetProperties(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get blob properties: %v", err)
	}
	if props.Size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), props.Size)
	}
	if props.ContentType != "text/plain" {
		t.Errorf("Expected content type text/plain, got %s", props.ContentType)
	}
	if props.OriginalName != "notes.txt" {
		t.Errorf("Expected original name notes.txt, got %s", props.OriginalName)
	}
	if props.LastModified.IsZero() {
		t.Error("Expected a last modified time")
	}

	// Download
	body, getProps, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get blob: %v", err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		t.Fatalf("Failed to read blob body: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("Downloaded blob does not match uploaded content")
	}
	if getProps.Size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), getProps.Size)
	}

	// Delete
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Failed to delete blob: %v", err)
	}

	exists, err = store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Failed to check blob after delete: %v", err)
	}
	if exists {
		t.Error("Expected blob to be gone after delete")
	}

	if _, err := store.GetProperties(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

// TestS3BlobStore_GetMissing tests reading a blob that was never stored
func TestS3BlobStore_GetMissing(t *testing.T) {
	skipWithoutAWSCredentials(t)
	store := setupTestStore(t)
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "1700000000000-gone.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing blob, got %v", err)
	}
}

// TestS3BlobStore_ListKeys tests listing uploaded blobs
func TestS3BlobStore_ListKeys(t *testing.T) {
	skipWithoutAWSCredentials(t)
	store := setupTestStore(t)
	ctx := context.Background()

	want := map[string]bool{}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("%d-file%d.txt", time.Now().UnixMilli(), i)
		err := store.Put(ctx, key, strings.NewReader("data"), 4, "text/plain", fmt.Sprintf("file%d.txt", i))
		if err != nil {
			t.Fatalf("Failed to put blob %s: %v", key, err)
		}
		want[key] = false
	}

	keys, err := store.ListKeys(ctx)
	if err != nil {
		t.Fatalf("Failed to list blobs: %v", err)
	}

	for _, key := range keys {
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Errorf("Blob %s not found in listing", key)
		}
	}
}

// TestS3BlobStore_OriginalNameEscaping tests that non-ASCII original
// names survive the metadata round trip
func TestS3BlobStore_OriginalNameEscaping(t *testing.T) {
	skipWithoutAWSCredentials(t)
	store := setupTestStore(t)
	ctx := context.Background()

	key := fmt.Sprintf("%d-résumé.pdf", time.Now().UnixMilli())
	err := store.Put(ctx, key, strings.NewReader("pdf bytes"), 9, "application/pdf", "résumé.pdf")
	if err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	props, err := store.GetProperties(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get blob properties: %v", err)
	}
	if props.OriginalName != "résumé.pdf" {
		t.Errorf("Expected original name résumé.pdf, got %s", props.OriginalName)
	}
}

// TestNewS3BlobStore_RequiresBucket tests that construction rejects an
// empty bucket name
func TestNewS3BlobStore_RequiresBucket(t *testing.T) {
	if _, err := NewS3BlobStore(testRegion, ""); err == nil {
		t.Error("Expected error for empty bucket name, got nil")
	}
}

// TestOriginalNameFromMetadata tests decoding the original-name metadata
func TestOriginalNameFromMetadata(t *testing.T) {
	// The SDK canonicalizes metadata keys, so lookups must be
	// case-insensitive
	name := originalNameFromMetadata(map[string]*string{
		"Original-Name": aws.String(url.QueryEscape("my report.txt")),
	})
	if name != "my report.txt" {
		t.Errorf("Expected my report.txt, got %q", name)
	}

	name = originalNameFromMetadata(map[string]*string{
		"original-name": aws.String("plain.txt"),
	})
	if name != "plain.txt" {
		t.Errorf("Expected plain.txt, got %q", name)
	}

	if name := originalNameFromMetadata(nil); name != "" {
		t.Errorf("Expected empty name for nil metadata, got %q", name)
	}

	if name := originalNameFromMetadata(map[string]*string{"Other": aws.String("x")}); name != "" {
		t.Errorf("Expected empty name for unrelated metadata, got %q", name)
	}
}

// TestPropertiesFromHead tests the HeadObject conversion
func TestPropertiesFromHead(t *testing.T) {
	uploaded := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	props := propertiesFromHead(
		aws.Int64(500),
		aws.String("text/plain"),
		aws.Time(uploaded),
		map[string]*string{"Original-Name": aws.String("notes.txt")},
	)

	if props.Size != 500 {
		t.Errorf("Expected size 500, got %d", props.Size)
	}
	if props.ContentType != "text/plain" {
		t.Errorf("Expected content type text/plain, got %s", props.ContentType)
	}
	if !props.LastModified.Equal(uploaded) {
		t.Errorf("Expected last modified %v, got %v", uploaded, props.LastModified)
	}
	if props.OriginalName != "notes.txt" {
		t.Errorf("Expected original name notes.txt, got %s", props.OriginalName)
	}

	// Nil fields from HeadObject must not panic
	empty := propertiesFromHead(nil, nil, nil, nil)
	if empty.Size != 0 || empty.ContentType != "" || !empty.LastModified.IsZero() {
		t.Errorf("Expected zero properties for nil head fields, got %+v", empty)
	}
}
