package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// metadataOriginalName is the S3 user-metadata key carrying the uploaded
// file's original name.
const metadataOriginalName = "original-name"

// S3BlobStore implements the BlobStore interface using AWS S3
type S3BlobStore struct {
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
	region     string
}

// NewS3BlobStore creates a new S3 blob store. Credentials are resolved from
// the process environment (or the SDK's default chain); construction fails
// when none are available so the caller can abort startup.
func NewS3BlobStore(region, bucketName string) (*S3BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	if _, err := sess.Config.Credentials.Get(); err != nil {
		return nil, fmt.Errorf("AWS credentials not available: %v", err)
	}

	return &S3BlobStore{
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
		region:     region,
	}, nil
}

// EnsureBucket creates the bucket if it does not already exist. The bucket
// stays private; objects are only reachable through this server.
func (s *S3BlobStore) EnsureBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.bucketName),
	}
	// us-east-1 rejects an explicit location constraint
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(s.region),
		}
	}

	_, err := s.s3Client.CreateBucketWithContext(ctx, input)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %v", err)
	}

	if err := s.s3Client.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	}); err != nil {
		return fmt.Errorf("failed to wait for bucket: %v", err)
	}

	return nil
}

// Put uploads a blob to S3
func (s *S3BlobStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType, originalName string) error {
	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	}
	if originalName != "" {
		// S3 user metadata must be US-ASCII
		input.Metadata = map[string]*string{
			metadataOriginalName: aws.String(url.QueryEscape(originalName)),
		}
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to upload blob: %v", err)
	}

	return nil
}

// Exists reports whether a blob with the given key is present
func (s *S3BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob: %v", err)
	}

	return true, nil
}

// GetProperties retrieves a blob's metadata via HeadObject
func (s *S3BlobStore) GetProperties(ctx context.Context, key string) (*BlobProperties, error) {
	head, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get blob metadata: %v", err)
	}

	return propertiesFromHead(head.ContentLength, head.ContentType, head.LastModified, head.Metadata), nil
}

// Get retrieves a blob from S3 along with its metadata
func (s *S3BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *BlobProperties, error) {
	// Get object metadata first so the size is known up front
	head, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to get blob metadata: %v", err)
	}

	output, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to get blob: %v", err)
	}

	return output.Body, propertiesFromHead(head.ContentLength, head.ContentType, head.LastModified, head.Metadata), nil
}

// Delete removes a blob from S3
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob: %v", err)
	}

	return nil
}

// ListKeys returns all blob keys in the bucket. The backend paginates
// internally; callers see a single flat listing.
func (s *S3BlobStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %v", err)
	}

	return keys, nil
}

// propertiesFromHead converts HeadObject output fields into BlobProperties
func propertiesFromHead(contentLength *int64, contentType *string, lastModified *time.Time, metadata map[string]*string) *BlobProperties {
	props := &BlobProperties{
		Size:         aws.Int64Value(contentLength),
		ContentType:  aws.StringValue(contentType),
		OriginalName: originalNameFromMetadata(metadata),
	}
	if lastModified != nil {
		props.LastModified = *lastModified
	}
	return props
}

// isNotFoundErr reports whether err is an S3 missing-object error
func isNotFoundErr(err error) bool {
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// originalNameFromMetadata extracts the original-name metadata value.
// The SDK canonicalizes metadata keys, so the lookup is case-insensitive.
func originalNameFromMetadata(metadata map[string]*string) string {
	for k, v := range metadata {
		if strings.EqualFold(k, metadataOriginalName) && v != nil {
			if decoded, err := url.QueryUnescape(*v); err == nil {
				return decoded
			}
			return *v
		}
	}
	return ""
}
