package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BucketBlobStore implements BlobStore on a gocloud.dev bucket. It is used
// for local development (file://) and tests (mem://).
type BucketBlobStore struct {
	bucket        *blob.Bucket
	publicBaseURL string
}

// OpenBucketBlobStore opens bucketURL; retrieval URLs are publicBaseURL/key.
func OpenBucketBlobStore(ctx context.Context, bucketURL, publicBaseURL string) (*BucketBlobStore, error) {
	if publicBaseURL == "" {
		return nil, errors.New("bucket public base url is required")
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	return NewBucketBlobStore(bucket, publicBaseURL), nil
}

// NewBucketBlobStore wraps an open bucket
func NewBucketBlobStore(bucket *blob.Bucket, publicBaseURL string) *BucketBlobStore {
	return &BucketBlobStore{bucket: bucket, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Put writes the blob
func (s *BucketBlobStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to open writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}

// URL returns publicBaseURL/key, key escaped, for an existing blob
func (s *BucketBlobStore) URL(ctx context.Context, key string) (string, error) {
	ok, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to check blob %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return publicURL(s.publicBaseURL, key), nil
}

// Delete removes the blob
func (s *BucketBlobStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// KeyForURL strips the public base URL
func (s *BucketBlobStore) KeyForURL(rawURL string) (string, error) {
	return keyFromPublicURL(s.publicBaseURL, rawURL)
}

// Close closes the bucket
func (s *BucketBlobStore) Close() error {
	return s.bucket.Close()
}

// Open returns a reader for the blob; the development server serves
// public URLs from it.
func (s *BucketBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return r, r.ContentType(), nil
}
