package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3BlobStore implements the BlobStore interface using AWS S3
type S3BlobStore struct {
	s3Client      *s3.S3
	uploader      *s3manager.Uploader
	bucketName    string
	publicBaseURL string
}

// S3Options configures NewS3BlobStore
type S3Options struct {
	Region     string
	BucketName string
	// Endpoint targets an S3-compatible service instead of AWS.
	Endpoint string
	// PublicBaseURL is joined with the escaped key to form retrieval URLs.
	// It is the bucket website, a CDN in front of it, or the public bucket
	// endpoint.
	PublicBaseURL string
	// Config is merged over the defaults; tests use it for static credentials.
	Config *aws.Config
}

// NewS3BlobStore creates a new S3 blob store
func NewS3BlobStore(opts S3Options) (*S3BlobStore, error) {
	if opts.BucketName == "" {
		return nil, errors.New("S3 bucket name is required")
	}
	if strings.ContainsAny(opts.BucketName, "[]") {
		return nil, fmt.Errorf("S3 bucket name contains placeholders: %s", opts.BucketName)
	}
	if opts.PublicBaseURL == "" {
		return nil, errors.New("S3 public base url is required")
	}

	cfg := aws.NewConfig().WithRegion(opts.Region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	if opts.Config != nil {
		cfg.MergeIn(opts.Config)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return &S3BlobStore{
		s3Client:      s3.New(sess),
		uploader:      s3manager.NewUploader(sess),
		bucketName:    opts.BucketName,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// Put uploads a blob to S3
func (s *S3BlobStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}

// URL checks that the object exists and returns its retrieval URL
func (s *S3BlobStore) URL(ctx context.Context, key string) (string, error) {
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get blob metadata: %w", err)
	}

	return publicURL(s.publicBaseURL, key), nil
}

// Delete removes a blob from S3
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	// DeleteObject succeeds for missing keys, so existence is checked first.
	if _, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}); err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to get blob metadata: %w", err)
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// KeyForURL recovers the object key from a public URL or a direct S3
// object URL
func (s *S3BlobStore) KeyForURL(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, s.publicBaseURL+"/") {
		return keyFromPublicURL(s.publicBaseURL, rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid blob url %q: %w", rawURL, err)
	}

	path := strings.TrimPrefix(u.Path, "/")
	// Path-style URLs carry the bucket as the first segment.
	path = strings.TrimPrefix(path, s.bucketName+"/")
	if path == "" {
		return "", fmt.Errorf("blob url %q has no key", rawURL)
	}
	return path, nil
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
