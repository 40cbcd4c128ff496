package server

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// BlobStore defines the interface for blob storage operations
type BlobStore interface {
	// Put uploads a blob, overwriting any object under the same key.
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error

	// URL returns the stable retrieval URL for key, or ErrNotFound.
	URL(ctx context.Context, key string) (string, error)

	// Delete removes a blob. A missing object yields ErrNotFound.
	Delete(ctx context.Context, key string) error

	// KeyForURL maps a retrieval URL produced by URL back to its key.
	KeyForURL(rawURL string) (string, error)
}

// publicURL joins baseURL and key, escaping each key segment.
func publicURL(baseURL, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return baseURL + "/" + strings.Join(segments, "/")
}

// keyFromPublicURL reverses publicURL.
func keyFromPublicURL(baseURL, rawURL string) (string, error) {
	prefix := baseURL + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", fmt.Errorf("blob url %q is not served by this store", rawURL)
	}
	rest := strings.TrimPrefix(rawURL, prefix)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("invalid blob url %q: %w", rawURL, err)
	}
	if key == "" {
		return "", fmt.Errorf("blob url %q has no key", rawURL)
	}
	return key, nil
}
