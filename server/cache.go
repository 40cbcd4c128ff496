package server

import (
	"context"
)

// Cache defines the interface for the shared collection snapshot cache
type Cache interface {
	GetSnapshot(ctx context.Context, collection string) ([]*Document, error)
	SetSnapshot(ctx context.Context, collection string, docs []*Document) error
	DeleteSnapshot(ctx context.Context, collection string) error
}

// NoOpCache implements the Cache interface but does nothing
type NoOpCache struct{}

// GetSnapshot returns a not found error
func (c *NoOpCache) GetSnapshot(ctx context.Context, collection string) ([]*Document, error) {
	return nil, ErrNotFound
}

// SetSnapshot does nothing
func (c *NoOpCache) SetSnapshot(ctx context.Context, collection string, docs []*Document) error {
	return nil
}

// DeleteSnapshot does nothing
func (c *NoOpCache) DeleteSnapshot(ctx context.Context, collection string) error {
	return nil
}
