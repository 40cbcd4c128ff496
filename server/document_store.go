package server

import (
	"context"
)

// Fields is the flat field mapping stored in a document.
type Fields map[string]interface{}

// Document represents one document of a collection
type Document struct {
	ID     string `json:"id" msgpack:"id"`
	Fields Fields `json:"fields" msgpack:"fields"`
}

// Clone returns a copy of the document whose field map can be mutated freely.
func (d *Document) Clone() *Document {
	out := &Document{ID: d.ID, Fields: make(Fields, len(d.Fields))}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	return out
}

// DocumentStore defines the interface for collection operations
type DocumentStore interface {
	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([]*Document, error)
	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create inserts a document and returns it with its generated identifier.
	Create(ctx context.Context, collection string, fields Fields) (*Document, error)
	// Update sets the given fields on an existing document and returns the
	// document as stored after the update.
	Update(ctx context.Context, collection, id string, fields Fields) (*Document, error)
	// Delete removes a document or returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error
	// Close releases the client.
	Close(ctx context.Context) error
}
