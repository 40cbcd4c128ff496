package server

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreDocumentStore implements DocumentStore on Cloud Firestore
type FirestoreDocumentStore struct {
	client *firestore.Client
}

// NewFirestoreDocumentStore creates a Firestore client for projectID.
// FIRESTORE_EMULATOR_HOST is honoured by the client library.
func NewFirestoreDocumentStore(ctx context.Context, projectID string) (*FirestoreDocumentStore, error) {
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	log.WithField("project", projectID).Info("Connected to Firestore")
	return &FirestoreDocumentStore{client: client}, nil
}

// List returns every document of the collection
func (s *FirestoreDocumentStore) List(ctx context.Context, collection string) ([]*Document, error) {
	snaps, err := s.client.Collection(collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	docs := make([]*Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, documentFromSnapshot(snap))
	}
	return docs, nil
}

// Get retrieves a document by ID
func (s *FirestoreDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return documentFromSnapshot(snap), nil
}

// Create adds a document with a generated ID
func (s *FirestoreDocumentStore) Create(ctx context.Context, collection string, fields Fields) (*Document, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, map[string]interface{}(fields))
	if err != nil {
		return nil, fmt.Errorf("failed to add to %s: %w", collection, err)
	}

	doc := &Document{ID: ref.ID, Fields: make(Fields, len(fields))}
	for k, v := range fields {
		doc.Fields[k] = plainValue(v)
	}
	return doc, nil
}

// Update sets the top-level fields given and re-reads the document
func (s *FirestoreDocumentStore) Update(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}

	ref := s.client.Collection(collection).Doc(id)
	if _, err := ref.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	return s.Get(ctx, collection, id)
}

// Delete removes a document
func (s *FirestoreDocumentStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close closes the Firestore client
func (s *FirestoreDocumentStore) Close(ctx context.Context) error {
	return s.client.Close()
}

func documentFromSnapshot(snap *firestore.DocumentSnapshot) *Document {
	data := snap.Data()
	doc := &Document{ID: snap.Ref.ID, Fields: make(Fields, len(data))}
	for k, v := range data {
		doc.Fields[k] = plainValue(v)
	}
	return doc
}
