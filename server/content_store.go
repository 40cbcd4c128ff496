package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// Asset is an image or photo attached to a create or update call. Assets
// with Content are uploaded; assets with only a URL are kept as they are;
// assets with neither are dropped.
type Asset struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResolvedAsset is an asset with a retrieval URL.
type ResolvedAsset struct {
	URL         string
	Description string
}

// assetSpec describes the blob-backed field of a content type.
type assetSpec struct {
	field  string
	keyFor func(filename string, at time.Time) string
	encode func(resolved []ResolvedAsset) []interface{}
	urls   func(value interface{}) []string
	// appendOnUpdate keeps the stored assets and appends new URLs to them
	// instead of replacing the field.
	appendOnUpdate bool
}

// ContentStore keeps an in-memory list in step with one document collection
// and manages the blobs referenced by its documents.
type ContentStore struct {
	collection string
	docs       DocumentStore
	blobs      BlobStore
	cache      Cache
	schema     *contentSchema
	assets     *assetSpec
	normalize  func(fields Fields, creating bool) error
	now        func() time.Time

	mu   sync.RWMutex
	list []*Document
}

func newContentStore(collection string, docs DocumentStore, blobs BlobStore, cache Cache, schema *contentSchema) *ContentStore {
	if cache == nil {
		cache = &NoOpCache{}
	}
	return &ContentStore{
		collection: collection,
		docs:       docs,
		blobs:      blobs,
		cache:      cache,
		schema:     schema,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Collection returns the name of the backing collection.
func (s *ContentStore) Collection() string {
	return s.collection
}

func (s *ContentStore) logger() *log.Entry {
	return log.WithField("collection", s.collection)
}

// List returns the entries of the last fetch, adjusted by later mutations.
func (s *ContentStore) List() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Document, len(s.list))
	for i, d := range s.list {
		out[i] = d.Clone()
	}
	return out
}

// FindCached returns the cached entry with the given id without a remote call.
func (s *ContentStore) FindCached(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.list {
		if d.ID == id {
			return d.Clone(), true
		}
	}
	return nil, false
}

// FetchAll replaces the in-memory list with every document of the collection.
func (s *ContentStore) FetchAll(ctx context.Context) ([]*Document, error) {
	docs, err := s.docs.List(ctx, s.collection)
	if err != nil {
		s.logger().WithError(err).Error("Failed to fetch documents")
		return nil, err
	}

	s.mu.Lock()
	s.list = docs
	s.mu.Unlock()

	if err := s.cache.SetSnapshot(ctx, s.collection, docs); err != nil {
		s.logger().WithError(err).Warn("Failed to cache snapshot")
	}
	return s.List(), nil
}

// Warm fills the in-memory list from the shared snapshot when one exists and
// fetches from the document store otherwise.
func (s *ContentStore) Warm(ctx context.Context) error {
	docs, err := s.cache.GetSnapshot(ctx, s.collection)
	if err == nil {
		s.mu.Lock()
		s.list = docs
		s.mu.Unlock()
		s.logger().WithField("count", len(docs)).Debug("Loaded snapshot from cache")
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logger().WithError(err).Warn("Failed to read snapshot")
	}
	_, err = s.FetchAll(ctx)
	return err
}

// Create uploads new assets, writes a new document and returns it.
func (s *ContentStore) Create(ctx context.Context, data Fields, assets []Asset) (*Document, error) {
	if err := s.schema.validate(data, false); err != nil {
		return nil, err
	}

	resolved, err := s.resolveAssets(ctx, assets)
	if err != nil {
		s.logger().WithError(err).Error("Failed to upload assets")
		return nil, err
	}

	fields := s.payload(data)
	if s.assets != nil {
		fields[s.assets.field] = s.assets.encode(resolved)
	}
	fields[fieldCreatedAt] = s.now()
	if s.normalize != nil {
		if err := s.normalize(fields, true); err != nil {
			return nil, err
		}
	}

	doc, err := s.docs.Create(ctx, s.collection, fields)
	if err != nil {
		s.logger().WithError(err).Error("Failed to create document")
		return nil, err
	}

	s.reconcile(ctx, doc, "")
	return doc.Clone(), nil
}

// Update uploads new assets, applies a partial update and returns the
// document as stored. The asset field is only written when the call
// produced assets.
func (s *ContentStore) Update(ctx context.Context, id string, data Fields, assets []Asset) (*Document, error) {
	if err := s.schema.validate(data, true); err != nil {
		return nil, err
	}

	var current *Document
	if s.assets != nil && s.assets.appendOnUpdate && len(assets) > 0 {
		var err error
		if current, err = s.lookup(ctx, id); err != nil {
			s.logger().WithField("id", id).WithError(err).Error("Failed to find document for update")
			return nil, err
		}
	}

	resolved, err := s.resolveAssets(ctx, assets)
	if err != nil {
		s.logger().WithField("id", id).WithError(err).Error("Failed to upload assets")
		return nil, err
	}

	fields := s.payload(data)
	if s.assets != nil && len(resolved) > 0 {
		if current != nil {
			fields[s.assets.field] = appendURLs(s.assets, current.Fields[s.assets.field], resolved)
		} else {
			fields[s.assets.field] = s.assets.encode(resolved)
		}
	}
	fields[fieldUpdatedAt] = s.now()
	if s.normalize != nil {
		if err := s.normalize(fields, false); err != nil {
			return nil, err
		}
	}

	doc, err := s.docs.Update(ctx, s.collection, id, fields)
	if err != nil {
		s.logger().WithField("id", id).WithError(err).Error("Failed to update document")
		return nil, err
	}

	s.reconcile(ctx, doc, "")
	return doc.Clone(), nil
}

// Delete removes the document and then, best effort, every blob it
// referenced. A failed blob delete is logged and leaves an orphan blob.
func (s *ContentStore) Delete(ctx context.Context, id string) error {
	var urls []string
	if s.assets != nil {
		current, err := s.lookup(ctx, id)
		if err != nil {
			s.logger().WithField("id", id).WithError(err).Error("Failed to find document for delete")
			return err
		}
		urls = s.assets.urls(current.Fields[s.assets.field])
	}

	if err := s.docs.Delete(ctx, s.collection, id); err != nil {
		s.logger().WithField("id", id).WithError(err).Error("Failed to delete document")
		if errors.Is(err, ErrNotFound) {
			// Already gone on the server; drop the stale cached entry.
			s.reconcile(ctx, nil, id)
		}
		return err
	}
	s.reconcile(ctx, nil, id)

	for _, u := range urls {
		s.deleteBlob(ctx, u)
	}
	return nil
}

func (s *ContentStore) deleteBlob(ctx context.Context, rawURL string) {
	entry := s.logger().WithField("url", rawURL)
	key, err := s.blobs.KeyForURL(rawURL)
	if err != nil {
		entry.WithError(err).Error("Failed to resolve blob key")
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		entry.WithField("key", key).WithError(err).Error("Failed to delete blob")
		return
	}
	entry.WithField("key", key).Debug("Deleted blob")
}

// lookup prefers the cached entry and falls back to the document store.
func (s *ContentStore) lookup(ctx context.Context, id string) (*Document, error) {
	if doc, ok := s.FindCached(id); ok {
		return doc, nil
	}
	return s.docs.Get(ctx, s.collection, id)
}

// reconcile is the single place where mutations reach the in-memory list:
// a non-nil doc is upserted by ID, otherwise removedID is dropped. The
// shared snapshot is invalidated either way.
func (s *ContentStore) reconcile(ctx context.Context, doc *Document, removedID string) {
	s.mu.Lock()
	if doc != nil {
		replaced := false
		for i, d := range s.list {
			if d.ID == doc.ID {
				s.list[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			s.list = append(s.list, doc)
		}
	} else {
		kept := s.list[:0:0]
		for _, d := range s.list {
			if d.ID != removedID {
				kept = append(kept, d)
			}
		}
		s.list = kept
	}
	s.mu.Unlock()

	if err := s.cache.DeleteSnapshot(ctx, s.collection); err != nil {
		s.logger().WithError(err).Warn("Failed to invalidate snapshot")
	}
}

// payload copies data without the fields this layer owns.
func (s *ContentStore) payload(data Fields) Fields {
	fields := make(Fields, len(data)+2)
	for k, v := range data {
		switch k {
		case "id", fieldCreatedAt, fieldUpdatedAt:
			continue
		}
		if s.assets != nil && k == s.assets.field {
			continue
		}
		fields[k] = v
	}
	return fields
}

// resolveAssets uploads assets concurrently and returns their URLs in input
// order. The first failed upload cancels the others.
func (s *ContentStore) resolveAssets(ctx context.Context, assets []Asset) ([]ResolvedAsset, error) {
	if s.assets == nil || len(assets) == 0 {
		return nil, nil
	}

	at := s.now()
	used := make(map[string]bool, len(assets))
	results := make([]*ResolvedAsset, len(assets))
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range assets {
		switch {
		case len(a.Content) > 0:
			key := s.assets.keyFor(safeFilename(a.Filename), at)
			if used[key] {
				key = fmt.Sprintf("%s-%d", key, i)
			}
			used[key] = true

			contentType := a.ContentType
			if contentType == "" {
				contentType = http.DetectContentType(a.Content)
			}

			g.Go(func() error {
				if err := s.blobs.Put(gctx, key, bytes.NewReader(a.Content), int64(len(a.Content)), contentType); err != nil {
					return err
				}
				u, err := s.blobs.URL(gctx, key)
				if err != nil {
					return fmt.Errorf("failed to resolve url of %s: %w", key, err)
				}
				results[i] = &ResolvedAsset{URL: u, Description: a.Description}
				return nil
			})
		case a.URL != "":
			results[i] = &ResolvedAsset{URL: a.URL, Description: a.Description}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := make([]ResolvedAsset, 0, len(results))
	for _, r := range results {
		if r != nil {
			resolved = append(resolved, *r)
		}
	}
	return resolved, nil
}

func appendURLs(assets *assetSpec, existing interface{}, resolved []ResolvedAsset) []interface{} {
	out := assets.encode(nil)
	seen := make(map[string]bool)
	for _, u := range assets.urls(existing) {
		seen[u] = true
	}
	out = append(out, toInterfaces(existing)...)
	for _, r := range resolved {
		if !seen[r.URL] {
			seen[r.URL] = true
			out = append(out, assets.encode([]ResolvedAsset{r})...)
		}
	}
	return out
}

func safeFilename(name string) string {
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func toInterfaces(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}
