package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// memDocumentStore is an in-memory DocumentStore for tests.
type memDocumentStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Fields
	seq         int
	listErr     error
	deleteErr   error
	deletes     []string
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{collections: map[string]map[string]Fields{}}
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (m *memDocumentStore) List(ctx context.Context, collection string) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	ids := make([]string, 0, len(m.collections[collection]))
	for id := range m.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := []*Document{}
	for _, id := range ids {
		docs = append(docs, &Document{ID: id, Fields: copyFields(m.collections[collection][id])})
	}
	return docs, nil
}

func (m *memDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return &Document{ID: id, Fields: copyFields(f)}, nil
}

func (m *memDocumentStore) Create(ctx context.Context, collection string, fields Fields) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("doc-%d", m.seq)
	if m.collections[collection] == nil {
		m.collections[collection] = map[string]Fields{}
	}
	m.collections[collection][id] = copyFields(fields)
	return &Document{ID: id, Fields: copyFields(fields)}, nil
}

func (m *memDocumentStore) Update(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range fields {
		f[k] = v
	}
	return &Document{ID: id, Fields: copyFields(f)}, nil
}

func (m *memDocumentStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes = append(m.deletes, collection+"/"+id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.collections[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *memDocumentStore) Close(ctx context.Context) error {
	return nil
}

// raw returns the stored fields of a document, or nil.
func (m *memDocumentStore) raw(collection, id string) Fields {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.collections[collection][id]
	if !ok {
		return nil
	}
	return copyFields(f)
}

const fakeBlobBase = "https://blobs.test/"

// fakeBlobStore records calls and can be told to fail.
type fakeBlobStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	puts       []string
	deletes    []string
	failDelete map[string]bool
	failPut    map[string]bool
	failURL    bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects:    map[string][]byte{},
		failDelete: map[string]bool{},
		failPut:    map[string]bool{},
	}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	for prefix := range f.failPut {
		if strings.HasPrefix(key, prefix) {
			return errors.New("upload refused")
		}
	}
	f.objects[key] = b
	return nil
}

func (f *fakeBlobStore) URL(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failURL {
		return "", errors.New("storage unavailable")
	}
	if _, ok := f.objects[key]; !ok {
		return "", fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return fakeBlobBase + key, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	if f.failDelete[key] {
		return errors.New("delete refused")
	}
	if _, ok := f.objects[key]; !ok {
		return fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) KeyForURL(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, fakeBlobBase) {
		return "", fmt.Errorf("foreign url %s", rawURL)
	}
	return strings.TrimPrefix(rawURL, fakeBlobBase), nil
}

func (f *fakeBlobStore) seed(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = []byte("seed")
	return fakeBlobBase + key
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// fakeIdentity signs in whoever the credential names: "email|Display Name".
type fakeIdentity struct {
	signOutErr error
	signOuts   int
}

func (f *fakeIdentity) SignIn(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" || credential == "cancelled" {
		return nil, fmt.Errorf("%w: popup closed", ErrUnauthorized)
	}
	email, name, _ := strings.Cut(credential, "|")
	return &Identity{Email: email, DisplayName: name}, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.signOuts++
	return f.signOutErr
}
