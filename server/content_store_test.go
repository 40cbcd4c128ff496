package server

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func withClock(s *ContentStore) *ContentStore {
	s.now = func() time.Time { return fixedNow }
	return s
}

func projectData(title string) Fields {
	return Fields{
		"title":        title,
		"description":  "A portfolio site",
		"category":     "web",
		"technologies": "Go, Vue",
	}
}

func TestContentStore_FetchAllThenFindCached(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	seeder := NewTechnologyStore(docs, nil)
	other := NewExperienceStore(docs, nil)

	var ids []string
	for _, name := range []string{"Go", "Vue", "Redis"} {
		d, err := seeder.Create(ctx, Fields{"name": name, "category": "backend", "proficiency": 3, "icon": name}, nil)
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}
	_, err := other.Create(ctx, Fields{"title": "Engineer", "company": "Acme", "startDate": "2020-01-01"}, nil)
	require.NoError(t, err)

	store := NewTechnologyStore(docs, nil)
	fetched, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, fetched, 3)

	for _, id := range ids {
		d, ok := store.FindCached(id)
		require.True(t, ok, id)
		assert.Equal(t, id, d.ID)
	}
	assert.Len(t, store.List(), len(ids))

	_, ok := store.FindCached("missing")
	assert.False(t, ok)
}

func TestContentStore_FetchAllError(t *testing.T) {
	docs := newMemDocumentStore()
	docs.listErr = errors.New("permission denied")
	store := NewTechnologyStore(docs, nil)

	_, err := store.FetchAll(context.Background())
	assert.ErrorIs(t, err, docs.listErr)
	assert.Empty(t, store.List())
}

func TestContentStore_CreateTechnologyScenario(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	store := withClock(NewTechnologyStore(docs, nil))

	created, err := store.Create(ctx, Fields{
		"name":        "Go",
		"category":    "backend",
		"proficiency": 4,
		"icon":        "go-icon",
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = store.FetchAll(ctx)
	require.NoError(t, err)

	cached, ok := store.FindCached(created.ID)
	require.True(t, ok)
	want := Fields{
		"name":        "Go",
		"category":    "backend",
		"proficiency": 4,
		"icon":        "go-icon",
		"createdAt":   fixedNow,
	}
	if diff := cmp.Diff(want, cached.Fields); diff != "" {
		t.Errorf("cached fields mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, cached.Fields, "description")
}

func TestContentStore_CreateWithoutAssetsHasEmptyList(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()

	project, err := NewProjectStore(docs, blobs, nil).Create(ctx, projectData("Site"), nil)
	require.NoError(t, err)
	images, ok := docs.raw(ProjectsCollection, project.ID)["images"]
	require.True(t, ok, "images must be present")
	assert.NotNil(t, images)
	assert.Empty(t, images)

	hobby, err := NewHobbyStore(docs, blobs, nil).Create(ctx, Fields{"title": "Fishing", "type": "outdoor"}, []Asset{})
	require.NoError(t, err)
	photos, ok := docs.raw(HobbiesCollection, hobby.ID)["photos"]
	require.True(t, ok, "photos must be present")
	assert.Equal(t, []interface{}{}, photos)
	assert.Empty(t, blobs.puts)
}

func TestContentStore_CreateUploadsAssetsInInputOrder(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := withClock(NewProjectStore(docs, blobs, nil))

	doc, err := store.Create(ctx, projectData("Site"), []Asset{
		{Filename: "home.png", Content: []byte("png-1"), Description: "Home"},
		{URL: "https://cdn.test/existing.png", Description: "Kept"},
		{Description: "nothing to store"},
		{Filename: "about.png", Content: []byte("png-2"), Description: "About"},
	})
	require.NoError(t, err)

	millis := fixedNow.UnixMilli()
	want := []interface{}{
		map[string]interface{}{"url": fakeBlobBase + "projects/home.png_" + itoa(millis), "description": "Home"},
		map[string]interface{}{"url": "https://cdn.test/existing.png", "description": "Kept"},
		map[string]interface{}{"url": fakeBlobBase + "projects/about.png_" + itoa(millis), "description": "About"},
	}
	if diff := cmp.Diff(want, doc.Fields["images"]); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	assert.ElementsMatch(t, []string{
		"projects/home.png_" + itoa(millis),
		"projects/about.png_" + itoa(millis),
	}, blobs.puts)
	assert.Equal(t, fixedNow, doc.Fields["createdAt"])

	cached, ok := store.FindCached(doc.ID)
	require.True(t, ok)
	assert.Equal(t, doc.Fields, cached.Fields)
}

func TestContentStore_CreateDisambiguatesDuplicateFilenames(t *testing.T) {
	blobs := newFakeBlobStore()
	store := withClock(NewHobbyStore(newMemDocumentStore(), blobs, nil))

	doc, err := store.Create(context.Background(), Fields{"title": "Music", "type": "music"}, []Asset{
		{Filename: "guitar.jpg", Content: []byte("a")},
		{Filename: "guitar.jpg", Content: []byte("b")},
	})
	require.NoError(t, err)

	photos := doc.Fields["photos"].([]interface{})
	require.Len(t, photos, 2)
	assert.NotEqual(t, photos[0], photos[1])
	assert.Len(t, blobs.objects, 2)
}

func TestContentStore_CreateUploadFailure(t *testing.T) {
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	blobs.failPut["projects/broken"] = true
	store := NewProjectStore(docs, blobs, nil)

	_, err := store.Create(context.Background(), projectData("Site"), []Asset{
		{Filename: "broken.png", Content: []byte("x")},
	})
	require.Error(t, err)

	all, err := docs.List(context.Background(), ProjectsCollection)
	require.NoError(t, err)
	assert.Empty(t, all, "no document is written when an upload fails")
	assert.Empty(t, store.List())
}

func TestContentStore_CreateRejectsInvalidContent(t *testing.T) {
	store := NewTechnologyStore(newMemDocumentStore(), nil)

	_, err := store.Create(context.Background(), Fields{
		"name":        "Go",
		"category":    "databases",
		"proficiency": 4,
		"icon":        "go-icon",
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = store.Create(context.Background(), Fields{"name": "Go"}, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestContentStore_UpdateWithoutAssetsKeepsAssetField(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := withClock(NewProjectStore(docs, blobs, nil))

	created, err := store.Create(ctx, projectData("Site"), []Asset{
		{Filename: "home.png", Content: []byte("png")},
	})
	require.NoError(t, err)
	before := docs.raw(ProjectsCollection, created.ID)["images"]

	updated, err := store.Update(ctx, created.ID, Fields{"title": "Site v2", "images": []interface{}{}}, nil)
	require.NoError(t, err)

	stored := docs.raw(ProjectsCollection, created.ID)
	assert.Equal(t, before, stored["images"])
	assert.Equal(t, "Site v2", stored["title"])
	assert.Equal(t, fixedNow, stored["updatedAt"])
	assert.Equal(t, stored["images"], updated.Fields["images"])

	cached, ok := store.FindCached(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Site v2", cached.Fields["title"])
}

func TestContentStore_UpdateReplacesProjectImages(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := NewProjectStore(docs, blobs, nil)

	created, err := store.Create(ctx, projectData("Site"), []Asset{
		{URL: "https://cdn.test/a.png", Description: "A"},
		{URL: "https://cdn.test/b.png", Description: "B"},
	})
	require.NoError(t, err)

	updated, err := store.Update(ctx, created.ID, Fields{}, []Asset{
		{URL: "https://cdn.test/b.png", Description: "B only"},
	})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{
		map[string]interface{}{"url": "https://cdn.test/b.png", "description": "B only"},
	}, updated.Fields["images"])
}

func TestContentStore_UpdateAppendsHobbyPhotos(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := withClock(NewHobbyStore(docs, blobs, nil))

	created, err := store.Create(ctx, Fields{"title": "Fishing", "type": "outdoor"}, []Asset{
		{Filename: "lake.jpg", Content: []byte("lake")},
	})
	require.NoError(t, err)
	first := created.Fields["photos"].([]interface{})[0]

	updated, err := store.Update(ctx, created.ID, Fields{"equipment": []interface{}{"rod"}}, []Asset{
		{URL: first.(string)},
		{Filename: "boat.jpg", Content: []byte("boat")},
	})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{
		first,
		fakeBlobBase + "hobbies/" + itoa(fixedNow.UnixMilli()) + "_boat.jpg",
	}, updated.Fields["photos"])
	assert.Equal(t, []interface{}{"rod"}, updated.Fields["equipment"])
}

func TestContentStore_UpdateMissingHobby(t *testing.T) {
	blobs := newFakeBlobStore()
	store := NewHobbyStore(newMemDocumentStore(), blobs, nil)

	_, err := store.Update(context.Background(), "nope", Fields{}, []Asset{
		{Filename: "x.jpg", Content: []byte("x")},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, blobs.puts, "nothing is uploaded for a missing hobby")
}

func TestContentStore_UpdateMissingDocument(t *testing.T) {
	store := NewTechnologyStore(newMemDocumentStore(), nil)

	_, err := store.Update(context.Background(), "nope", Fields{"name": "Rust"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentStore_DeleteProjectScenario(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := NewProjectStore(docs, blobs, nil)

	first := blobs.seed("projects/one.png_1")
	second := blobs.seed("projects/two.png_2")
	blobs.failDelete["projects/two.png_2"] = true

	created, err := store.Create(ctx, projectData("Site"), []Asset{
		{URL: first, Description: "one"},
		{URL: second, Description: "two"},
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))

	assert.Nil(t, docs.raw(ProjectsCollection, created.ID))
	assert.Equal(t, []string{"projects/one.png_1", "projects/two.png_2"}, blobs.deletes)
	assert.False(t, blobs.has("projects/one.png_1"))
	_, ok := store.FindCached(created.ID)
	assert.False(t, ok)
}

func TestContentStore_DeleteAttemptsEveryBlob(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := NewHobbyStore(docs, blobs, nil)

	var assets []Asset
	for _, k := range []string{"hobbies/1_a.jpg", "hobbies/2_b.jpg", "hobbies/3_c.jpg", "hobbies/4_d.jpg"} {
		assets = append(assets, Asset{URL: blobs.seed(k)})
	}
	blobs.failDelete["hobbies/1_a.jpg"] = true
	blobs.failDelete["hobbies/3_c.jpg"] = true

	created, err := store.Create(ctx, Fields{"title": "Photo", "type": "art"}, assets)
	require.NoError(t, err)

	// Not cached: the store must look the document up remotely.
	fresh := NewHobbyStore(docs, blobs, nil)
	require.NoError(t, fresh.Delete(ctx, created.ID))

	assert.Len(t, blobs.deletes, 4)
	assert.Nil(t, docs.raw(HobbiesCollection, created.ID))
}

func TestContentStore_DeleteDocumentFailureKeepsBlobs(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := NewProjectStore(docs, blobs, nil)

	created, err := store.Create(ctx, projectData("Site"), []Asset{{URL: blobs.seed("projects/a.png_1")}})
	require.NoError(t, err)

	docs.deleteErr = errors.New("unavailable")
	require.Error(t, store.Delete(ctx, created.ID))

	assert.Empty(t, blobs.deletes)
	_, ok := store.FindCached(created.ID)
	assert.True(t, ok)
}

func TestContentStore_DeleteDropsStaleCachedEntry(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	blobs := newFakeBlobStore()
	store := NewProjectStore(docs, blobs, nil)

	created, err := store.Create(ctx, projectData("Site"), []Asset{{URL: blobs.seed("projects/a.png_1")}})
	require.NoError(t, err)
	require.NoError(t, docs.Delete(ctx, ProjectsCollection, created.ID))

	assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrNotFound)
	_, ok := store.FindCached(created.ID)
	assert.False(t, ok)
	assert.Empty(t, store.List())
	assert.Empty(t, blobs.deletes)
}

func TestContentStore_ProjectOptionalFields(t *testing.T) {
	ctx := context.Background()
	store := NewProjectStore(newMemDocumentStore(), newFakeBlobStore(), nil)

	data := projectData("Shop")
	data["subtitle"] = "Storefront"
	data["client"] = "Acme"
	data["date"] = "2023-09"
	data["features"] = []interface{}{"Checkout", "Search"}
	data["testimonial"] = map[string]interface{}{"content": "Great work", "author": "Jo", "position": "CTO"}
	created, err := store.Create(ctx, data, nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme", created.Fields["client"])

	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{name: "features not strings", field: "features", value: []interface{}{1, 2}},
		{name: "features not a list", field: "features", value: "Checkout"},
		{name: "testimonial without author", field: "testimonial", value: map[string]interface{}{"content": "Great"}},
		{name: "client not a string", field: "client", value: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Update(ctx, created.ID, Fields{tt.field: tt.value}, nil)
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestContentStore_RejectsPathLikeFieldNames(t *testing.T) {
	ctx := context.Background()
	store := NewHobbyStore(newMemDocumentStore(), newFakeBlobStore(), nil)

	for _, name := range []string{"a.b", "tags[0]"} {
		_, err := store.Create(ctx, Fields{"title": "Chess", "type": "games", name: "x"}, nil)
		assert.ErrorIs(t, err, ErrInvalidContent, name)
	}
}

func TestContentStore_DeleteWithoutAssets(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	store := NewExperienceStore(docs, nil)

	created, err := store.Create(ctx, Fields{"title": "Engineer", "company": "Acme", "startDate": "2021-03-01"}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))
	assert.Equal(t, []string{"experiences/" + created.ID}, docs.deletes)
	assert.Empty(t, store.List())

	assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrNotFound)
}

func TestContentStore_WarmPrefersSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	cache := &memCache{snapshots: map[string][]*Document{
		TechnologiesCollection: {{ID: "cached", Fields: Fields{"name": "Go"}}},
	}}
	store := NewTechnologyStore(docs, cache)

	require.NoError(t, store.Warm(ctx))
	_, ok := store.FindCached("cached")
	assert.True(t, ok)

	empty := NewExperienceStore(docs, cache)
	require.NoError(t, empty.Warm(ctx))
	_, ok = cache.snapshots[ExperiencesCollection]
	assert.True(t, ok, "fetch writes a snapshot")
}

func TestContentStore_MutationsInvalidateSnapshot(t *testing.T) {
	ctx := context.Background()
	cache := &memCache{snapshots: map[string][]*Document{}}
	store := NewTechnologyStore(newMemDocumentStore(), cache)

	_, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Contains(t, cache.snapshots, TechnologiesCollection)

	_, err = store.Create(ctx, Fields{"name": "Go", "category": "backend", "proficiency": 4, "icon": "go"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, cache.snapshots, TechnologiesCollection)
}

func TestExperienceDatesAreNormalized(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocumentStore()
	store := NewExperienceStore(docs, nil)

	created, err := store.Create(ctx, Fields{
		"title":        "Engineer",
		"company":      "Acme",
		"startDate":    "2021-03-01",
		"endDate":      "",
		"technologies": []interface{}{"Go"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), created.Fields["startDate"])
	assert.NotContains(t, created.Fields, "endDate")

	updated, err := store.Update(ctx, created.ID, Fields{"endDate": "2023-06"}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), updated.Fields["endDate"])

	updated, err = store.Update(ctx, created.ID, Fields{"endDate": nil}, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.Fields["endDate"])

	_, err = store.Update(ctx, created.ID, Fields{"startDate": "yesterday"}, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

// memCache is an in-memory Cache.
type memCache struct {
	snapshots map[string][]*Document
}

func (c *memCache) GetSnapshot(ctx context.Context, collection string) ([]*Document, error) {
	docs, ok := c.snapshots[collection]
	if !ok {
		return nil, ErrNotFound
	}
	return docs, nil
}

func (c *memCache) SetSnapshot(ctx context.Context, collection string, docs []*Document) error {
	c.snapshots[collection] = docs
	return nil
}

func (c *memCache) DeleteSnapshot(ctx context.Context, collection string) error {
	delete(c.snapshots, collection)
	return nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
