package server

import (
	"fmt"
	"time"
)

// HobbiesCollection holds hobbies with their equipment and photo URLs.
const HobbiesCollection = "hobbies"

var hobbySchema = newContentSchema(map[string]interface{}{
	"title":       nonEmptyStringProp(),
	"description": stringProp(),
	"type":        nonEmptyStringProp(),
	"equipment":   stringListProp(),
}, "title", "type")

var hobbyPhotos = &assetSpec{
	field: "photos",
	keyFor: func(filename string, at time.Time) string {
		return fmt.Sprintf("hobbies/%d_%s", at.UnixMilli(), filename)
	},
	encode: func(resolved []ResolvedAsset) []interface{} {
		out := make([]interface{}, 0, len(resolved))
		for _, r := range resolved {
			out = append(out, r.URL)
		}
		return out
	},
	urls: func(value interface{}) []string {
		var urls []string
		for _, item := range toInterfaces(value) {
			if u, ok := item.(string); ok && u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	},
	appendOnUpdate: true,
}

// NewHobbyStore returns the content store for hobbies. Photos added by an
// update are appended to the stored ones.
func NewHobbyStore(docs DocumentStore, blobs BlobStore, cache Cache) *ContentStore {
	s := newContentStore(HobbiesCollection, docs, blobs, cache, hobbySchema)
	s.assets = hobbyPhotos
	return s
}
