package server

import (
	"fmt"
	"time"
)

// ProjectsCollection holds portfolio projects. Each project carries an
// ordered "images" list of {url, description} records.
const ProjectsCollection = "projects"

var projectSchema = newContentSchema(map[string]interface{}{
	"title":        nonEmptyStringProp(),
	"subtitle":     stringProp(),
	"description":  stringProp(),
	"category":     stringProp(),
	"client":       stringProp(),
	"date":         stringProp(),
	"technologies": stringProp(),
	"features":     stringListProp(),
	"liveUrl":      stringProp(),
	"sourceUrl":    stringProp(),
	"testimonial": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content":  stringProp(),
			"author":   stringProp(),
			"position": stringProp(),
		},
		"required": []string{"content", "author"},
	},
}, "title", "description", "category")

var projectImages = &assetSpec{
	field: "images",
	keyFor: func(filename string, at time.Time) string {
		return fmt.Sprintf("projects/%s_%d", filename, at.UnixMilli())
	},
	encode: func(resolved []ResolvedAsset) []interface{} {
		out := make([]interface{}, 0, len(resolved))
		for _, r := range resolved {
			out = append(out, map[string]interface{}{
				"url":         r.URL,
				"description": r.Description,
			})
		}
		return out
	},
	urls: func(value interface{}) []string {
		var urls []string
		for _, item := range toInterfaces(value) {
			if m, ok := item.(map[string]interface{}); ok {
				if u, ok := m["url"].(string); ok && u != "" {
					urls = append(urls, u)
				}
			}
		}
		return urls
	},
}

// NewProjectStore returns the content store for projects.
func NewProjectStore(docs DocumentStore, blobs BlobStore, cache Cache) *ContentStore {
	s := newContentStore(ProjectsCollection, docs, blobs, cache, projectSchema)
	s.assets = projectImages
	return s
}
