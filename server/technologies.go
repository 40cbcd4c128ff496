package server

// TechnologiesCollection holds the technologies shown on the skills page.
const TechnologiesCollection = "technologies"

// TechnologyCategories lists the accepted values of a technology's category.
var TechnologyCategories = []string{"frontend", "backend", "mobile", "other"}

var technologySchema = newContentSchema(map[string]interface{}{
	"name":        nonEmptyStringProp(),
	"category":    map[string]interface{}{"type": "string", "enum": TechnologyCategories},
	"proficiency": map[string]interface{}{"type": "number", "minimum": 0},
	"icon":        stringProp(),
	"description": stringProp(),
}, "name", "category", "proficiency", "icon")

// NewTechnologyStore returns the content store for technologies.
func NewTechnologyStore(docs DocumentStore, cache Cache) *ContentStore {
	return newContentStore(TechnologiesCollection, docs, nil, cache, technologySchema)
}
