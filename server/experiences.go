package server

import (
	"fmt"
	"time"
)

// ExperiencesCollection holds work experience entries.
const ExperiencesCollection = "experiences"

var experienceSchema = newContentSchema(map[string]interface{}{
	"title":        nonEmptyStringProp(),
	"description":  stringProp(),
	"company":      nonEmptyStringProp(),
	"startDate":    nonEmptyStringProp(),
	"endDate":      map[string]interface{}{"type": []string{"string", "null"}},
	"technologies": stringListProp(),
}, "title", "company", "startDate")

// dateLayouts are tried in order when parsing experience dates.
var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01"}

func parseDate(v string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrInvalidContent, v)
}

// normalizeExperience stores dates as timestamps. An empty end date means
// "current position": it is omitted on create and cleared on update.
func normalizeExperience(fields Fields, creating bool) error {
	for _, name := range []string{"startDate", "endDate"} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if v == nil || (isString && s == "") {
			if creating {
				delete(fields, name)
			} else {
				fields[name] = nil
			}
			continue
		}
		if !isString {
			continue
		}
		t, err := parseDate(s)
		if err != nil {
			return err
		}
		fields[name] = t
	}
	return nil
}

// NewExperienceStore returns the content store for experiences.
func NewExperienceStore(docs DocumentStore, cache Cache) *ContentStore {
	s := newContentStore(ExperiencesCollection, docs, nil, cache, experienceSchema)
	s.normalize = normalizeExperience
	return s
}
