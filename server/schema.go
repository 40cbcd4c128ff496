package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// contentSchema validates incoming field mappings. The partial variant is
// the same schema without required properties and is used for updates.
type contentSchema struct {
	full    *gojsonschema.Schema
	partial *gojsonschema.Schema
}

// Field names are stored as-is, so the path separators of the document
// stores ("." and "[n]") are not allowed in them.
var fieldNamePattern = map[string]interface{}{"pattern": `^[^.\[\]]+$`}

func newContentSchema(properties map[string]interface{}, required ...string) *contentSchema {
	full := map[string]interface{}{
		"type":          "object",
		"properties":    properties,
		"propertyNames": fieldNamePattern,
	}
	if len(required) > 0 {
		full["required"] = required
	}
	partial := map[string]interface{}{
		"type":          "object",
		"properties":    properties,
		"propertyNames": fieldNamePattern,
	}
	return &contentSchema{
		full:    mustSchema(full),
		partial: mustSchema(partial),
	}
}

func mustSchema(m map[string]interface{}) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(m))
	if err != nil {
		panic(fmt.Sprintf("invalid content schema: %v", err))
	}
	return schema
}

func (c *contentSchema) validate(data Fields, partial bool) error {
	if c == nil {
		return nil
	}
	if data == nil {
		data = Fields{}
	}

	schema := c.full
	if partial {
		schema = c.partial
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if res.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidContent, strings.Join(msgs, "; "))
}

func stringProp() map[string]interface{} {
	return map[string]interface{}{"type": "string"}
}

func nonEmptyStringProp() map[string]interface{} {
	return map[string]interface{}{"type": "string", "minLength": 1}
}

func stringListProp() map[string]interface{} {
	return map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	}
}
