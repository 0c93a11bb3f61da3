package orient

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rohankatakam/graphrest/internal/errors"
)

// PropertySchema is one declared property of a class
type PropertySchema struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Mandatory bool   `json:"mandatory"`
	ReadOnly  bool   `json:"readonly"`
	NotNull   bool   `json:"notNull"`
}

// ClassSchema is one class of metadata:schema
type ClassSchema struct {
	Name         string           `json:"name"`
	SuperClass   string           `json:"superClass"`
	SuperClasses []string         `json:"superClasses"`
	Abstract     bool             `json:"abstract"`
	StrictMode   bool             `json:"strictMode"`
	Properties   []PropertySchema `json:"properties"`
}

// SchemaValidator checks write data against a class's declared properties
type SchemaValidator struct {
	session Session
}

// NewSchemaValidator creates a validator reading the schema through session
func NewSchemaValidator(session Session) *SchemaValidator {
	return &SchemaValidator{session: session}
}

// Classes loads every class of the open database, keyed by name.
func (v *SchemaValidator) Classes(ctx context.Context) (map[string]*ClassSchema, error) {
	records, err := v.session.Query(ctx, "SELECT FROM metadata:schema")
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.DatabaseError(errors.InternalError("empty result"), "metadata:schema returned no rows")
	}

	var schema struct {
		Classes []*ClassSchema `json:"classes"`
	}
	if err := decodeRecord(records[0], &schema); err != nil {
		return nil, errors.DatabaseError(err, "failed to decode metadata:schema")
	}

	classes := make(map[string]*ClassSchema, len(schema.Classes))
	for _, c := range schema.Classes {
		classes[c.Name] = c
	}
	return classes, nil
}

// Properties returns the properties of class including those inherited
// from its superclasses.
func (v *SchemaValidator) Properties(ctx context.Context, class string) ([]PropertySchema, error) {
	classes, err := v.Classes(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := classes[class]; !ok {
		return nil, errors.NotFoundErrorf("class '%s' not found", class).WithContext("class", class)
	}

	var props []PropertySchema
	seen := make(map[string]bool)
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		c, ok := classes[name]
		if !ok {
			return
		}
		props = append(props, c.Properties...)
		for _, parent := range c.parents() {
			walk(parent)
		}
	}
	walk(class)
	return props, nil
}

func (c *ClassSchema) parents() []string {
	if len(c.SuperClasses) > 0 {
		return c.SuperClasses
	}
	if c.SuperClass != "" {
		return []string{c.SuperClass}
	}
	return nil
}

// ValidateCreate rejects keys that are not declared properties of class and
// reports the first missing mandatory property. Names in implicit are
// treated as present (an edge's in and out).
func (v *SchemaValidator) ValidateCreate(ctx context.Context, class string, data map[string]interface{}, implicit ...string) error {
	props, err := v.Properties(ctx, class)
	if err != nil {
		return err
	}

	declared := make(map[string]bool, len(props))
	for _, p := range props {
		declared[p.Name] = true
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !declared[k] {
			return errors.ValidationErrorf("property '%s' is not defined for class '%s'.", k, class)
		}
	}

	present := make(map[string]bool, len(data)+len(implicit))
	for k := range data {
		present[k] = true
	}
	for _, k := range implicit {
		present[k] = true
	}

	for _, p := range props {
		if p.Mandatory && !present[p.Name] {
			return errors.ValidationErrorf("Mandatory property '%s' is missing in create data for class '%s'.", p.Name, class)
		}
	}
	return nil
}

// decodeRecord converts a loosely typed record into a struct
func decodeRecord(r Record, out interface{}) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
