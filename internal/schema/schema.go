// Package schema implements the Schema Registry (spec.md §4.10): a
// versioned map from tool name to parameter schema, with conversion to
// the portable JSON-schema-shaped object providers consume.
//
// New relative to the teacher, which has no registry of its own — tools
// there pass a raw map[string]interface{} schema directly. Grounded on
// original_source/ai/graph/tools.py's get_tool_schemas/get_tool_by_name/
// get_tools_for_action_type (tag-keyed lookup) and
// ai/tools/schemas.py's intent (typed, versioned tool parameter
// descriptions), reworked into a runtime registry rather than a
// hardcoded list.
package schema

import (
	"fmt"
	"sync"

	"github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// FieldType is one of the JSON-schema primitive or composite types a
// Field may take.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one tool parameter: its type, bounds, enum, and
// (for arrays/objects) nested structure.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Enum        []interface{}
	Default     interface{}
	Minimum     *float64
	Maximum     *float64
	MaxLength   *int
	MinItems    *int
	MaxItems    *int
	// Items describes the element schema when Type is TypeArray.
	Items *Field
	// Properties describes nested fields when Type is TypeObject.
	Properties []Field
}

// ParameterSchema is one versioned shape of a tool's parameters: an
// ordered record of fields.
type ParameterSchema struct {
	Fields []Field
}

// record is the registry's internal per-tool-name state: every version
// ever registered, which one is current, and which are deprecated.
type record struct {
	name       string
	tags       []string
	versions   map[int]ParameterSchema
	current    int
	deprecated map[int]bool
}

// Registry maps tool names to versioned ParameterSchemas.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

// Register appends schema as a new version of name (version 1 if name is
// unseen), tagging it with tags, and makes it the current version.
// Appending never removes or mutates a prior version.
func (r *Registry) Register(name string, schema ParameterSchema, tags []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		rec = &record{name: name, versions: make(map[int]ParameterSchema), deprecated: make(map[int]bool)}
		r.records[name] = rec
	}
	version := rec.current + 1
	rec.versions[version] = schema
	rec.current = version
	rec.tags = mergeTags(rec.tags, tags)
	return version
}

func mergeTags(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range added {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Get returns the current version of name's schema.
func (r *Registry) Get(name string) (ParameterSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return ParameterSchema{}, false
	}
	return rec.versions[rec.current], true
}

// GetVersion returns a specific historical version of name's schema.
func (r *Registry) GetVersion(name string, version int) (ParameterSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return ParameterSchema{}, false
	}
	schema, ok := rec.versions[version]
	return schema, ok
}

// GetByTags returns the names of every registered tool carrying all of
// the given tags.
func (r *Registry) GetByTags(tags []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for name, rec := range r.records {
		if hasAllTags(rec.tags, tags) {
			out = append(out, name)
		}
	}
	return out
}

func hasAllTags(have, want []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[t] = true
	}
	for _, t := range want {
		if !haveSet[t] {
			return false
		}
	}
	return true
}

// Deprecate marks a specific version of name as deprecated. It remains
// retrievable via GetVersion but is excluded from ToolSpecs.
func (r *Registry) Deprecate(name string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return orcherr.New(orcherr.Validation, "schema_unknown_tool", fmt.Sprintf("no schema registered for tool %q", name))
	}
	if _, ok := rec.versions[version]; !ok {
		return orcherr.New(orcherr.Validation, "schema_unknown_version", fmt.Sprintf("tool %q has no version %d", name, version))
	}
	rec.deprecated[version] = true
	return nil
}

// ToolSpecs renders the current, non-deprecated version of every
// registered tool as a []model.ToolSpec, consumable directly by the
// provider router's Invoke.
func (r *Registry) ToolSpecs() []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]model.ToolSpec, 0, len(r.records))
	for name, rec := range r.records {
		if rec.deprecated[rec.current] {
			continue
		}
		schema := rec.versions[rec.current]
		specs = append(specs, model.ToolSpec{
			Name:       name,
			Parameters: ToJSONSchema(schema),
		})
	}
	return specs
}

// ToJSONSchema converts a ParameterSchema into the portable
// JSON-schema-shaped object LLM providers expect for tool/function
// parameters: {type: object, properties: {...}, required: [...]}.
func ToJSONSchema(schema ParameterSchema) map[string]interface{} {
	properties := make(map[string]interface{}, len(schema.Fields))
	var required []string
	for _, f := range schema.Fields {
		properties[f.Name] = fieldToJSONSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	out := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func fieldToJSONSchema(f Field) map[string]interface{} {
	out := map[string]interface{}{"type": string(f.Type)}
	if f.Description != "" {
		out["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		out["enum"] = f.Enum
	}
	if f.Default != nil {
		out["default"] = f.Default
	}
	if f.Minimum != nil {
		out["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		out["maximum"] = *f.Maximum
	}
	if f.MaxLength != nil {
		out["maxLength"] = *f.MaxLength
	}
	if f.MinItems != nil {
		out["minItems"] = *f.MinItems
	}
	if f.MaxItems != nil {
		out["maxItems"] = *f.MaxItems
	}
	if f.Type == TypeArray && f.Items != nil {
		out["items"] = fieldToJSONSchema(*f.Items)
	}
	if f.Type == TypeObject && len(f.Properties) > 0 {
		nested := ParameterSchema{Fields: f.Properties}
		nestedSchema := ToJSONSchema(nested)
		out["properties"] = nestedSchema["properties"]
		if req, ok := nestedSchema["required"]; ok {
			out["required"] = req
		}
	}
	return out
}
