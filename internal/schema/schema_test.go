package schema

import "testing"

func TestRegistry_RegisterThenGetReturnsCurrent(t *testing.T) {
	r := NewRegistry()
	v1 := ParameterSchema{Fields: []Field{{Name: "prompt", Type: TypeString, Required: true}}}
	version := r.Register("generate_image", v1, []string{"image"})
	if version != 1 {
		t.Fatalf("expected first registration to be version 1, got %d", version)
	}

	got, ok := r.Get("generate_image")
	if !ok {
		t.Fatal("expected schema to be found")
	}
	if len(got.Fields) != 1 || got.Fields[0].Name != "prompt" {
		t.Errorf("unexpected current schema: %+v", got)
	}
}

func TestRegistry_AppendingVersionKeepsHistory(t *testing.T) {
	r := NewRegistry()
	v1 := ParameterSchema{Fields: []Field{{Name: "prompt", Type: TypeString, Required: true}}}
	v2 := ParameterSchema{Fields: []Field{
		{Name: "prompt", Type: TypeString, Required: true},
		{Name: "width", Type: TypeInteger, Default: 512},
	}}
	r.Register("generate_image", v1, nil)
	r.Register("generate_image", v2, nil)

	old, ok := r.GetVersion("generate_image", 1)
	if !ok || len(old.Fields) != 1 {
		t.Errorf("expected version 1 to remain retrievable, got %+v, ok=%v", old, ok)
	}

	current, _ := r.Get("generate_image")
	if len(current.Fields) != 2 {
		t.Errorf("expected current version to have 2 fields, got %d", len(current.Fields))
	}
}

func TestRegistry_GetByTags(t *testing.T) {
	r := NewRegistry()
	r.Register("generate_image", ParameterSchema{}, []string{"image", "generation"})
	r.Register("upscale_image", ParameterSchema{}, []string{"image", "enhancement"})
	r.Register("generate_speech", ParameterSchema{}, []string{"audio"})

	names := r.GetByTags([]string{"image"})
	if len(names) != 2 {
		t.Errorf("expected 2 tools tagged image, got %d: %v", len(names), names)
	}
}

func TestRegistry_DeprecateExcludesFromToolSpecs(t *testing.T) {
	r := NewRegistry()
	r.Register("generate_image", ParameterSchema{Fields: []Field{{Name: "prompt", Type: TypeString, Required: true}}}, nil)
	r.Register("upscale_image", ParameterSchema{}, nil)

	if err := r.Deprecate("generate_image", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	specs := r.ToolSpecs()
	for _, s := range specs {
		if s.Name == "generate_image" {
			t.Error("expected deprecated tool to be excluded from ToolSpecs")
		}
	}
}

func TestRegistry_DeprecateUnknownToolFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Deprecate("missing", 1); err == nil {
		t.Error("expected error deprecating unknown tool")
	}
}

func TestToJSONSchema_RendersRequiredAndBounds(t *testing.T) {
	s := ParameterSchema{Fields: []Field{
		{Name: "prompt", Type: TypeString, Required: true},
		{Name: "cfg_scale", Type: TypeNumber, Minimum: floatPtr(1.0), Maximum: floatPtr(20.0), Default: 7.0},
	}}
	rendered := ToJSONSchema(s)

	if rendered["type"] != "object" {
		t.Errorf("expected object type, got %v", rendered["type"])
	}
	required, ok := rendered["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "prompt" {
		t.Errorf("expected required=[prompt], got %v", rendered["required"])
	}
	props := rendered["properties"].(map[string]interface{})
	cfg := props["cfg_scale"].(map[string]interface{})
	if cfg["minimum"] != 1.0 || cfg["maximum"] != 20.0 {
		t.Errorf("unexpected cfg_scale bounds: %+v", cfg)
	}
}

func TestToJSONSchema_NestedArrayItems(t *testing.T) {
	s := ParameterSchema{Fields: []Field{
		{Name: "tags", Type: TypeArray, Items: &Field{Type: TypeString}},
	}}
	rendered := ToJSONSchema(s)
	props := rendered["properties"].(map[string]interface{})
	tags := props["tags"].(map[string]interface{})
	items := tags["items"].(map[string]interface{})
	if items["type"] != "string" {
		t.Errorf("expected array items type string, got %v", items["type"])
	}
}
