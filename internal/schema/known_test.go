package schema

import "testing"

func TestRegisterKnownTools_PopulatesExpectedNames(t *testing.T) {
	r := NewRegistry()
	RegisterKnownTools(r)

	for _, name := range []string{
		"generate_image", "modify_image", "upscale_image", "create_animation",
		"speech_to_text", "generate_speech", "upload_youtube", "upload_tiktok",
		"upload_instagram", "analyze_image", "combine_media",
	} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("expected known tool %q to be registered", name)
		}
	}
}

func TestRegisterKnownTools_GPUTaggedToolsFindable(t *testing.T) {
	r := NewRegistry()
	RegisterKnownTools(r)

	gpuTools := r.GetByTags([]string{"gpu"})
	if len(gpuTools) != 4 {
		t.Errorf("expected 4 gpu-tagged tools, got %d: %v", len(gpuTools), gpuTools)
	}
}

func TestRegisterKnownTools_ToolSpecsRenderValidJSONSchema(t *testing.T) {
	r := NewRegistry()
	RegisterKnownTools(r)

	specs := r.ToolSpecs()
	if len(specs) != 11 {
		t.Errorf("expected 11 tool specs, got %d", len(specs))
	}
	for _, s := range specs {
		if s.Parameters["type"] != "object" {
			t.Errorf("tool %q: expected object-typed parameters, got %v", s.Name, s.Parameters["type"])
		}
	}
}
