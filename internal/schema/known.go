package schema

// RegisterKnownTools populates r with the parameter schemas for every
// built-in tool this orchestrator ships, mirroring
// original_source/ai/graph/tools.py's get_tool_schemas() verbatim in
// field names, bounds, enums and defaults (translated from OpenAI
// function-schema JSON into typed Field records).
func RegisterKnownTools(r *Registry) {
	r.Register("generate_image", ParameterSchema{Fields: []Field{
		{Name: "prompt", Type: TypeString, Description: "text prompt for image generation", Required: true},
		{Name: "model", Type: TypeString, Description: "stable diffusion model to use", Enum: strEnum("sd15", "sd21", "sdxl"), Default: "sd15"},
		{Name: "width", Type: TypeInteger, Description: "image width in pixels", Minimum: floatPtr(256), Maximum: floatPtr(1024), Default: 512},
		{Name: "height", Type: TypeInteger, Description: "image height in pixels", Minimum: floatPtr(256), Maximum: floatPtr(1024), Default: 512},
		{Name: "steps", Type: TypeInteger, Description: "inference step count", Minimum: floatPtr(10), Maximum: floatPtr(50), Default: 20},
		{Name: "cfg_scale", Type: TypeNumber, Description: "prompt-adherence scale", Minimum: floatPtr(1.0), Maximum: floatPtr(20.0), Default: 7.0},
	}}, []string{"image", "generation", "gpu"})

	r.Register("modify_image", ParameterSchema{Fields: []Field{
		{Name: "image_path", Type: TypeString, Description: "path to the input image", Required: true},
		{Name: "prompt", Type: TypeString, Description: "text prompt describing the modification", Required: true},
		{Name: "strength", Type: TypeNumber, Description: "transformation strength", Minimum: floatPtr(0.0), Maximum: floatPtr(1.0), Default: 0.8},
		{Name: "model", Type: TypeString, Enum: strEnum("sd15", "sd21", "sdxl"), Default: "sd15"},
	}}, []string{"image", "generation", "gpu"})

	r.Register("upscale_image", ParameterSchema{Fields: []Field{
		{Name: "image_path", Type: TypeString, Description: "path to the image to upscale", Required: true},
		{Name: "scale_factor", Type: TypeInteger, Enum: []interface{}{2, 4}, Default: 2},
		{Name: "model", Type: TypeString, Enum: strEnum("RealESRGAN_x2plus", "RealESRGAN_x4plus", "ESRGAN_x4"), Default: "RealESRGAN_x2plus"},
	}}, []string{"image", "enhancement", "gpu"})

	r.Register("create_animation", ParameterSchema{Fields: []Field{
		{Name: "image_path", Type: TypeString, Description: "path to the source image", Required: true},
		{Name: "animation_type", Type: TypeString, Enum: strEnum("video", "gif", "zoom", "pan"), Default: "video"},
		{Name: "duration_s", Type: TypeInteger, Minimum: floatPtr(1), Maximum: floatPtr(30), Default: 3},
		{Name: "fps", Type: TypeInteger, Enum: []interface{}{12, 24, 30, 60}, Default: 24},
	}}, []string{"video", "generation", "gpu"})

	r.Register("speech_to_text", ParameterSchema{Fields: []Field{
		{Name: "audio_path", Type: TypeString, Description: "path to the audio file", Required: true},
		{Name: "language", Type: TypeString, Enum: strEnum("de", "en", "fr", "es", "auto"), Default: "de"},
		{Name: "model", Type: TypeString, Enum: strEnum("tiny", "base", "small", "medium", "large"), Default: "base"},
	}}, []string{"audio", "transcription"})

	r.Register("generate_speech", ParameterSchema{Fields: []Field{
		{Name: "text", Type: TypeString, Description: "text to speak", Required: true},
		{Name: "voice", Type: TypeString, Enum: strEnum("de-speaker", "en-speaker", "female", "male"), Default: "de-speaker"},
		{Name: "speed", Type: TypeNumber, Minimum: floatPtr(0.5), Maximum: floatPtr(2.0), Default: 1.0},
		{Name: "emotion", Type: TypeString, Enum: strEnum("neutral", "happy", "sad", "angry", "excited"), Default: "neutral"},
	}}, []string{"audio", "generation"})

	r.Register("upload_youtube", ParameterSchema{Fields: []Field{
		{Name: "video_path", Type: TypeString, Required: true},
		{Name: "title", Type: TypeString, Required: true, MaxLength: intPtr(100)},
		{Name: "description", Type: TypeString, MaxLength: intPtr(5000), Default: ""},
		{Name: "tags", Type: TypeArray, Items: &Field{Type: TypeString}, MaxItems: intPtr(500)},
		{Name: "privacy", Type: TypeString, Enum: strEnum("private", "unlisted", "public"), Default: "unlisted"},
	}}, []string{"upload", "social"})

	r.Register("upload_tiktok", ParameterSchema{Fields: []Field{
		{Name: "video_path", Type: TypeString, Required: true},
		{Name: "description", Type: TypeString, MaxLength: intPtr(300)},
		{Name: "hashtags", Type: TypeArray, Items: &Field{Type: TypeString}, MaxItems: intPtr(100)},
		{Name: "privacy", Type: TypeString, Enum: strEnum("public", "friends", "private"), Default: "public"},
	}}, []string{"upload", "social"})

	r.Register("upload_instagram", ParameterSchema{Fields: []Field{
		{Name: "media_path", Type: TypeString, Required: true},
		{Name: "caption", Type: TypeString, MaxLength: intPtr(2200), Default: ""},
		{Name: "hashtags", Type: TypeArray, Items: &Field{Type: TypeString}, MaxItems: intPtr(30)},
		{Name: "location", Type: TypeString, Default: ""},
	}}, []string{"upload", "social"})

	r.Register("analyze_image", ParameterSchema{Fields: []Field{
		{Name: "image_path", Type: TypeString, Required: true},
		{Name: "analysis_type", Type: TypeString, Enum: strEnum("basic", "detailed", "content", "quality"), Default: "basic"},
	}}, []string{"image", "analysis"})

	r.Register("combine_media", ParameterSchema{Fields: []Field{
		{Name: "media_paths", Type: TypeArray, Items: &Field{Type: TypeString}, Required: true, MinItems: intPtr(2)},
		{Name: "output_type", Type: TypeString, Enum: strEnum("video", "gif", "collage", "slideshow"), Default: "video"},
		{Name: "transition", Type: TypeString, Enum: strEnum("fade", "slide", "zoom", "none"), Default: "fade"},
	}}, []string{"video", "editing"})
}

func strEnum(values ...string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func intPtr(i int) *int     { return &i }
func floatPtr(f float64) *float64 { return &f }
