package schema

import (
	"testing"

	"github.com/zerobranding/orchestrator/internal/orcherr"
)

func floatp(f float64) *float64 { return &f }

func TestValidate_RejectsMissingRequiredField(t *testing.T) {
	s := ParameterSchema{Fields: []Field{{Name: "prompt", Type: TypeString, Required: true}}}
	err := Validate("generate_image", map[string]interface{}{}, s)
	assertValidationError(t, err)
}

func TestValidate_RejectsEmptyRequiredString(t *testing.T) {
	s := ParameterSchema{Fields: []Field{{Name: "prompt", Type: TypeString, Required: true}}}
	err := Validate("generate_image", map[string]interface{}{"prompt": ""}, s)
	assertValidationError(t, err)
}

func TestValidate_RejectsValueOutsideEnum(t *testing.T) {
	s := ParameterSchema{Fields: []Field{{Name: "model", Type: TypeString, Enum: strEnum("sd15", "sd21")}}}
	err := Validate("generate_image", map[string]interface{}{"model": "sd99"}, s)
	assertValidationError(t, err)
}

func TestValidate_RejectsOutOfBoundsNumber(t *testing.T) {
	s := ParameterSchema{Fields: []Field{{Name: "steps", Type: TypeInteger, Minimum: floatp(10), Maximum: floatp(50)}}}
	err := Validate("generate_image", map[string]interface{}{"steps": 5}, s)
	assertValidationError(t, err)
}

func TestValidate_RejectsTooManyArrayItems(t *testing.T) {
	s := ParameterSchema{Fields: []Field{{Name: "tags", Type: TypeArray, MaxItems: intp(2)}}}
	err := Validate("upload_youtube", map[string]interface{}{"tags": []interface{}{"a", "b", "c"}}, s)
	assertValidationError(t, err)
}

func TestValidate_AcceptsWellFormedParams(t *testing.T) {
	s := ParameterSchema{Fields: []Field{
		{Name: "prompt", Type: TypeString, Required: true},
		{Name: "steps", Type: TypeInteger, Minimum: floatp(10), Maximum: floatp(50), Default: 20},
	}}
	err := Validate("generate_image", map[string]interface{}{"prompt": "a cat in space", "steps": 20}, s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_LeavesOptionalFieldsUnsetWithoutViolation(t *testing.T) {
	s := ParameterSchema{Fields: []Field{
		{Name: "prompt", Type: TypeString, Required: true},
		{Name: "cfg_scale", Type: TypeNumber, Minimum: floatp(1), Maximum: floatp(20), Default: 7.0},
	}}
	err := Validate("generate_image", map[string]interface{}{"prompt": "ok"}, s)
	if err != nil {
		t.Fatalf("expected no error when an optional field is absent, got %v", err)
	}
}

func intp(i int) *int { return &i }

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a validation error, got nil")
	}
	oe, ok := err.(*orcherr.Error)
	if !ok {
		t.Fatalf("expected *orcherr.Error, got %T", err)
	}
	if oe.Kind != orcherr.Validation {
		t.Errorf("expected Validation kind, got %v", oe.Kind)
	}
	if oe.Retryable() {
		t.Error("expected validation errors to be non-retryable")
	}
}
