package registry

import (
	"fmt"

	"github.com/unidrive/core/pkg/types"
)

// ValidateConfig checks a driver config map against its schema: required
// fields present, types matching, enum values constrained — the validation
// the Factory runs before ever calling a DriverKind's constructor (spec
// §4.2: "validates schema before construction").
func ValidateConfig(schema types.Schema, config map[string]any) error {
	for _, field := range schema.Fields {
		value, present := config[field.Name]

		if !present {
			if field.Required {
				return &types.ConfigError{Field: field.Name, Reason: "required field missing"}
			}
			continue
		}

		if err := validateType(field, value); err != nil {
			return err
		}

		if len(field.Enum) > 0 {
			if err := validateEnum(field, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateType(field types.SchemaField, value any) error {
	switch field.Type {
	case "string", "enum":
		if _, ok := value.(string); !ok {
			return &types.ConfigError{Field: field.Name, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
	case "int":
		switch value.(type) {
		case int, int32, int64, float64:
			// YAML/JSON decode numeric literals as float64 or int depending
			// on source; both are acceptable here.
		default:
			return &types.ConfigError{Field: field.Name, Reason: fmt.Sprintf("expected int, got %T", value)}
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return &types.ConfigError{Field: field.Name, Reason: fmt.Sprintf("expected bool, got %T", value)}
		}
	}
	return nil
}

func validateEnum(field types.SchemaField, value any) error {
	str, ok := value.(string)
	if !ok {
		return nil
	}
	for _, allowed := range field.Enum {
		if str == allowed {
			return nil
		}
	}
	return &types.ConfigError{Field: field.Name, Reason: fmt.Sprintf("value %q not in enum %v", str, field.Enum)}
}

// ApplyDefaults fills config with each schema field's default where the
// caller omitted the field, returning a new map (the input is not mutated).
func ApplyDefaults(schema types.Schema, config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	for _, field := range schema.Fields {
		if _, present := out[field.Name]; !present && field.Default != nil {
			out[field.Name] = field.Default
		}
	}
	return out
}
