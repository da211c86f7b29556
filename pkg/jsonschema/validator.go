// Package jsonschema validates JSON documents against JSON Schema.
package jsonschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled schema, safe for concurrent use.
type Schema struct {
	schema *jsonschema.Schema
}

// Compile compiles a schema document. Format keywords (email, date,
// uuid, ...) are asserted, not just annotated.
func Compile(schemaStr string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// Validate checks doc against the schema. A document that does not match
// returns ValidationErrors listing every violation.
func (s *Schema) Validate(doc []byte) error {
	var data interface{}
	if err := json.Unmarshal(doc, &data); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}

	err := s.schema.Validate(data)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		return extractValidationErrors(validationErr)
	}
	return ValidationErrors{err}
}

// Validate validates a JSON string against a JSON Schema.
// It reports false without error when the document does not match, and
// returns an error only for a broken schema or malformed JSON.
func Validate(jsonStr, schemaStr string) (bool, error) {
	schema, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}

	var data interface{}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.schema.Validate(data) == nil, nil
}

// ValidateWithErrors validates a JSON string against a JSON Schema and
// lists every violation when it does not match.
func ValidateWithErrors(jsonStr, schemaStr string) (bool, ValidationErrors) {
	schema, err := Compile(schemaStr)
	if err != nil {
		return false, ValidationErrors{err}
	}

	if err := schema.Validate([]byte(jsonStr)); err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			return false, ve
		}
		return false, ValidationErrors{err}
	}
	return true, nil
}

// extractValidationErrors flattens the leaves of a validation error tree.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors

	if len(err.Causes) == 0 && err.Message != "" {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		errs = append(errs, fmt.Errorf("validation error at %s: %s", location, err.Message))
	}

	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}

	return errs
}
