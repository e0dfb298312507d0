// Package models defines the request and response bodies of the HTTP API.
package models

import (
	"fmt"
	"strings"
)

// FieldError reports a missing or invalid request field. The API answers it
// with 422 Unprocessable Entity.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func missingField(name string) error {
	return &FieldError{Message: fmt.Sprintf("missing field `%s`", name)}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AcceptedResponse acknowledges a write.
type AcceptedResponse struct {
	Status string `json:"status"`
	Chunks *int   `json:"chunks,omitempty"`
}

// ParseEmbedding converts a decoded JSON value into a vector. The value must
// be a non-empty array of numbers.
func ParseEmbedding(v any) ([]float32, error) {
	values, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("embedding must be an array of numbers")
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("embedding array cannot be empty")
	}
	out := make([]float32, len(values))
	for i, x := range values {
		f, ok := x.(float64)
		if !ok {
			return nil, fmt.Errorf("embedding[%d] must be a number, got %s", i, describe(x))
		}
		out[i] = float32(f)
	}
	return out, nil
}

func describe(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", t)
	case bool:
		return fmt.Sprintf("%t", t)
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
