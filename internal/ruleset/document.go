// Package ruleset parses, validates and exports operator-edited pricing rule
// documents. All functions are pure: no I/O happens here, callers hand in the
// raw bytes and persist the result.
package ruleset

import (
	"errors"
	"fmt"

	"go.yaml.in/yaml/v3"
)

// Document is the generic mapping form of a rule document as it appears at
// the I/O boundary.
type Document map[string]any

var errEmptyDocument = errors.New("document is empty")

// ParseError reports a document that is not well-formed YAML (or JSON).
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse ruleset document: %v", e.Err)
}

// Unwrap exposes the underlying decoder error.
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a well-formed document that is missing or has an
// invalid required field. Field is empty when the failure is not tied to a
// single key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Parse decodes raw YAML (JSON is accepted as a subset) into a Document.
// Malformed syntax, an empty input or a non-mapping root yield *ParseError.
func Parse(raw []byte) (Document, error) {
	var root any
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, &ParseError{Err: err}
	}
	if root == nil {
		return nil, &ParseError{Err: errEmptyDocument}
	}
	m, ok := normalize(root).(map[string]any)
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("document root must be a mapping, got %T", root)}
	}
	return Document(m), nil
}

// FromMap wraps an already decoded mapping, normalizing nested maps so that
// every mapping level is keyed by string.
func FromMap(m map[string]any) Document {
	if m == nil {
		return Document{}
	}
	return Document(normalize(m).(map[string]any))
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
