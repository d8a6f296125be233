package ruleset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "campfees://ruleset.schema.json"

const rulesetSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "type", "valid_from", "valid_until", "age_groups"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "description": {"type": ["string", "null"]},
    "valid_from": {"$ref": "#/definitions/date"},
    "valid_until": {"$ref": "#/definitions/date"},
    "age_groups": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["min_age", "max_age", "price"],
        "properties": {
          "name": {"type": ["string", "null"]},
          "min_age": {"type": "integer", "minimum": 0},
          "max_age": {"type": "integer", "minimum": 0},
          "price": {"type": "number", "minimum": 0}
        }
      }
    },
    "role_discounts": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": ["object", "null"],
        "properties": {
          "discount_percent": {"$ref": "#/definitions/percent"},
          "max_count": {"type": ["integer", "null"], "minimum": 0},
          "subsidy_eligible": {"type": ["boolean", "null"]},
          "description": {"type": ["string", "null"]}
        }
      }
    },
    "family_discount": {
      "type": ["object", "null"],
      "properties": {
        "enabled": {"type": "boolean"},
        "first_child_percent": {"$ref": "#/definitions/percent"},
        "second_child_percent": {"$ref": "#/definitions/percent"},
        "third_plus_child_percent": {"$ref": "#/definitions/percent"}
      }
    }
  },
  "definitions": {
    "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "percent": {"type": ["number", "null"], "minimum": 0, "maximum": 100}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(rulesetSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Lint checks a document against the ruleset JSON schema and reports every
// problem found, sorted by location. Unlike Validate it does not stop at the
// first failure and also checks value types and ranges. A nil slice means the
// document is clean.
func Lint(doc Document) []string {
	schema, err := loadSchema()
	if err != nil {
		return []string{err.Error()}
	}
	raw, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return []string{fmt.Sprintf("encode document: %v", err)}
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return []string{fmt.Sprintf("decode document: %v", err)}
	}
	err = schema.Validate(payload)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}

	seen := make(map[string]struct{})
	var problems []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			msg := fmt.Sprintf("%s: %s", location, e.Message)
			if _, dup := seen[msg]; !dup {
				seen[msg] = struct{}{}
				problems = append(problems, msg)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(problems)
	return problems
}
