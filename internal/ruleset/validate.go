package ruleset

import (
	"fmt"
	"time"

	"campfees/pkg/domain"
)

// Validation messages. User interfaces show only the first failing message,
// so their wording and order are part of the contract.
const (
	msgMissingField   = "required field '%s' is missing"
	msgNoAgeGroups    = "at least one age group must be defined"
	msgAgeGroupFields = "age groups must contain 'min_age', 'max_age' and 'price'"
	msgDateFormat     = "date fields must use the format YYYY-MM-DD"
)

var requiredFields = []string{"name", "type", "valid_from", "valid_until", "age_groups"}

var ageGroupFields = []string{"min_age", "max_age", "price"}

// Validate checks a parsed document for structural completeness. Checks run
// in a fixed order and stop at the first failure, whose message is returned:
// required top-level keys, a non-empty age_groups list with complete entries,
// and finally the two validity dates.
func Validate(doc Document) (bool, string) {
	if err := validate(doc); err != nil {
		return false, err.Message
	}
	return true, ""
}

func validate(doc Document) *ValidationError {
	for _, field := range requiredFields {
		if _, ok := doc[field]; !ok {
			return &ValidationError{Field: field, Message: fmt.Sprintf(msgMissingField, field)}
		}
	}

	groups, ok := doc["age_groups"].([]any)
	if !ok || len(groups) == 0 {
		return &ValidationError{Field: "age_groups", Message: msgNoAgeGroups}
	}
	for _, raw := range groups {
		group, ok := asMap(raw)
		if !ok {
			return &ValidationError{Field: "age_groups", Message: msgAgeGroupFields}
		}
		for _, field := range ageGroupFields {
			if _, ok := group[field]; !ok {
				return &ValidationError{Field: "age_groups", Message: msgAgeGroupFields}
			}
		}
	}

	if _, ok := parseDate(doc["valid_from"]); !ok {
		return &ValidationError{Field: "valid_from", Message: msgDateFormat}
	}
	if _, ok := parseDate(doc["valid_until"]); !ok {
		return &ValidationError{Field: "valid_until", Message: msgDateFormat}
	}
	return nil
}

func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		d, err := time.Parse(domain.DateLayout, t)
		if err != nil {
			return time.Time{}, false
		}
		return d, true
	case time.Time:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	default:
		return time.Time{}, false
	}
}
