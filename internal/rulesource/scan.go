package rulesource

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"campfees/internal/ruleset"
	"campfees/pkg/domain"
)

// Entry summarises one scanned document for operator tooling.
type Entry struct {
	Key               string `json:"key"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	Description       string `json:"description,omitempty"`
	ValidFrom         string `json:"valid_from,omitempty"`
	ValidUntil        string `json:"valid_until,omitempty"`
	Valid             bool   `json:"is_valid"`
	Error             string `json:"error,omitempty"`
	HasRoleDiscounts  bool   `json:"has_role_discounts"`
	HasFamilyDiscount bool   `json:"has_family_discount"`
	AgeGroups         int    `json:"age_groups_count"`
}

// Scan lists src and summarises every document. Unreadable or invalid
// documents are reported as invalid entries rather than failing the scan;
// only a failing listing is returned as an error.
func Scan(ctx context.Context, src Source) ([]Entry, error) {
	infos, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s source: %w", src.Driver(), err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		raw, err := src.Fetch(ctx, info.Key)
		if err != nil {
			entries = append(entries, invalidEntry(info.Key, err))
			continue
		}
		entries = append(entries, Summarize(info.Key, raw))
	}
	return entries, nil
}

// Summarize builds the scan entry of one raw document.
func Summarize(key string, raw []byte) Entry {
	doc, err := ruleset.Parse(raw)
	if err != nil {
		return invalidEntry(key, err)
	}
	valid, msg := ruleset.Validate(doc)
	entry := Entry{
		Key:               key,
		Name:              stringOr(doc["name"], "unknown"),
		Type:              stringOr(doc["type"], "unknown"),
		Description:       stringOr(doc["description"], ""),
		ValidFrom:         stringOr(doc["valid_from"], ""),
		ValidUntil:        stringOr(doc["valid_until"], ""),
		Valid:             valid,
		Error:             msg,
		HasRoleDiscounts:  truthy(doc["role_discounts"]),
		HasFamilyDiscount: truthy(doc["family_discount"]),
	}
	if groups, ok := doc["age_groups"].([]any); ok {
		entry.AgeGroups = len(groups)
	}
	return entry
}

func invalidEntry(key string, err error) Entry {
	return Entry{
		Key:   key,
		Name:  strings.TrimSuffix(path.Base(key), path.Ext(key)),
		Type:  "unknown",
		Error: err.Error(),
	}
}

func stringOr(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(domain.DateLayout)
	default:
		return fmt.Sprint(v)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case bool:
		return t
	default:
		return true
	}
}

// Importer stores a raw ruleset document for an event.
type Importer interface {
	ImportRuleset(ctx context.Context, eventID string, raw []byte, source string) (domain.Ruleset, domain.Result, error)
}

// SourceRef is the provenance string recorded on rulesets imported from src.
func SourceRef(src Source, key string) string {
	return string(src.Driver()) + ":" + key
}

// Import fetches key from src and imports it for eventID.
func Import(ctx context.Context, imp Importer, src Source, key, eventID string) (domain.Ruleset, error) {
	raw, err := src.Fetch(ctx, key)
	if err != nil {
		return domain.Ruleset{}, err
	}
	rs, _, err := imp.ImportRuleset(ctx, eventID, raw, SourceRef(src, key))
	if err != nil {
		return domain.Ruleset{}, fmt.Errorf("import %s: %w", key, err)
	}
	return rs, nil
}
