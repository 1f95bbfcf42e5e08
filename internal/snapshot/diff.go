package snapshot

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/sells-group/compintel/internal/model"
)

// Diff compares two field maps and returns the per-field differences. An
// empty result means the states are identical.
func Diff(old, current map[string]any) map[string]model.FieldDiff {
	diff := map[string]model.FieldDiff{}

	for field, oldVal := range old {
		newVal, exists := current[field]
		switch {
		case !exists:
			diff[field] = model.FieldDiff{Old: oldVal, Type: model.DiffRemoved}
		case !reflect.DeepEqual(normalizeJSONValue(oldVal), normalizeJSONValue(newVal)):
			diff[field] = model.FieldDiff{Old: oldVal, New: newVal, Type: model.DiffModified}
		}
	}
	for field, newVal := range current {
		if _, exists := old[field]; !exists {
			diff[field] = model.FieldDiff{New: newVal, Type: model.DiffAdded}
		}
	}
	return diff
}

// normalizeJSONValue folds the type drift a JSONB round trip introduces:
// numbers come back as float64 and string lists as []any.
func normalizeJSONValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		return t
	default:
		return v
	}
}

// summaryPriority orders fields by how much a reader cares about them
// changing. Unlisted fields sort after these, alphabetically.
var summaryPriority = []string{"version", "status", "stage", "pricing"}

const summaryMaxLen = 200

// Summarize renders a human-readable one-liner for a change, leading with
// the fields that matter most.
func Summarize(entityName string, diff map[string]model.FieldDiff) string {
	if len(diff) == 0 {
		return ""
	}

	fields := make([]string, 0, len(diff))
	for f := range diff {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		pi, pj := priorityOf(fields[i]), priorityOf(fields[j])
		if pi != pj {
			return pi < pj
		}
		return fields[i] < fields[j]
	})

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, describeField(f, diff[f]))
	}

	summary := entityName + ": " + strings.Join(parts, "; ")
	if len(summary) > summaryMaxLen {
		summary = summary[:summaryMaxLen-3] + "..."
	}
	return summary
}

func priorityOf(field string) int {
	for i, f := range summaryPriority {
		if f == field {
			return i
		}
	}
	return len(summaryPriority)
}

func describeField(field string, d model.FieldDiff) string {
	switch d.Type {
	case model.DiffAdded:
		return fmt.Sprintf("%s added (%v)", field, d.New)
	case model.DiffRemoved:
		return fmt.Sprintf("%s removed", field)
	default:
		return fmt.Sprintf("%s %v -> %v", field, d.Old, d.New)
	}
}

// FieldsChanged lists the changed field names sorted for stable storage.
func FieldsChanged(diff map[string]model.FieldDiff) []string {
	fields := make([]string, 0, len(diff))
	for f := range diff {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
