// Package extract implements two-tier entity extraction: pattern rules first,
// model fallback second, both validated against embedded field schemas.
package extract

import (
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/compintel/internal/model"
)

//go:embed schemas/*.yaml
var schemaFS embed.FS

// FieldSpec describes one schema field.
type FieldSpec struct {
	Type string   `yaml:"type"` // string, list, map, number, date
	Enum []string `yaml:"enum,omitempty"`
	// Prompt marks fields worth including in the model prompt's compact
	// schema; low-value fields stay out to save tokens.
	Prompt bool `yaml:"prompt,omitempty"`
}

// Schema is the field contract for one entity type.
type Schema struct {
	Entity   string               `yaml:"entity"`
	Version  string               `yaml:"version"`
	Required []string             `yaml:"required"`
	Fields   map[string]FieldSpec `yaml:"fields"`
}

var (
	schemaOnce sync.Once
	schemas    map[model.EntityType]*Schema
	schemaErr  error
)

func loadSchemas() (map[model.EntityType]*Schema, error) {
	schemaOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemaErr = eris.Wrap(err, "extract: read schema dir")
			return
		}
		loaded := make(map[model.EntityType]*Schema, len(entries))
		for _, entry := range entries {
			data, err := schemaFS.ReadFile("schemas/" + entry.Name())
			if err != nil {
				schemaErr = eris.Wrapf(err, "extract: read schema %s", entry.Name())
				return
			}
			var s Schema
			if err := yaml.Unmarshal(data, &s); err != nil {
				schemaErr = eris.Wrapf(err, "extract: parse schema %s", entry.Name())
				return
			}
			t, err := model.ParseEntityType(s.Entity)
			if err != nil {
				schemaErr = eris.Wrapf(err, "extract: schema %s", entry.Name())
				return
			}
			loaded[t] = &s
		}
		schemas = loaded
	})
	return schemas, schemaErr
}

// SchemaFor returns the embedded schema for an entity type.
func SchemaFor(t model.EntityType) (*Schema, error) {
	all, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	s, ok := all[t]
	if !ok {
		return nil, eris.Errorf("extract: no schema for entity type %s", t)
	}
	return s, nil
}

// Violation is one schema check failure.
type Violation struct {
	Field  string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// Validate checks fields against the entity type's schema. In strict mode
// any violation is an error; otherwise violations are logged and returned
// for the caller to fold into confidence.
func Validate(t model.EntityType, fields map[string]any, strict bool) ([]Violation, error) {
	schema, err := SchemaFor(t)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, req := range schema.Required {
		v, ok := fields[req]
		if !ok || isEmptyValue(v) {
			violations = append(violations, Violation{Field: req, Reason: "required field missing"})
		}
	}

	for name, val := range fields {
		spec, known := schema.Fields[name]
		if !known {
			// Free-form attributes pass through; only strict mode rejects them.
			if strict {
				violations = append(violations, Violation{Field: name, Reason: "unknown field"})
			}
			continue
		}
		if reason := checkType(spec, val); reason != "" {
			violations = append(violations, Violation{Field: name, Reason: reason})
		}
	}

	if len(violations) > 0 {
		if strict {
			return violations, eris.Errorf("extract: %s payload failed validation: %v", t, violations)
		}
		zap.L().Debug("schema violations tolerated",
			zap.String("entity_type", t.String()),
			zap.Int("count", len(violations)))
	}
	return violations, nil
}

func checkType(spec FieldSpec, val any) string {
	switch spec.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %T", val)
		}
		if len(spec.Enum) > 0 && s != "" && !contains(spec.Enum, s) {
			return fmt.Sprintf("value %q not in %v", s, spec.Enum)
		}
	case "list":
		switch val.(type) {
		case []string, []any:
		default:
			return fmt.Sprintf("expected list, got %T", val)
		}
	case "map":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Sprintf("expected map, got %T", val)
		}
	case "number":
		switch val.(type) {
		case int, int64, float64:
		default:
			return fmt.Sprintf("expected number, got %T", val)
		}
	case "date":
		s, ok := val.(string)
		if !ok {
			return fmt.Sprintf("expected date string, got %T", val)
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Sprintf("value %q is not a YYYY-MM-DD date", s)
		}
	}
	return ""
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
