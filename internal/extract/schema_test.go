package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/model"
)

func TestSchemaFor_AllTypesLoaded(t *testing.T) {
	for _, et := range model.TypeOrder {
		s, err := SchemaFor(et)
		require.NoError(t, err, "schema for %s", et)
		assert.Equal(t, et.String(), s.Entity)
		assert.NotEmpty(t, s.Required)
		assert.NotEmpty(t, s.Fields)
	}
}

func TestValidate_RequiredFieldMissing(t *testing.T) {
	violations, err := Validate(model.EntityProduct, map[string]any{"pricing": "$9"}, false)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "name", violations[0].Field)
}

func TestValidate_StrictReturnsError(t *testing.T) {
	_, err := Validate(model.EntityProduct, map[string]any{"pricing": "$9"}, true)
	assert.Error(t, err)
}

func TestValidate_TypeAndEnumChecks(t *testing.T) {
	fields := map[string]any{
		"name":     "Widget",
		"features": "not-a-list",
		"stage":    "imaginary",
	}
	violations, err := Validate(model.EntityProduct, fields, false)
	require.NoError(t, err)

	byField := map[string]string{}
	for _, v := range violations {
		byField[v.Field] = v.Reason
	}
	assert.Contains(t, byField["features"], "expected list")
	assert.Contains(t, byField["stage"], "not in")
}

func TestValidate_UnknownFieldsTolerated(t *testing.T) {
	fields := map[string]any{"name": "Widget", "custom_attr": "x"}

	violations, err := Validate(model.EntityProduct, fields, false)
	require.NoError(t, err)
	assert.Empty(t, violations)

	violations, err = Validate(model.EntityProduct, fields, true)
	require.Error(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "custom_attr", violations[0].Field)
}

func TestValidate_DateFormat(t *testing.T) {
	good := map[string]any{"name": "R1", "version": "1.0", "release_date": "2026-01-15"}
	violations, err := Validate(model.EntityRelease, good, false)
	require.NoError(t, err)
	assert.Empty(t, violations)

	bad := map[string]any{"name": "R1", "version": "1.0", "release_date": "January 2026"}
	violations, err = Validate(model.EntityRelease, bad, false)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "release_date", violations[0].Field)
}
