package snapshot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/model"
)

func TestHashData_DeterministicAcrossKeyOrder(t *testing.T) {
	a, err := HashData(map[string]any{"name": "Widget", "version": "2.1", "pricing": "$99"})
	require.NoError(t, err)
	b, err := HashData(map[string]any{"pricing": "$99", "version": "2.1", "name": "Widget"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := HashData(map[string]any{"name": "Widget", "version": "2.2", "pricing": "$99"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDiff_Complete(t *testing.T) {
	old := map[string]any{
		"name":    "Widget",
		"version": "2.0",
		"pricing": "$89/month",
	}
	current := map[string]any{
		"name":    "Widget",
		"version": "2.1",
		"stage":   "ga",
	}

	diff := Diff(old, current)

	require.Len(t, diff, 3)
	assert.Equal(t, model.FieldDiff{Old: "2.0", New: "2.1", Type: model.DiffModified}, diff["version"])
	assert.Equal(t, model.DiffRemoved, diff["pricing"].Type)
	assert.Equal(t, model.DiffAdded, diff["stage"].Type)
	assert.NotContains(t, diff, "name")
}

func TestDiff_IdenticalMapsEmpty(t *testing.T) {
	m := map[string]any{"name": "Widget", "features": []string{"a", "b"}}
	assert.Empty(t, Diff(m, m))
}

func TestDiff_ToleratesJSONBTypeDrift(t *testing.T) {
	// A JSONB round trip turns []string into []any and ints into float64;
	// that is not a change.
	old := map[string]any{"features": []any{"a", "b"}, "seats": float64(5)}
	current := map[string]any{"features": []string{"a", "b"}, "seats": 5}
	assert.Empty(t, Diff(old, current))
}

func TestSummarize_PrioritizesVersionAndStatus(t *testing.T) {
	diff := map[string]model.FieldDiff{
		"description": {Old: "a", New: "b", Type: model.DiffModified},
		"version":     {Old: "2.0", New: "2.1", Type: model.DiffModified},
		"status":      {Old: "active", New: "discontinued", Type: model.DiffModified},
	}

	s := Summarize("Widget", diff)

	vi := strings.Index(s, "version")
	si := strings.Index(s, "status")
	di := strings.Index(s, "description")
	assert.True(t, vi < si && si < di, "unexpected ordering: %s", s)
	assert.True(t, strings.HasPrefix(s, "Widget: "))
}

func TestSummarize_CapsLength(t *testing.T) {
	diff := map[string]model.FieldDiff{}
	for _, f := range []string{"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8"} {
		diff[f] = model.FieldDiff{
			Old:  strings.Repeat("x", 40),
			New:  strings.Repeat("y", 40),
			Type: model.DiffModified,
		}
	}

	s := Summarize("Widget", diff)
	assert.LessOrEqual(t, len(s), 200)
	assert.True(t, strings.HasSuffix(s, "..."))
}

func TestFieldsChanged_Sorted(t *testing.T) {
	diff := map[string]model.FieldDiff{
		"zeta":  {Type: model.DiffAdded},
		"alpha": {Type: model.DiffRemoved},
	}
	assert.Equal(t, []string{"alpha", "zeta"}, FieldsChanged(diff))
}
