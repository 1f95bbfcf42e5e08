package modelclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_CleanPassthrough(t *testing.T) {
	got, err := RepairJSON(`{"products": [{"name": "Widget"}]}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"products": [{"name": "Widget"}]}`, string(got))
}

func TestRepairJSON_StripsFences(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```"},
		{"bare fence", "```\n{\"a\": 1}\n```"},
		{"fence with prose", "Here is the result:\n```json\n{\"a\": 1}\n```\nLet me know if you need more."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RepairJSON(tc.raw)
			require.NoError(t, err)
			assert.JSONEq(t, `{"a": 1}`, string(got))
		})
	}
}

func TestRepairJSON_ExtractsEmbeddedObject(t *testing.T) {
	raw := `Based on the page content, I extracted: {"companies": [{"name": "Acme {Labs}"}]} Hope this helps.`
	got, err := RepairJSON(raw)
	require.NoError(t, err)

	var parsed struct {
		Companies []struct{ Name string } `json:"companies"`
	}
	require.NoError(t, json.Unmarshal(got, &parsed))
	require.Len(t, parsed.Companies, 1)
	assert.Equal(t, "Acme {Labs}", parsed.Companies[0].Name)
}

func TestRepairJSON_BracesInsideStrings(t *testing.T) {
	raw := `{"description": "uses {placeholders} and \"quotes\""}`
	got, err := RepairJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(got))
}

func TestRepairJSON_CompletesTruncatedObject(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"mid string", `{"products": [{"name": "CloudAnalytics`},
		{"after comma", `{"products": [{"name": "API"},`},
		{"dangling key", `{"products": [{"name": "API", "pricing":`},
		{"open array", `{"features": ["alerts", "dashboards"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RepairJSON(tc.raw)
			require.NoError(t, err)
			assert.True(t, json.Valid(got), "completed output must be valid JSON: %s", got)
		})
	}
}

func TestRepairJSON_UnrepairableFails(t *testing.T) {
	for _, raw := range []string{"", "no json here", "]]]["} {
		_, err := RepairJSON(raw)
		assert.Error(t, err, "raw %q", raw)
	}
}
