package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/modelclient"
)

type fakeModel struct {
	json string
	err  error
	last modelclient.Request
}

func (f *fakeModel) Extract(_ context.Context, req modelclient.Request) (*modelclient.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &modelclient.Response{JSON: json.RawMessage(f.json), Model: "claude-sonnet-4-5"}, nil
}

func testExtractionConfig() config.ExtractionConfig {
	return config.ExtractionConfig{
		RuleConfidenceThreshold: 0.6,
		PromptCharBudget:        32000,
		SchemaVersion:           "1",
		MinAIConfidence:         0.3,
	}
}

func productPage(text string) model.PageRecord {
	return model.PageRecord{
		URL:         "https://acme.com/products/widget",
		PageType:    model.PageProduct,
		ContentHash: "abc123",
		Text:        text,
		Competitor:  "acme",
	}
}

func TestAIExtractor_DecodesEntities(t *testing.T) {
	fm := &fakeModel{json: `{
		"confidence": 0.85,
		"products": [{"name": "Widget", "pricing": "$49/month", "features": ["alerts"]}],
		"releases": [{"name": "Widget", "version": "2.0", "release_date": "2026-02-01"}],
		"signals": [{"title": "Acme raises Series B", "signal_type": "funding", "date": "2026-01-10"}]
	}`}
	e := NewAIExtractor(fm, testExtractionConfig())

	r := e.Extract(context.Background(), productPage("some page text"), "sess-1")

	require.NoError(t, r.Err)
	assert.True(t, r.Success)
	assert.Equal(t, model.MethodAI, r.Method)
	assert.InDelta(t, 0.85, r.Confidence, 0.001)

	require.Len(t, r.Entities.Products, 1)
	assert.Equal(t, "Widget", r.Entities.Products[0].Name)
	assert.Equal(t, []string{"alerts"}, r.Entities.Products[0].Features)
	assert.InDelta(t, 0.85, r.Entities.Products[0].Confidence, 0.001)

	require.Len(t, r.Entities.Releases, 1)
	assert.Equal(t, "2026-02-01", r.Entities.Releases[0].ReleaseDate.Format("2006-01-02"))

	require.Len(t, r.Entities.Signals, 1)
	assert.Equal(t, "funding", r.Entities.Signals[0].SignalType)
}

func TestAIExtractor_PromptCarriesSchemaAndText(t *testing.T) {
	fm := &fakeModel{json: `{"confidence": 0.5}`}
	e := NewAIExtractor(fm, testExtractionConfig())

	_ = e.Extract(context.Background(), productPage("UNIQUE-PAGE-MARKER"), "sess-1")

	assert.Equal(t, "acme", fm.last.Competitor)
	assert.Equal(t, "1", fm.last.SchemaVersion)
	assert.Contains(t, fm.last.Prompt, "UNIQUE-PAGE-MARKER")
	for _, key := range []string{`"companies"`, `"products"`, `"releases"`, `"documents"`, `"signals"`, `"capabilities"`} {
		assert.Contains(t, fm.last.Prompt, key)
	}
	// Non-prompt fields stay out of the compact schema.
	assert.NotContains(t, fm.last.Prompt, "legal_name")
}

func TestAIExtractor_BudgetTruncatesText(t *testing.T) {
	cfg := testExtractionConfig()
	cfg.PromptCharBudget = 2000
	fm := &fakeModel{json: `{"confidence": 0.5}`}
	e := NewAIExtractor(fm, cfg)

	long := strings.Repeat("A sentence about widgets. ", 500)
	_ = e.Extract(context.Background(), productPage(long), "sess-1")

	assert.LessOrEqual(t, len(fm.last.Prompt), 2000)
}

func TestAIExtractor_LowConfidenceNotSuccess(t *testing.T) {
	fm := &fakeModel{json: `{"confidence": 0.1, "products": [{"name": "Maybe"}]}`}
	e := NewAIExtractor(fm, testExtractionConfig())

	r := e.Extract(context.Background(), productPage("x"), "sess-1")

	require.NoError(t, r.Err)
	assert.False(t, r.Success)
	assert.Len(t, r.Entities.Products, 1)
}

func TestAIExtractor_ModelErrorPropagates(t *testing.T) {
	fm := &fakeModel{err: errors.New("model down")}
	e := NewAIExtractor(fm, testExtractionConfig())

	r := e.Extract(context.Background(), productPage("x"), "sess-1")

	assert.Error(t, r.Err)
	assert.False(t, r.Success)
}

func TestTruncateText_Boundaries(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph with more detail. Another sentence follows here to pad."

	// Cuts back to the paragraph break when one lands in the second half.
	got := truncateText(text, 30)
	assert.Equal(t, "First paragraph here.", got)

	// Whole text fits.
	assert.Equal(t, text, truncateText(text, 10000))

	// Sentence fallback when no paragraph break is in range.
	oneBlock := "Sentence one is right here. Sentence two is much longer and rambles on for a while."
	got = truncateText(oneBlock, 50)
	assert.True(t, strings.HasSuffix(got, "."), "got %q", got)
	assert.LessOrEqual(t, len(got), 50)
}
