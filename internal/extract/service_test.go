package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/model"
)

func newTestService(fm *fakeModel) *Service {
	cfg := testExtractionConfig()
	return NewService(
		NewRuleExtractor(cfg.RuleConfidenceThreshold),
		NewAIExtractor(fm, cfg),
		cfg,
	)
}

func TestService_RulesWinSkipsModel(t *testing.T) {
	fm := &fakeModel{json: `{"confidence": 0.9}`}
	svc := newTestService(fm)

	page := productPage("CloudAnalytics API v2.1 now from $99/month per seat.")
	r := svc.Extract(context.Background(), page, "sess-1")

	require.True(t, r.Success)
	assert.Equal(t, model.MethodRules, r.Method)
	assert.Empty(t, fm.last.Prompt, "model must not be called when rules clear the threshold")
}

func TestService_FallsBackToModel(t *testing.T) {
	fm := &fakeModel{json: `{"confidence": 0.8, "products": [{"name": "Widget"}]}`}
	svc := newTestService(fm)

	page := productPage("Unstructured marketing prose about widgets.")
	r := svc.Extract(context.Background(), page, "sess-1")

	require.True(t, r.Success)
	assert.Equal(t, model.MethodAI, r.Method)
	assert.NotEmpty(t, fm.last.Prompt)
}

func TestService_HigherRuleConfidenceWinsOverWeakAI(t *testing.T) {
	// Rules find a product but miss the 0.6 bar; the model does even worse.
	fm := &fakeModel{json: `{"confidence": 0.2, "products": [{"name": "Guess"}]}`}
	svc := newTestService(fm)

	page := model.PageRecord{
		URL:        "https://acme.com/pricing",
		PageType:   model.PagePricing,
		Text:       "Plans from $12. Contact sales for details.",
		Competitor: "acme",
	}
	r := svc.Extract(context.Background(), page, "sess-1")

	assert.Equal(t, model.MethodRules, r.Method)
	assert.False(t, r.Success)
	assert.Greater(t, r.Confidence, 0.2)
}

func TestService_ModelFailureKeepsRuleAttempt(t *testing.T) {
	fm := &fakeModel{err: errors.New("model down")}
	svc := newTestService(fm)

	page := model.PageRecord{
		URL:        "https://acme.com/about",
		PageType:   model.PageAbout,
		Text:       "We make things.",
		Competitor: "acme",
	}
	r := svc.Extract(context.Background(), page, "sess-1")

	// The company-from-domain attempt survives; the error still surfaces.
	require.Error(t, r.Err)
	assert.Equal(t, model.MethodRules, r.Method)
	assert.Len(t, r.Entities.Companies, 1)
}

func TestService_ModelFailureWithNothingFromRules(t *testing.T) {
	fm := &fakeModel{err: errors.New("model down")}
	svc := newTestService(fm)

	page := model.PageRecord{PageType: model.PageProduct, Text: "nothing", Competitor: "acme"}
	r := svc.Extract(context.Background(), page, "sess-1")

	require.Error(t, r.Err)
	assert.Equal(t, model.MethodAI, r.Method)
	assert.True(t, r.Entities.Empty())
}
