package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/model"
)

// Service runs the two-tier extraction policy: rules first, model fallback
// when rules come up short, and whichever attempt scored higher when both
// struggle. A page is never silently dropped; downstream failure handling
// decides retry versus skip.
type Service struct {
	rules *RuleExtractor
	ai    *AIExtractor
	cfg   config.ExtractionConfig
}

// NewService wires the two tiers.
func NewService(rules *RuleExtractor, ai *AIExtractor, cfg config.ExtractionConfig) *Service {
	return &Service{rules: rules, ai: ai, cfg: cfg}
}

// Extract processes one page. The returned Result always carries the best
// attempt; Err is set only for infrastructure failures from the model tier.
func (s *Service) Extract(ctx context.Context, page model.PageRecord, sessionID string) Result {
	start := time.Now()

	ruleResult := s.rules.Extract(page.Text, page.PageType, page.URL)
	if ruleResult.Success {
		zap.L().Debug("rules extraction succeeded",
			zap.String("competitor", page.Competitor),
			zap.String("url", page.URL),
			zap.Float64("confidence", ruleResult.Confidence),
			zap.Duration("elapsed", time.Since(start)))
		return ruleResult
	}

	aiResult := s.ai.Extract(ctx, page, sessionID)
	if aiResult.Err != nil {
		// Keep the rule attempt's entities even on model failure; the
		// session decides whether the page is retried.
		if ruleResult.Confidence > 0 {
			ruleResult.Err = aiResult.Err
			return ruleResult
		}
		return aiResult
	}

	if aiResult.Confidence >= ruleResult.Confidence {
		zap.L().Debug("ai extraction used",
			zap.String("competitor", page.Competitor),
			zap.String("url", page.URL),
			zap.Float64("rule_confidence", ruleResult.Confidence),
			zap.Float64("ai_confidence", aiResult.Confidence),
			zap.Duration("elapsed", time.Since(start)))
		return aiResult
	}
	return ruleResult
}
