package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/compintel/internal/model"
)

// Result is the uniform outcome of an extraction attempt. Expected failures
// (low confidence, nothing found) are not errors; Err carries only
// infrastructure failures from the model tier.
type Result struct {
	Success    bool
	Method     string
	Entities   model.EntitySet
	Confidence float64
	// Token counts are zero for the rules tier and for cached model responses.
	InputTokens  int
	OutputTokens int
	Err          error
}

// RuleExtractor pulls entities out of page text with ordered pattern rules.
// No network, no side effects; it either finds enough to clear the
// confidence threshold or the caller falls through to the model tier.
type RuleExtractor struct {
	threshold float64
}

// NewRuleExtractor builds a rule extractor with the given success threshold.
func NewRuleExtractor(threshold float64) *RuleExtractor {
	return &RuleExtractor{threshold: threshold}
}

// patternRule is one weighted regex. Rules for the same field are ordered
// most-specific first; the first match wins.
type patternRule struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

var (
	// Product name + version in one hit: "CloudAnalytics API v2.1".
	productNameVersionRules = []patternRule{
		{"name_vversion", regexp.MustCompile(`([A-Z][A-Za-z0-9]+(?:[ -][A-Z][A-Za-z0-9&]+)*)\s+v(\d+(?:\.\d+)+)`), 0.9},
		{"name_version_word", regexp.MustCompile(`([A-Z][A-Za-z0-9]+(?:[ -][A-Z][A-Za-z0-9&]+)*)\s+[Vv]ersion\s+(\d+(?:\.\d+)*)`), 0.85},
		{"name_tier", regexp.MustCompile(`([A-Z][A-Za-z0-9]+(?:[ -][A-Z][A-Za-z0-9&]+)*)\s+(Enterprise|Professional|Pro|Premium|Standard|Basic|Free|Starter|Team|Business)\b`), 0.7},
	}

	pricingRules = []patternRule{
		{"per_period", regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?\s?(?:/|per\s)\s?(?:mo(?:nth)?|yr|year|annum|user|seat|request|GB)\b`), 0.8},
		{"from_price", regexp.MustCompile(`(?i)(?:from|starting at|starts at)\s+\$\s?\d[\d,]*(?:\.\d+)?`), 0.75},
		{"bare_price", regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?`), 0.5},
	}

	versionRules = []patternRule{
		{"semver", regexp.MustCompile(`\bv?(\d+\.\d+\.\d+)\b`), 0.8},
		{"major_minor", regexp.MustCompile(`\bv(\d+\.\d+)\b`), 0.7},
	}

	releaseDateRules = []patternRule{
		{"iso_date", regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), 0.8},
		{"long_date", regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`), 0.7},
	}

	docTypeRules = []patternRule{
		{"whitepaper", regexp.MustCompile(`(?i)\bwhite\s?paper\b`), 0.7},
		{"case_study", regexp.MustCompile(`(?i)\bcase stud(?:y|ies)\b`), 0.7},
		{"datasheet", regexp.MustCompile(`(?i)\bdata\s?sheet\b`), 0.7},
		{"guide", regexp.MustCompile(`(?i)\b(?:getting started|user|admin|integration) guide\b`), 0.6},
		{"api_reference", regexp.MustCompile(`(?i)\bAPI reference\b`), 0.7},
	}

	signalRules = []patternRule{
		{"funding", regexp.MustCompile(`(?i)\braise[ds]?\s+\$\s?\d[\d,.]*\s?(?:million|billion|M|B)\b`), 0.75},
		{"partnership", regexp.MustCompile(`(?i)\b(?:partner(?:ship|s)? with|joint venture|strategic alliance)\b`), 0.6},
		{"acquisition", regexp.MustCompile(`(?i)\b(?:acquir(?:es?|ed|ing)|acquisition of)\b`), 0.65},
	}

	monthLayouts = []string{"January 2, 2006", "January 2 2006"}
)

// Extract applies the rule sets for the page type. Overall confidence is the
// mean weight of the matched rules; success requires clearing the threshold
// with at least one primary entity found.
func (e *RuleExtractor) Extract(text, pageType, url string) Result {
	var (
		entities model.EntitySet
		weights  []float64
	)

	switch pageType {
	case model.PageProduct, model.PagePricing, model.PageHomepage:
		if p, ws := extractProduct(text); p != nil {
			entities.Products = append(entities.Products, *p)
			weights = append(weights, ws...)
		}
	case model.PageReleaseNotes:
		if r, ws := extractRelease(text); r != nil {
			entities.Releases = append(entities.Releases, *r)
			weights = append(weights, ws...)
		}
	case model.PageDocs, model.PageBlog:
		if d, ws := extractDocument(text, url); d != nil {
			entities.Documents = append(entities.Documents, *d)
			weights = append(weights, ws...)
		}
	case model.PageNews:
		if s, ws := extractSignal(text); s != nil {
			entities.Signals = append(entities.Signals, *s)
			weights = append(weights, ws...)
		}
	}

	if c, w := companyFromDomain(url); c != nil {
		entities.Companies = append(entities.Companies, *c)
		weights = append(weights, w)
	}

	confidence := mean(weights)
	success := confidence >= e.threshold && hasPrimaryEntity(entities)
	applyConfidence(&entities, confidence)

	return Result{
		Success:    success,
		Method:     model.MethodRules,
		Entities:   entities,
		Confidence: confidence,
	}
}

func extractProduct(text string) (*model.Product, []float64) {
	var (
		p       model.Product
		weights []float64
	)

	for _, rule := range productNameVersionRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		p.Name = strings.TrimSpace(m[1])
		if rule.name == "name_tier" {
			p.Tier = m[2]
		} else {
			p.Version = m[2]
			// Keep the version suffix in the display name; the normalizer
			// splits it back out for the natural key.
			p.Name = strings.TrimSpace(m[0])
		}
		weights = append(weights, rule.weight)
		break
	}

	if p.Name == "" {
		return nil, nil
	}

	for _, rule := range pricingRules {
		if m := rule.re.FindString(text); m != "" {
			p.Pricing = strings.TrimSpace(m)
			weights = append(weights, rule.weight)
			break
		}
	}

	if p.Version == "" {
		for _, rule := range versionRules {
			if m := rule.re.FindStringSubmatch(text); m != nil {
				p.Version = m[1]
				weights = append(weights, rule.weight)
				break
			}
		}
	}

	return &p, weights
}

func extractRelease(text string) (*model.Release, []float64) {
	var (
		r       model.Release
		weights []float64
	)

	for _, rule := range productNameVersionRules {
		if m := rule.re.FindStringSubmatch(text); m != nil && rule.name != "name_tier" {
			r.Name = strings.TrimSpace(m[1])
			r.Version = m[2]
			weights = append(weights, rule.weight)
			break
		}
	}
	if r.Version == "" {
		for _, rule := range versionRules {
			if m := rule.re.FindStringSubmatch(text); m != nil {
				r.Version = m[1]
				weights = append(weights, rule.weight)
				break
			}
		}
	}
	if r.Name == "" && r.Version == "" {
		return nil, nil
	}

	for _, rule := range releaseDateRules {
		m := rule.re.FindString(text)
		if m == "" {
			continue
		}
		if d, ok := parseDate(m); ok {
			r.ReleaseDate = d
			weights = append(weights, rule.weight)
		}
		break
	}

	// First paragraph doubles as release notes when nothing better exists.
	if para := firstParagraph(text); para != "" {
		r.Notes = para
	}

	return &r, weights
}

func extractDocument(text, url string) (*model.Document, []float64) {
	title := firstLine(text)
	if title == "" {
		return nil, nil
	}

	d := model.Document{Title: title, URL: url}
	weights := []float64{0.6}

	for _, rule := range docTypeRules {
		if rule.re.MatchString(text) {
			d.DocType = rule.name
			weights = append(weights, rule.weight)
			break
		}
	}

	return &d, weights
}

func extractSignal(text string) (*model.Signal, []float64) {
	for _, rule := range signalRules {
		if rule.re.MatchString(text) {
			return &model.Signal{
				Title:      firstLine(text),
				SignalType: rule.name,
			}, []float64{rule.weight}
		}
	}
	return nil, nil
}

// companyFromDomain derives a low-confidence Company record from the page
// URL, enough to anchor products to an owner when the text never names one.
func companyFromDomain(url string) (*model.Company, float64) {
	host := url
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return nil, 0
	}

	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return nil, 0
	}
	name := parts[len(parts)-2]
	if name == "" {
		return nil, 0
	}

	return &model.Company{
		Name:    strings.ToUpper(name[:1]) + name[1:],
		Website: host,
	}, 0.5
}

func hasPrimaryEntity(s model.EntitySet) bool {
	return len(s.Companies) > 0 || len(s.Products) > 0 ||
		len(s.Releases) > 0 || len(s.Documents) > 0
}

func applyConfidence(s *model.EntitySet, confidence float64) {
	for i := range s.Companies {
		s.Companies[i].Confidence = confidence
	}
	for i := range s.Products {
		s.Products[i].Confidence = confidence
	}
	for i := range s.Capabilities {
		s.Capabilities[i].Confidence = confidence
	}
	for i := range s.Releases {
		s.Releases[i].Confidence = confidence
	}
	for i := range s.Documents {
		s.Documents[i].Confidence = confidence
	}
	for i := range s.Signals {
		s.Signals[i].Confidence = confidence
	}
}

func mean(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return sum / float64(len(weights))
}

func parseDate(s string) (time.Time, bool) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, true
	}
	for _, layout := range monthLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstParagraph(text string) string {
	for _, para := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(para); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
