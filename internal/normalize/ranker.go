package normalize

import (
	"sort"
	"strings"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/model"
)

// Ranker scores sources by authority and resolves field-level conflicts
// between them. The weights encode a relative ordering (product and pricing
// pages over blogs over legal boilerplate); the exact constants live in
// config.
type Ranker struct {
	cfg config.RankerConfig
}

// NewRanker builds a ranker from config.
func NewRanker(cfg config.RankerConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank scores one source. Base authority comes from the page type, with a
// bonus for rule-based extraction (patterns only fire on explicit text) and
// for product-ish URL paths, minus a penalty per path segment, all scaled by
// the extraction confidence and floored at the configured minimum.
func (r *Ranker) Rank(meta model.SourceMeta) float64 {
	weight, ok := r.cfg.PageTypeWeights[meta.PageType]
	if !ok {
		weight = r.cfg.MinRank
	}

	if meta.Method == model.MethodRules {
		weight += r.cfg.RulesBonus
	}
	if hasAuthorityPath(meta.URL) {
		weight += r.cfg.PathBonus
	}
	weight -= r.cfg.DepthPenalty * float64(pathDepth(meta.URL))

	rank := weight * meta.Confidence
	if rank < r.cfg.MinRank {
		rank = r.cfg.MinRank
	}
	return rank
}

var authorityPathSegments = []string{"/products", "/pricing", "/platform", "/solutions", "/releases", "/changelog"}

func hasAuthorityPath(url string) bool {
	lower := strings.ToLower(url)
	for _, seg := range authorityPathSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return false
}

func pathDepth(url string) int {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	depth := 0
	for _, seg := range strings.Split(url, "/")[1:] {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// Field conflict classes.
type fieldClass int

const (
	classDefault fieldClass = iota
	classVolatile
	classDescriptive
	classList
)

var fieldClasses = map[string]fieldClass{
	"version":      classVolatile,
	"pricing":      classVolatile,
	"status":       classVolatile,
	"stage":        classVolatile,
	"release_date": classVolatile,
	"maturity":     classVolatile,
	"impact":       classVolatile,

	"description": classDescriptive,
	"summary":     classDescriptive,
	"notes":       classDescriptive,

	"tags":     classList,
	"features": classList,
	"markets":  classList,
}

func classify(field string) fieldClass {
	if c, ok := fieldClasses[field]; ok {
		return c
	}
	return classDefault
}

// Candidate is one source's value for a field.
type Candidate struct {
	Value      any
	Rank       float64
	Confidence float64
}

// Resolve picks the winning value and its confidence for one field.
//
// Volatile fields (version, pricing, status) always take the highest-ranked
// source: freshness and authority beat agreement. Descriptive fields do the
// same but discount confidence when the top two sources are close in rank,
// since near-peers disagreeing means neither is clearly right. List fields
// union-merge across sources with the mean confidence. Everything else takes
// the highest rank.
func (r *Ranker) Resolve(field string, candidates []Candidate) (any, float64) {
	switch len(candidates) {
	case 0:
		return nil, 0
	case 1:
		return candidates[0].Value, candidates[0].Confidence
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank > sorted[j].Rank })
	top := sorted[0]

	switch classify(field) {
	case classList:
		return unionLists(sorted), meanConfidence(sorted)
	case classDescriptive:
		conf := top.Confidence
		if top.Rank-sorted[1].Rank < r.cfg.DisagreementWindow && !equalValues(top.Value, sorted[1].Value) {
			conf *= r.cfg.DisagreementFactor
		}
		return top.Value, conf
	default:
		return top.Value, top.Confidence
	}
}

func unionLists(candidates []Candidate) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range candidates {
		for _, item := range toStringList(c.Value) {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	sort.Strings(out)
	return out
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func meanConfidence(candidates []Candidate) float64 {
	var sum float64
	for _, c := range candidates {
		sum += c.Confidence
	}
	return sum / float64(len(candidates))
}

func equalValues(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return false
}
