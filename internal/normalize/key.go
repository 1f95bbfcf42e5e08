// Package normalize turns extracted payloads into canonical entities:
// natural-key derivation, source ranking, conflict resolution, and the merge
// orchestration that writes them to the store.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/compintel/internal/model"
)

// keySeparator joins key segments. Segment text has punctuation stripped, so
// the separator cannot occur inside a segment.
const keySeparator = "|"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

	// Ordered product display-name parsers, most specific first.
	productVersionRe     = regexp.MustCompile(`^(.*?)\s+v(\d+(?:\.\d+)*)$`)
	productBareVersionRe = regexp.MustCompile(`^(.*?)\s+(\d+(?:\.\d+)+)$`)
	productTierRe        = regexp.MustCompile(`(?i)^(.*?)\s+(enterprise|professional|pro|premium|standard|basic|free|starter|team|business)$`)

	diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	// Acronyms recapitalized in canonical display names.
	acronyms = map[string]string{
		"api": "API", "ai": "AI", "ml": "ML", "sdk": "SDK", "cli": "CLI",
		"db": "DB", "etl": "ETL", "crm": "CRM", "erp": "ERP", "iot": "IoT",
		"sso": "SSO", "saas": "SaaS", "gpu": "GPU", "sql": "SQL",
	}
)

// NormalizeText produces the key form of free text: diacritics stripped,
// punctuation removed, whitespace collapsed, lowercased.
func NormalizeText(s string) string {
	if stripped, _, err := transform.String(diacriticStripper, s); err == nil {
		s = stripped
	}
	s = punctRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// CanonicalName produces the display form: normalized like NormalizeText but
// title-cased with known acronyms recapitalized.
func CanonicalName(s string) string {
	words := strings.Fields(NormalizeText(s))
	for i, w := range words {
		if acro, ok := acronyms[w]; ok {
			words[i] = acro
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ParseProductName splits a display name into base, version and tier using
// ordered patterns: "<base> v<ver>", "<base> <ver>", "<base> <Tier>".
func ParseProductName(name string) (base, version, tier string) {
	name = strings.TrimSpace(name)
	if m := productVersionRe.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[1]), m[2], ""
	}
	if m := productBareVersionRe.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[1]), m[2], ""
	}
	if m := productTierRe.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[1]), "", strings.ToLower(m[2])
	}
	return name, "", ""
}

// NormalizeDomain reduces a website value to its bare host.
func NormalizeDomain(website string) string {
	d := strings.ToLower(strings.TrimSpace(website))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return d
}

// Key derives the natural key for a payload. The key is the sole
// deduplication axis: two payloads with the same key are the same entity
// within a (competitor, entity type) scope. Pure function.
func Key(p model.Payload) string {
	switch v := p.(type) {
	case model.Company:
		return joinKey(NormalizeText(v.Name), NormalizeDomain(v.Website))
	case model.Product:
		base, version, tier := ParseProductName(v.Name)
		if v.Version != "" {
			version = v.Version
		}
		if v.Tier != "" {
			tier = strings.ToLower(v.Tier)
		}
		return joinKey(NormalizeText(base), version, NormalizeText(tier))
	case model.Capability:
		return joinKey(NormalizeText(v.Name), NormalizeText(v.ProductName))
	case model.Release:
		day := ""
		if !v.ReleaseDate.IsZero() {
			day = v.ReleaseDate.UTC().Format("2006-01-02")
		}
		return joinKey(NormalizeText(v.Name), v.Version, day)
	case model.Document:
		return joinKey(NormalizeText(v.Title), NormalizeText(v.DocType))
	case model.Signal:
		day := ""
		if !v.Date.IsZero() {
			day = v.Date.UTC().Format("2006-01-02")
		}
		return joinKey(NormalizeText(v.Title), NormalizeText(v.SignalType), day)
	default:
		return NormalizeText(p.DisplayName())
	}
}

func joinKey(segments ...string) string {
	var kept []string
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, keySeparator)
}
