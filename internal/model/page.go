package model

import "time"

// Page types produced by the crawler collaborator. Free-form strings are
// accepted; these are the values the ranker knows about.
const (
	PageProduct      = "product"
	PagePricing      = "pricing"
	PageDocs         = "documentation"
	PageReleaseNotes = "release_notes"
	PageHomepage     = "homepage"
	PageBlog         = "blog"
	PageNews         = "news"
	PageAbout        = "about"
	PageLegal        = "legal"
)

// PageRecord is a normalized page handed over by the crawler/fingerprinting
// collaborator.
type PageRecord struct {
	URL                  string `json:"url"`
	PageType             string `json:"page_type"`
	ContentHash          string `json:"content_hash"`
	Text                 string `json:"extracted_text"`
	Competitor           string `json:"competitor"`
	FingerprintSessionID string `json:"fingerprint_session_id,omitempty"`
}

// Extraction methods.
const (
	MethodRules = "rules"
	MethodAI    = "ai"
)

// SourceMeta describes where a batch of entities came from, carried from the
// extraction result into provenance records.
type SourceMeta struct {
	URL          string
	PageType     string
	ContentHash  string
	Method       string
	Confidence   float64
	InputTokens  int
	OutputTokens int
	DurationMS   int64
}

// ExtractionSource is the append-only provenance record written per merged
// entity. Never deleted.
type ExtractionSource struct {
	ID              int64     `json:"id"`
	EntityType      string    `json:"entity_type"`
	EntityID        int64     `json:"entity_id"`
	SourceURL       string    `json:"source_url"`
	ContentHash     string    `json:"content_hash"`
	PageType        string    `json:"page_type"`
	Method          string    `json:"method"`
	Confidence      float64   `json:"confidence"`
	FieldsExtracted []string  `json:"fields_extracted"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// EntityRecord is a canonical entity row: one live row per
// (competitor, entity_type, natural_key).
type EntityRecord struct {
	ID          int64          `json:"id"`
	Competitor  string         `json:"competitor"`
	EntityType  string         `json:"entity_type"`
	NaturalKey  string         `json:"natural_key"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Data        map[string]any `json:"data"`
	Confidence  float64        `json:"confidence"`
	SourceRank  float64        `json:"source_rank"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastUpdated time.Time      `json:"last_updated"`
}
