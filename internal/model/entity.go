// Package model defines the typed entity payloads and records shared across
// the extraction and normalization pipeline.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EntityType enumerates the kinds of entities the pipeline tracks. The set is
// closed: dispatch is switch-based so the compiler flags unhandled kinds.
type EntityType int

const (
	EntityCompany EntityType = iota
	EntityProduct
	EntityCapability
	EntityRelease
	EntityDocument
	EntitySignal
)

// TypeOrder lists entity types in dependency order: companies before products
// before everything that references them.
var TypeOrder = []EntityType{
	EntityCompany,
	EntityProduct,
	EntityCapability,
	EntityRelease,
	EntityDocument,
	EntitySignal,
}

func (t EntityType) String() string {
	switch t {
	case EntityCompany:
		return "company"
	case EntityProduct:
		return "product"
	case EntityCapability:
		return "capability"
	case EntityRelease:
		return "release"
	case EntityDocument:
		return "document"
	case EntitySignal:
		return "signal"
	default:
		return "unknown"
	}
}

// ParseEntityType converts a stored type string back to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range TypeOrder {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, eris.Errorf("model: unknown entity type %q", s)
}

// Status values for entity lifecycle. Entities are never hard-deleted.
const (
	StatusActive       = "active"
	StatusDormant      = "dormant"
	StatusDiscontinued = "discontinued"
)

// Payload is implemented by every typed entity payload. Fields returns the
// canonical field map used for merging, snapshotting and diffing; keys are
// stable snake_case names and values are scalars, string lists, or nested
// attribute maps.
type Payload interface {
	EntityType() EntityType
	DisplayName() string
	Fields() map[string]any
	SourceConfidence() float64
}

// Company is a competitor or vendor organization.
type Company struct {
	Name        string
	LegalName   string
	Website     string
	Description string
	Industry    string
	Status      string
	Markets     []string
	Tags        []string
	Attributes  map[string]any
	Confidence  float64
}

func (c Company) EntityType() EntityType    { return EntityCompany }
func (c Company) DisplayName() string       { return c.Name }
func (c Company) SourceConfidence() float64 { return c.Confidence }

func (c Company) Fields() map[string]any {
	f := map[string]any{}
	putStr(f, "name", c.Name)
	putStr(f, "legal_name", c.LegalName)
	putStr(f, "website", c.Website)
	putStr(f, "description", c.Description)
	putStr(f, "industry", c.Industry)
	putStr(f, "status", c.Status)
	putList(f, "markets", c.Markets)
	putList(f, "tags", c.Tags)
	putAttrs(f, c.Attributes)
	return f
}

// Product is a sellable offering of a company.
type Product struct {
	Name        string
	Version     string
	Tier        string
	Category    string
	Description string
	Pricing     string
	Stage       string
	Status      string
	Features    []string
	Markets     []string
	Tags        []string
	Specs       map[string]any
	Confidence  float64
}

func (p Product) EntityType() EntityType    { return EntityProduct }
func (p Product) DisplayName() string       { return p.Name }
func (p Product) SourceConfidence() float64 { return p.Confidence }

func (p Product) Fields() map[string]any {
	f := map[string]any{}
	putStr(f, "name", p.Name)
	putStr(f, "version", p.Version)
	putStr(f, "tier", p.Tier)
	putStr(f, "category", p.Category)
	putStr(f, "description", p.Description)
	putStr(f, "pricing", p.Pricing)
	putStr(f, "stage", p.Stage)
	putStr(f, "status", p.Status)
	putList(f, "features", p.Features)
	putList(f, "markets", p.Markets)
	putList(f, "tags", p.Tags)
	putAttrs(f, p.Specs)
	return f
}

// Capability is a feature-level ability attached to a product or company.
type Capability struct {
	Name        string
	ProductName string
	Description string
	Maturity    string
	Tags        []string
	Attributes  map[string]any
	Confidence  float64
}

func (c Capability) EntityType() EntityType    { return EntityCapability }
func (c Capability) DisplayName() string       { return c.Name }
func (c Capability) SourceConfidence() float64 { return c.Confidence }

func (c Capability) Fields() map[string]any {
	f := map[string]any{}
	putStr(f, "name", c.Name)
	putStr(f, "product_name", c.ProductName)
	putStr(f, "description", c.Description)
	putStr(f, "maturity", c.Maturity)
	putList(f, "tags", c.Tags)
	putAttrs(f, c.Attributes)
	return f
}

// Release is a versioned product release.
type Release struct {
	Name        string
	Version     string
	ReleaseDate time.Time
	Notes       string
	Stage       string
	Tags        []string
	Attributes  map[string]any
	Confidence  float64
}

func (r Release) EntityType() EntityType    { return EntityRelease }
func (r Release) DisplayName() string       { return r.Name }
func (r Release) SourceConfidence() float64 { return r.Confidence }

func (r Release) Fields() map[string]any {
	f := map[string]any{}
	putStr(f, "name", r.Name)
	putStr(f, "version", r.Version)
	if !r.ReleaseDate.IsZero() {
		f["release_date"] = r.ReleaseDate.UTC().Format("2006-01-02")
	}
	putStr(f, "notes", r.Notes)
	putStr(f, "stage", r.Stage)
	putList(f, "tags", r.Tags)
	putAttrs(f, r.Attributes)
	return f
}

// Document is a published artifact: whitepaper, case study, datasheet.
type Document struct {
	Title      string
	DocType    string
	URL        string
	Summary    string
	Published  time.Time
	Tags       []string
	Attributes map[string]any
	Confidence float64
}

func (d Document) EntityType() EntityType    { return EntityDocument }
func (d Document) DisplayName() string       { return d.Title }
func (d Document) SourceConfidence() float64 { return d.Confidence }

func (d Document) Fields() map[string]any {
	f := map[string]any{}
	putStr(f, "title", d.Title)
	putStr(f, "doc_type", d.DocType)
	putStr(f, "url", d.URL)
	putStr(f, "summary", d.Summary)
	if !d.Published.IsZero() {
		f["published"] = d.Published.UTC().Format("2006-01-02")
	}
	putList(f, "tags", d.Tags)
	putAttrs(f, d.Attributes)
	return f
}

// Signal is a market event worth tracking: funding, partnership, hiring wave.
type Signal struct {
	Title       string
	SignalType  string
	Description string
	Impact      string
	Date        time.Time
	Tags        []string
	Attributes  map[string]any
	Confidence  float64
}

func (s Signal) EntityType() EntityType    { return EntitySignal }
func (s Signal) DisplayName() string       { return s.Title }
func (s Signal) SourceConfidence() float64 { return s.Confidence }

func (s Signal) Fields() map[string]any {
	f := map[string]any{}
	putStr(f, "title", s.Title)
	putStr(f, "signal_type", s.SignalType)
	putStr(f, "description", s.Description)
	putStr(f, "impact", s.Impact)
	if !s.Date.IsZero() {
		f["date"] = s.Date.UTC().Format("2006-01-02")
	}
	putList(f, "tags", s.Tags)
	putAttrs(f, s.Attributes)
	return f
}

// EntitySet groups extracted payloads by kind.
type EntitySet struct {
	Companies    []Company
	Products     []Product
	Capabilities []Capability
	Releases     []Release
	Documents    []Document
	Signals      []Signal
}

// Empty reports whether the set contains no entities at all.
func (s EntitySet) Empty() bool { return s.Count() == 0 }

// Count returns the total number of entities across all kinds.
func (s EntitySet) Count() int {
	return len(s.Companies) + len(s.Products) + len(s.Capabilities) +
		len(s.Releases) + len(s.Documents) + len(s.Signals)
}

// PayloadsFor returns the payloads of one kind as the generic interface.
func (s EntitySet) PayloadsFor(t EntityType) []Payload {
	switch t {
	case EntityCompany:
		return toPayloads(s.Companies)
	case EntityProduct:
		return toPayloads(s.Products)
	case EntityCapability:
		return toPayloads(s.Capabilities)
	case EntityRelease:
		return toPayloads(s.Releases)
	case EntityDocument:
		return toPayloads(s.Documents)
	case EntitySignal:
		return toPayloads(s.Signals)
	default:
		return nil
	}
}

// Merge appends all entities from other into the set.
func (s *EntitySet) Merge(other EntitySet) {
	s.Companies = append(s.Companies, other.Companies...)
	s.Products = append(s.Products, other.Products...)
	s.Capabilities = append(s.Capabilities, other.Capabilities...)
	s.Releases = append(s.Releases, other.Releases...)
	s.Documents = append(s.Documents, other.Documents...)
	s.Signals = append(s.Signals, other.Signals...)
}

func toPayloads[T Payload](items []T) []Payload {
	if len(items) == 0 {
		return nil
	}
	out := make([]Payload, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func putStr(f map[string]any, key, val string) {
	if val != "" {
		f[key] = val
	}
}

func putList(f map[string]any, key string, vals []string) {
	if len(vals) > 0 {
		f[key] = vals
	}
}

// putAttrs folds free-form attributes into the field map without clobbering
// typed fields.
func putAttrs(f map[string]any, attrs map[string]any) {
	for k, v := range attrs {
		if _, exists := f[k]; !exists {
			f[k] = v
		}
	}
}
