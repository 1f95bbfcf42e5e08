package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/modelclient"
)

// ModelCaller is the slice of the resilient model client the AI tier needs.
type ModelCaller interface {
	Extract(ctx context.Context, req modelclient.Request) (*modelclient.Response, error)
}

// AIExtractor is the model-backed fallback tier. It builds a compact prompt
// from the embedded schemas, budgets the page text, and decodes the JSON
// response into typed entities.
type AIExtractor struct {
	client ModelCaller
	cfg    config.ExtractionConfig
}

// NewAIExtractor builds the model-backed extractor.
func NewAIExtractor(client ModelCaller, cfg config.ExtractionConfig) *AIExtractor {
	return &AIExtractor{client: client, cfg: cfg}
}

const systemPrompt = `You are a competitive intelligence analyst. Extract structured entities from web page text. Respond with ONLY a JSON object, no prose and no markdown fences. Omit fields you cannot ground in the text; never invent values. Include a top-level "confidence" between 0 and 1 reflecting how well the text supports the extraction.`

// Extract runs the model tier for one page.
func (e *AIExtractor) Extract(ctx context.Context, page model.PageRecord, sessionID string) Result {
	prompt, err := e.buildPrompt(page)
	if err != nil {
		return Result{Method: model.MethodAI, Err: err}
	}

	resp, err := e.client.Extract(ctx, modelclient.Request{
		SessionID:     sessionID,
		Competitor:    page.Competitor,
		PageType:      page.PageType,
		System:        systemPrompt,
		Prompt:        prompt,
		SchemaVersion: e.cfg.SchemaVersion,
	})
	if err != nil {
		return Result{Method: model.MethodAI, Err: err}
	}

	entities, confidence, err := decodeEntities(resp.JSON)
	if err != nil {
		return Result{Method: model.MethodAI, Err: err}
	}

	if err := validateSet(entities, e.cfg.StrictValidation); err != nil {
		return Result{Method: model.MethodAI, Err: err}
	}
	applyConfidence(&entities, confidence)

	return Result{
		Success:      confidence >= e.cfg.MinAIConfidence && !entities.Empty(),
		Method:       model.MethodAI,
		Entities:     entities,
		Confidence:   confidence,
		InputTokens:  int(resp.InputTokens),
		OutputTokens: int(resp.OutputTokens),
	}
}

// buildPrompt assembles task framing, the compact schema, and budgeted page
// text. The char budget approximates the token budget at ~4 chars per token
// with headroom for JSON overhead.
func (e *AIExtractor) buildPrompt(page model.PageRecord) (string, error) {
	schemaBlock, err := compactSchemaBlock()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Competitor: %s\nPage type: %s\nURL: %s\n\n", page.Competitor, page.PageType, page.URL)
	b.WriteString("Extract every company, product, capability, release, document and market signal present in the page text below. Use this JSON shape:\n\n")
	b.WriteString(schemaBlock)
	b.WriteString("\n\nPage text:\n")

	budget := e.cfg.PromptCharBudget
	if budget <= 0 {
		budget = 32000
	}
	remaining := budget - b.Len()
	if remaining < 0 {
		remaining = 0
	}
	b.WriteString(truncateText(page.Text, remaining))

	return b.String(), nil
}

// compactSchemaBlock renders the prompt-marked schema fields as a JSON
// skeleton, one array per entity kind.
func compactSchemaBlock() (string, error) {
	var b strings.Builder
	b.WriteString("{\n")
	b.WriteString(`  "confidence": 0.0,` + "\n")
	for i, t := range model.TypeOrder {
		schema, err := SchemaFor(t)
		if err != nil {
			return "", err
		}

		var fields []string
		for name, spec := range schema.Fields {
			if !spec.Prompt {
				continue
			}
			fields = append(fields, name+": "+fieldHint(spec))
		}
		sort.Strings(fields)

		fmt.Fprintf(&b, "  %q: [{%s}]", plural(t), strings.Join(fields, ", "))
		if i < len(model.TypeOrder)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String(), nil
}

func fieldHint(spec FieldSpec) string {
	switch spec.Type {
	case "list":
		return "[string]"
	case "date":
		return "YYYY-MM-DD"
	default:
		if len(spec.Enum) > 0 {
			return "one of " + strings.Join(spec.Enum, "|")
		}
		return "string"
	}
}

func plural(t model.EntityType) string {
	switch t {
	case model.EntityCompany:
		return "companies"
	case model.EntityCapability:
		return "capabilities"
	default:
		return t.String() + "s"
	}
}

// truncateText cuts text to the budget at a paragraph boundary, falling back
// to a sentence boundary, then a hard cut.
func truncateText(text string, budget int) string {
	if len(text) <= budget {
		return text
	}
	if budget <= 0 {
		return ""
	}

	cut := text[:budget]
	if i := strings.LastIndex(cut, "\n\n"); i > budget/2 {
		return cut[:i]
	}
	if i := strings.LastIndexAny(cut, ".!?"); i > budget/2 {
		return cut[:i+1]
	}
	return cut
}

// Wire types for the model response. Dates arrive as strings and tolerate
// being absent or unparseable.
type wireEntitySet struct {
	Confidence   float64          `json:"confidence"`
	Companies    []wireCompany    `json:"companies"`
	Products     []wireProduct    `json:"products"`
	Capabilities []wireCapability `json:"capabilities"`
	Releases     []wireRelease    `json:"releases"`
	Documents    []wireDocument   `json:"documents"`
	Signals      []wireSignal     `json:"signals"`
}

type wireCompany struct {
	Name        string   `json:"name"`
	LegalName   string   `json:"legal_name"`
	Website     string   `json:"website"`
	Description string   `json:"description"`
	Industry    string   `json:"industry"`
	Status      string   `json:"status"`
	Markets     []string `json:"markets"`
	Tags        []string `json:"tags"`
}

type wireProduct struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Tier        string   `json:"tier"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Pricing     string   `json:"pricing"`
	Stage       string   `json:"stage"`
	Status      string   `json:"status"`
	Features    []string `json:"features"`
	Markets     []string `json:"markets"`
	Tags        []string `json:"tags"`
}

type wireCapability struct {
	Name        string   `json:"name"`
	ProductName string   `json:"product_name"`
	Description string   `json:"description"`
	Maturity    string   `json:"maturity"`
	Tags        []string `json:"tags"`
}

type wireRelease struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	ReleaseDate string   `json:"release_date"`
	Notes       string   `json:"notes"`
	Stage       string   `json:"stage"`
	Tags        []string `json:"tags"`
}

type wireDocument struct {
	Title     string   `json:"title"`
	DocType   string   `json:"doc_type"`
	URL       string   `json:"url"`
	Summary   string   `json:"summary"`
	Published string   `json:"published"`
	Tags      []string `json:"tags"`
}

type wireSignal struct {
	Title       string   `json:"title"`
	SignalType  string   `json:"signal_type"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Date        string   `json:"date"`
	Tags        []string `json:"tags"`
}

func decodeEntities(raw json.RawMessage) (model.EntitySet, float64, error) {
	var wire wireEntitySet
	if err := json.Unmarshal(raw, &wire); err != nil {
		return model.EntitySet{}, 0, eris.Wrap(err, "extract: decode model response")
	}

	var set model.EntitySet
	for _, c := range wire.Companies {
		set.Companies = append(set.Companies, model.Company{
			Name:        c.Name,
			LegalName:   c.LegalName,
			Website:     c.Website,
			Description: c.Description,
			Industry:    c.Industry,
			Status:      c.Status,
			Markets:     c.Markets,
			Tags:        c.Tags,
		})
	}
	for _, p := range wire.Products {
		set.Products = append(set.Products, model.Product{
			Name:        p.Name,
			Version:     p.Version,
			Tier:        p.Tier,
			Category:    p.Category,
			Description: p.Description,
			Pricing:     p.Pricing,
			Stage:       p.Stage,
			Status:      p.Status,
			Features:    p.Features,
			Markets:     p.Markets,
			Tags:        p.Tags,
		})
	}
	for _, c := range wire.Capabilities {
		set.Capabilities = append(set.Capabilities, model.Capability{
			Name:        c.Name,
			ProductName: c.ProductName,
			Description: c.Description,
			Maturity:    c.Maturity,
			Tags:        c.Tags,
		})
	}
	for _, r := range wire.Releases {
		set.Releases = append(set.Releases, model.Release{
			Name:        r.Name,
			Version:     r.Version,
			ReleaseDate: parseWireDate(r.ReleaseDate),
			Notes:       r.Notes,
			Stage:       r.Stage,
			Tags:        r.Tags,
		})
	}
	for _, d := range wire.Documents {
		set.Documents = append(set.Documents, model.Document{
			Title:     d.Title,
			DocType:   d.DocType,
			URL:       d.URL,
			Summary:   d.Summary,
			Published: parseWireDate(d.Published),
			Tags:      d.Tags,
		})
	}
	for _, s := range wire.Signals {
		set.Signals = append(set.Signals, model.Signal{
			Title:       s.Title,
			SignalType:  s.SignalType,
			Description: s.Description,
			Impact:      s.Impact,
			Date:        parseWireDate(s.Date),
			Tags:        s.Tags,
		})
	}

	confidence := wire.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return set, confidence, nil
}

func parseWireDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d
	}
	return time.Time{}
}

// validateSet checks every entity against its schema. Non-strict mode logs
// violations and keeps going; strict mode returns the first error.
func validateSet(set model.EntitySet, strict bool) error {
	for _, t := range model.TypeOrder {
		for _, p := range set.PayloadsFor(t) {
			if _, err := Validate(t, p.Fields(), strict); err != nil {
				zap.L().Warn("entity failed strict validation",
					zap.String("entity_type", t.String()),
					zap.String("name", p.DisplayName()),
					zap.Error(err))
				if strict {
					return err
				}
			}
		}
	}
	return nil
}
