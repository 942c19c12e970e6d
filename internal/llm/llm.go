// Package llm adapts the LLM collaborators to typed pipeline stages:
// identification, detailed comparison, brand and ingredient enrichment,
// ingredient listing and review/resource discovery.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/resilience"
	"github.com/sells-group/dupe-finder/pkg/anthropic"
	"github.com/sells-group/dupe-finder/pkg/openai"
	"github.com/sells-group/dupe-finder/pkg/perplexity"
)

const maxDescriptionRunes = 300

// Config wires the adapter's collaborators. Perplexity and Repairer are
// optional; without Repairer, JSON repair goes through OpenAI.
type Config struct {
	OpenAI      openai.Client
	Perplexity  perplexity.Client
	Repairer    anthropic.Client
	RepairModel string
	Prompts     Prompts

	OpenAIGuard     *resilience.Guard
	PerplexityGuard *resilience.Guard
	RepairGuard     *resilience.Guard
}

// Adapter runs prompts from the catalog and decodes their typed results.
type Adapter struct {
	openai      openai.Client
	pplx        perplexity.Client
	repairer    anthropic.Client
	repairModel string
	prompts     Prompts

	openaiGuard *resilience.Guard
	pplxGuard   *resilience.Guard
	repairGuard *resilience.Guard
}

// New builds an Adapter, loading the embedded prompt catalog when
// cfg.Prompts is nil.
func New(cfg Config) (*Adapter, error) {
	if cfg.OpenAI == nil {
		return nil, eris.New("llm: openai client is required")
	}
	prompts := cfg.Prompts
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(""); err != nil {
			return nil, err
		}
	}
	return &Adapter{
		openai:      cfg.OpenAI,
		pplx:        cfg.Perplexity,
		repairer:    cfg.Repairer,
		repairModel: cfg.RepairModel,
		prompts:     prompts,
		openaiGuard: cfg.OpenAIGuard,
		pplxGuard:   cfg.PerplexityGuard,
		repairGuard: cfg.RepairGuard,
	}, nil
}

// ProductRef names a persisted product for per-product stages.
type ProductRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Brand string `json:"brand"`
}

func (a *Adapter) chat(ctx context.Context, stage string, req openai.ChatRequest) (*openai.ChatResponse, error) {
	resp, err := resilience.Call(ctx, a.openaiGuard, stage, true, func(ctx context.Context) (*openai.ChatResponse, error) {
		return a.openai.ChatJSON(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Debug("openai usage",
		zap.String("stage", stage),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens),
		zap.Bool("truncated", resp.Truncated()),
	)
	return resp, nil
}

// runOpenAI renders stage with data, sends it and decodes into out.
func (a *Adapter) runOpenAI(ctx context.Context, stage string, data any, images []openai.Image, out any) error {
	p := a.prompts[stage]
	system, user, err := p.Render(data)
	if err != nil {
		return err
	}
	resp, err := a.chat(ctx, stage, openai.ChatRequest{
		System:      system,
		User:        user,
		Images:      images,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return model.CollaboratorError("llm "+stage, err)
	}
	return a.decode(ctx, stage, resp.Content, out)
}

type identifyData struct {
	Text       string
	Categories []string
}

func newIdentifyData(text string) identifyData {
	cats := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		cats[i] = string(c)
	}
	return identifyData{Text: text, Categories: cats}
}

// Identify names the product described by text and proposes candidate dupes.
func (a *Adapter) Identify(ctx context.Context, text string) (*model.CoarseIdentification, error) {
	return a.identify(ctx, StageIdentify, newIdentifyData(text), nil)
}

// IdentifyImage is Identify for a product photo.
func (a *Adapter) IdentifyImage(ctx context.Context, data []byte, mimeType string) (*model.CoarseIdentification, error) {
	if len(data) == 0 {
		return nil, model.ValidationError("identify image", eris.New("image is empty"))
	}
	return a.identify(ctx, StageIdentifyImage, newIdentifyData(""),
		[]openai.Image{{Data: data, MIMEType: mimeType}})
}

func (a *Adapter) identify(ctx context.Context, stage string, data identifyData, images []openai.Image) (*model.CoarseIdentification, error) {
	var out model.CoarseIdentification
	if err := a.runOpenAI(ctx, stage, data, images, &out); err != nil {
		if model.KindOf(err) != "" {
			return nil, err
		}
		return nil, model.IdentificationError(stage, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

type compareItem struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category,omitempty"`
	MatchScore  float64  `json:"matchScore,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	HighestPx   *float64 `json:"highest_price,omitempty"`
	UPC         string   `json:"upc,omitempty"`
	Description string   `json:"description,omitempty"`
	Image       string   `json:"image,omitempty"`
	Verified    bool     `json:"verified"`
}

func toCompareItem(c model.EnrichedCandidate) compareItem {
	item := compareItem{
		ID:          c.ID,
		Name:        c.Name,
		Brand:       c.Brand,
		Category:    c.Category,
		MatchScore:  c.MatchScore,
		Price:       c.LowestPrice,
		HighestPx:   c.HighestPx,
		UPC:         c.UPC,
		Description: truncateRunes(c.Description, maxDescriptionRunes),
		Verified:    c.Verified,
	}
	if len(c.Images) > 0 {
		item.Image = c.Images[0]
	}
	return item
}

// Compare runs detailed analysis on the enriched original and dupes. Each
// dupe carries its placeholder id so the response can be reconciled.
func (a *Adapter) Compare(ctx context.Context, original model.EnrichedCandidate, dupes []model.EnrichedCandidate) (*model.DetailedAnalysis, error) {
	orig, err := json.Marshal(toCompareItem(original))
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal original")
	}
	items := make([]compareItem, len(dupes))
	for i, d := range dupes {
		items[i] = toCompareItem(d)
	}
	dl, err := json.Marshal(items)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal dupes")
	}

	var out model.DetailedAnalysis
	data := struct{ Original, Dupes string }{string(orig), string(dl)}
	if err := a.runOpenAI(ctx, StageCompare, data, nil, &out); err != nil {
		if model.KindOf(err) != "" {
			return nil, err
		}
		return nil, model.EnrichmentError(StageCompare, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnrichBrand describes a brand.
func (a *Adapter) EnrichBrand(ctx context.Context, name string) (*model.BrandMetadata, error) {
	var out model.BrandMetadata
	if err := a.runOpenAI(ctx, StageBrand, struct{ Name string }{name}, nil, &out); err != nil {
		return nil, model.EnrichmentError("enrich brand "+name, err)
	}
	out.Description = strings.TrimSpace(out.Description)
	return &out, nil
}

// EnrichIngredient describes an ingredient.
func (a *Adapter) EnrichIngredient(ctx context.Context, name string) (*model.IngredientMetadata, error) {
	var out model.IngredientMetadata
	if err := a.runOpenAI(ctx, StageIngredient, struct{ Name string }{name}, nil, &out); err != nil {
		return nil, model.EnrichmentError("enrich ingredient "+name, err)
	}
	if r := out.ComedogenicRating; r != nil && (*r < 0 || *r > 5) {
		out.ComedogenicRating = nil
	}
	return &out, nil
}

// ListIngredients returns the ingredient list of each product. Entries whose
// id was not requested are dropped.
func (a *Adapter) ListIngredients(ctx context.Context, products []ProductRef) ([]model.ProductIngredients, error) {
	if len(products) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(products)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal products")
	}

	var out struct {
		Products []model.ProductIngredients `json:"products"`
	}
	if err := a.runOpenAI(ctx, StageIngredients, struct{ Products string }{string(payload)}, nil, &out); err != nil {
		return nil, model.EnrichmentError("list ingredients", err)
	}

	known := make(map[string]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
	}
	kept := out.Products[:0]
	for _, p := range out.Products {
		if !known[p.ProductID] {
			zap.L().Warn("llm: dropping ingredient list for unknown product", zap.String("product_id", p.ProductID))
			continue
		}
		p.Ingredients = dedupeNames(p.Ingredients)
		p.KeyActives = dedupeNames(p.KeyActives)
		kept = append(kept, p)
	}
	return kept, nil
}

// runSearch sends a Perplexity search stage and decodes the structured result.
func (a *Adapter) runSearch(ctx context.Context, stage string, ref ProductRef, out any) error {
	if a.pplx == nil {
		return model.CollaboratorError("llm "+stage, eris.New("perplexity client not configured"))
	}
	p := a.prompts[stage]
	system, user, err := p.Render(ref)
	if err != nil {
		return err
	}

	temp := float64(p.Temperature)
	maxTokens := p.MaxTokens
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
	if len(p.Schema) > 0 {
		req.ResponseFormat = &perplexity.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: perplexity.JSONSchema{Schema: p.Schema},
		}
	}

	resp, err := resilience.Call(ctx, a.pplxGuard, stage, true, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return a.pplx.ChatCompletion(ctx, req)
	})
	if err != nil {
		return model.CollaboratorError("llm "+stage, err)
	}
	return a.decode(ctx, stage, resp.Content(), out)
}

// FindReviews returns review excerpts for ref with ProductID set.
func (a *Adapter) FindReviews(ctx context.Context, ref ProductRef) ([]model.Review, error) {
	var out struct {
		Reviews []model.Review `json:"reviews"`
	}
	if err := a.runSearch(ctx, StageReviews, ref, &out); err != nil {
		return nil, model.EnrichmentError("find reviews "+ref.ID, err)
	}
	kept := out.Reviews[:0]
	for _, r := range out.Reviews {
		r.Content = strings.TrimSpace(r.Content)
		if r.Content == "" {
			continue
		}
		if r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5) {
			r.Rating = nil
		}
		r.ProductID = ref.ID
		kept = append(kept, r)
	}
	return kept, nil
}

// FindResources returns external content about ref.
func (a *Adapter) FindResources(ctx context.Context, ref ProductRef) ([]model.ResourceLink, error) {
	var out struct {
		Resources []model.ResourceLink `json:"resources"`
	}
	if err := a.runSearch(ctx, StageResources, ref, &out); err != nil {
		return nil, model.EnrichmentError("find resources "+ref.ID, err)
	}
	kept := out.Resources[:0]
	for _, r := range out.Resources {
		r.URL = strings.TrimSpace(r.URL)
		if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		k := strings.ToLower(n)
		if n == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n)
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
