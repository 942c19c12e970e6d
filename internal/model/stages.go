package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// MaxCandidateDupes caps how many dupes coarse identification may propose.
const MaxCandidateDupes = 5

// CandidateDupe is one dupe proposed by coarse identification.
type CandidateDupe struct {
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	MatchScore float64 `json:"matchScore"`
}

// CoarseIdentification is the first LLM stage result.
type CoarseIdentification struct {
	OriginalName     string          `json:"originalName"`
	OriginalBrand    string          `json:"originalBrand"`
	OriginalCategory string          `json:"originalCategory"`
	Dupes            []CandidateDupe `json:"dupes"`
}

// Validate trims fields, drops nameless dupes, caps the list and fails when
// the original cannot be named.
func (c *CoarseIdentification) Validate() error {
	c.OriginalName = strings.TrimSpace(c.OriginalName)
	c.OriginalBrand = strings.TrimSpace(c.OriginalBrand)
	if c.OriginalName == "" || c.OriginalBrand == "" {
		return IdentificationError("validate coarse identification", eris.New("could not determine product brand or name"))
	}

	kept := c.Dupes[:0]
	for _, d := range c.Dupes {
		d.Name = strings.TrimSpace(d.Name)
		d.Brand = strings.TrimSpace(d.Brand)
		if d.Name == "" || d.Brand == "" {
			continue
		}
		if strings.EqualFold(d.Name, c.OriginalName) && strings.EqualFold(d.Brand, c.OriginalBrand) {
			continue
		}
		d.MatchScore = clampScore(d.MatchScore)
		kept = append(kept, d)
		if len(kept) == MaxCandidateDupes {
			break
		}
	}
	c.Dupes = kept
	return nil
}

// ExternalOffer is a merchant offer returned by the external product database.
type ExternalOffer struct {
	Merchant  string   `json:"merchant"`
	Domain    string   `json:"domain,omitempty"`
	Title     string   `json:"title,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	ListPrice *float64 `json:"list_price,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Shipping  string   `json:"shipping,omitempty"`
	Condition string   `json:"condition,omitempty"`
	Link      string   `json:"link"`
}

// EnrichedCandidate is a product after the external database lookup.
// Verified is false when the lookup missed or failed.
type EnrichedCandidate struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category,omitempty"`
	MatchScore  float64         `json:"matchScore,omitempty"`
	Description string          `json:"description,omitempty"`
	UPC         string          `json:"upc,omitempty"`
	EAN         string          `json:"ean,omitempty"`
	ASIN        string          `json:"asin,omitempty"`
	Model       string          `json:"model,omitempty"`
	LowestPrice *float64        `json:"lowest_recorded_price,omitempty"`
	HighestPx   *float64        `json:"highest_recorded_price,omitempty"`
	Images      []string        `json:"images,omitempty"`
	Offers      []ExternalOffer `json:"offers,omitempty"`
	Verified    bool            `json:"verified"`
}

// ProductAnalysis is the per-product attribute set from detailed analysis.
type ProductAnalysis struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name"`
	Brand           string   `json:"brand"`
	Category        string   `json:"category,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Texture         string   `json:"texture,omitempty"`
	Finish          string   `json:"finish,omitempty"`
	Coverage        string   `json:"coverage,omitempty"`
	SPF             *float64 `json:"spf,omitempty"`
	SkinTypes       []string `json:"skin_types,omitempty"`
	FreeOf          []string `json:"free_of,omitempty"`
	BestFor         []string `json:"best_for,omitempty"`
	Attributes      []string `json:"attributes,omitempty"`
	KeyIngredients  []string `json:"key_ingredients,omitempty"`
	CountryOfOrigin string   `json:"country_of_origin,omitempty"`
	CrueltyFree     *bool    `json:"cruelty_free,omitempty"`
	Vegan           *bool    `json:"vegan,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
}

// DupeAnalysis adds comparison metrics to a ProductAnalysis.
type DupeAnalysis struct {
	ProductAnalysis
	MatchScore        *float64 `json:"match_score,omitempty"`
	ColorMatchScore   *float64 `json:"color_match_score,omitempty"`
	FormulaMatchScore *float64 `json:"formula_match_score,omitempty"`
	SavingsPercentage *float64 `json:"savings_percentage,omitempty"`
	ConfidenceLevel   string   `json:"confidence_level,omitempty"`
	LongevityNote     string   `json:"longevity_comparison,omitempty"`
}

// ResourceLink is a resource suggestion returned by an LLM stage.
type ResourceLink struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
}

// DetailedAnalysis is the second LLM stage result.
type DetailedAnalysis struct {
	Original  ProductAnalysis `json:"original"`
	Dupes     []DupeAnalysis  `json:"dupes"`
	Summary   string          `json:"summary"`
	Resources []ResourceLink  `json:"resources"`
}

// Validate normalizes scores and fails when the original is unnamed.
func (d *DetailedAnalysis) Validate() error {
	d.Original.Name = strings.TrimSpace(d.Original.Name)
	d.Original.Brand = strings.TrimSpace(d.Original.Brand)
	if d.Original.Name == "" {
		return EnrichmentError("validate detailed analysis", eris.New("analysis missing original product"))
	}
	for i := range d.Dupes {
		d.Dupes[i].ID = strings.TrimSpace(d.Dupes[i].ID)
		d.Dupes[i].MatchScore = clampScorePtr(d.Dupes[i].MatchScore)
		d.Dupes[i].ColorMatchScore = clampScorePtr(d.Dupes[i].ColorMatchScore)
		d.Dupes[i].FormulaMatchScore = clampScorePtr(d.Dupes[i].FormulaMatchScore)
	}
	return nil
}

// BrandMetadata is the brand enrichment LLM result.
type BrandMetadata struct {
	Description   string `json:"description"`
	PriceRange    string `json:"price_range"`
	CrueltyFree   *bool  `json:"cruelty_free"`
	Vegan         *bool  `json:"vegan"`
	CountryOrigin string `json:"country_of_origin"`
	ParentCompany string `json:"parent_company"`
}

// IngredientMetadata is the ingredient enrichment LLM result.
type IngredientMetadata struct {
	Description         string   `json:"description"`
	Benefits            []string `json:"benefits"`
	Concerns            []string `json:"concerns"`
	SkinTypes           []string `json:"skin_types"`
	ComedogenicRating   *int     `json:"comedogenic_rating"`
	IsControversial     bool     `json:"is_controversial"`
	RestrictedInRegions []string `json:"restricted_in"`
}

// ProductIngredients is the ingredient list returned for a single product.
type ProductIngredients struct {
	ProductID   string   `json:"id"`
	Ingredients []string `json:"ingredients"`
	KeyActives  []string `json:"key_ingredients,omitempty"`
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func clampScorePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := clampScore(*v)
	return &c
}
