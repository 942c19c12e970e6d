package model

import (
	"strings"
	"time"
)

// Category is the fixed product classification used by the products table.
type Category string

const (
	CategoryFoundation   Category = "Foundation"
	CategoryConcealer    Category = "Concealer"
	CategoryPowder       Category = "Powder"
	CategoryBlush        Category = "Blush"
	CategoryBronzer      Category = "Bronzer"
	CategoryHighlighter  Category = "Highlighter"
	CategoryEyeshadow    Category = "Eyeshadow"
	CategoryEyeliner     Category = "Eyeliner"
	CategoryMascara      Category = "Mascara"
	CategoryLipstick     Category = "Lipstick"
	CategoryLipGloss     Category = "Lip Gloss"
	CategoryLipLiner     Category = "Lip Liner"
	CategorySettingSpray Category = "Setting Spray"
	CategoryPrimer       Category = "Primer"
	CategoryMoisturizer  Category = "Moisturizer"
	CategorySerum        Category = "Serum"
	CategoryCleanser     Category = "Cleanser"
	CategoryToner        Category = "Toner"
	CategorySunscreen    Category = "Sunscreen"
	CategoryFaceMask     Category = "Face Mask"
	CategoryExfoliator   Category = "Exfoliator"
	CategoryEyeCream     Category = "Eye Cream"
	CategoryFaceOil      Category = "Face Oil"
	CategoryOther        Category = "Other"
)

// Categories lists every allowed category in schema order.
var Categories = []Category{
	CategoryFoundation, CategoryConcealer, CategoryPowder, CategoryBlush, CategoryBronzer,
	CategoryHighlighter, CategoryEyeshadow, CategoryEyeliner, CategoryMascara, CategoryLipstick,
	CategoryLipGloss, CategoryLipLiner, CategorySettingSpray, CategoryPrimer, CategoryMoisturizer,
	CategorySerum, CategoryCleanser, CategoryToner, CategorySunscreen, CategoryFaceMask,
	CategoryExfoliator, CategoryEyeCream, CategoryFaceOil, CategoryOther,
}

// ParseCategory maps free-form LLM output onto the enum. Matching is
// case-insensitive and tolerates plural forms; anything else is Other.
func ParseCategory(s string) Category {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryOther
	}
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) || strings.EqualFold(strings.TrimSuffix(s, "s"), string(c)) {
			return c
		}
	}
	return CategoryOther
}

// Product is a row in the products table. Whether a product is an original
// or a dupe is decided only by the product_dupes edges that reference it.
type Product struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	BrandName string `json:"brand"`
	BrandID   string `json:"brand_id,omitempty"`

	Price     *float64 `json:"price,omitempty"`
	LowestPx  *float64 `json:"lowest_recorded_price,omitempty"`
	HighestPx *float64 `json:"highest_recorded_price,omitempty"`

	Category   Category `json:"category"`
	Texture    string   `json:"texture,omitempty"`
	Finish     string   `json:"finish,omitempty"`
	Coverage   string   `json:"coverage,omitempty"`
	SPF        *float64 `json:"spf,omitempty"`
	SkinTypes  []string `json:"skin_types,omitempty"`
	FreeOf     []string `json:"free_of,omitempty"`
	BestFor    []string `json:"best_for,omitempty"`
	Attributes []string `json:"attributes,omitempty"`

	CountryOfOrigin string      `json:"country_of_origin,omitempty"`
	Identifiers     Identifiers `json:"identifiers"`

	CrueltyFree *bool `json:"cruelty_free,omitempty"`
	Vegan       *bool `json:"vegan,omitempty"`

	ImageURL string   `json:"image_url,omitempty"`
	Images   []string `json:"images,omitempty"`

	Summary  string `json:"summary,omitempty"`
	Verified bool   `json:"verified"`

	LoadingIngredients bool `json:"loading_ingredients"`
	LoadingReviews     bool `json:"loading_reviews"`
	LoadingResources   bool `json:"loading_resources"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identifiers holds external product codes.
type Identifiers struct {
	EAN   string `json:"ean,omitempty"`
	UPC   string `json:"upc,omitempty"`
	GTIN  string `json:"gtin,omitempty"`
	ASIN  string `json:"asin,omitempty"`
	Model string `json:"model,omitempty"`
}

// ProductDupe is the directed original → dupe edge with comparison metrics.
type ProductDupe struct {
	ID                string   `json:"id"`
	OriginalProductID string   `json:"original_product_id"`
	DupeProductID     string   `json:"dupe_product_id"`
	MatchScore        *float64 `json:"match_score,omitempty"`
	ColorMatchScore   *float64 `json:"color_match_score,omitempty"`
	FormulaMatchScore *float64 `json:"formula_match_score,omitempty"`
	SavingsPercentage *float64 `json:"savings_percentage,omitempty"`
	ConfidenceLevel   string   `json:"confidence_level,omitempty"`
	LongevityNote     string   `json:"longevity_comparison,omitempty"`
	ValidatedBy       string   `json:"validated_by,omitempty"`
}

// LoadingFlag names one of the products.loading_* columns.
type LoadingFlag string

const (
	LoadingIngredients LoadingFlag = "loading_ingredients"
	LoadingReviews     LoadingFlag = "loading_reviews"
	LoadingResources   LoadingFlag = "loading_resources"
)

// Valid reports whether f is a known loading column.
func (f LoadingFlag) Valid() bool {
	switch f {
	case LoadingIngredients, LoadingReviews, LoadingResources:
		return true
	}
	return false
}
