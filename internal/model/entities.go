package model

import (
	"strings"
	"time"
)

// Brand is found-or-created by exact name and never duplicated.
type Brand struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Description   string    `json:"description,omitempty"`
	PriceRange    string    `json:"price_range,omitempty"`
	CrueltyFree   *bool     `json:"cruelty_free,omitempty"`
	Vegan         *bool     `json:"vegan,omitempty"`
	CountryOrigin string    `json:"country_of_origin,omitempty"`
	ParentCompany string    `json:"parent_company,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ingredient is shared across products through product_ingredients.
type Ingredient struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Slug                string    `json:"slug"`
	Description         string    `json:"description,omitempty"`
	Benefits            []string  `json:"benefits,omitempty"`
	Concerns            []string  `json:"concerns,omitempty"`
	SkinTypes           []string  `json:"skin_types,omitempty"`
	ComedogenicRating   *int      `json:"comedogenic_rating,omitempty"`
	IsControversial     bool      `json:"is_controversial"`
	RestrictedInRegions []string  `json:"restricted_in,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// ResourceType is the constrained resources.type column.
type ResourceType string

const (
	ResourceVideo     ResourceType = "Video"
	ResourceYouTube   ResourceType = "YouTube"
	ResourceInstagram ResourceType = "Instagram"
	ResourceTikTok    ResourceType = "TikTok"
	ResourceArticle   ResourceType = "Article"
	ResourceReddit    ResourceType = "Reddit"
)

// ParseResourceType maps a type label, or failing that the URL host, onto
// the enum. Unknown inputs become Article.
func ParseResourceType(label, url string) ResourceType {
	switch ResourceType(label) {
	case ResourceVideo, ResourceYouTube, ResourceInstagram, ResourceTikTok, ResourceArticle, ResourceReddit:
		return ResourceType(label)
	}
	switch {
	case containsAny(url, "youtube.com", "youtu.be"):
		return ResourceYouTube
	case containsAny(url, "instagram.com"):
		return ResourceInstagram
	case containsAny(url, "tiktok.com"):
		return ResourceTikTok
	case containsAny(url, "reddit.com"):
		return ResourceReddit
	}
	return ResourceArticle
}

// Resource is external content attached to a product, brand or ingredient.
type Resource struct {
	ID           string       `json:"id"`
	ProductID    string       `json:"product_id,omitempty"`
	BrandID      string       `json:"brand_id,omitempty"`
	IngredientID string       `json:"ingredient_id,omitempty"`
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	Type         ResourceType `json:"type"`
	Description  string       `json:"description,omitempty"`
	Author       string       `json:"author_name,omitempty"`
	VideoID      string       `json:"video_id,omitempty"`
	Thumbnail    string       `json:"thumbnail_url,omitempty"`
}

// Offer is a merchant purchase option, linked to products via product_offers.
type Offer struct {
	ID        string   `json:"id"`
	ProductID string   `json:"product_id"`
	Merchant  string   `json:"merchant"`
	Domain    string   `json:"domain,omitempty"`
	Title     string   `json:"title,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	ListPrice *float64 `json:"list_price,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Shipping  string   `json:"shipping,omitempty"`
	Condition string   `json:"condition,omitempty"`
	URL       string   `json:"url"`
}

// Review is a third-party review excerpt written by the reviews job.
type Review struct {
	ID          string   `json:"id"`
	ProductID   string   `json:"product_id"`
	Rating      *float64 `json:"rating,omitempty"`
	Content     string   `json:"content"`
	Source      string   `json:"source,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	VerifiedBuy bool     `json:"verified_purchase"`
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
