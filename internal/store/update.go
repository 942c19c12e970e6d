package store

import (
	"fmt"

	"github.com/sells-group/dupe-finder/internal/model"
)

// ProductUpdate lists the product columns to overwrite. Nil fields are left
// untouched so that enrichment never clobbers data it did not produce.
type ProductUpdate struct {
	Name            *string
	BrandName       *string
	BrandID         *string
	Price           *float64
	LowestPx        *float64
	HighestPx       *float64
	Category        *model.Category
	Texture         *string
	Finish          *string
	Coverage        *string
	SPF             *float64
	SkinTypes       []string
	FreeOf          []string
	BestFor         []string
	Attributes      []string
	CountryOfOrigin *string
	Identifiers     *model.Identifiers
	CrueltyFree     *bool
	Vegan           *bool
	ImageURL        *string
	Images          []string
	Summary         *string
	Verified        *bool
}

// Empty reports whether u would change nothing.
func (u ProductUpdate) Empty() bool {
	sets, _ := u.assignments()
	return len(sets) == 0
}

// assignments renders "col = $n" fragments in a fixed column order.
func (u ProductUpdate) assignments() ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.BrandName != nil {
		add("brand_name", *u.BrandName)
	}
	if u.BrandID != nil {
		add("brand_id", nilIfEmpty(*u.BrandID))
	}
	if u.Price != nil {
		add("price", *u.Price)
	}
	if u.LowestPx != nil {
		add("lowest_recorded_price", *u.LowestPx)
	}
	if u.HighestPx != nil {
		add("highest_recorded_price", *u.HighestPx)
	}
	if u.Category != nil {
		add("category", string(*u.Category))
	}
	if u.Texture != nil {
		add("texture", *u.Texture)
	}
	if u.Finish != nil {
		add("finish", *u.Finish)
	}
	if u.Coverage != nil {
		add("coverage", *u.Coverage)
	}
	if u.SPF != nil {
		add("spf", *u.SPF)
	}
	if u.SkinTypes != nil {
		add("skin_types", u.SkinTypes)
	}
	if u.FreeOf != nil {
		add("free_of", u.FreeOf)
	}
	if u.BestFor != nil {
		add("best_for", u.BestFor)
	}
	if u.Attributes != nil {
		add("attributes", u.Attributes)
	}
	if u.CountryOfOrigin != nil {
		add("country_of_origin", *u.CountryOfOrigin)
	}
	if id := u.Identifiers; id != nil {
		if id.EAN != "" {
			add("ean", id.EAN)
		}
		if id.UPC != "" {
			add("upc", id.UPC)
		}
		if id.GTIN != "" {
			add("gtin", id.GTIN)
		}
		if id.ASIN != "" {
			add("asin", id.ASIN)
		}
		if id.Model != "" {
			add("model", id.Model)
		}
	}
	if u.CrueltyFree != nil {
		add("cruelty_free", *u.CrueltyFree)
	}
	if u.Vegan != nil {
		add("vegan", *u.Vegan)
	}
	if u.ImageURL != nil {
		add("image_url", *u.ImageURL)
	}
	if u.Images != nil {
		add("images", u.Images)
	}
	if u.Summary != nil {
		add("summary", *u.Summary)
	}
	if u.Verified != nil {
		add("verified", *u.Verified)
	}
	return sets, args
}

// Apply copies the set fields of u onto p.
func (u ProductUpdate) Apply(p *model.Product) {
	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setStr(&p.Name, u.Name)
	setStr(&p.BrandName, u.BrandName)
	setStr(&p.BrandID, u.BrandID)
	setStr(&p.Texture, u.Texture)
	setStr(&p.Finish, u.Finish)
	setStr(&p.Coverage, u.Coverage)
	setStr(&p.CountryOfOrigin, u.CountryOfOrigin)
	setStr(&p.ImageURL, u.ImageURL)
	setStr(&p.Summary, u.Summary)
	if u.Price != nil {
		p.Price = u.Price
	}
	if u.LowestPx != nil {
		p.LowestPx = u.LowestPx
	}
	if u.HighestPx != nil {
		p.HighestPx = u.HighestPx
	}
	if u.SPF != nil {
		p.SPF = u.SPF
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.SkinTypes != nil {
		p.SkinTypes = u.SkinTypes
	}
	if u.FreeOf != nil {
		p.FreeOf = u.FreeOf
	}
	if u.BestFor != nil {
		p.BestFor = u.BestFor
	}
	if u.Attributes != nil {
		p.Attributes = u.Attributes
	}
	if u.Images != nil {
		p.Images = u.Images
	}
	if id := u.Identifiers; id != nil {
		setNonEmpty := func(dst *string, v string) {
			if v != "" {
				*dst = v
			}
		}
		setNonEmpty(&p.Identifiers.EAN, id.EAN)
		setNonEmpty(&p.Identifiers.UPC, id.UPC)
		setNonEmpty(&p.Identifiers.GTIN, id.GTIN)
		setNonEmpty(&p.Identifiers.ASIN, id.ASIN)
		setNonEmpty(&p.Identifiers.Model, id.Model)
	}
	if u.CrueltyFree != nil {
		p.CrueltyFree = u.CrueltyFree
	}
	if u.Vegan != nil {
		p.Vegan = u.Vegan
	}
	if u.Verified != nil {
		p.Verified = *u.Verified
	}
}
