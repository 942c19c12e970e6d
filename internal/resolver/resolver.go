// Package resolver finds or creates brand and ingredient rows by name.
//
// A miss triggers one LLM enrichment call. Enrichment failure still inserts
// a row with placeholder metadata since products reference the id. The
// insert is an ON CONFLICT upsert, so concurrent first-time resolutions of
// the same name converge on one row; a singleflight group additionally
// collapses them to a single enrichment call within the process.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/slug"
)

// BrandStore is the persistence surface the brand resolver needs.
type BrandStore interface {
	FindBrandID(ctx context.Context, name string) (string, error)
	InsertBrand(ctx context.Context, b *model.Brand) (string, bool, error)
}

// BrandEnricher describes a brand.
type BrandEnricher interface {
	EnrichBrand(ctx context.Context, name string) (*model.BrandMetadata, error)
}

// IngredientStore is the persistence surface the ingredient resolver needs.
type IngredientStore interface {
	FindIngredientID(ctx context.Context, name string) (string, error)
	InsertIngredient(ctx context.Context, in *model.Ingredient) (string, bool, error)
}

// IngredientEnricher describes an ingredient.
type IngredientEnricher interface {
	EnrichIngredient(ctx context.Context, name string) (*model.IngredientMetadata, error)
}

// sharedTimeout bounds a resolution shared by concurrent callers. It runs
// detached from any one caller's context, so a caller that gives up does not
// fail the others waiting on the same name.
const sharedTimeout = 2 * time.Minute

// shared runs fn once per key across concurrent callers. Each caller stops
// waiting when its own ctx ends.
func shared(ctx context.Context, g *singleflight.Group, key string, fn func(ctx context.Context) (string, error)) (string, error) {
	ch := g.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout)
		defer cancel()
		return fn(sctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", eris.Wrapf(ctx.Err(), "resolve %s", key)
	}
}

// Normalize trims name and collapses internal whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Brands resolves brand names to brand ids.
type Brands struct {
	store    BrandStore
	enricher BrandEnricher
	group    singleflight.Group
}

// NewBrands creates a brand resolver. enricher may be nil, in which case new
// brands are inserted with placeholder metadata.
func NewBrands(store BrandStore, enricher BrandEnricher) *Brands {
	return &Brands{store: store, enricher: enricher}
}

// Resolve returns the id of the brand named name, creating it if needed.
func (r *Brands) Resolve(ctx context.Context, name string) (string, error) {
	name = Normalize(name)
	if name == "" {
		return "", model.ValidationError("resolve brand", eris.New("brand name is empty"))
	}
	return shared(ctx, &r.group, name, func(ctx context.Context) (string, error) {
		return r.resolve(ctx, name)
	})
}

func (r *Brands) resolve(ctx context.Context, name string) (string, error) {
	id, err := r.store.FindBrandID(ctx, name)
	if err != nil {
		return "", model.PersistenceError("find brand "+name, err)
	}
	if id != "" {
		return id, nil
	}

	b := &model.Brand{Name: name, Slug: slug.Make(name)}
	if r.enricher != nil {
		meta, err := r.enricher.EnrichBrand(ctx, name)
		if err != nil {
			zap.L().Error("resolver: brand enrichment failed, using placeholder",
				zap.String("brand", name), zap.Error(err))
		} else if meta != nil {
			applyBrandMetadata(b, *meta)
		}
	}

	id, created, err := r.store.InsertBrand(ctx, b)
	if err != nil {
		return "", model.PersistenceError("insert brand "+name, err)
	}
	zap.L().Debug("resolver: brand resolved",
		zap.String("brand", name), zap.String("brand_id", id), zap.Bool("created", created))
	return id, nil
}

func applyBrandMetadata(b *model.Brand, m model.BrandMetadata) {
	b.Description = m.Description
	b.PriceRange = m.PriceRange
	b.CrueltyFree = m.CrueltyFree
	b.Vegan = m.Vegan
	b.CountryOrigin = m.CountryOrigin
	b.ParentCompany = m.ParentCompany
}

// Ingredients resolves ingredient names to ingredient ids.
type Ingredients struct {
	store    IngredientStore
	enricher IngredientEnricher
	group    singleflight.Group
}

// NewIngredients creates an ingredient resolver. enricher may be nil.
func NewIngredients(store IngredientStore, enricher IngredientEnricher) *Ingredients {
	return &Ingredients{store: store, enricher: enricher}
}

// Resolve returns the id of the ingredient named name, creating it if needed.
func (r *Ingredients) Resolve(ctx context.Context, name string) (string, error) {
	name = Normalize(name)
	if name == "" {
		return "", model.ValidationError("resolve ingredient", eris.New("ingredient name is empty"))
	}
	return shared(ctx, &r.group, name, func(ctx context.Context) (string, error) {
		return r.resolve(ctx, name)
	})
}

func (r *Ingredients) resolve(ctx context.Context, name string) (string, error) {
	id, err := r.store.FindIngredientID(ctx, name)
	if err != nil {
		return "", model.PersistenceError("find ingredient "+name, err)
	}
	if id != "" {
		return id, nil
	}

	in := &model.Ingredient{Name: name, Slug: slug.Make(name)}
	if r.enricher != nil {
		meta, err := r.enricher.EnrichIngredient(ctx, name)
		if err != nil {
			zap.L().Error("resolver: ingredient enrichment failed, using placeholder",
				zap.String("ingredient", name), zap.Error(err))
		} else if meta != nil {
			in.Description = meta.Description
			in.Benefits = meta.Benefits
			in.Concerns = meta.Concerns
			in.SkinTypes = meta.SkinTypes
			in.ComedogenicRating = meta.ComedogenicRating
			in.IsControversial = meta.IsControversial
			in.RestrictedInRegions = meta.RestrictedInRegions
		}
	}

	id, _, err = r.store.InsertIngredient(ctx, in)
	if err != nil {
		return "", model.PersistenceError("insert ingredient "+name, err)
	}
	return id, nil
}
