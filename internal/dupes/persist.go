package dupes

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/store"
)

// target is a product row being written.
type target struct {
	ID       string
	Slug     string
	ImageURL string
}

// applyAnalysis reconciles the analysis and persists the original and every
// confirmed dupe. It returns the placeholders that survived reconciliation.
func (o *Orchestrator) applyAnalysis(ctx context.Context, original target, a *model.DetailedAnalysis, placeholders []Placeholder, enriched map[string]model.EnrichedCandidate) []Placeholder {
	confirmed, report, err := Reconcile(ctx, o.store, original.ID, a, placeholders)
	if err != nil {
		zap.L().Error("dupes: reconciliation incomplete", zap.String("product_id", original.ID), zap.Error(err))
	}
	zap.L().Info("dupes: reconciled",
		zap.String("product_id", original.ID),
		zap.Int("confirmed", len(report.Confirmed)),
		zap.Int("matched_by_name", len(report.MatchedByName)),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("unlinked", len(report.Unlinked)),
		zap.Int("unmatched", len(report.Unmatched)),
	)

	origEnriched := enriched[original.ID]
	origPrice := a.Original.Price
	if origPrice == nil {
		origPrice = origEnriched.LowestPrice
	}

	summary := strings.TrimSpace(a.Summary)
	o.persistProduct(ctx, original, &a.Original, origEnriched, summary)
	o.persistResources(ctx, original.ID, a.Resources)

	slugs := make(map[string]string, len(placeholders))
	for _, p := range placeholders {
		slugs[p.ID] = p.Slug
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxFanout)
	for id, d := range confirmed {
		g.Go(func() error {
			dupeEnriched := enriched[id]
			o.persistProduct(gctx, target{ID: id, Slug: slugs[id]}, &d.ProductAnalysis, dupeEnriched, "")

			dupePrice := d.Price
			if dupePrice == nil {
				dupePrice = dupeEnriched.LowestPrice
			}
			o.persistEdge(gctx, original.ID, id, d, origPrice, dupePrice)
			return nil
		})
	}
	_ = g.Wait()
	return Survivors(placeholders, confirmed)
}

// persistDegraded keeps coarse placeholders when detailed analysis failed:
// brands and images are still resolved from the enrichment data.
func (o *Orchestrator) persistDegraded(ctx context.Context, original target, placeholders []Placeholder, enriched map[string]model.EnrichedCandidate) {
	o.persistProduct(ctx, original, nil, enriched[original.ID], "")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxFanout)
	for _, p := range placeholders {
		g.Go(func() error {
			o.persistProduct(gctx, target{ID: p.ID, Slug: p.Slug}, nil, enriched[p.ID], "")
			return nil
		})
	}
	_ = g.Wait()
}

// persistProduct writes one product's analysis attributes, brand link, key
// ingredients and image. Each write is isolated.
func (o *Orchestrator) persistProduct(ctx context.Context, t target, pa *model.ProductAnalysis, ec model.EnrichedCandidate, summary string) {
	log := zap.L().With(zap.String("product_id", t.ID))
	u := updateFromAnalysis(pa)
	if summary != "" {
		u.Summary = &summary
	}

	brand := ec.Brand
	if pa != nil && strings.TrimSpace(pa.Brand) != "" {
		brand = pa.Brand
	}
	if strings.TrimSpace(brand) != "" {
		if id, err := o.brands.Resolve(ctx, brand); err != nil {
			log.Error("dupes: resolve brand failed", zap.String("brand", brand), zap.Error(err))
		} else {
			u.BrandID = &id
		}
	}

	if url := o.processImage(ctx, t, pa, ec); url != "" {
		u.ImageURL = &url
	}

	if err := o.store.UpdateProduct(ctx, t.ID, u); err != nil {
		log.Error("dupes: update product failed", zap.String("stage", "persist"), zap.Error(err))
	}

	if pa != nil {
		o.linkIngredients(ctx, t.ID, pa.KeyIngredients, true)
	}
}

func updateFromAnalysis(pa *model.ProductAnalysis) store.ProductUpdate {
	var u store.ProductUpdate
	if pa == nil {
		return u
	}
	optStr := func(s string) *string {
		if s = strings.TrimSpace(s); s == "" {
			return nil
		}
		return &s
	}
	u.Price = pa.Price
	u.Texture = optStr(pa.Texture)
	u.Finish = optStr(pa.Finish)
	u.Coverage = optStr(pa.Coverage)
	u.SPF = pa.SPF
	u.CountryOfOrigin = optStr(pa.CountryOfOrigin)
	u.CrueltyFree = pa.CrueltyFree
	u.Vegan = pa.Vegan
	if pa.Category != "" {
		c := model.ParseCategory(pa.Category)
		u.Category = &c
	}
	if len(pa.SkinTypes) > 0 {
		u.SkinTypes = pa.SkinTypes
	}
	if len(pa.FreeOf) > 0 {
		u.FreeOf = pa.FreeOf
	}
	if len(pa.BestFor) > 0 {
		u.BestFor = pa.BestFor
	}
	if len(pa.Attributes) > 0 {
		u.Attributes = pa.Attributes
	}
	return u
}

// processImage re-hosts the best available image. It returns "" when there
// is no source or processing failed.
func (o *Orchestrator) processImage(ctx context.Context, t target, pa *model.ProductAnalysis, ec model.EnrichedCandidate) string {
	if o.images == nil {
		return ""
	}
	var sources []string
	if len(ec.Images) > 0 {
		sources = append(sources, ec.Images[0])
	}
	if pa != nil && pa.ImageURL != "" {
		sources = append(sources, pa.ImageURL)
	}

	ctx, cancel := context.WithTimeout(ctx, o.imageTimeout)
	defer cancel()
	for _, src := range sources {
		if src == t.ImageURL {
			return ""
		}
		url, err := o.images.Process(ctx, src, "products/"+t.Slug)
		if err != nil {
			zap.L().Error("dupes: image processing failed",
				zap.String("product_id", t.ID), zap.String("source_url", src), zap.String("stage", "image"), zap.Error(err))
			continue
		}
		if url != "" {
			return url
		}
	}
	return ""
}

func (o *Orchestrator) linkIngredients(ctx context.Context, productID string, names []string, isKey bool) {
	for _, name := range names {
		id, err := o.ingredients.Resolve(ctx, name)
		if err != nil {
			zap.L().Error("dupes: resolve ingredient failed",
				zap.String("product_id", productID), zap.String("ingredient", name), zap.Error(err))
			continue
		}
		if err := o.store.LinkIngredient(ctx, productID, id, isKey); err != nil {
			zap.L().Error("dupes: link ingredient failed",
				zap.String("product_id", productID), zap.String("ingredient", name), zap.Error(err))
		}
	}
}

func (o *Orchestrator) persistEdge(ctx context.Context, originalID, dupeID string, d model.DupeAnalysis, origPrice, dupePrice *float64) {
	savings := d.SavingsPercentage
	if savings == nil {
		savings = Savings(origPrice, dupePrice)
	}
	edge := &model.ProductDupe{
		OriginalProductID: originalID,
		DupeProductID:     dupeID,
		MatchScore:        d.MatchScore,
		ColorMatchScore:   d.ColorMatchScore,
		FormulaMatchScore: d.FormulaMatchScore,
		SavingsPercentage: savings,
		ConfidenceLevel:   d.ConfidenceLevel,
		LongevityNote:     d.LongevityNote,
		ValidatedBy:       "detailed_analysis",
	}
	if err := o.store.UpdateDupeMetrics(ctx, edge); err != nil {
		zap.L().Error("dupes: update dupe metrics failed",
			zap.String("product_id", originalID), zap.String("dupe_id", dupeID), zap.Error(err))
	}
}

func (o *Orchestrator) persistResources(ctx context.Context, productID string, links []model.ResourceLink) {
	if len(links) == 0 {
		return
	}
	resources := make([]model.Resource, 0, len(links))
	for _, l := range links {
		resources = append(resources, model.Resource{
			ProductID:   productID,
			Title:       l.Title,
			URL:         strings.TrimSpace(l.URL),
			Type:        model.ParseResourceType(l.Type, l.URL),
			Description: l.Description,
			Author:      l.Author,
		})
	}
	if _, err := o.store.UpsertResources(ctx, resources); err != nil {
		zap.L().Error("dupes: upsert resources failed", zap.String("product_id", productID), zap.Error(err))
	}
}

var hundred = decimal.NewFromInt(100)

// Savings returns (original - dupe) / original * 100 rounded to the nearest
// whole percent, or nil when either price is unknown or original is not
// positive.
func Savings(original, dupe *float64) *float64 {
	if original == nil || dupe == nil || *original <= 0 || *dupe < 0 {
		return nil
	}
	o := decimal.NewFromFloat(*original)
	d := decimal.NewFromFloat(*dupe)
	pct := o.Sub(d).Div(o).Mul(hundred).Round(0)
	f := pct.InexactFloat64()
	return &f
}
