// Package dupes resolves a product search into an original product plus its
// cheaper alternatives and persists the result.
//
// A search first checks the store and returns immediately on a match. On a
// miss it runs coarse identification, inserts placeholder rows, enriches
// every product from the external product database, runs detailed analysis,
// reconciles the analysis against the placeholders and persists what
// survived. Only the original's identification and insert are fatal; every
// later sub-entity failure is logged and isolated.
package dupes

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/resilience"
	"github.com/sells-group/dupe-finder/internal/slug"
	"github.com/sells-group/dupe-finder/internal/store"
	"github.com/sells-group/dupe-finder/pkg/upcitemdb"
)

// Analyzer runs the LLM stages the orchestrator depends on.
type Analyzer interface {
	Identify(ctx context.Context, text string) (*model.CoarseIdentification, error)
	IdentifyImage(ctx context.Context, data []byte, mimeType string) (*model.CoarseIdentification, error)
	Compare(ctx context.Context, original model.EnrichedCandidate, dupes []model.EnrichedCandidate) (*model.DetailedAnalysis, error)
}

// Resolver finds or creates an entity by name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ImageProcessor re-hosts an image and returns its public URL.
type ImageProcessor interface {
	Process(ctx context.Context, sourceURL, key string) (string, error)
}

// Dispatcher starts background population jobs for a freshly resolved
// product.
type Dispatcher interface {
	Dispatch(req model.JobRequest)
}

// Deps are the collaborators of an Orchestrator. Products, Images and Jobs
// are optional.
type Deps struct {
	Store         store.Store
	Analyzer      Analyzer
	Products      upcitemdb.Client
	ProductsGuard *resilience.Guard
	Brands        Resolver
	Ingredients   Resolver
	Images        ImageProcessor
	Jobs          Dispatcher

	MaxFanout     int
	LookupTimeout time.Duration
	ImageTimeout  time.Duration
}

// Orchestrator runs product searches.
type Orchestrator struct {
	store         store.Store
	analyzer      Analyzer
	products      upcitemdb.Client
	productsGuard *resilience.Guard
	brands        Resolver
	ingredients   Resolver
	images        ImageProcessor
	jobs          Dispatcher

	maxFanout     int
	lookupTimeout time.Duration
	imageTimeout  time.Duration
}

// New creates an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	if d.Store == nil || d.Analyzer == nil {
		return nil, eris.New("dupes: store and analyzer are required")
	}
	if d.Brands == nil || d.Ingredients == nil {
		return nil, eris.New("dupes: brand and ingredient resolvers are required")
	}
	o := &Orchestrator{
		store:         d.Store,
		analyzer:      d.Analyzer,
		products:      d.Products,
		productsGuard: d.ProductsGuard,
		brands:        d.Brands,
		ingredients:   d.Ingredients,
		images:        d.Images,
		jobs:          d.Jobs,
		maxFanout:     d.MaxFanout,
		lookupTimeout: d.LookupTimeout,
		imageTimeout:  d.ImageTimeout,
	}
	if o.maxFanout <= 0 {
		o.maxFanout = model.MaxCandidateDupes
	}
	if o.lookupTimeout <= 0 {
		o.lookupTimeout = 15 * time.Second
	}
	if o.imageTimeout <= 0 {
		o.imageTimeout = 60 * time.Second
	}
	return o, nil
}

// SearchResult identifies the original product a search resolved to.
type SearchResult struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Slug      string `json:"slug"`

	// Existing is true when the product was already stored and no
	// collaborator was called.
	Existing bool `json:"-"`
}

func resultFor(p *model.Product, existing bool) *SearchResult {
	return &SearchResult{ProductID: p.ID, Name: p.Name, Brand: p.BrandName, Slug: p.Slug, Existing: existing}
}

// Search resolves free text to an original product.
func (o *Orchestrator) Search(ctx context.Context, text string) (*SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.ValidationError("search", eris.New("searchText is required"))
	}

	existing, err := o.store.FindProductMatch(ctx, text)
	if err != nil {
		return nil, model.PersistenceError("find product match", err)
	}
	if existing != nil {
		zap.L().Info("dupes: existing product matched",
			zap.String("search", text), zap.String("product_id", existing.ID))
		return resultFor(existing, true), nil
	}

	ident, err := o.analyzer.Identify(ctx, text)
	if err != nil {
		return nil, err
	}
	return o.resolve(ctx, ident)
}

// SearchImage resolves a product photo to an original product.
func (o *Orchestrator) SearchImage(ctx context.Context, data []byte, mimeType string) (*SearchResult, error) {
	if len(data) == 0 {
		return nil, model.ValidationError("search image", eris.New("image is required"))
	}
	ident, err := o.analyzer.IdentifyImage(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return o.resolve(ctx, ident)
}

// resolve persists a coarse identification and runs the rest of the
// pipeline on it.
func (o *Orchestrator) resolve(ctx context.Context, ident *model.CoarseIdentification) (*SearchResult, error) {
	origSlug := slug.Product(ident.OriginalBrand, ident.OriginalName)
	log := zap.L().With(zap.String("slug", origSlug))

	// Identification can normalize different search texts onto one product.
	existing, err := o.store.GetProductBySlug(ctx, origSlug)
	if err != nil {
		return nil, model.PersistenceError("get product by slug", err)
	}
	if existing != nil {
		log.Info("dupes: identified product already stored", zap.String("product_id", existing.ID))
		return resultFor(existing, true), nil
	}

	original := placeholderProduct(ident.OriginalName, ident.OriginalBrand, origSlug)
	original.Category = model.ParseCategory(ident.OriginalCategory)
	created, err := o.store.CreateProduct(ctx, original)
	if err != nil {
		return nil, model.PersistenceError("create original product", err)
	}
	if !created {
		log.Info("dupes: original created concurrently", zap.String("product_id", original.ID))
		return resultFor(original, true), nil
	}
	log = log.With(zap.String("product_id", original.ID))

	placeholders := o.createPlaceholders(ctx, original.ID, ident.Dupes)
	log.Info("dupes: placeholders created", zap.Int("dupes", len(placeholders)))

	origCandidate := model.EnrichedCandidate{
		ID:       original.ID,
		Name:     original.Name,
		Brand:    original.BrandName,
		Category: string(original.Category),
	}
	enriched := o.enrichAll(ctx, origCandidate, placeholders)

	dupeCandidates := make([]model.EnrichedCandidate, len(placeholders))
	for i, p := range placeholders {
		dupeCandidates[i] = enriched[p.ID]
	}

	t := target{ID: original.ID, Slug: original.Slug}
	analysis, err := o.analyzer.Compare(ctx, enriched[original.ID], dupeCandidates)
	if err != nil {
		log.Error("dupes: detailed analysis failed, keeping coarse placeholders",
			zap.String("stage", "compare"), zap.Error(err))
		o.persistDegraded(ctx, t, placeholders, enriched)
	} else {
		placeholders = o.applyAnalysis(ctx, t, analysis, placeholders, enriched)
	}

	if o.jobs != nil {
		o.jobs.Dispatch(jobRequestFor(original, placeholders))
	}
	return resultFor(original, false), nil
}

// AnalyzeExisting re-runs detailed analysis and reconciliation for an
// original that is already stored. Without dupe ids in req the stored dupe
// edges are analyzed.
func (o *Orchestrator) AnalyzeExisting(ctx context.Context, req model.JobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	original, err := o.store.GetProduct(ctx, req.OriginalProductID)
	if err != nil {
		return model.PersistenceError("get original product", err)
	}
	if original == nil {
		return model.ValidationError("analyze existing", eris.Errorf("original product not found: %s", req.OriginalProductID))
	}

	if len(req.DupeProductIDs) == 0 {
		edges, err := o.store.ListDupes(ctx, original.ID)
		if err != nil {
			return model.PersistenceError("list dupes", err)
		}
		for _, e := range edges {
			req.DupeProductIDs = append(req.DupeProductIDs, e.DupeProductID)
			if e.MatchScore != nil {
				req.DupeInfo = append(req.DupeInfo, model.DupeInfo{ID: e.DupeProductID, MatchScore: *e.MatchScore})
			}
		}
	}

	enriched := map[string]model.EnrichedCandidate{original.ID: candidateFromProduct(original, 0)}
	var placeholders []Placeholder
	for _, id := range req.DupeProductIDs {
		p, err := o.store.GetProduct(ctx, id)
		if err != nil || p == nil {
			zap.L().Warn("dupes: skipping unknown dupe", zap.String("dupe_id", id), zap.Error(err))
			continue
		}
		// Stored dupes are only unlinked; the row goes once nothing else
		// references it.
		placeholders = append(placeholders, Placeholder{
			ID:    p.ID,
			Slug:  p.Slug,
			Name:  p.Name,
			Brand: p.BrandName,
			Prune: true,
		})
		enriched[p.ID] = candidateFromProduct(p, req.Dupe(id).MatchScore)
	}

	dupeCandidates := make([]model.EnrichedCandidate, len(placeholders))
	for i, p := range placeholders {
		dupeCandidates[i] = enriched[p.ID]
	}
	analysis, err := o.analyzer.Compare(ctx, enriched[original.ID], dupeCandidates)
	if err != nil {
		return err
	}
	_ = o.applyAnalysis(ctx, target{ID: original.ID, Slug: original.Slug}, analysis, placeholders, enriched)
	return nil
}

func placeholderProduct(name, brand, productSlug string) *model.Product {
	return &model.Product{
		Slug:               productSlug,
		Name:               name,
		BrandName:          brand,
		Category:           model.CategoryOther,
		LoadingIngredients: true,
		LoadingReviews:     true,
		LoadingResources:   true,
	}
}

// createPlaceholders inserts a product row and coarse edge per candidate.
// Failures drop that candidate only.
func (o *Orchestrator) createPlaceholders(ctx context.Context, originalID string, dupes []model.CandidateDupe) []Placeholder {
	out := make([]Placeholder, 0, len(dupes))
	seen := map[string]bool{originalID: true}
	for _, d := range dupes {
		p := placeholderProduct(d.Name, d.Brand, slug.Product(d.Brand, d.Name))
		created, err := o.store.CreateProduct(ctx, p)
		if err != nil {
			zap.L().Error("dupes: create dupe placeholder failed",
				zap.String("product_id", originalID), zap.String("dupe", p.Slug), zap.Error(err))
			continue
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		score := d.MatchScore
		edge := &model.ProductDupe{
			OriginalProductID: originalID,
			DupeProductID:     p.ID,
			MatchScore:        &score,
			ValidatedBy:       "coarse_identification",
		}
		if err := o.store.UpsertDupe(ctx, edge); err != nil {
			zap.L().Error("dupes: create dupe edge failed",
				zap.String("product_id", originalID), zap.String("dupe_id", p.ID), zap.Error(err))
			if created {
				o.dropPlaceholder(ctx, p.ID)
			}
			continue
		}
		out = append(out, Placeholder{
			ID:         p.ID,
			Slug:       p.Slug,
			Created:    created,
			Name:       p.Name,
			Brand:      p.BrandName,
			MatchScore: d.MatchScore,
		})
	}
	return out
}

func (o *Orchestrator) dropPlaceholder(ctx context.Context, id string) {
	if err := o.store.DeleteProductCascade(ctx, id); err != nil {
		zap.L().Error("dupes: drop orphan placeholder failed", zap.String("dupe_id", id), zap.Error(err))
	}
}

func jobRequestFor(original *model.Product, placeholders []Placeholder) model.JobRequest {
	req := model.JobRequest{
		OriginalProductID: original.ID,
		OriginalName:      original.Name,
		OriginalBrand:     original.BrandName,
	}
	for _, p := range placeholders {
		req.DupeProductIDs = append(req.DupeProductIDs, p.ID)
		req.DupeInfo = append(req.DupeInfo, model.DupeInfo{ID: p.ID, Name: p.Name, Brand: p.Brand, MatchScore: p.MatchScore})
	}
	return req
}

// candidateFromProduct rebuilds the enrichment payload from a stored row.
func candidateFromProduct(p *model.Product, matchScore float64) model.EnrichedCandidate {
	c := model.EnrichedCandidate{
		ID:          p.ID,
		Name:        p.Name,
		Brand:       p.BrandName,
		Category:    string(p.Category),
		MatchScore:  matchScore,
		Description: p.Summary,
		UPC:         p.Identifiers.UPC,
		EAN:         p.Identifiers.EAN,
		ASIN:        p.Identifiers.ASIN,
		Model:       p.Identifiers.Model,
		LowestPrice: p.LowestPx,
		HighestPx:   p.HighestPx,
		Images:      p.Images,
		Verified:    p.Verified,
	}
	if c.LowestPrice == nil {
		c.LowestPrice = p.Price
	}
	if p.ImageURL != "" {
		c.Images = append([]string{p.ImageURL}, c.Images...)
	}
	return c
}
