// Package jobs runs the background population jobs that fill in secondary
// product data after a search has returned.
//
// Every flagged job clears its loading flag on every product in the request
// when it returns, whether it succeeded or not. The clear runs on a fresh
// context and is the job's last write.
package jobs

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dupe-finder/internal/llm"
	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/store"
)

// Kind names a population job.
type Kind string

const (
	KindIngredients Kind = "ingredients"
	KindReviews     Kind = "reviews"
	KindResources   Kind = "resources"
	KindBrands      Kind = "brands"
)

// Kinds lists every job in dispatch order.
var Kinds = []Kind{KindIngredients, KindReviews, KindResources, KindBrands}

// ParseKind validates a job name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", model.ValidationError("parse job kind", eris.Errorf("unknown job %q", s))
}

// Flag returns the loading flag the job clears. Brands carry none.
func (k Kind) Flag() (model.LoadingFlag, bool) {
	switch k {
	case KindIngredients:
		return model.LoadingIngredients, true
	case KindReviews:
		return model.LoadingReviews, true
	case KindResources:
		return model.LoadingResources, true
	}
	return "", false
}

// Enricher is the LLM surface the jobs call.
type Enricher interface {
	ListIngredients(ctx context.Context, products []llm.ProductRef) ([]model.ProductIngredients, error)
	FindReviews(ctx context.Context, ref llm.ProductRef) ([]model.Review, error)
	FindResources(ctx context.Context, ref llm.ProductRef) ([]model.ResourceLink, error)
	EnrichBrand(ctx context.Context, name string) (*model.BrandMetadata, error)
}

// Resolver finds or creates an entity by name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Config tunes a Runner.
type Config struct {
	Timeout        time.Duration
	FlagTimeout    time.Duration
	MaxConcurrency int
	MaxFanout      int
}

// Runner executes population jobs.
type Runner struct {
	store       store.Store
	enricher    Enricher
	brands      Resolver
	ingredients Resolver

	timeout     time.Duration
	flagTimeout time.Duration
	maxFanout   int

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, enricher Enricher, brands, ingredients Resolver, cfg Config) (*Runner, error) {
	if st == nil || enricher == nil || brands == nil || ingredients == nil {
		return nil, eris.New("jobs: store, enricher and resolvers are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.FlagTimeout <= 0 {
		cfg.FlagTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxFanout <= 0 {
		cfg.MaxFanout = model.MaxCandidateDupes
	}
	return &Runner{
		store:       st,
		enricher:    enricher,
		brands:      brands,
		ingredients: ingredients,
		timeout:     cfg.Timeout,
		flagTimeout: cfg.FlagTimeout,
		maxFanout:   cfg.MaxFanout,
		sem:         make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Run executes one job to completion under the per-job timeout.
func (r *Runner) Run(ctx context.Context, kind Kind, req model.JobRequest) (err error) {
	if err := req.Validate(); err != nil {
		return err
	}
	if flag, ok := kind.Flag(); ok {
		defer r.clearFlag(flag, productIDs(req))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := zap.L().With(zap.String("job", string(kind)), zap.String("product_id", req.OriginalProductID))
	start := time.Now()
	defer func() {
		if err != nil {
			log.Error("jobs: job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			return
		}
		log.Info("jobs: job complete", zap.Duration("elapsed", time.Since(start)))
	}()

	switch kind {
	case KindIngredients:
		return r.populateIngredients(ctx, req)
	case KindReviews:
		return r.populateReviews(ctx, req)
	case KindResources:
		return r.populateResources(ctx, req)
	case KindBrands:
		return r.populateBrands(ctx, req)
	}
	return model.ValidationError("run job", eris.Errorf("unknown job %q", kind))
}

// Dispatch starts every job for req in the background. Jobs outlive the
// caller's request; Wait blocks until they finish.
func (r *Runner) Dispatch(req model.JobRequest) {
	for _, kind := range Kinds {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.sem <- struct{}{}
			defer func() { <-r.sem }()
			_ = r.Run(context.Background(), kind, req)
		}()
	}
}

// Wait blocks until every dispatched job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// clearFlag sets flag to false on every id using a context detached from
// the job so a cancelled or timed-out job still terminates polling.
func (r *Runner) clearFlag(flag model.LoadingFlag, ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.flagTimeout)
	defer cancel()
	for _, id := range ids {
		if err := r.store.SetLoadingFlag(ctx, id, flag, false); err != nil {
			zap.L().Error("jobs: clear loading flag failed",
				zap.String("product_id", id), zap.String("flag", string(flag)), zap.Error(err))
		}
	}
}

func productIDs(req model.JobRequest) []string {
	ids := make([]string, 0, len(req.DupeProductIDs)+1)
	seen := map[string]bool{}
	for _, id := range append([]string{req.OriginalProductID}, req.DupeProductIDs...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// refs resolves names for ids, reading the store when the request did not
// carry them. Unknown products are skipped.
func (r *Runner) refs(ctx context.Context, req model.JobRequest, ids []string) []llm.ProductRef {
	out := make([]llm.ProductRef, 0, len(ids))
	for _, id := range ids {
		ref := llm.ProductRef{ID: id}
		if id == req.OriginalProductID {
			ref.Name, ref.Brand = req.OriginalName, req.OriginalBrand
		} else {
			d := req.Dupe(id)
			ref.Name, ref.Brand = d.Name, d.Brand
		}
		if ref.Name == "" || ref.Brand == "" {
			p, err := r.store.GetProduct(ctx, id)
			if err != nil || p == nil {
				zap.L().Warn("jobs: skipping unknown product", zap.String("product_id", id), zap.Error(err))
				continue
			}
			ref.Name, ref.Brand = p.Name, p.BrandName
		}
		out = append(out, ref)
	}
	return out
}

// topScope is the original plus the best-scoring dupe.
func topScope(req model.JobRequest) []string {
	ids := []string{req.OriginalProductID}
	if top, ok := req.TopDupe(); ok && top.ID != req.OriginalProductID {
		ids = append(ids, top.ID)
	}
	return ids
}

func (r *Runner) populateIngredients(ctx context.Context, req model.JobRequest) error {
	refs := r.refs(ctx, req, productIDs(req))
	lists, err := r.enricher.ListIngredients(ctx, refs)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxFanout)
	for _, list := range lists {
		g.Go(func() error {
			if err := r.linkIngredients(gctx, list); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// linkIngredients resolves and links one product's ingredients. Key actives
// are linked with is_key set even when missing from the full list.
func (r *Runner) linkIngredients(ctx context.Context, list model.ProductIngredients) error {
	key := make(map[string]bool, len(list.KeyActives))
	for _, name := range list.KeyActives {
		key[strings.ToLower(name)] = true
	}
	names := append([]string(nil), list.Ingredients...)
	listed := make(map[string]bool, len(names))
	for _, name := range names {
		listed[strings.ToLower(name)] = true
	}
	for _, name := range list.KeyActives {
		if !listed[strings.ToLower(name)] {
			names = append(names, name)
		}
	}

	failed := 0
	for _, name := range names {
		id, err := r.ingredients.Resolve(ctx, name)
		if err != nil {
			zap.L().Error("jobs: resolve ingredient failed",
				zap.String("product_id", list.ProductID), zap.String("ingredient", name), zap.Error(err))
			failed++
			continue
		}
		if err := r.store.LinkIngredient(ctx, list.ProductID, id, key[strings.ToLower(name)]); err != nil {
			zap.L().Error("jobs: link ingredient failed",
				zap.String("product_id", list.ProductID), zap.String("ingredient", name), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return eris.Errorf("jobs: %d of %d ingredients failed for %s", failed, len(names), list.ProductID)
	}
	return nil
}

func (r *Runner) populateReviews(ctx context.Context, req model.JobRequest) error {
	return r.eachRef(ctx, r.refs(ctx, req, topScope(req)), func(ctx context.Context, ref llm.ProductRef) error {
		reviews, err := r.enricher.FindReviews(ctx, ref)
		if err != nil {
			return err
		}
		n, err := r.store.UpsertReviews(ctx, reviews)
		if err != nil {
			return model.PersistenceError("upsert reviews "+ref.ID, err)
		}
		zap.L().Debug("jobs: reviews stored", zap.String("product_id", ref.ID), zap.Int64("reviews", n))
		return nil
	})
}

func (r *Runner) populateResources(ctx context.Context, req model.JobRequest) error {
	return r.eachRef(ctx, r.refs(ctx, req, topScope(req)), func(ctx context.Context, ref llm.ProductRef) error {
		links, err := r.enricher.FindResources(ctx, ref)
		if err != nil {
			return err
		}
		resources := make([]model.Resource, 0, len(links))
		for _, l := range links {
			res := model.Resource{
				ProductID:   ref.ID,
				Title:       l.Title,
				URL:         l.URL,
				Type:        model.ParseResourceType(l.Type, l.URL),
				Description: l.Description,
				Author:      l.Author,
			}
			if res.Type == model.ResourceYouTube {
				res.VideoID = youtubeID(l.URL)
				if res.VideoID != "" {
					res.Thumbnail = "https://img.youtube.com/vi/" + res.VideoID + "/hqdefault.jpg"
				}
			}
			resources = append(resources, res)
		}
		n, err := r.store.UpsertResources(ctx, resources)
		if err != nil {
			return model.PersistenceError("upsert resources "+ref.ID, err)
		}
		zap.L().Debug("jobs: resources stored", zap.String("product_id", ref.ID), zap.Int64("resources", n))
		return nil
	})
}

// eachRef runs fn for every ref concurrently and joins the failures.
func (r *Runner) eachRef(ctx context.Context, refs []llm.ProductRef, fn func(context.Context, llm.ProductRef) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxFanout)
	for _, ref := range refs {
		g.Go(func() error {
			if err := fn(gctx, ref); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Runner) populateBrands(ctx context.Context, req model.JobRequest) error {
	refs := r.refs(ctx, req, productIDs(req))
	var (
		mu       sync.Mutex
		errs     []error
		enriched = map[string]bool{}
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxFanout)
	for _, ref := range refs {
		g.Go(func() error {
			brandID, err := r.brands.Resolve(gctx, ref.Brand)
			if err != nil {
				fail(err)
				return nil
			}
			if err := r.store.UpdateProduct(gctx, ref.ID, store.ProductUpdate{BrandID: &brandID}); err != nil {
				fail(model.PersistenceError("link brand "+ref.ID, err))
				return nil
			}

			mu.Lock()
			first := !enriched[brandID]
			enriched[brandID] = true
			mu.Unlock()
			if first {
				if err := r.fillBrand(gctx, brandID, ref.Brand); err != nil {
					fail(err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// fillBrand enriches a brand that was inserted with placeholder metadata.
func (r *Runner) fillBrand(ctx context.Context, id, name string) error {
	b, err := r.store.GetBrand(ctx, id)
	if err != nil {
		return model.PersistenceError("get brand "+id, err)
	}
	if b == nil || b.Description != "" {
		return nil
	}
	meta, err := r.enricher.EnrichBrand(ctx, name)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	if err := r.store.UpdateBrandMetadata(ctx, id, *meta); err != nil {
		return model.PersistenceError("update brand "+id, err)
	}
	return nil
}

// youtubeID extracts the video id from watch, short and embed URLs.
func youtubeID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch {
	case host == "youtu.be":
		return strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/v/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				return strings.SplitN(rest, "/", 2)[0]
			}
		}
	}
	return ""
}
