package dupes

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/resilience"
	"github.com/sells-group/dupe-finder/internal/store"
	"github.com/sells-group/dupe-finder/pkg/upcitemdb"
)

// enrichAll looks up the original and every placeholder in the external
// product database concurrently. A miss or failure leaves that candidate
// unverified and never affects its siblings.
func (o *Orchestrator) enrichAll(ctx context.Context, original model.EnrichedCandidate, placeholders []Placeholder) map[string]model.EnrichedCandidate {
	candidates := make([]model.EnrichedCandidate, 0, len(placeholders)+1)
	candidates = append(candidates, original)
	for _, p := range placeholders {
		candidates = append(candidates, model.EnrichedCandidate{
			ID:         p.ID,
			Name:       p.Name,
			Brand:      p.Brand,
			MatchScore: p.MatchScore,
		})
	}

	var (
		mu  sync.Mutex
		out = make(map[string]model.EnrichedCandidate, len(candidates))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxFanout)
	for _, c := range candidates {
		g.Go(func() error {
			enriched := o.enrichOne(gctx, c)
			mu.Lock()
			out[c.ID] = enriched
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) enrichOne(ctx context.Context, c model.EnrichedCandidate) model.EnrichedCandidate {
	if o.products == nil {
		return c
	}
	log := zap.L().With(zap.String("product_id", c.ID), zap.String("stage", "external_lookup"))

	lookupCtx, cancel := context.WithTimeout(ctx, o.lookupTimeout)
	defer cancel()
	item, err := resilience.Call(lookupCtx, o.productsGuard, "search", true, func(ctx context.Context) (*upcitemdb.Item, error) {
		return o.products.Search(ctx, c.Brand+" "+c.Name)
	})
	if err != nil {
		log.Error("dupes: external lookup failed, continuing unverified", zap.Error(err))
		return c
	}
	if item == nil || !sameBrand(item.Brand, c.Brand) {
		log.Debug("dupes: no external match")
		return c
	}

	c = mergeItem(c, item)
	o.persistExternal(ctx, c)
	return c
}

// sameBrand rejects lookups that matched another brand's product. An empty
// brand on the item is accepted.
func sameBrand(itemBrand, want string) bool {
	if itemBrand == "" {
		return true
	}
	a, b := strings.ToLower(itemBrand), strings.ToLower(want)
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func mergeItem(c model.EnrichedCandidate, item *upcitemdb.Item) model.EnrichedCandidate {
	c.Verified = true
	c.Description = item.Description
	c.UPC = item.UPC
	c.EAN = item.EAN
	c.ASIN = item.ASIN
	c.Model = item.Model
	c.LowestPrice = item.LowestPrice.Ptr()
	c.HighestPx = item.HighestPx.Ptr()
	c.Images = item.Images
	for _, off := range item.Offers {
		if off.Link == "" {
			continue
		}
		c.Offers = append(c.Offers, model.ExternalOffer{
			Merchant:  off.Merchant,
			Domain:    off.Domain,
			Title:     off.Title,
			Price:     off.Price.Ptr(),
			ListPrice: off.ListPrice.Ptr(),
			Currency:  off.Currency,
			Shipping:  off.Shipping,
			Condition: off.Condition,
			Link:      off.Link,
		})
	}
	return c
}

// persistExternal writes verified identifiers, price bounds and offers.
func (o *Orchestrator) persistExternal(ctx context.Context, c model.EnrichedCandidate) {
	log := zap.L().With(zap.String("product_id", c.ID))
	verified := true
	u := store.ProductUpdate{
		LowestPx:  c.LowestPrice,
		HighestPx: c.HighestPx,
		Identifiers: &model.Identifiers{
			EAN:   c.EAN,
			UPC:   c.UPC,
			ASIN:  c.ASIN,
			Model: c.Model,
		},
		Verified: &verified,
	}
	if err := o.store.UpdateProduct(ctx, c.ID, u); err != nil {
		log.Error("dupes: persist external data failed", zap.Error(err))
	}

	if len(c.Offers) == 0 {
		return
	}
	offers := make([]model.Offer, 0, len(c.Offers))
	for _, off := range c.Offers {
		offers = append(offers, model.Offer{
			Merchant:  off.Merchant,
			Domain:    off.Domain,
			Title:     off.Title,
			Price:     off.Price,
			ListPrice: off.ListPrice,
			Currency:  off.Currency,
			Shipping:  off.Shipping,
			Condition: off.Condition,
			URL:       off.Link,
		})
	}
	if err := o.store.UpsertOffers(ctx, c.ID, offers); err != nil {
		log.Error("dupes: persist offers failed", zap.Int("offers", len(offers)), zap.Error(err))
	}
}
