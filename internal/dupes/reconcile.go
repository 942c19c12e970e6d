package dupes

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/slug"
)

// Placeholder is a dupe row created (or reused) before detailed analysis.
type Placeholder struct {
	ID         string
	Slug       string
	Name       string
	Brand      string
	MatchScore float64

	// Created is true when this run inserted the product row. Only created
	// rows are deleted when unconfirmed; reused rows lose just their edge.
	Created bool

	// Prune deletes a reused row after unlinking it, but only when no other
	// dupe edge references it in either direction.
	Prune bool
}

// ReconcileReport records how each analysis entry and placeholder was
// handled.
type ReconcileReport struct {
	Confirmed     []string
	MatchedByName []string
	Deleted       []string
	Unlinked      []string
	Unmatched     []string
}

// ReconcileStore is the store surface reconciliation writes through.
type ReconcileStore interface {
	DeleteProductCascade(ctx context.Context, id string) error
	DeleteDupe(ctx context.Context, originalID, dupeID string) error
	CountDupeRefs(ctx context.Context, productID string) (int, error)
}

// Reconcile maps analysis dupes back to placeholders and removes every
// placeholder the analysis did not confirm.
//
// An entry is confirmed by the id it echoes. An entry with a missing or
// unknown id is matched by product slug when exactly one unclaimed
// placeholder has it; that match is logged as low confidence. Any other
// entry is dropped and logged as unmatched. The returned map is keyed by
// placeholder id. Delete failures are joined into the returned error.
//
// Survivors lists the placeholders that are still dupes after Reconcile.
func Reconcile(ctx context.Context, st ReconcileStore, originalID string, analysis *model.DetailedAnalysis, placeholders []Placeholder) (map[string]model.DupeAnalysis, ReconcileReport, error) {
	log := zap.L().With(zap.String("product_id", originalID), zap.String("stage", "reconcile"))

	byID := make(map[string]Placeholder, len(placeholders))
	bySlug := make(map[string][]string, len(placeholders))
	for _, p := range placeholders {
		byID[p.ID] = p
		bySlug[p.Slug] = append(bySlug[p.Slug], p.ID)
	}

	var report ReconcileReport
	confirmed := make(map[string]model.DupeAnalysis, len(placeholders))
	var pending []model.DupeAnalysis

	for _, d := range analysis.Dupes {
		if _, ok := byID[d.ID]; ok {
			if _, dup := confirmed[d.ID]; dup {
				log.Warn("dupes: analysis repeated a dupe id, keeping first", zap.String("dupe_id", d.ID))
				continue
			}
			confirmed[d.ID] = d
			report.Confirmed = append(report.Confirmed, d.ID)
			continue
		}
		pending = append(pending, d)
	}

	for _, d := range pending {
		ids := bySlug[slug.Product(d.Brand, d.Name)]
		if len(ids) == 1 {
			if _, taken := confirmed[ids[0]]; !taken {
				log.Warn("dupes: low-confidence match by name",
					zap.String("dupe_id", ids[0]),
					zap.String("echoed_id", d.ID),
					zap.String("dupe", d.Brand+" "+d.Name))
				d.ID = ids[0]
				confirmed[d.ID] = d
				report.MatchedByName = append(report.MatchedByName, d.ID)
				continue
			}
		}
		log.Warn("dupes: unmatched analysis entry dropped",
			zap.String("echoed_id", d.ID),
			zap.String("dupe", d.Brand+" "+d.Name))
		report.Unmatched = append(report.Unmatched, d.Brand+" "+d.Name)
	}

	var errs []error
	for _, p := range placeholders {
		if _, ok := confirmed[p.ID]; ok {
			continue
		}
		if p.Created {
			log.Info("dupes: placeholder not confirmed, deleting", zap.String("dupe_id", p.ID))
			if err := st.DeleteProductCascade(ctx, p.ID); err != nil {
				log.Error("dupes: delete unconfirmed placeholder failed", zap.String("dupe_id", p.ID), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			report.Deleted = append(report.Deleted, p.ID)
			continue
		}
		log.Info("dupes: existing product not confirmed, unlinking", zap.String("dupe_id", p.ID))
		if err := st.DeleteDupe(ctx, originalID, p.ID); err != nil {
			log.Error("dupes: unlink unconfirmed dupe failed", zap.String("dupe_id", p.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		report.Unlinked = append(report.Unlinked, p.ID)
		if !p.Prune {
			continue
		}
		refs, err := st.CountDupeRefs(ctx, p.ID)
		if err != nil {
			log.Error("dupes: count dupe references failed", zap.String("dupe_id", p.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if refs > 0 {
			log.Info("dupes: unlinked dupe still referenced, keeping row",
				zap.String("dupe_id", p.ID), zap.Int("refs", refs))
			continue
		}
		if err := st.DeleteProductCascade(ctx, p.ID); err != nil {
			log.Error("dupes: delete orphaned dupe failed", zap.String("dupe_id", p.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		report.Deleted = append(report.Deleted, p.ID)
	}

	return confirmed, report, errors.Join(errs...)
}

// Survivors returns the placeholders present in confirmed, in their
// original order, carrying the analysis match score when one was given.
func Survivors(placeholders []Placeholder, confirmed map[string]model.DupeAnalysis) []Placeholder {
	out := make([]Placeholder, 0, len(confirmed))
	for _, p := range placeholders {
		d, ok := confirmed[p.ID]
		if !ok {
			continue
		}
		if d.MatchScore != nil {
			p.MatchScore = *d.MatchScore
		}
		out = append(out, p)
	}
	return out
}
