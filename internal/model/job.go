package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// DupeInfo is the per-dupe context handed to background jobs.
type DupeInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	MatchScore float64 `json:"matchScore,omitempty"`
}

// JobRequest is the payload accepted by every background population job.
type JobRequest struct {
	OriginalProductID string     `json:"originalProductId"`
	DupeProductIDs    []string   `json:"dupeProductIds"`
	OriginalName      string     `json:"originalName"`
	OriginalBrand     string     `json:"originalBrand"`
	DupeInfo          []DupeInfo `json:"dupeInfo"`
}

// Validate requires the original id and drops blank dupe ids.
func (r *JobRequest) Validate() error {
	r.OriginalProductID = strings.TrimSpace(r.OriginalProductID)
	if r.OriginalProductID == "" {
		return ValidationError("validate job request", eris.New("originalProductId is required"))
	}
	ids := r.DupeProductIDs[:0]
	for _, id := range r.DupeProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	r.DupeProductIDs = ids
	return nil
}

// TopDupe returns the dupe with the highest match score, preferring the
// order of DupeProductIDs when DupeInfo is empty. ok is false when there
// are no dupes.
func (r *JobRequest) TopDupe() (DupeInfo, bool) {
	if len(r.DupeInfo) > 0 {
		best := r.DupeInfo[0]
		for _, d := range r.DupeInfo[1:] {
			if d.MatchScore > best.MatchScore {
				best = d
			}
		}
		return best, true
	}
	if len(r.DupeProductIDs) > 0 {
		return DupeInfo{ID: r.DupeProductIDs[0]}, true
	}
	return DupeInfo{}, false
}

// Dupe returns the DupeInfo for id, falling back to an id-only entry.
func (r *JobRequest) Dupe(id string) DupeInfo {
	for _, d := range r.DupeInfo {
		if d.ID == id {
			return d
		}
	}
	return DupeInfo{ID: id}
}
