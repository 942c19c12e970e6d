// Package storetest provides an in-memory store.Store for pipeline tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/slug"
	"github.com/sells-group/dupe-finder/internal/store"
)

type link struct {
	ProductID, IngredientID string
	IsKey                   bool
}

// Memory implements store.Store over maps. It enforces the same unique keys
// as the Postgres schema. Fail, when set, is consulted before every write.
type Memory struct {
	mu sync.Mutex

	Products    map[string]*model.Product
	Dupes       map[[2]string]*model.ProductDupe
	Brands      map[string]*model.Brand
	Ingredients map[string]*model.Ingredient
	Links       map[[2]string]link
	Resources   map[[2]string]model.Resource
	Offers      map[string]model.Offer
	OfferLinks  map[[2]string]bool
	Reviews     map[[2]string]model.Review

	// FlagWrites records every SetLoadingFlag call in order.
	FlagWrites []FlagWrite
	// Writes records the op name of every write in order.
	Writes []string

	Fail func(op, id string) error
}

// FlagWrite is one recorded SetLoadingFlag call.
type FlagWrite struct {
	ProductID string
	Flag      model.LoadingFlag
	Loading   bool
}

var _ store.Store = (*Memory)(nil)

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		Products:    map[string]*model.Product{},
		Dupes:       map[[2]string]*model.ProductDupe{},
		Brands:      map[string]*model.Brand{},
		Ingredients: map[string]*model.Ingredient{},
		Links:       map[[2]string]link{},
		Resources:   map[[2]string]model.Resource{},
		Offers:      map[string]model.Offer{},
		OfferLinks:  map[[2]string]bool{},
		Reviews:     map[[2]string]model.Review{},
	}
}

func (m *Memory) write(op, id string) error {
	m.Writes = append(m.Writes, op)
	if m.Fail != nil {
		return m.Fail(op, id)
	}
	return nil
}

// AddProduct seeds a product, assigning an id and slug when missing.
func (m *Memory) AddProduct(p model.Product) *model.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Slug == "" {
		p.Slug = slug.Product(p.BrandName, p.Name)
	}
	m.Products[p.ID] = &p
	return &p
}

// Product returns a copy of the product with id, or nil.
func (m *Memory) Product(id string) *model.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Products[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// CountRefs returns how many dupe edges, ingredient links, resources, offer
// links and reviews reference productID.
func (m *Memory) CountRefs(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.Dupes {
		if k[0] == productID || k[1] == productID {
			n++
		}
	}
	for k := range m.Links {
		if k[0] == productID {
			n++
		}
	}
	for k := range m.Resources {
		if k[0] == productID {
			n++
		}
	}
	for k := range m.OfferLinks {
		if k[0] == productID {
			n++
		}
	}
	for k := range m.Reviews {
		if k[0] == productID {
			n++
		}
	}
	return n
}

func (m *Memory) FindProductMatch(_ context.Context, text string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	s := slug.Make(text)
	lower := strings.ToLower(text)
	var best *model.Product
	for _, p := range m.sortedProducts() {
		if p.Slug == s {
			cp := *p
			return &cp, nil
		}
		if best == nil && (strings.Contains(strings.ToLower(p.Name), lower) ||
			strings.Contains(strings.ToLower(p.BrandName), lower) ||
			strings.Contains(strings.ToLower(p.BrandName+" "+p.Name), lower)) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) sortedProducts() []*model.Product {
	out := make([]*model.Product, 0, len(m.Products))
	for _, p := range m.Products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (m *Memory) GetProduct(_ context.Context, id string) (*model.Product, error) {
	return m.Product(id), nil
}

func (m *Memory) GetProductBySlug(_ context.Context, s string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Products {
		if p.Slug == s {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateProduct(_ context.Context, p *model.Product) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("create_product", p.Slug); err != nil {
		return false, err
	}
	if p.Slug == "" {
		return false, eris.New("memory: create product: slug is required")
	}
	for _, existing := range m.Products {
		if existing.Slug == p.Slug {
			p.ID = existing.ID
			return false, nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Category == "" {
		p.Category = model.CategoryOther
	}
	cp := *p
	m.Products[p.ID] = &cp
	return true, nil
}

func (m *Memory) UpdateProduct(_ context.Context, id string, u store.ProductUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Empty() {
		return nil
	}
	if err := m.write("update_product", id); err != nil {
		return err
	}
	p, ok := m.Products[id]
	if !ok {
		return eris.Errorf("product not found: %s", id)
	}
	u.Apply(p)
	return nil
}

func (m *Memory) SetLoadingFlag(_ context.Context, id string, flag model.LoadingFlag, loading bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !flag.Valid() {
		return eris.Errorf("memory: unknown loading flag %q", flag)
	}
	m.FlagWrites = append(m.FlagWrites, FlagWrite{ProductID: id, Flag: flag, Loading: loading})
	if err := m.write("set_flag", id); err != nil {
		return err
	}
	p, ok := m.Products[id]
	if !ok {
		return nil
	}
	switch flag {
	case model.LoadingIngredients:
		p.LoadingIngredients = loading
	case model.LoadingReviews:
		p.LoadingReviews = loading
	case model.LoadingResources:
		p.LoadingResources = loading
	}
	return nil
}

func (m *Memory) DeleteProductCascade(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("delete_product", id); err != nil {
		return err
	}
	for k := range m.Dupes {
		if k[0] == id || k[1] == id {
			delete(m.Dupes, k)
		}
	}
	for k := range m.Links {
		if k[0] == id {
			delete(m.Links, k)
		}
	}
	for k := range m.Resources {
		if k[0] == id {
			delete(m.Resources, k)
		}
	}
	for k := range m.OfferLinks {
		if k[0] == id {
			delete(m.OfferLinks, k)
		}
	}
	for k := range m.Reviews {
		if k[0] == id {
			delete(m.Reviews, k)
		}
	}
	delete(m.Products, id)
	return nil
}

func (m *Memory) UpsertDupe(_ context.Context, d *model.ProductDupe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("upsert_dupe", d.DupeProductID); err != nil {
		return err
	}
	key := [2]string{d.OriginalProductID, d.DupeProductID}
	if existing, ok := m.Dupes[key]; ok {
		if d.MatchScore != nil {
			existing.MatchScore = d.MatchScore
		}
		if d.SavingsPercentage != nil {
			existing.SavingsPercentage = d.SavingsPercentage
		}
		d.ID = existing.ID
		return nil
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	cp := *d
	m.Dupes[key] = &cp
	return nil
}

func (m *Memory) UpdateDupeMetrics(_ context.Context, d *model.ProductDupe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("update_dupe", d.DupeProductID); err != nil {
		return err
	}
	existing, ok := m.Dupes[[2]string{d.OriginalProductID, d.DupeProductID}]
	if !ok {
		return eris.Errorf("dupe edge not found: %s -> %s", d.OriginalProductID, d.DupeProductID)
	}
	if d.MatchScore != nil {
		existing.MatchScore = d.MatchScore
	}
	if d.SavingsPercentage != nil {
		existing.SavingsPercentage = d.SavingsPercentage
	}
	existing.ColorMatchScore = d.ColorMatchScore
	existing.FormulaMatchScore = d.FormulaMatchScore
	existing.ConfidenceLevel = d.ConfidenceLevel
	existing.LongevityNote = d.LongevityNote
	existing.ValidatedBy = d.ValidatedBy
	return nil
}

func (m *Memory) DeleteDupe(_ context.Context, originalID, dupeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("delete_dupe", dupeID); err != nil {
		return err
	}
	delete(m.Dupes, [2]string{originalID, dupeID})
	return nil
}

func (m *Memory) CountDupeRefs(_ context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.Dupes {
		if k[0] == productID || k[1] == productID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListDupes(_ context.Context, originalID string) ([]model.ProductDupe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProductDupe
	for k, d := range m.Dupes {
		if k[0] == originalID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return score(out[i].MatchScore) > score(out[j].MatchScore) })
	return out, nil
}

func score(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

func (m *Memory) FindBrandID(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Brands[name]; ok {
		return b.ID, nil
	}
	return "", nil
}

func (m *Memory) InsertBrand(_ context.Context, b *model.Brand) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("insert_brand", b.Name); err != nil {
		return "", false, err
	}
	if existing, ok := m.Brands[b.Name]; ok {
		return existing.ID, false, nil
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	cp := *b
	m.Brands[b.Name] = &cp
	return b.ID, true, nil
}

func (m *Memory) GetBrand(_ context.Context, id string) (*model.Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Brands {
		if b.ID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateBrandMetadata(_ context.Context, id string, meta model.BrandMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("update_brand", id); err != nil {
		return err
	}
	for _, b := range m.Brands {
		if b.ID != id {
			continue
		}
		if meta.Description != "" {
			b.Description = meta.Description
		}
		if meta.PriceRange != "" {
			b.PriceRange = meta.PriceRange
		}
		if meta.CrueltyFree != nil {
			b.CrueltyFree = meta.CrueltyFree
		}
		if meta.Vegan != nil {
			b.Vegan = meta.Vegan
		}
		if meta.CountryOrigin != "" {
			b.CountryOrigin = meta.CountryOrigin
		}
		if meta.ParentCompany != "" {
			b.ParentCompany = meta.ParentCompany
		}
	}
	return nil
}

func (m *Memory) FindIngredientID(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.Ingredients[name]; ok {
		return in.ID, nil
	}
	return "", nil
}

func (m *Memory) InsertIngredient(_ context.Context, in *model.Ingredient) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("insert_ingredient", in.Name); err != nil {
		return "", false, err
	}
	if existing, ok := m.Ingredients[in.Name]; ok {
		return existing.ID, false, nil
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	cp := *in
	m.Ingredients[in.Name] = &cp
	return in.ID, true, nil
}

func (m *Memory) LinkIngredient(_ context.Context, productID, ingredientID string, isKey bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("link_ingredient", productID); err != nil {
		return err
	}
	key := [2]string{productID, ingredientID}
	l := m.Links[key]
	m.Links[key] = link{ProductID: productID, IngredientID: ingredientID, IsKey: l.IsKey || isKey}
	return nil
}

func (m *Memory) UpsertResources(_ context.Context, resources []model.Resource) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range resources {
		if r.URL == "" {
			continue
		}
		if err := m.write("upsert_resource", r.ProductID); err != nil {
			return n, err
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.Resources[[2]string{r.ProductID, r.URL}] = r
		n++
	}
	return n, nil
}

func (m *Memory) UpsertOffers(_ context.Context, productID string, offers []model.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("upsert_offers", productID); err != nil {
		return err
	}
	for _, o := range offers {
		if o.URL == "" {
			continue
		}
		if existing, ok := m.Offers[o.URL]; ok {
			o.ID = existing.ID
		} else if o.ID == "" {
			o.ID = uuid.NewString()
		}
		o.ProductID = productID
		m.Offers[o.URL] = o
		m.OfferLinks[[2]string{productID, o.ID}] = true
	}
	return nil
}

func (m *Memory) UpsertReviews(_ context.Context, reviews []model.Review) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range reviews {
		content := strings.TrimSpace(r.Content)
		if content == "" || r.ProductID == "" {
			continue
		}
		if err := m.write("upsert_review", r.ProductID); err != nil {
			return n, err
		}
		key := [2]string{r.ProductID, strings.ToLower(content)}
		if _, ok := m.Reviews[key]; ok {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.Reviews[key] = r
		n++
	}
	return n, nil
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
