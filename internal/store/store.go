package store

import (
	"context"

	"github.com/sells-group/dupe-finder/internal/model"
)

// Store defines the persistence interface for product resolution.
type Store interface {
	// Products
	FindProductMatch(ctx context.Context, text string) (*model.Product, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) (created bool, err error)
	UpdateProduct(ctx context.Context, id string, u ProductUpdate) error
	SetLoadingFlag(ctx context.Context, id string, flag model.LoadingFlag, loading bool) error
	DeleteProductCascade(ctx context.Context, id string) error

	// Dupe edges
	UpsertDupe(ctx context.Context, d *model.ProductDupe) error
	UpdateDupeMetrics(ctx context.Context, d *model.ProductDupe) error
	DeleteDupe(ctx context.Context, originalID, dupeID string) error
	ListDupes(ctx context.Context, originalID string) ([]model.ProductDupe, error)
	CountDupeRefs(ctx context.Context, productID string) (int, error)

	// Brands
	FindBrandID(ctx context.Context, name string) (string, error)
	InsertBrand(ctx context.Context, b *model.Brand) (id string, created bool, err error)
	GetBrand(ctx context.Context, id string) (*model.Brand, error)
	UpdateBrandMetadata(ctx context.Context, id string, meta model.BrandMetadata) error

	// Ingredients
	FindIngredientID(ctx context.Context, name string) (string, error)
	InsertIngredient(ctx context.Context, in *model.Ingredient) (id string, created bool, err error)
	LinkIngredient(ctx context.Context, productID, ingredientID string, isKey bool) error

	// Secondary content
	UpsertResources(ctx context.Context, resources []model.Resource) (int64, error)
	UpsertOffers(ctx context.Context, productID string, offers []model.Offer) error
	UpsertReviews(ctx context.Context, reviews []model.Review) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
