package store

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dupe-finder/internal/db"
	"github.com/sells-group/dupe-finder/internal/model"
	"github.com/sells-group/dupe-finder/internal/slug"
)

//go:embed schema.sql
var postgresMigration string

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Products ---

const productColumns = `id, slug, name, brand_name, COALESCE(brand_id, ''),
	price, lowest_recorded_price, highest_recorded_price,
	category, COALESCE(texture, ''), COALESCE(finish, ''), COALESCE(coverage, ''), spf,
	skin_types, free_of, best_for, attributes,
	COALESCE(country_of_origin, ''), COALESCE(ean, ''), COALESCE(upc, ''), COALESCE(gtin, ''), COALESCE(asin, ''), COALESCE(model, ''),
	cruelty_free, vegan, COALESCE(image_url, ''), images, COALESCE(summary, ''), verified,
	loading_ingredients, loading_reviews, loading_resources, created_at, updated_at`

func productDests(p *model.Product) []any {
	return []any{
		&p.ID, &p.Slug, &p.Name, &p.BrandName, &p.BrandID,
		&p.Price, &p.LowestPx, &p.HighestPx,
		&p.Category, &p.Texture, &p.Finish, &p.Coverage, &p.SPF,
		&p.SkinTypes, &p.FreeOf, &p.BestFor, &p.Attributes,
		&p.CountryOfOrigin, &p.Identifiers.EAN, &p.Identifiers.UPC, &p.Identifiers.GTIN, &p.Identifiers.ASIN, &p.Identifiers.Model,
		&p.CrueltyFree, &p.Vegan, &p.ImageURL, &p.Images, &p.Summary, &p.Verified,
		&p.LoadingIngredients, &p.LoadingReviews, &p.LoadingResources, &p.CreatedAt, &p.UpdatedAt,
	}
}

func (s *PostgresStore) scanOneProduct(ctx context.Context, op, query string, args ...any) (*model.Product, error) {
	p := &model.Product{}
	err := s.pool.QueryRow(ctx, query, args...).Scan(productDests(p)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	return p, nil
}

// FindProductMatch returns the best existing product for free-text input:
// an exact slug hit first, then a case-insensitive substring match on name,
// brand, or "brand name". Returns nil when nothing matches.
func (s *PostgresStore) FindProductMatch(ctx context.Context, text string) (*model.Product, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(text) + "%"
	return s.scanOneProduct(ctx, "find product match",
		`SELECT `+productColumns+` FROM products
		WHERE slug = $1 OR name ILIKE $2 OR brand_name ILIKE $2 OR (brand_name || ' ' || name) ILIKE $2
		ORDER BY (slug = $1) DESC, (name ILIKE $2) DESC, created_at ASC
		LIMIT 1`,
		slug.Make(text), pattern,
	)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return s.scanOneProduct(ctx, "get product "+id, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (s *PostgresStore) GetProductBySlug(ctx context.Context, slug string) (*model.Product, error) {
	return s.scanOneProduct(ctx, "get product by slug "+slug, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
}

// CreateProduct inserts p keyed by its slug. When a product with the same
// slug already exists, p.ID is set to the existing row and created is false.
func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) (bool, error) {
	if p.Slug == "" {
		return false, eris.New("postgres: create product: slug is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Category == "" {
		p.Category = model.CategoryOther
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (
			id, slug, name, brand_name, brand_id, price, category, image_url, verified,
			loading_ingredients, loading_reviews, loading_resources
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (slug) DO NOTHING
		RETURNING id`,
		p.ID, p.Slug, p.Name, p.BrandName, nilIfEmpty(p.BrandID), p.Price, string(p.Category), nilIfEmpty(p.ImageURL), p.Verified,
		p.LoadingIngredients, p.LoadingReviews, p.LoadingResources,
	).Scan(&id)
	if err == nil {
		p.ID = id
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(err, "postgres: insert product %s", p.Slug)
	}

	if err := s.pool.QueryRow(ctx, `SELECT id FROM products WHERE slug = $1`, p.Slug).Scan(&id); err != nil {
		return false, eris.Wrapf(err, "postgres: reselect product %s", p.Slug)
	}
	p.ID = id
	return false, nil
}

// UpdateProduct writes only the columns set in u.
func (s *PostgresStore) UpdateProduct(ctx context.Context, id string, u ProductUpdate) error {
	sets, args := u.assignments()
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE products SET %s, updated_at = now() WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update product %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("product not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetLoadingFlag(ctx context.Context, id string, flag model.LoadingFlag, loading bool) error {
	if !flag.Valid() {
		return eris.Errorf("postgres: unknown loading flag %q", flag)
	}
	col := pgx.Identifier{string(flag)}.Sanitize()
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE products SET %s = $1, updated_at = now() WHERE id = $2`, col),
		loading, id,
	)
	return eris.Wrapf(err, "postgres: set %s on %s", flag, id)
}

// cascadeDeletes removes every row referencing a product, children first.
var cascadeDeletes = []string{
	`DELETE FROM product_dupes WHERE original_product_id = $1 OR dupe_product_id = $1`,
	`DELETE FROM product_ingredients WHERE product_id = $1`,
	`DELETE FROM resources WHERE product_id = $1`,
	`WITH unlinked AS (DELETE FROM product_offers WHERE product_id = $1 RETURNING offer_id)
	DELETE FROM offers WHERE id IN (SELECT offer_id FROM unlinked)
		AND id NOT IN (SELECT offer_id FROM product_offers WHERE product_id <> $1)`,
	`DELETE FROM reviews WHERE product_id = $1`,
	`DELETE FROM products WHERE id = $1`,
}

// DeleteProductCascade removes a product and all rows that reference it in
// a single transaction.
func (s *PostgresStore) DeleteProductCascade(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range cascadeDeletes {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return eris.Wrapf(err, "postgres: cascade delete product %s", id)
			}
		}
		return nil
	})
}

// --- Dupe edges ---

// UpsertDupe inserts the original → dupe edge, or refreshes the metrics of
// an existing one.
func (s *PostgresStore) UpsertDupe(ctx context.Context, d *model.ProductDupe) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO product_dupes (
			id, original_product_id, dupe_product_id, match_score, savings_percentage, validated_by
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (original_product_id, dupe_product_id) DO UPDATE SET
			match_score = COALESCE(EXCLUDED.match_score, product_dupes.match_score),
			savings_percentage = COALESCE(EXCLUDED.savings_percentage, product_dupes.savings_percentage)
		RETURNING id`,
		d.ID, d.OriginalProductID, d.DupeProductID, d.MatchScore, d.SavingsPercentage, nilIfEmpty(d.ValidatedBy),
	).Scan(&d.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert dupe %s -> %s", d.OriginalProductID, d.DupeProductID)
	}
	return nil
}

// UpdateDupeMetrics writes the detailed comparison metrics onto an edge.
func (s *PostgresStore) UpdateDupeMetrics(ctx context.Context, d *model.ProductDupe) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE product_dupes SET
			match_score = COALESCE($3, match_score),
			color_match_score = $4,
			formula_match_score = $5,
			savings_percentage = COALESCE($6, savings_percentage),
			confidence_level = $7,
			longevity_comparison = $8,
			validated_by = $9
		WHERE original_product_id = $1 AND dupe_product_id = $2`,
		d.OriginalProductID, d.DupeProductID, d.MatchScore, d.ColorMatchScore, d.FormulaMatchScore,
		d.SavingsPercentage, nilIfEmpty(d.ConfidenceLevel), nilIfEmpty(d.LongevityNote), nilIfEmpty(d.ValidatedBy),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update dupe metrics %s -> %s", d.OriginalProductID, d.DupeProductID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dupe edge not found: %s -> %s", d.OriginalProductID, d.DupeProductID)
	}
	return nil
}

func (s *PostgresStore) DeleteDupe(ctx context.Context, originalID, dupeID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM product_dupes WHERE original_product_id = $1 AND dupe_product_id = $2`,
		originalID, dupeID,
	)
	return eris.Wrapf(err, "postgres: delete dupe %s -> %s", originalID, dupeID)
}

// CountDupeRefs counts dupe edges that reference productID as either side.
func (s *PostgresStore) CountDupeRefs(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_dupes WHERE original_product_id = $1 OR dupe_product_id = $1`,
		productID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count dupe refs %s", productID)
	}
	return n, nil
}

func (s *PostgresStore) ListDupes(ctx context.Context, originalID string) ([]model.ProductDupe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, original_product_id, dupe_product_id, match_score, color_match_score, formula_match_score,
			savings_percentage, COALESCE(confidence_level, ''), COALESCE(longevity_comparison, ''), COALESCE(validated_by, '')
		FROM product_dupes WHERE original_product_id = $1
		ORDER BY match_score DESC NULLS LAST`, originalID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list dupes %s", originalID)
	}
	defer rows.Close()

	var out []model.ProductDupe
	for rows.Next() {
		var d model.ProductDupe
		if err := rows.Scan(&d.ID, &d.OriginalProductID, &d.DupeProductID, &d.MatchScore, &d.ColorMatchScore,
			&d.FormulaMatchScore, &d.SavingsPercentage, &d.ConfidenceLevel, &d.LongevityNote, &d.ValidatedBy); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dupe")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate dupes")
}

// --- Brands ---

func (s *PostgresStore) FindBrandID(ctx context.Context, name string) (string, error) {
	return s.findID(ctx, "find brand "+name, `SELECT id FROM brands WHERE name = $1`, name)
}

// InsertBrand inserts b unless a brand with the same name exists, in which
// case the existing id is returned with created=false.
func (s *PostgresStore) InsertBrand(ctx context.Context, b *model.Brand) (string, bool, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return s.insertOrReselect(ctx, "brand "+b.Name,
		`INSERT INTO brands (id, name, slug, description, price_range, cruelty_free, vegan, country_of_origin, parent_company)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO NOTHING
		RETURNING id`,
		[]any{b.ID, b.Name, b.Slug, nilIfEmpty(b.Description), nilIfEmpty(b.PriceRange), b.CrueltyFree, b.Vegan,
			nilIfEmpty(b.CountryOrigin), nilIfEmpty(b.ParentCompany)},
		`SELECT id FROM brands WHERE name = $1`, b.Name,
	)
}

func (s *PostgresStore) GetBrand(ctx context.Context, id string) (*model.Brand, error) {
	b := &model.Brand{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, COALESCE(description, ''), COALESCE(price_range, ''), cruelty_free, vegan,
			COALESCE(country_of_origin, ''), COALESCE(parent_company, ''), created_at
		FROM brands WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Slug, &b.Description, &b.PriceRange, &b.CrueltyFree, &b.Vegan,
		&b.CountryOrigin, &b.ParentCompany, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get brand %s", id)
	}
	return b, nil
}

// UpdateBrandMetadata fills enrichment columns, keeping existing values
// where the new metadata is empty.
func (s *PostgresStore) UpdateBrandMetadata(ctx context.Context, id string, meta model.BrandMetadata) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE brands SET
			description = COALESCE($2, description),
			price_range = COALESCE($3, price_range),
			cruelty_free = COALESCE($4, cruelty_free),
			vegan = COALESCE($5, vegan),
			country_of_origin = COALESCE($6, country_of_origin),
			parent_company = COALESCE($7, parent_company),
			updated_at = now()
		WHERE id = $1`,
		id, nilIfEmpty(meta.Description), nilIfEmpty(meta.PriceRange), meta.CrueltyFree, meta.Vegan,
		nilIfEmpty(meta.CountryOrigin), nilIfEmpty(meta.ParentCompany),
	)
	return eris.Wrapf(err, "postgres: update brand %s", id)
}

// --- Ingredients ---

func (s *PostgresStore) FindIngredientID(ctx context.Context, name string) (string, error) {
	return s.findID(ctx, "find ingredient "+name, `SELECT id FROM ingredients WHERE name = $1`, name)
}

func (s *PostgresStore) InsertIngredient(ctx context.Context, in *model.Ingredient) (string, bool, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	return s.insertOrReselect(ctx, "ingredient "+in.Name,
		`INSERT INTO ingredients (id, name, slug, description, benefits, concerns, skin_types, comedogenic_rating, is_controversial, restricted_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO NOTHING
		RETURNING id`,
		[]any{in.ID, in.Name, in.Slug, nilIfEmpty(in.Description), in.Benefits, in.Concerns, in.SkinTypes,
			in.ComedogenicRating, in.IsControversial, in.RestrictedInRegions},
		`SELECT id FROM ingredients WHERE name = $1`, in.Name,
	)
}

func (s *PostgresStore) LinkIngredient(ctx context.Context, productID, ingredientID string, isKey bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO product_ingredients (product_id, ingredient_id, is_key) VALUES ($1, $2, $3)
		ON CONFLICT (product_id, ingredient_id) DO UPDATE SET is_key = product_ingredients.is_key OR EXCLUDED.is_key`,
		productID, ingredientID, isKey,
	)
	return eris.Wrapf(err, "postgres: link ingredient %s -> %s", productID, ingredientID)
}

// --- Secondary content ---

var resourceUpsert = db.UpsertConfig{
	Table:        "resources",
	Columns:      []string{"id", "product_id", "brand_id", "ingredient_id", "title", "url", "type", "description", "author_name", "video_id", "thumbnail_url"},
	ConflictKeys: []string{"product_id", "url"},
	UpdateCols:   []string{"title", "type", "description", "author_name", "video_id", "thumbnail_url"},
}

// UpsertResources writes resources keyed on (product_id, url), so re-running
// a job refreshes rows instead of duplicating them.
func (s *PostgresStore) UpsertResources(ctx context.Context, resources []model.Resource) (int64, error) {
	rows := make([][]any, 0, len(resources))
	seen := make(map[string]bool, len(resources))
	for i := range resources {
		r := &resources[i]
		key := r.ProductID + "|" + r.URL
		if r.URL == "" || seen[key] {
			continue
		}
		seen[key] = true
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		rows = append(rows, []any{
			r.ID, nilIfEmpty(r.ProductID), nilIfEmpty(r.BrandID), nilIfEmpty(r.IngredientID),
			r.Title, r.URL, string(r.Type), nilIfEmpty(r.Description), nilIfEmpty(r.Author),
			nilIfEmpty(r.VideoID), nilIfEmpty(r.Thumbnail),
		})
	}
	n, err := db.Upsert(ctx, s.pool, resourceUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert resources")
}

// UpsertOffers writes each offer keyed on its URL and links it to productID.
func (s *PostgresStore) UpsertOffers(ctx context.Context, productID string, offers []model.Offer) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range offers {
			o := &offers[i]
			if o.URL == "" {
				continue
			}
			if o.ID == "" {
				o.ID = uuid.New().String()
			}
			var id string
			err := tx.QueryRow(ctx, `
				INSERT INTO offers (id, merchant, domain, title, price, list_price, currency, shipping, condition, url)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (url) DO UPDATE SET
					price = EXCLUDED.price,
					list_price = EXCLUDED.list_price,
					shipping = EXCLUDED.shipping,
					condition = EXCLUDED.condition,
					updated_at = now()
				RETURNING id`,
				o.ID, o.Merchant, nilIfEmpty(o.Domain), nilIfEmpty(o.Title), o.Price, o.ListPrice,
				nilIfEmpty(o.Currency), nilIfEmpty(o.Shipping), nilIfEmpty(o.Condition), o.URL,
			).Scan(&id)
			if err != nil {
				return eris.Wrapf(err, "postgres: upsert offer %s", o.URL)
			}
			o.ID = id
			o.ProductID = productID
			if _, err := tx.Exec(ctx,
				`INSERT INTO product_offers (product_id, offer_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				productID, id,
			); err != nil {
				return eris.Wrapf(err, "postgres: link offer %s", id)
			}
		}
		return nil
	})
}

var reviewUpsert = db.UpsertConfig{
	Table:        "reviews",
	Columns:      []string{"id", "product_id", "rating", "content", "content_hash", "source", "source_url", "verified_purchase"},
	ConflictKeys: []string{"product_id", "content_hash"},
	DoNothing:    true,
}

// UpsertReviews inserts reviews, skipping any whose content is already
// stored for the same product.
func (s *PostgresStore) UpsertReviews(ctx context.Context, reviews []model.Review) (int64, error) {
	rows := make([][]any, 0, len(reviews))
	seen := make(map[string]bool, len(reviews))
	for i := range reviews {
		r := &reviews[i]
		content := strings.TrimSpace(r.Content)
		if content == "" || r.ProductID == "" {
			continue
		}
		hash := contentHash(content)
		if seen[r.ProductID+hash] {
			continue
		}
		seen[r.ProductID+hash] = true
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		rows = append(rows, []any{r.ID, r.ProductID, r.Rating, content, hash, nilIfEmpty(r.Source), nilIfEmpty(r.SourceURL), r.VerifiedBuy})
	}
	n, err := db.Upsert(ctx, s.pool, reviewUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert reviews")
}

// --- helpers ---

func (s *PostgresStore) findID(ctx context.Context, op, query string, args ...any) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: %s", op)
	}
	return id, nil
}

// insertOrReselect runs an INSERT ... ON CONFLICT DO NOTHING RETURNING id and
// falls back to reselecting the row that won the conflict.
func (s *PostgresStore) insertOrReselect(ctx context.Context, op, insert string, insertArgs []any, reselect string, reselectArgs ...any) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, insert, insertArgs...).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, eris.Wrapf(err, "postgres: insert %s", op)
	}
	if err := s.pool.QueryRow(ctx, reselect, reselectArgs...).Scan(&id); err != nil {
		return "", false, eris.Wrapf(err, "postgres: reselect %s", op)
	}
	return id, false, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(s)))
	return hex.EncodeToString(sum[:])
}
