package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/catalog"
)

const (
	productColumns = `id, title, sku, base_price, inventory_count, is_active`
	variantColumns = `id, product_id, name, sku, price_adjustment, inventory_count, is_active`

	productsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	variantsByIDsSQL = `SELECT ` + variantColumns + ` FROM product_variants WHERE id = ANY($1)`

	// Rows are locked in id order so concurrent checkouts over overlapping
	// carts acquire locks in the same sequence.
	lockProductsSQL = productsByIDsSQL + ` ORDER BY id FOR UPDATE`
	lockVariantsSQL = variantsByIDsSQL + ` ORDER BY id FOR UPDATE`

	decrementProductSQL = `UPDATE products
		SET inventory_count = inventory_count - $2, updated_at = now()
		WHERE id = $1 AND inventory_count >= $2`
	decrementVariantSQL = `UPDATE product_variants
		SET inventory_count = inventory_count - $2, updated_at = now()
		WHERE id = $1 AND inventory_count >= $2`

	upsertProductSQL = `INSERT INTO products (id, title, sku, base_price, inventory_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sku) DO UPDATE SET
			title = EXCLUDED.title,
			base_price = EXCLUDED.base_price,
			inventory_count = EXCLUDED.inventory_count,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING id`
	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, name, sku, price_adjustment, inventory_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name,
			price_adjustment = EXCLUDED.price_adjustment,
			inventory_count = EXCLUDED.inventory_count,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING id`
)

func queryProducts(ctx context.Context, q querier, sql string, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	list, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	out := make(map[uuid.UUID]catalog.Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

func queryVariants(ctx context.Context, q querier, sql string, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error) {
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	list, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, errors.Wrap(err, "scan variants")
	}
	out := make(map[uuid.UUID]catalog.Variant, len(list))
	for _, v := range list {
		out[v.ID] = v
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Title, &p.SKU, &p.BasePrice, &p.InventoryCount, &p.Active)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.SKU, &v.PriceAdjustment, &v.InventoryCount, &v.Active)
	return v, err
}

// CatalogRepository writes catalog rows. It is used by the seeding tool; the
// catalog itself is owned by another service.
type CatalogRepository struct {
	q querier
}

// NewCatalogRepository returns a CatalogRepository using q.
func NewCatalogRepository(q querier) *CatalogRepository {
	return &CatalogRepository{q: q}
}

// UpsertProduct inserts p or updates the product with the same SKU. p.ID is
// set to the stored id.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p *catalog.Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, upsertProductSQL,
		p.ID, p.Title, p.SKU, p.BasePrice, p.InventoryCount, p.Active,
	).Scan(&p.ID)
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.SKU)
	}
	return nil
}

// UpsertVariant inserts v or updates the variant with the same SKU. v.ID is
// set to the stored id.
func (r *CatalogRepository) UpsertVariant(ctx context.Context, v *catalog.Variant) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, upsertVariantSQL,
		v.ID, v.ProductID, v.Name, v.SKU, v.PriceAdjustment, v.InventoryCount, v.Active,
	).Scan(&v.ID)
	if err != nil {
		return errors.Wrapf(err, "upsert variant %q", v.SKU)
	}
	return nil
}

// Products returns the products among ids.
func (r *CatalogRepository) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	return queryProducts(ctx, r.q, productsByIDsSQL, ids)
}
