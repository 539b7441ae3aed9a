package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
)

const (
	cartLinesSQL = `SELECT ci.id, ci.product_id, ci.product_variant_id, ci.quantity, ci.created_at
		FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = $1
		ORDER BY ci.created_at, ci.id`

	// Checkout locks the cart row so a second checkout of the same cart
	// waits and then sees it emptied.
	lockCartSQL = `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`

	ensureCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id`

	putCartLineSQL = `INSERT INTO cart_items (id, cart_id, product_id, product_variant_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, product_id, COALESCE(product_variant_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
		RETURNING id, product_id, product_variant_id, quantity, created_at`

	removeCartLineSQL = `DELETE FROM cart_items ci USING carts c
		WHERE ci.cart_id = c.id AND c.user_id = $1 AND ci.id = $2`

	clearCartSQL = `DELETE FROM cart_items ci USING carts c
		WHERE ci.cart_id = c.id AND c.user_id = $1`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

func (s *CartStore) Lines(ctx context.Context, userID uuid.UUID) ([]cart.Line, error) {
	return cartLines(ctx, s.pool, userID)
}

func (s *CartStore) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	return queryProducts(ctx, s.pool, productsByIDsSQL, ids)
}

func (s *CartStore) Variants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error) {
	return queryVariants(ctx, s.pool, variantsByIDsSQL, ids)
}

func (s *CartStore) PutLine(ctx context.Context, userID, productID uuid.UUID, variantID *uuid.UUID, quantity int) (cart.Line, error) {
	var line cart.Line
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var cartID uuid.UUID
		if err := tx.QueryRow(ctx, ensureCartSQL, uuid.New(), userID).Scan(&cartID); err != nil {
			return errors.Wrap(err, "ensure cart")
		}
		rows, err := tx.Query(ctx, putCartLineSQL, uuid.New(), cartID, productID, variantID, quantity)
		if err != nil {
			return errors.Wrap(err, "put line")
		}
		line, err = pgx.CollectExactlyOneRow(rows, scanCartLine)
		return err
	})
	if err != nil {
		return cart.Line{}, err
	}
	return line, nil
}

func (s *CartStore) RemoveLine(ctx context.Context, userID, lineID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, removeCartLineSQL, userID, lineID)
	if err != nil {
		return errors.Wrap(err, "remove line")
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

func cartLines(ctx context.Context, q querier, userID uuid.UUID) ([]cart.Line, error) {
	rows, err := q.Query(ctx, cartLinesSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, errors.Wrap(err, "scan cart")
	}
	return lines, nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.Quantity, &l.CreatedAt)
	return l, err
}
