package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/promo"
)

const (
	orderColumns = `o.id, o.order_number, o.user_id, o.guest_email, o.guest_name, o.guest_phone,
		o.delivery_county, o.delivery_town, o.delivery_address,
		o.subtotal, o.discount_amount, o.delivery_fee, o.total_amount,
		o.promo_code_id, COALESCE(p.code, ''), COALESCE(o.payment_method, ''), o.status,
		o.created_at, o.updated_at`

	orderByIDSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN promo_codes p ON p.id = o.promo_code_id
		WHERE o.id = $1`

	ordersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN promo_codes p ON p.id = o.promo_code_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC, o.id
		OFFSET $2 LIMIT $3`

	countOrdersByUserSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	orderItemsSQL = `SELECT id, product_id, product_variant_id, product_title, product_sku,
		quantity, unit_price, discount, total_price
		FROM order_items WHERE order_id = $1 ORDER BY product_title, id`

	orderNumberExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`

	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, guest_email, guest_name, guest_phone,
			delivery_county, delivery_town, delivery_address,
			subtotal, discount_amount, promo_code_id, delivery_fee, total_amount,
			payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), $16)
		RETURNING created_at, updated_at`

	orderNumberConstraint = "orders_order_number_key"
)

var orderItemColumns = []string{
	"id", "order_id", "product_id", "product_variant_id", "product_title", "product_sku",
	"quantity", "unit_price", "discount", "total_price",
}

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the Tx serialize competing checkouts.
func (s *OrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

func (s *OrderStore) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, orderByIDSQL, id)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}

	rows, err = s.pool.Query(ctx, orderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return nil, errors.Wrap(err, "scan order items")
	}
	return &o, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID uuid.UUID, page order.Page) ([]order.Order, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, countOrdersByUserSQL, userID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	rows, err := s.pool.Query(ctx, ordersByUserSQL, userID, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "query orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	return orders, total, nil
}

type orderTx struct {
	tx pgx.Tx
}

var _ order.Tx = (*orderTx)(nil)

func (t *orderTx) CartLines(ctx context.Context, userID uuid.UUID) ([]cart.Line, error) {
	var cartID uuid.UUID
	switch err := t.tx.QueryRow(ctx, lockCartSQL, userID).Scan(&cartID); {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "lock cart")
	}
	return cartLines(ctx, t.tx, userID)
}

func (t *orderTx) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	return queryProducts(ctx, t.tx, lockProductsSQL, ids)
}

func (t *orderTx) LockVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error) {
	return queryVariants(ctx, t.tx, lockVariantsSQL, ids)
}

func (t *orderTx) LockPromo(ctx context.Context, code string) (*promo.Code, error) {
	return findPromo(ctx, t.tx, lockPromoByCodeSQL, code)
}

func (t *orderTx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, orderNumberExistsSQL, number).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check order number")
	}
	return exists, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	o.ID = uuid.New()

	var guestEmail, guestName, guestPhone *string
	if o.Guest != nil {
		guestEmail, guestName, guestPhone = &o.Guest.Email, &o.Guest.Name, &o.Guest.Phone
	}

	err := t.tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, guestEmail, guestName, guestPhone,
		o.Delivery.County, o.Delivery.Town, o.Delivery.Address,
		o.Subtotal, o.DiscountAmount, o.PromoCodeID, o.DeliveryFee, o.TotalAmount,
		o.PaymentMethod, string(o.Status),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, orderNumberConstraint) {
			return errors.Wrap(order.ErrDuplicateNumber, o.Number)
		}
		return errors.Wrap(err, "insert order")
	}

	rows := make([][]any, len(o.Items))
	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.New()
		rows[i] = []any{
			it.ID, o.ID, it.ProductID, it.VariantID, it.ProductTitle, it.ProductSKU,
			it.Quantity, it.UnitPrice, it.Discount, it.TotalPrice,
		}
	}
	if _, err := t.tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows)); err != nil {
		return errors.Wrap(err, "insert order items")
	}
	return nil
}

func (t *orderTx) DecrementProductStock(ctx context.Context, id uuid.UUID, qty int) error {
	return t.decrement(ctx, decrementProductSQL, id, qty)
}

func (t *orderTx) DecrementVariantStock(ctx context.Context, id uuid.UUID, qty int) error {
	return t.decrement(ctx, decrementVariantSQL, id, qty)
}

func (t *orderTx) decrement(ctx context.Context, sql string, id uuid.UUID, qty int) error {
	tag, err := t.tx.Exec(ctx, sql, id, qty)
	if err != nil {
		return errors.Wrap(err, "decrement stock")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStockConflict
	}
	return nil
}

func (t *orderTx) IncrementPromoUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, incrementPromoUsageSQL, id)
	if err != nil {
		return errors.Wrap(err, "increment promo usage")
	}
	if tag.RowsAffected() == 0 {
		return ErrPromoExhausted
	}
	return nil
}

func (t *orderTx) ClearCart(ctx context.Context, userID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, clearCartSQL, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                  order.Order
		status             string
		email, name, phone *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &email, &name, &phone,
		&o.Delivery.County, &o.Delivery.Town, &o.Delivery.Address,
		&o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.TotalAmount,
		&o.PromoCodeID, &o.PromoCode, &o.PaymentMethod, &status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	if email != nil || name != nil || phone != nil {
		o.Guest = &order.GuestInfo{Email: deref(email), Name: deref(name), Phone: deref(phone)}
	}
	o.CreatedAt = o.CreatedAt.In(time.UTC)
	o.UpdatedAt = o.UpdatedAt.In(time.UTC)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.ProductID, &it.VariantID, &it.ProductTitle, &it.ProductSKU,
		&it.Quantity, &it.UnitPrice, &it.Discount, &it.TotalPrice,
	)
	return it, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
