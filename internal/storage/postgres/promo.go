package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/promo"
)

const (
	promoColumns = `id, code, description, discount_type, discount_value,
		min_order_amount, max_discount_amount, usage_limit, usage_count,
		valid_from, valid_until, is_active, created_at, updated_at`

	promoByCodeSQL     = `SELECT ` + promoColumns + ` FROM promo_codes WHERE UPPER(code) = UPPER($1)`
	lockPromoByCodeSQL = promoByCodeSQL + ` FOR UPDATE`

	incrementPromoUsageSQL = `UPDATE promo_codes
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	upsertPromoSQL = `INSERT INTO promo_codes (id, code, description, discount_type, discount_value,
			min_order_amount, max_discount_amount, usage_limit, valid_from, valid_until, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			usage_limit = EXCLUDED.usage_limit,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active,
			updated_at = now()`
)

// ErrPromoExhausted is returned when incrementing usage would exceed the limit.
var ErrPromoExhausted = errors.New("promo code usage limit reached")

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	q querier
}

// NewPromoRepository returns a PromoRepository using q.
func NewPromoRepository(q querier) *PromoRepository {
	return &PromoRepository{q: q}
}

// FindByCode looks up a promo code case-insensitively.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	return findPromo(ctx, r.q, promoByCodeSQL, code)
}

// Upsert inserts c or replaces the code with the same case-insensitive name.
// Usage counters of existing codes are preserved.
func (r *PromoRepository) Upsert(ctx context.Context, c *promo.Code) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.q.Exec(ctx, upsertPromoSQL,
		c.ID, promo.Normalize(c.Code), c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinOrderAmount, c.MaxDiscountAmount, c.UsageLimit, c.ValidFrom, c.ValidUntil, c.Active,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert promo code %q", c.Code)
	}
	return nil
}

func findPromo(ctx context.Context, q querier, sql, code string) (*promo.Code, error) {
	rows, err := q.Query(ctx, sql, code)
	if err != nil {
		return nil, errors.Wrap(err, "query promo code")
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan promo code")
	}
	return &c, nil
}

func scanPromo(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c            promo.Code
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &c.UsageLimit, &c.UsageCount,
		&c.ValidFrom, &c.ValidUntil, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = promo.DiscountType(discountType)
	return c, err
}
