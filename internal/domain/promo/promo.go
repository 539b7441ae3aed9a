// Package promo decides whether a promo code can be redeemed against an order
// amount and computes the resulting discount.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promo discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed monetary amount.
	DiscountFixed DiscountType = "fixed"
)

// ErrNotFound is returned by a Repository when no code matches.
var ErrNotFound = errors.New("promo code not found")

// Code is a redeemable promo code and its eligibility constraints.
type Code struct {
	ID                uuid.UUID
	Code              string
	Description       string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MinOrderAmount    *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	UsageLimit        *int
	UsageCount        int
	ValidFrom         time.Time
	ValidUntil        time.Time
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Expired reports whether the validity window closed before now.
func (c *Code) Expired(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// UsageExhausted reports whether the usage limit, if any, has been reached.
func (c *Code) UsageExhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// Repository looks up promo codes. Lookups are case-insensitive.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
}

// RepositoryFunc adapts a lookup function to Repository.
type RepositoryFunc func(ctx context.Context, code string) (*Code, error)

// FindByCode implements Repository.
func (f RepositoryFunc) FindByCode(ctx context.Context, code string) (*Code, error) {
	return f(ctx, code)
}

// Normalize returns the canonical form used to compare codes.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
