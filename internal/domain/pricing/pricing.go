// Package pricing holds the money arithmetic of an order: unit prices,
// subtotals, delivery fees and totals. All amounts are exact decimals.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits stored for every amount.
const Places = 2

// DefaultDeliveryFee is the flat fee charged when no other rule applies.
var DefaultDeliveryFee = decimal.RequireFromString("200.00")

// Line is a priced cart line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns the line's unit price times its quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// UnitPrice returns base plus the variant adjustment (which may be negative),
// floored at zero.
func UnitPrice(base decimal.Decimal, adjustment decimal.Decimal) decimal.Decimal {
	p := base.Add(adjustment)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// Subtotal sums the line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Total returns subtotal + fee - discount, floored at zero and rounded to
// Places.
func Total(subtotal, fee, discount decimal.Decimal) decimal.Decimal {
	t := subtotal.Add(fee).Sub(discount)
	if t.IsNegative() {
		return decimal.Zero
	}
	return Round(t)
}

// Round rounds half away from zero to Places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Destination is where an order is delivered.
type Destination struct {
	County  string
	Town    string
	Address string
}

// DeliveryFees computes the delivery fee of an order.
type DeliveryFees interface {
	Fee(ctx context.Context, dst Destination, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// FlatFee charges the same amount for every order.
type FlatFee decimal.Decimal

var _ DeliveryFees = FlatFee{}

// Fee implements DeliveryFees.
func (f FlatFee) Fee(context.Context, Destination, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}
