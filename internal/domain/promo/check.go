package promo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reason identifies which eligibility check decided a Result.
type Reason int

const (
	ReasonApplied Reason = iota
	ReasonNotFound
	ReasonInactive
	ReasonExpired
	ReasonUsageLimit
	ReasonMinOrderAmount
)

var reasonNames = [...]string{
	ReasonApplied:        "applied",
	ReasonNotFound:       "not_found",
	ReasonInactive:       "inactive",
	ReasonExpired:        "expired",
	ReasonUsageLimit:     "usage_limit",
	ReasonMinOrderAmount: "min_order_amount",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Result is the outcome of validating a code against an order amount.
// Discount and Promo are only set when Valid is true.
type Result struct {
	Valid    bool
	Reason   Reason
	Message  string
	Discount decimal.Decimal
	Promo    *Code
}

func rejected(reason Reason, msg string) Result {
	return Result{Reason: reason, Message: msg}
}

// NotFound is the Result for a code that does not exist.
func NotFound() Result {
	return rejected(ReasonNotFound, "Invalid promo code")
}

// Check runs the eligibility checks in a fixed order and returns the first
// failure, or the computed discount when all of them pass. It has no side
// effects; redeeming a code is a separate step.
func Check(c *Code, amount decimal.Decimal, now time.Time) Result {
	switch {
	case c == nil:
		return NotFound()
	case !c.Active:
		return rejected(ReasonInactive, "Promo code is inactive")
	case now.Before(c.ValidFrom) || now.After(c.ValidUntil):
		return rejected(ReasonExpired, "Promo code has expired or is not yet valid")
	case c.UsageExhausted():
		return rejected(ReasonUsageLimit, "Promo code usage limit reached")
	case c.MinOrderAmount != nil && amount.LessThan(*c.MinOrderAmount):
		return rejected(ReasonMinOrderAmount, fmt.Sprintf(
			"Minimum order amount of %s required for this promo code", c.MinOrderAmount.StringFixed(2),
		))
	}

	return Result{
		Valid:    true,
		Reason:   ReasonApplied,
		Message:  "Promo code applied successfully",
		Discount: Discount(c, amount),
		Promo:    c,
	}
}

// Discount computes the discount c grants on amount: the raw percentage or
// fixed value, capped by MaxDiscountAmount and by amount itself, rounded
// half-up to cents.
func Discount(c *Code, amount decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		d = amount.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		d = c.DiscountValue
	default:
		return decimal.Zero
	}

	if c.MaxDiscountAmount != nil && d.GreaterThan(*c.MaxDiscountAmount) {
		d = *c.MaxDiscountAmount
	}
	d = decimal.Min(d, amount).Round(2)
	if d.GreaterThan(amount) {
		d = amount
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
