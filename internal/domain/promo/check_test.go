package promo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr[T any](v T) *T {
	return &v
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// save20 mirrors the storefront's launch campaign: 20% off, min 50, capped at 100.
func save20() *Code {
	return &Code{
		Code:              "SAVE20",
		Description:       "20% off all orders",
		DiscountType:      DiscountPercentage,
		DiscountValue:     d("20"),
		MinOrderAmount:    ptr(d("50")),
		MaxDiscountAmount: ptr(d("100")),
		UsageLimit:        ptr(100),
		ValidFrom:         fixedNow.Add(-24 * time.Hour),
		ValidUntil:        fixedNow.Add(30 * 24 * time.Hour),
		Active:            true,
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name         string
		code         func() *Code
		amount       decimal.Decimal
		wantValid    bool
		wantReason   Reason
		wantDiscount decimal.Decimal
		wantMessage  string
	}{
		{
			name:         "percentage within cap",
			code:         save20,
			amount:       d("100.00"),
			wantValid:    true,
			wantReason:   ReasonApplied,
			wantDiscount: d("20.00"),
			wantMessage:  "successfully",
		},
		{
			name:         "percentage capped at max discount",
			code:         save20,
			amount:       d("1000.00"),
			wantValid:    true,
			wantReason:   ReasonApplied,
			wantDiscount: d("100.00"),
		},
		{
			name:        "below minimum order amount",
			code:        save20,
			amount:      d("30.00"),
			wantReason:  ReasonMinOrderAmount,
			wantMessage: "Minimum order amount of 50.00",
		},
		{
			name:         "exactly minimum order amount passes",
			code:         save20,
			amount:       d("50.00"),
			wantValid:    true,
			wantReason:   ReasonApplied,
			wantDiscount: d("10.00"),
		},
		{
			name: "fixed discount",
			code: func() *Code {
				c := save20()
				c.DiscountType = DiscountFixed
				c.DiscountValue = d("10")
				c.MaxDiscountAmount = nil
				return c
			},
			amount:       d("50.00"),
			wantValid:    true,
			wantReason:   ReasonApplied,
			wantDiscount: d("10.00"),
		},
		{
			name: "fixed discount clamped to order amount",
			code: func() *Code {
				c := save20()
				c.DiscountType = DiscountFixed
				c.DiscountValue = d("500")
				c.MaxDiscountAmount = nil
				c.MinOrderAmount = nil
				return c
			},
			amount:       d("42.50"),
			wantValid:    true,
			wantReason:   ReasonApplied,
			wantDiscount: d("42.50"),
		},
		{
			name: "percentage rounds half up to cents",
			code: func() *Code {
				c := save20()
				c.DiscountValue = d("15")
				c.MinOrderAmount = nil
				return c
			},
			amount:       d("33.30"),
			wantValid:    true,
			wantReason:   ReasonApplied,
			wantDiscount: d("5.00"),
		},
		{
			name: "inactive",
			code: func() *Code {
				c := save20()
				c.Active = false
				return c
			},
			amount:      d("100"),
			wantReason:  ReasonInactive,
			wantMessage: "inactive",
		},
		{
			name: "expired regardless of amount",
			code: func() *Code {
				c := save20()
				c.ValidUntil = fixedNow.Add(-time.Hour)
				return c
			},
			amount:      d("1000000"),
			wantReason:  ReasonExpired,
			wantMessage: "expired",
		},
		{
			name: "not yet started",
			code: func() *Code {
				c := save20()
				c.ValidFrom = fixedNow.Add(time.Hour)
				return c
			},
			amount:      d("100"),
			wantReason:  ReasonExpired,
			wantMessage: "not yet valid",
		},
		{
			name: "usage limit reached",
			code: func() *Code {
				c := save20()
				c.UsageLimit = ptr(10)
				c.UsageCount = 10
				return c
			},
			amount:      d("100"),
			wantReason:  ReasonUsageLimit,
			wantMessage: "usage limit",
		},
		{
			name: "inactive wins over expired",
			code: func() *Code {
				c := save20()
				c.Active = false
				c.ValidUntil = fixedNow.Add(-time.Hour)
				return c
			},
			amount:     d("100"),
			wantReason: ReasonInactive,
		},
		{
			name: "usage limit wins over minimum amount",
			code: func() *Code {
				c := save20()
				c.UsageLimit = ptr(1)
				c.UsageCount = 1
				return c
			},
			amount:     d("1"),
			wantReason: ReasonUsageLimit,
		},
		{
			name:        "nil code is invalid",
			code:        func() *Code { return nil },
			amount:      d("100"),
			wantReason:  ReasonNotFound,
			wantMessage: "Invalid promo code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.code(), tt.amount, fixedNow)

			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantReason, res.Reason)
			if tt.wantMessage != "" {
				assert.Contains(t, res.Message, tt.wantMessage)
			}
			if !tt.wantValid {
				assert.Nil(t, res.Promo)
				assert.True(t, res.Discount.IsZero(), "discount must be zero, got %s", res.Discount)
				return
			}
			require.NotNil(t, res.Promo)
			assert.True(t, tt.wantDiscount.Equal(res.Discount), "discount: want %s, got %s", tt.wantDiscount, res.Discount)
		})
	}
}

func TestDiscount_NeverExceedsBounds(t *testing.T) {
	amounts := []string{"0.01", "1", "49.99", "50", "123.45", "999.99", "1000", "25000"}
	codes := []*Code{
		{DiscountType: DiscountPercentage, DiscountValue: d("20"), MaxDiscountAmount: ptr(d("100"))},
		{DiscountType: DiscountPercentage, DiscountValue: d("150")},
		{DiscountType: DiscountFixed, DiscountValue: d("75")},
		{DiscountType: DiscountFixed, DiscountValue: d("75"), MaxDiscountAmount: ptr(d("30"))},
	}

	for _, c := range codes {
		for _, a := range amounts {
			amount := d(a)
			got := Discount(c, amount)

			assert.False(t, got.IsNegative())
			assert.True(t, got.LessThanOrEqual(amount), "discount %s exceeds amount %s", got, amount)
			if c.MaxDiscountAmount != nil {
				assert.True(t, got.LessThanOrEqual(*c.MaxDiscountAmount))
			}
		}
	}
}

func TestReason_String(t *testing.T) {
	assert.Equal(t, "min_order_amount", ReasonMinOrderAmount.String())
	assert.Equal(t, "Reason(42)", Reason(42).String())
}

func TestCode_Flags(t *testing.T) {
	c := save20()
	assert.False(t, c.Expired(fixedNow))
	assert.True(t, c.Expired(c.ValidUntil.Add(time.Second)))

	assert.False(t, c.UsageExhausted())
	c.UsageCount = 100
	assert.True(t, c.UsageExhausted())

	c.UsageLimit = nil
	assert.False(t, c.UsageExhausted())
}
