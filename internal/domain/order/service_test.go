package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/ordernum"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promo"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr[T any](v T) *T {
	return &v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

type recordingNotifier struct {
	orders []*Order
	err    error
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, o *Order) error {
	n.orders = append(n.orders, o)
	return n.err
}

func newTestService(store *memStore, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(store, opts...)
}

func save20() promo.Code {
	return promo.Code{
		Code:              "SAVE20",
		DiscountType:      promo.DiscountPercentage,
		DiscountValue:     d("20"),
		MinOrderAmount:    ptr(d("50")),
		MaxDiscountAmount: ptr(d("100")),
		UsageLimit:        ptr(10),
		UsageCount:        3,
		ValidFrom:         fixedNow.Add(-24 * time.Hour),
		ValidUntil:        fixedNow.Add(24 * time.Hour),
		Active:            true,
	}
}

var delivery = DeliveryInfo{County: "Nairobi", Town: "Westlands", Address: "1 Ring Rd"}

func TestPlaceOrder_NoPromo(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Widget", "50.00", 10)
	store.addLine(user, p.ID, nil, 2)

	notifier := &recordingNotifier{}
	svc := newTestService(store, WithNotifier(notifier))

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:        &user,
		Delivery:      delivery,
		PaymentMethod: "mpesa",
	})
	require.NoError(t, err)

	assertDecimal(t, "100.00", o.Subtotal)
	assertDecimal(t, "200.00", o.DeliveryFee)
	assertDecimal(t, "0", o.DiscountAmount)
	assertDecimal(t, "300.00", o.TotalAmount)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "mpesa", o.PaymentMethod)
	assert.True(t, ordernum.Valid(o.Number), o.Number)
	assert.Contains(t, o.Number, "ORD-20250615-")
	assert.Nil(t, o.PromoCodeID)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "Widget", o.Items[0].ProductTitle)
	assert.Equal(t, "SKU-Widget", o.Items[0].ProductSKU)
	assertDecimal(t, "50.00", o.Items[0].UnitPrice)
	assertDecimal(t, "100.00", o.Items[0].TotalPrice)

	assert.Equal(t, 8, store.products[p.ID].InventoryCount)
	assert.Empty(t, store.carts[user])
	assert.Len(t, store.orders, 1)
	require.Len(t, notifier.orders, 1)
	assert.Equal(t, o.Number, notifier.orders[0].Number)
}

func TestPlaceOrder_WithPromo(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Blender", "400.00", 5)
	store.addLine(user, p.ID, nil, 2)
	store.addPromo(save20())

	svc := newTestService(store)
	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:    &user,
		Delivery:  delivery,
		PromoCode: " save20 ",
	})
	require.NoError(t, err)

	// 20% of (800 + 200) is 200, capped at 100.
	assertDecimal(t, "800.00", o.Subtotal)
	assertDecimal(t, "100.00", o.DiscountAmount)
	assertDecimal(t, "900.00", o.TotalAmount)
	require.NotNil(t, o.PromoCodeID)
	assert.Equal(t, "SAVE20", o.PromoCode)
	assert.Equal(t, 4, store.promos["SAVE20"].UsageCount)
	assert.True(t, o.TotalAmount.Equal(o.Subtotal.Add(o.DeliveryFee).Sub(o.DiscountAmount)))
}

func TestPlaceOrder_ClearsEveryLine(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	shirt := store.addProduct("Shirt", "25.00", 10)
	medium := store.addVariant(shirt, "M", "-5.00", 4)
	hat := store.addProduct("Hat", "12.50", 3)
	mug := store.addProduct("Mug", "7.25", 9)
	store.addLine(user, shirt.ID, &medium.ID, 2)
	store.addLine(user, hat.ID, nil, 3)
	store.addLine(user, mug.ID, nil, 1)

	o, err := newTestService(store).PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:   &user,
		Delivery: delivery,
	})
	require.NoError(t, err)

	assert.Empty(t, store.carts[user])
	require.Len(t, o.Items, 3)

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.TotalPrice)
	}
	assert.True(t, sum.Equal(o.Subtotal))
	assertDecimal(t, "84.75", o.Subtotal)

	assert.Equal(t, "SKU-Shirt-M", o.Items[0].ProductSKU)
	assertDecimal(t, "20.00", o.Items[0].UnitPrice)
	assert.Equal(t, medium.ID, *o.Items[0].VariantID)

	assert.Equal(t, 8, store.products[shirt.ID].InventoryCount)
	assert.Equal(t, 2, store.variants[medium.ID].InventoryCount)
	assert.Equal(t, 0, store.products[hat.ID].InventoryCount)
	assert.Equal(t, 8, store.products[mug.ID].InventoryCount)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	type fixture struct {
		store *memStore
		user  uuid.UUID
	}

	tests := []struct {
		name       string
		setup      func(f fixture)
		promoCode  string
		fees       pricing.DeliveryFees
		wantReason Reason
		wantMsg    string
	}{
		{
			name:       "empty cart",
			setup:      func(fixture) {},
			wantReason: ReasonEmptyCart,
			wantMsg:    "Cart is empty",
		},
		{
			name: "insufficient stock",
			setup: func(f fixture) {
				p := f.store.addProduct("Widget", "10.00", 2)
				f.store.addLine(f.user, p.ID, nil, 3)
			},
			wantReason: ReasonInsufficientStock,
			wantMsg:    "Insufficient stock for 'Widget'. Available: 2",
		},
		{
			name: "two lines exhaust one product",
			setup: func(f fixture) {
				p := f.store.addProduct("Tee", "10.00", 3)
				small := f.store.addVariant(p, "S", "0", 5)
				large := f.store.addVariant(p, "L", "0", 5)
				f.store.addLine(f.user, p.ID, &small.ID, 2)
				f.store.addLine(f.user, p.ID, &large.ID, 2)
			},
			wantReason: ReasonInsufficientStock,
			wantMsg:    "Insufficient stock for 'Tee'. Available: 1",
		},
		{
			name: "product missing",
			setup: func(f fixture) {
				f.store.addLine(f.user, uuid.New(), nil, 1)
			},
			wantReason: ReasonProductNotFound,
			wantMsg:    "Product not found",
		},
		{
			name: "product inactive",
			setup: func(f fixture) {
				p := f.store.addProduct("Relic", "10.00", 5)
				p.Active = false
				f.store.products[p.ID] = p
				f.store.addLine(f.user, p.ID, nil, 1)
			},
			wantReason: ReasonProductUnavailable,
			wantMsg:    "Product 'Relic' is no longer available",
		},
		{
			name: "variant missing",
			setup: func(f fixture) {
				p := f.store.addProduct("Shoe", "10.00", 5)
				f.store.addLine(f.user, p.ID, ptr(uuid.New()), 1)
			},
			wantReason: ReasonVariantNotFound,
			wantMsg:    "Product variant not found",
		},
		{
			name: "variant of another product",
			setup: func(f fixture) {
				p := f.store.addProduct("Shoe", "10.00", 5)
				other := f.store.addProduct("Boot", "10.00", 5)
				v := f.store.addVariant(other, "42", "0", 5)
				f.store.addLine(f.user, p.ID, &v.ID, 1)
			},
			wantReason: ReasonVariantNotFound,
		},
		{
			name: "variant inactive",
			setup: func(f fixture) {
				p := f.store.addProduct("Shoe", "10.00", 5)
				v := f.store.addVariant(p, "43", "0", 5)
				v.Active = false
				f.store.variants[v.ID] = v
				f.store.addLine(f.user, p.ID, &v.ID, 1)
			},
			wantReason: ReasonVariantUnavailable,
			wantMsg:    "Product 'Shoe' variant is no longer available",
		},
		{
			name: "variant stock",
			setup: func(f fixture) {
				p := f.store.addProduct("Shoe", "10.00", 50)
				v := f.store.addVariant(p, "44", "0", 1)
				f.store.addLine(f.user, p.ID, &v.ID, 2)
			},
			wantReason: ReasonVariantInsufficientStock,
			wantMsg:    "Insufficient stock for 'Shoe' variant. Available: 1",
		},
		{
			name: "unknown promo",
			setup: func(f fixture) {
				p := f.store.addProduct("Widget", "10.00", 5)
				f.store.addLine(f.user, p.ID, nil, 1)
			},
			promoCode:  "NOPE",
			wantReason: ReasonPromo,
			wantMsg:    "Invalid promo code",
		},
		{
			name: "expired promo",
			setup: func(f fixture) {
				p := f.store.addProduct("Widget", "1000.00", 5)
				f.store.addLine(f.user, p.ID, nil, 1)
				c := save20()
				c.ValidUntil = fixedNow.Add(-time.Minute)
				f.store.addPromo(c)
			},
			promoCode:  "SAVE20",
			wantReason: ReasonPromo,
			wantMsg:    "expired",
		},
		{
			name: "promo minimum not met",
			setup: func(f fixture) {
				p := f.store.addProduct("Widget", "30.00", 5)
				f.store.addLine(f.user, p.ID, nil, 1)
				f.store.addPromo(save20())
			},
			promoCode:  "SAVE20",
			fees:       pricing.FlatFee(decimal.Zero),
			wantReason: ReasonPromo,
			wantMsg:    "Minimum order amount of 50.00",
		},
		{
			name: "promo exhausted",
			setup: func(f fixture) {
				p := f.store.addProduct("Widget", "30.00", 5)
				f.store.addLine(f.user, p.ID, nil, 1)
				c := save20()
				c.UsageCount = 10
				f.store.addPromo(c)
			},
			promoCode:  "SAVE20",
			wantReason: ReasonPromo,
			wantMsg:    "usage limit reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fixture{store: newMemStore(), user: uuid.New()}
			tt.setup(f)
			before := f.store.snapshot()

			var opts []Option
			if tt.fees != nil {
				opts = append(opts, WithDeliveryFees(tt.fees))
			}
			notifier := &recordingNotifier{}
			opts = append(opts, WithNotifier(notifier))

			_, err := newTestService(f.store, opts...).PlaceOrder(context.Background(), PlaceOrderRequest{
				UserID:    &f.user,
				Delivery:  delivery,
				PromoCode: tt.promoCode,
			})

			var rej *Rejection
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.wantReason, rej.Reason)
			if tt.wantMsg != "" {
				assert.Contains(t, rej.Message, tt.wantMsg)
			}

			assert.Empty(t, f.store.orders)
			assert.Equal(t, before.products, f.store.products)
			assert.Equal(t, before.variants, f.store.variants)
			assert.Equal(t, before.promos, f.store.promos)
			assert.Equal(t, before.carts, f.store.carts)
			assert.Empty(t, notifier.orders)
		})
	}
}

func TestPlaceOrder_Identity(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, PlaceOrderRequest{Delivery: delivery})
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Either user or guest information required", rej.Message)

	_, err = svc.PlaceOrder(ctx, PlaceOrderRequest{
		Guest:    &GuestInfo{Email: "g@example.com", Name: "Guest"},
		Delivery: delivery,
	})
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonGuestCheckout, rej.Reason)
	assert.Equal(t, "Guest checkout not yet implemented", rej.Message)
}

func TestPlaceOrder_RollsBackOnStorageFailure(t *testing.T) {
	for _, op := range []string{"InsertOrder", "DecrementProductStock", "ClearCart"} {
		t.Run(op, func(t *testing.T) {
			store := newMemStore()
			user := uuid.New()
			p := store.addProduct("Widget", "100.00", 5)
			store.addLine(user, p.ID, nil, 2)
			store.addPromo(save20())
			store.failOn = op

			_, err := newTestService(store).PlaceOrder(context.Background(), PlaceOrderRequest{
				UserID:    &user,
				Delivery:  delivery,
				PromoCode: "SAVE20",
			})
			require.ErrorIs(t, err, errInjected)
			var rej *Rejection
			assert.False(t, errors.As(err, &rej))

			assert.Empty(t, store.orders)
			assert.Equal(t, 5, store.products[p.ID].InventoryCount)
			assert.Equal(t, 3, store.promos["SAVE20"].UsageCount)
			assert.Len(t, store.carts[user], 1)
		})
	}
}

func TestPlaceOrder_RetriesDuplicateNumber(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Widget", "10.00", 5)
	store.addLine(user, p.ID, nil, 1)
	store.duplicates = 2

	o, err := newTestService(store).PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:   &user,
		Delivery: delivery,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, o.Number)
	assert.Equal(t, 3, store.txCount)
	assert.Equal(t, 4, store.products[p.ID].InventoryCount)
}

func TestPlaceOrder_DuplicateNumberGivesUp(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Widget", "10.00", 5)
	store.addLine(user, p.ID, nil, 1)
	store.duplicates = 10

	_, err := newTestService(store, WithAttempts(2)).PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:   &user,
		Delivery: delivery,
	})
	require.ErrorIs(t, err, ErrDuplicateNumber)
	assert.Equal(t, 2, store.txCount)
	assert.Len(t, store.carts[user], 1)
}

func TestPlaceOrder_UniqueNumbers(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Widget", "1.00", 1000)
	svc := newTestService(store)

	seen := make(map[string]struct{})
	for range 100 {
		store.addLine(user, p.ID, nil, 1)
		o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{UserID: &user, Delivery: delivery})
		require.NoError(t, err)
		seen[o.Number] = struct{}{}
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, 900, store.products[p.ID].InventoryCount)
}

func TestPlaceOrder_NotifierFailureIgnored(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Widget", "10.00", 5)
	store.addLine(user, p.ID, nil, 1)

	notifier := &recordingNotifier{err: errors.New("queue full")}
	o, err := newTestService(store, WithNotifier(notifier)).PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:   &user,
		Delivery: delivery,
	})
	require.NoError(t, err)
	assert.Contains(t, store.orders, o.ID)
}

func TestService_Get(t *testing.T) {
	store := newMemStore()
	owner := uuid.New()
	p := store.addProduct("Widget", "10.00", 5)
	store.addLine(owner, p.ID, nil, 1)
	svc := newTestService(store)
	ctx := context.Background()

	placed, err := svc.PlaceOrder(ctx, PlaceOrderRequest{UserID: &owner, Delivery: delivery})
	require.NoError(t, err)

	got, err := svc.Get(ctx, placed.ID, auth.Identity{UserID: owner})
	require.NoError(t, err)
	assert.Equal(t, placed.Number, got.Number)

	_, err = svc.Get(ctx, placed.ID, auth.Identity{UserID: uuid.New()})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, placed.ID, auth.Identity{UserID: uuid.New(), Admin: true})
	require.NoError(t, err)

	_, err = svc.Get(ctx, uuid.New(), auth.Identity{UserID: owner})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_List(t *testing.T) {
	store := newMemStore()
	user := uuid.New()
	p := store.addProduct("Widget", "10.00", 50)
	svc := newTestService(store)
	ctx := context.Background()

	for range 3 {
		store.addLine(user, p.ID, nil, 1)
		_, err := svc.PlaceOrder(ctx, PlaceOrderRequest{UserID: &user, Delivery: delivery})
		require.NoError(t, err)
	}

	res, err := svc.List(ctx, user, Page{Skip: 1, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Orders, 2)
	assert.Equal(t, Page{Skip: 1, Limit: MaxLimit}, res.Page)

	res, err = svc.List(ctx, uuid.New(), Page{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Equal(t, DefaultLimit, res.Page.Limit)
}
