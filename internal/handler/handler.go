// Package handler exposes the storefront checkout over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/promo"
)

// OrderService places and reads orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id uuid.UUID, caller auth.Identity) (*order.Order, error)
	List(ctx context.Context, userID uuid.UUID, page order.Page) (*order.ListResult, error)
}

// CartService reads and edits carts.
type CartService interface {
	Get(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
	Put(ctx context.Context, userID, productID uuid.UUID, variantID *uuid.UUID, quantity int) (cart.Line, error)
	Remove(ctx context.Context, userID, lineID uuid.UUID) error
}

var (
	_ OrderService = (*order.Service)(nil)
	_ CartService  = (*cart.Service)(nil)
)

// PromoValidator previews a promo code against an order amount.
type PromoValidator interface {
	Validate(ctx context.Context, code string, amount decimal.Decimal) (promo.Result, error)
}

// Middleware wraps a route handler.
type Middleware func(http.Handler) http.Handler

// Handler serves the /api routes.
type Handler struct {
	orders OrderService
	carts  CartService
	promos PromoValidator
	now    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the time source used for promo expiry flags.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler.
func New(orders OrderService, carts CartService, promos PromoValidator, opts ...Option) *Handler {
	h := &Handler{
		orders: orders,
		carts:  carts,
		promos: promos,
		now:    time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Mount registers the API routes on mux. idempotent, if not nil, wraps order
// creation and runs after authentication.
func (h *Handler) Mount(mux *http.ServeMux, sec *Security, idempotent Middleware) {
	if idempotent == nil {
		idempotent = func(next http.Handler) http.Handler { return next }
	}
	private := func(f http.HandlerFunc) http.Handler { return sec.Require(f) }

	// Anonymous callers reach the order service so it can refuse them with
	// the right reason.
	mux.Handle("POST /api/orders", sec.Optional(idempotent(http.HandlerFunc(h.placeOrder))))
	mux.Handle("GET /api/orders", private(h.listOrders))
	mux.Handle("GET /api/orders/{id}", private(h.getOrder))

	mux.HandleFunc("POST /api/promo-codes/validate", h.validatePromo)

	mux.Handle("GET /api/cart", private(h.getCart))
	mux.Handle("PUT /api/cart/items", private(h.putCartItem))
	mux.Handle("DELETE /api/cart/items/{id}", private(h.removeCartItem))
}

// identity returns the caller set by the security middleware. Routes behind
// Require always have one.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
