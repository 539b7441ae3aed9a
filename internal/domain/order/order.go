// Package order turns a user's cart into a persisted order in a single
// transaction, and serves order lookups.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/promo"
)

// Status is the lifecycle state of an order.
type Status string

// StatusPending is the status of every newly placed order.
const StatusPending Status = "pending"

// DeliveryInfo is where the order ships.
type DeliveryInfo struct {
	County  string
	Town    string
	Address string
}

// GuestInfo is the contact of a caller without an account.
type GuestInfo struct {
	Email string
	Name  string
	Phone string
}

// Order is a placed order with its priced items.
type Order struct {
	ID             uuid.UUID
	Number         string
	UserID         *uuid.UUID
	Guest          *GuestInfo
	Delivery       DeliveryInfo
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	DeliveryFee    decimal.Decimal
	TotalAmount    decimal.Decimal
	PromoCodeID    *uuid.UUID
	PromoCode      string
	PaymentMethod  string
	Status         Status
	Items          []Item
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is a snapshot of a purchased line. It is never joined back to the
// live catalog.
type Item struct {
	ID           uuid.UUID
	ProductID    uuid.UUID
	VariantID    *uuid.UUID
	ProductTitle string
	ProductSKU   string
	Quantity     int
	UnitPrice    decimal.Decimal
	Discount     decimal.Decimal
	TotalPrice   decimal.Decimal
}

var (
	// ErrNotFound is returned when an order id does not resolve.
	ErrNotFound = errors.New("order not found")
	// ErrForbidden is returned when the caller neither owns the order nor is
	// an admin.
	ErrForbidden = errors.New("not authorized to access this order")
	// ErrDuplicateNumber is returned by Tx.InsertOrder when the order number
	// is already taken.
	ErrDuplicateNumber = errors.New("duplicate order number")
	// ErrStockConflict is returned by the stock decrements when the guarded
	// update matched no row.
	ErrStockConflict = errors.New("inventory changed during checkout")
)

// Page selects a window of a user's orders.
type Page struct {
	Skip  int
	Limit int
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Normalize clamps p to valid bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Store is the persistence boundary of the order service.
type Store interface {
	// WithinTx runs fn in one transaction, committing if fn returns nil and
	// rolling back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	// ListByUser returns the page of userID's orders, newest first, and the
	// total count. Items are not loaded.
	ListByUser(ctx context.Context, userID uuid.UUID, page Page) ([]Order, int, error)
}

// Tx is the set of reads and writes available inside the checkout
// transaction. Lock* methods hold row locks until the transaction ends.
type Tx interface {
	// CartLines locks the caller's cart, so concurrent checkouts of one cart
	// run one after the other.
	CartLines(ctx context.Context, userID uuid.UUID) ([]cart.Line, error)
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
	LockVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error)
	// LockPromo returns promo.ErrNotFound when no code matches.
	LockPromo(ctx context.Context, code string) (*promo.Code, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	// InsertOrder persists o and its items, filling generated ids and
	// timestamps.
	InsertOrder(ctx context.Context, o *Order) error
	DecrementProductStock(ctx context.Context, id uuid.UUID, qty int) error
	DecrementVariantStock(ctx context.Context, id uuid.UUID, qty int) error
	IncrementPromoUsage(ctx context.Context, id uuid.UUID) error
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

// Notifier is told about orders after they commit.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *Order) error { return nil }
