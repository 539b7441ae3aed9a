// Package cart manages the per-user shopping cart that checkout converts into
// an order.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// ErrLineNotFound is returned when removing a line the caller does not own.
var ErrLineNotFound = errors.New("cart item not found")

// Rejection is a cart change refused by a business rule.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func reject(format string, args ...any) error {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// Line is one (product, optional variant, quantity) tuple in a cart.
type Line struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	CreatedAt time.Time
}

// Item is a Line resolved against the current catalog.
type Item struct {
	Line
	Title       string
	SKU         string
	VariantName string
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	// Available is false when the product or variant has been deactivated
	// or removed since the line was added.
	Available bool
}

// Cart is the caller's cart with resolved prices.
type Cart struct {
	UserID   uuid.UUID
	Items    []Item
	Subtotal decimal.Decimal
}

// Store persists carts.
type Store interface {
	Lines(ctx context.Context, userID uuid.UUID) ([]Line, error)
	Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
	Variants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error)
	// PutLine creates the cart if needed and sets the quantity of the line
	// matching (productID, variantID).
	PutLine(ctx context.Context, userID, productID uuid.UUID, variantID *uuid.UUID, quantity int) (Line, error)
	// RemoveLine returns ErrLineNotFound when the line is not in userID's cart.
	RemoveLine(ctx context.Context, userID, lineID uuid.UUID) error
}

// Service reads and edits carts.
type Service struct {
	store Store
}

// NewService creates a cart Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns userID's cart. A user without a cart gets an empty one.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	lines, err := s.store.Lines(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load lines")
	}

	productIDs := make([]uuid.UUID, 0, len(lines))
	var variantIDs []uuid.UUID
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
		if l.VariantID != nil {
			variantIDs = append(variantIDs, *l.VariantID)
		}
	}

	products, err := s.store.Products(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	variants := map[uuid.UUID]catalog.Variant{}
	if len(variantIDs) > 0 {
		if variants, err = s.store.Variants(ctx, variantIDs); err != nil {
			return nil, errors.Wrap(err, "load variants")
		}
	}

	c := &Cart{UserID: userID, Items: make([]Item, 0, len(lines)), Subtotal: decimal.Zero}
	for _, l := range lines {
		item := Item{Line: l}
		p, ok := products[l.ProductID]
		if ok {
			item.Title = p.Title
			item.SKU = p.SKU
			item.Available = p.Active
			adjustment := decimal.Zero
			if l.VariantID != nil {
				v, ok := variants[*l.VariantID]
				if ok {
					item.SKU = v.SKU
					item.VariantName = v.Name
					adjustment = v.PriceAdjustment
				}
				item.Available = item.Available && ok && v.Active
			}
			item.UnitPrice = pricing.UnitPrice(p.BasePrice, adjustment)
			item.Total = pricing.Line{UnitPrice: item.UnitPrice, Quantity: l.Quantity}.Total()
		}
		if item.Available {
			c.Subtotal = c.Subtotal.Add(item.Total)
		}
		c.Items = append(c.Items, item)
	}
	return c, nil
}

// Put sets the quantity of a product (and optional variant) in userID's cart.
// Stock is checked here as a courtesy; checkout re-checks it under lock.
func (s *Service) Put(ctx context.Context, userID, productID uuid.UUID, variantID *uuid.UUID, quantity int) (Line, error) {
	if quantity <= 0 {
		return Line{}, reject("Quantity must be greater than 0")
	}

	products, err := s.store.Products(ctx, []uuid.UUID{productID})
	if err != nil {
		return Line{}, errors.Wrap(err, "load product")
	}
	p, ok := products[productID]
	if !ok {
		return Line{}, catalog.ErrProductNotFound
	}
	if !p.Active {
		return Line{}, reject("Product '%s' is no longer available", p.Title)
	}

	available := p.InventoryCount
	if variantID != nil {
		variants, err := s.store.Variants(ctx, []uuid.UUID{*variantID})
		if err != nil {
			return Line{}, errors.Wrap(err, "load variant")
		}
		v, ok := variants[*variantID]
		if !ok || v.ProductID != productID {
			return Line{}, catalog.ErrVariantNotFound
		}
		if !v.Active {
			return Line{}, reject("Product '%s' variant is no longer available", p.Title)
		}
		available = min(available, v.InventoryCount)
	}
	if available < quantity {
		return Line{}, reject("Insufficient stock for '%s'. Available: %d", p.Title, available)
	}

	line, err := s.store.PutLine(ctx, userID, productID, variantID, quantity)
	if err != nil {
		return Line{}, errors.Wrap(err, "put line")
	}
	return line, nil
}

// Remove deletes a line from userID's cart.
func (s *Service) Remove(ctx context.Context, userID, lineID uuid.UUID) error {
	if err := s.store.RemoveLine(ctx, userID, lineID); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return err
		}
		return errors.Wrap(err, "remove line")
	}
	return nil
}
