// Package catalog holds the product and variant records the checkout reads.
// Catalog management itself lives in another service.
package catalog

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound is returned when a product id does not resolve.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound is returned when a variant id does not resolve.
	ErrVariantNotFound = errors.New("product variant not found")
)

// Product is a sellable catalog item.
type Product struct {
	ID             uuid.UUID
	Title          string
	SKU            string
	BasePrice      decimal.Decimal
	InventoryCount int
	Active         bool
}

// Variant is a purchasable option of a Product with its own stock.
type Variant struct {
	ID              uuid.UUID
	ProductID       uuid.UUID
	Name            string
	SKU             string
	PriceAdjustment decimal.Decimal
	InventoryCount  int
	Active          bool
}
