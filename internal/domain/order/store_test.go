package order

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/promo"
)

// memStore is an in-memory Store whose transactions restore a snapshot on
// failure.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]catalog.Product
	variants map[uuid.UUID]catalog.Variant
	promos   map[string]promo.Code
	carts    map[uuid.UUID][]cart.Line
	orders   map[uuid.UUID]*Order

	// failOn makes the named Tx method fail.
	failOn string
	// duplicates makes the next n InsertOrder calls report a taken number.
	duplicates int
	txCount    int
}

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{
		products: map[uuid.UUID]catalog.Product{},
		variants: map[uuid.UUID]catalog.Variant{},
		promos:   map[string]promo.Code{},
		carts:    map[uuid.UUID][]cart.Line{},
		orders:   map[uuid.UUID]*Order{},
	}
}

type snapshot struct {
	products map[uuid.UUID]catalog.Product
	variants map[uuid.UUID]catalog.Variant
	promos   map[string]promo.Code
	carts    map[uuid.UUID][]cart.Line
	orders   map[uuid.UUID]*Order
}

func (m *memStore) snapshot() snapshot {
	carts := make(map[uuid.UUID][]cart.Line, len(m.carts))
	for k, v := range m.carts {
		carts[k] = slices.Clone(v)
	}
	return snapshot{
		products: maps.Clone(m.products),
		variants: maps.Clone(m.variants),
		promos:   maps.Clone(m.promos),
		carts:    carts,
		orders:   maps.Clone(m.orders),
	}
}

func (m *memStore) restore(s snapshot) {
	m.products, m.variants, m.promos, m.carts, m.orders = s.products, s.variants, s.promos, s.carts, s.orders
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCount++
	snap := m.snapshot()
	if err := fn(ctx, memTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *memStore) ListByUser(_ context.Context, userID uuid.UUID, page Page) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Order
	for _, o := range m.orders {
		if o.UserID != nil && *o.UserID == userID {
			all = append(all, *o)
		}
	}
	slices.SortFunc(all, func(a, b Order) int { return b.CreatedAt.Compare(a.CreatedAt) })

	total := len(all)
	lo := min(page.Skip, total)
	hi := min(lo+page.Limit, total)
	return all[lo:hi], total, nil
}

type memTx struct {
	m *memStore
}

func (t memTx) fail(op string) error {
	if t.m.failOn == op {
		return errInjected
	}
	return nil
}

func (t memTx) CartLines(_ context.Context, userID uuid.UUID) ([]cart.Line, error) {
	if err := t.fail("CartLines"); err != nil {
		return nil, err
	}
	return slices.Clone(t.m.carts[userID]), nil
}

func (t memTx) LockProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	out := make(map[uuid.UUID]catalog.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t memTx) LockVariants(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error) {
	out := make(map[uuid.UUID]catalog.Variant, len(ids))
	for _, id := range ids {
		if v, ok := t.m.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (t memTx) LockPromo(_ context.Context, code string) (*promo.Code, error) {
	c, ok := t.m.promos[promo.Normalize(code)]
	if !ok {
		return nil, promo.ErrNotFound
	}
	return &c, nil
}

func (t memTx) OrderNumberExists(_ context.Context, number string) (bool, error) {
	for _, o := range t.m.orders {
		if o.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) InsertOrder(_ context.Context, o *Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	if t.m.duplicates > 0 {
		t.m.duplicates--
		return ErrDuplicateNumber
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	for i := range o.Items {
		o.Items[i].ID = uuid.New()
	}
	t.m.orders[o.ID] = o
	return nil
}

func (t memTx) DecrementProductStock(_ context.Context, id uuid.UUID, qty int) error {
	if err := t.fail("DecrementProductStock"); err != nil {
		return err
	}
	p := t.m.products[id]
	if p.InventoryCount < qty {
		return ErrStockConflict
	}
	p.InventoryCount -= qty
	t.m.products[id] = p
	return nil
}

func (t memTx) DecrementVariantStock(_ context.Context, id uuid.UUID, qty int) error {
	v := t.m.variants[id]
	if v.InventoryCount < qty {
		return ErrStockConflict
	}
	v.InventoryCount -= qty
	t.m.variants[id] = v
	return nil
}

func (t memTx) IncrementPromoUsage(_ context.Context, id uuid.UUID) error {
	for k, c := range t.m.promos {
		if c.ID == id {
			c.UsageCount++
			t.m.promos[k] = c
			return nil
		}
	}
	return promo.ErrNotFound
}

func (t memTx) ClearCart(_ context.Context, userID uuid.UUID) error {
	if err := t.fail("ClearCart"); err != nil {
		return err
	}
	delete(t.m.carts, userID)
	return nil
}

// Fixtures.

func (m *memStore) addProduct(title, price string, stock int) catalog.Product {
	p := catalog.Product{
		ID:             uuid.New(),
		Title:          title,
		SKU:            "SKU-" + title,
		BasePrice:      decimal.RequireFromString(price),
		InventoryCount: stock,
		Active:         true,
	}
	m.products[p.ID] = p
	return p
}

func (m *memStore) addVariant(p catalog.Product, name, adjustment string, stock int) catalog.Variant {
	v := catalog.Variant{
		ID:              uuid.New(),
		ProductID:       p.ID,
		Name:            name,
		SKU:             p.SKU + "-" + name,
		PriceAdjustment: decimal.RequireFromString(adjustment),
		InventoryCount:  stock,
		Active:          true,
	}
	m.variants[v.ID] = v
	return v
}

func (m *memStore) addLine(userID, productID uuid.UUID, variantID *uuid.UUID, qty int) {
	m.carts[userID] = append(m.carts[userID], cart.Line{
		ID:        uuid.New(),
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
	})
}

func (m *memStore) addPromo(c promo.Code) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.promos[promo.Normalize(c.Code)] = c
}
