package order

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/ordernum"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promo"
)

// DefaultAttempts is how many times a checkout is retried after losing an
// order number race.
const DefaultAttempts = 3

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID        *uuid.UUID
	Guest         *GuestInfo
	Delivery      DeliveryInfo
	PromoCode     string
	PaymentMethod string
}

// ListResult is one page of a user's orders.
type ListResult struct {
	Orders []Order
	Total  int
	Page   Page
}

// Service encapsulates order placement and lookup.
type Service struct {
	store    Store
	fees     pricing.DeliveryFees
	numbers  *ordernum.Generator
	notifier Notifier
	now      func() time.Time
	attempts int

	tracer   trace.Tracer
	placed   metric.Int64Counter
	rejected metric.Int64Counter
	revenue  metric.Float64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithDeliveryFees overrides the flat default delivery fee.
func WithDeliveryFees(f pricing.DeliveryFees) Option {
	return func(s *Service) { s.fees = f }
}

// WithNumbers overrides the order number generator.
func WithNumbers(g *ordernum.Generator) Option {
	return func(s *Service) { s.numbers = g }
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock sets the time source used for promo validity.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAttempts sets the number of checkout attempts on order number races.
func WithAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("storefront/order") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.initMetrics(mp.Meter("storefront/order")) }
}

func (s *Service) initMetrics(m metric.Meter) {
	s.placed, _ = m.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders committed"))
	s.rejected, _ = m.Int64Counter("storefront.orders.rejected",
		metric.WithDescription("Orders refused by a business rule"))
	s.revenue, _ = m.Float64Counter("storefront.orders.revenue",
		metric.WithDescription("Sum of committed order totals"))
}

// NewService creates an order Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		fees:     pricing.FlatFee(pricing.DefaultDeliveryFee),
		notifier: nopNotifier{},
		now:      time.Now,
		attempts: DefaultAttempts,
		tracer:   tracenoop.NewTracerProvider().Tracer("storefront/order"),
	}
	s.initMetrics(metricnoop.NewMeterProvider().Meter("storefront/order"))
	for _, o := range opts {
		o(s)
	}
	if s.numbers == nil {
		s.numbers = ordernum.New(ordernum.WithClock(s.now))
	}
	return s
}

// PlaceOrder converts the caller's cart into an order. Business-rule failures
// are returned as *Rejection and leave no trace in storage.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if req.UserID == nil {
		if req.Guest == nil {
			return nil, s.rejectedWith(ctx, reject(ReasonIdentityRequired, "Either user or guest information required"))
		}
		return nil, s.rejectedWith(ctx, reject(ReasonGuestCheckout, "Guest checkout not yet implemented"))
	}
	req.PromoCode = strings.TrimSpace(req.PromoCode)

	for attempt := 1; ; attempt++ {
		o, err := s.place(ctx, *req.UserID, req)
		if err == nil {
			s.committed(ctx, o)
			return o, nil
		}

		var rej *Rejection
		if errors.As(err, &rej) {
			return nil, s.rejectedWith(ctx, rej)
		}
		if errors.Is(err, ErrDuplicateNumber) && attempt < s.attempts {
			zctx.From(ctx).Debug("Order number taken at insert, retrying", zap.Int("attempt", attempt))
			continue
		}
		return nil, errors.Wrap(err, "place order")
	}
}

func (s *Service) rejectedWith(ctx context.Context, rej *Rejection) error {
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(rej.Reason))))
	zctx.From(ctx).Info("Order rejected",
		zap.String("reason", string(rej.Reason)),
		zap.String("message", rej.Message),
	)
	return rej
}

func (s *Service) committed(ctx context.Context, o *Order) {
	s.placed.Add(ctx, 1)
	s.revenue.Add(ctx, o.TotalAmount.InexactFloat64())

	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.String("order_number", o.Number),
		zap.Stringer("order_id", o.ID),
		zap.Stringer("total", o.TotalAmount),
		zap.Int("items", len(o.Items)),
	)
	if err := s.notifier.OrderPlaced(ctx, o); err != nil {
		lg.Warn("Order notification dropped", zap.String("order_number", o.Number), zap.Error(err))
	}
}

// place runs one checkout attempt inside a transaction.
func (s *Service) place(ctx context.Context, userID uuid.UUID, req PlaceOrderRequest) (*Order, error) {
	var placed *Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		lines, err := tx.CartLines(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "load cart")
		}
		if len(lines) == 0 {
			return reject(ReasonEmptyCart, "Cart is empty")
		}

		items, err := s.priceLines(ctx, tx, lines)
		if err != nil {
			return err
		}
		priced := make([]pricing.Line, len(items))
		for i, it := range items {
			priced[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		}
		subtotal := pricing.Round(pricing.Subtotal(priced))

		fee, err := s.fees.Fee(ctx, pricing.Destination{
			County:  req.Delivery.County,
			Town:    req.Delivery.Town,
			Address: req.Delivery.Address,
		}, subtotal)
		if err != nil {
			return errors.Wrap(err, "delivery fee")
		}
		fee = pricing.Round(fee)

		discount := decimal.Zero
		var code *promo.Code
		if req.PromoCode != "" {
			v := promo.NewRepoValidator(promo.RepositoryFunc(tx.LockPromo), promo.WithClock(s.now))
			res, err := v.Validate(ctx, req.PromoCode, subtotal.Add(fee))
			if err != nil {
				return errors.Wrap(err, "validate promo")
			}
			if !res.Valid {
				return reject(ReasonPromo, "%s", res.Message)
			}
			discount, code = res.Discount, res.Promo
		}

		number, err := s.numbers.Next(ctx, tx.OrderNumberExists)
		if err != nil {
			return errors.Wrap(err, "order number")
		}

		o := &Order{
			Number:         number,
			UserID:         &userID,
			Guest:          req.Guest,
			Delivery:       req.Delivery,
			Subtotal:       subtotal,
			DiscountAmount: discount,
			DeliveryFee:    fee,
			TotalAmount:    pricing.Total(subtotal, fee, discount),
			PaymentMethod:  req.PaymentMethod,
			Status:         StatusPending,
			Items:          items,
		}
		if code != nil {
			o.PromoCodeID = &code.ID
			o.PromoCode = code.Code
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		for _, it := range items {
			if err := tx.DecrementProductStock(ctx, it.ProductID, it.Quantity); err != nil {
				return errors.Wrapf(err, "decrement product %s", it.ProductID)
			}
			if it.VariantID != nil {
				if err := tx.DecrementVariantStock(ctx, *it.VariantID, it.Quantity); err != nil {
					return errors.Wrapf(err, "decrement variant %s", *it.VariantID)
				}
			}
		}
		if code != nil {
			if err := tx.IncrementPromoUsage(ctx, code.ID); err != nil {
				return errors.Wrap(err, "increment promo usage")
			}
		}
		if err := tx.ClearCart(ctx, userID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// priceLines locks every referenced product and variant, checks them in cart
// order and returns the item snapshots. Stock is tracked across lines so two
// lines drawing on the same product cannot oversell it.
func (s *Service) priceLines(ctx context.Context, tx Tx, lines []cart.Line) ([]Item, error) {
	var productIDs, variantIDs []uuid.UUID
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
		if l.VariantID != nil {
			variantIDs = append(variantIDs, *l.VariantID)
		}
	}
	productIDs = sortedUnique(productIDs)
	variantIDs = sortedUnique(variantIDs)

	products, err := tx.LockProducts(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	variants := map[uuid.UUID]catalog.Variant{}
	if len(variantIDs) > 0 {
		if variants, err = tx.LockVariants(ctx, variantIDs); err != nil {
			return nil, errors.Wrap(err, "lock variants")
		}
	}

	productLeft := make(map[uuid.UUID]int, len(products))
	for id, p := range products {
		productLeft[id] = p.InventoryCount
	}
	variantLeft := make(map[uuid.UUID]int, len(variants))
	for id, v := range variants {
		variantLeft[id] = v.InventoryCount
	}

	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, reject(ReasonProductNotFound, "Product not found")
		}
		if !p.Active {
			return nil, reject(ReasonProductUnavailable, "Product '%s' is no longer available", p.Title)
		}
		if left := productLeft[p.ID]; left < l.Quantity {
			return nil, reject(ReasonInsufficientStock, "Insufficient stock for '%s'. Available: %d", p.Title, left)
		}
		productLeft[p.ID] -= l.Quantity

		item := Item{
			ProductID:    p.ID,
			ProductTitle: p.Title,
			ProductSKU:   p.SKU,
			Quantity:     l.Quantity,
			Discount:     decimal.Zero,
		}
		adjustment := decimal.Zero
		if l.VariantID != nil {
			v, ok := variants[*l.VariantID]
			if !ok || v.ProductID != p.ID {
				return nil, reject(ReasonVariantNotFound, "Product variant not found")
			}
			if !v.Active {
				return nil, reject(ReasonVariantUnavailable, "Product '%s' variant is no longer available", p.Title)
			}
			if left := variantLeft[v.ID]; left < l.Quantity {
				return nil, reject(ReasonVariantInsufficientStock,
					"Insufficient stock for '%s' variant. Available: %d", p.Title, left)
			}
			variantLeft[v.ID] -= l.Quantity

			item.VariantID = &v.ID
			item.ProductSKU = v.SKU
			adjustment = v.PriceAdjustment
		}

		item.UnitPrice = pricing.UnitPrice(p.BasePrice, adjustment)
		item.TotalPrice = pricing.Line{UnitPrice: item.UnitPrice, Quantity: l.Quantity}.Total()
		items = append(items, item)
	}
	return items, nil
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(ids)
}

// Get returns the order with id if caller may see it.
func (s *Service) Get(ctx context.Context, id uuid.UUID, caller auth.Identity) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !caller.Admin && (o.UserID == nil || *o.UserID != caller.UserID) {
		return nil, ErrForbidden
	}
	return o, nil
}

// List returns a page of userID's orders, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page Page) (*ListResult, error) {
	page = page.Normalize()
	orders, total, err := s.store.ListByUser(ctx, userID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &ListResult{Orders: orders, Total: total, Page: page}, nil
}
