package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

func testOrder() *order.Order {
	user := uuid.New()
	variant := uuid.New()
	return &order.Order{
		ID:             uuid.New(),
		Number:         "ORD-20250615-AB12C",
		UserID:         &user,
		Subtotal:       decimal.RequireFromString("100"),
		DiscountAmount: decimal.RequireFromString("20"),
		DeliveryFee:    decimal.RequireFromString("200"),
		TotalAmount:    decimal.RequireFromString("280"),
		Items: []order.Item{
			{ProductID: uuid.New(), VariantID: &variant, ProductTitle: "Shirt", Quantity: 2, UnitPrice: decimal.RequireFromString("50")},
		},
	}
}

func TestEncodeOrderPlaced(t *testing.T) {
	o := testOrder()
	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	raw := EncodeOrderPlaced(o, "evt-1", ts)

	fields := map[string]string{}
	var items int
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		if key == "items" {
			return d.Arr(func(d *jx.Decoder) error {
				items++
				return d.Skip()
			})
		}
		v, err := d.Raw()
		if err != nil {
			return err
		}
		fields[key] = v.String()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, `"ORDER_PLACED"`, fields["event_type"])
	assert.Equal(t, `"ORD-20250615-AB12C"`, fields["order_number"])
	assert.Equal(t, `"2025-06-15T12:00:00Z"`, fields["timestamp"])
	assert.Equal(t, "280.00", fields["total_amount"])
	assert.Equal(t, "20.00", fields["discount_amount"])
	assert.Equal(t, 1, items)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafka_OrderPlaced(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w, now: time.Now}
	o := testOrder()

	require.NoError(t, k.OrderPlaced(context.Background(), o))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, o.Number, string(w.msgs[0].Key))
	assert.Equal(t, EventOrderPlaced, string(w.msgs[0].Headers[0].Value))

	w.err = errors.New("broker down")
	require.ErrorIs(t, k.OrderPlaced(context.Background(), o), w.err)
}

type recorder struct {
	mu     sync.Mutex
	orders []string
	done   chan struct{}
}

func (r *recorder) OrderPlaced(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	r.orders = append(r.orders, o.Number)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestAsync_Delivers(t *testing.T) {
	rec := &recorder{done: make(chan struct{}, 4)}
	a := NewAsync(rec, 4, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	require.NoError(t, a.OrderPlaced(ctx, testOrder()))
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	assert.Equal(t, []string{"ORD-20250615-AB12C"}, rec.orders)
}

func TestAsync_QueueFull(t *testing.T) {
	rec := &recorder{done: make(chan struct{}, 4)}
	a := NewAsync(rec, 1, time.Second)

	require.NoError(t, a.OrderPlaced(context.Background(), testOrder()))
	require.ErrorIs(t, a.OrderPlaced(context.Background(), testOrder()), ErrQueueFull)
}

func TestAsync_DrainsOnShutdown(t *testing.T) {
	rec := &recorder{done: make(chan struct{}, 4)}
	a := NewAsync(rec, 4, time.Second)

	for range 3 {
		require.NoError(t, a.OrderPlaced(context.Background(), testOrder()))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Len(t, rec.orders, 3)
}
