package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// ErrQueueFull is returned when an event is dropped because the queue is full.
var ErrQueueFull = errors.New("notification queue full")

type job struct {
	ctx context.Context
	o   *order.Order
}

// Async hands events to a background worker so that a slow or failing
// downstream never delays the caller. Delivery is best effort.
type Async struct {
	next    order.Notifier
	queue   chan job
	timeout time.Duration
}

var _ order.Notifier = (*Async)(nil)

// NewAsync wraps next with a queue of the given size. Each delivery gets
// timeout to complete.
func NewAsync(next order.Notifier, size int, timeout time.Duration) *Async {
	return &Async{
		next:    next,
		queue:   make(chan job, size),
		timeout: timeout,
	}
}

// OrderPlaced enqueues o without blocking.
func (a *Async) OrderPlaced(ctx context.Context, o *order.Order) error {
	select {
	case a.queue <- job{ctx: context.WithoutCancel(ctx), o: o}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case j := <-a.queue:
			a.deliver(j)
		case <-ctx.Done():
			for {
				select {
				case j := <-a.queue:
					a.deliver(j)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Async) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
	defer cancel()

	if err := a.next.OrderPlaced(ctx, j.o); err != nil {
		zctx.From(ctx).Error("Deliver order notification",
			zap.String("order_number", j.o.Number),
			zap.Error(err),
		)
	}
}
