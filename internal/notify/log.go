package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// Log writes order events to the context logger. It stands in for a broker
// in development.
type Log struct{}

var _ order.Notifier = Log{}

func (Log) OrderPlaced(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Order confirmation",
		zap.String("order_number", o.Number),
		zap.Stringer("total", o.TotalAmount),
	)
	return nil
}
