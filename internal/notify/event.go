// Package notify publishes order events after checkout commits.
package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// EventOrderPlaced is the event_type of order confirmation events.
const EventOrderPlaced = "ORDER_PLACED"

// EncodeOrderPlaced renders the confirmation event for o.
func EncodeOrderPlaced(o *order.Order, eventID string, ts time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(eventID)
	e.FieldStart("event_type")
	e.Str(EventOrderPlaced)
	e.FieldStart("timestamp")
	e.Str(ts.UTC().Format(time.RFC3339Nano))

	e.FieldStart("order_id")
	e.Str(o.ID.String())
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("user_id")
	if o.UserID != nil {
		e.Str(o.UserID.String())
	} else {
		e.Null()
	}
	if o.Guest != nil {
		e.FieldStart("email")
		e.Str(o.Guest.Email)
	}
	e.FieldStart("subtotal")
	e.Num(jx.Num(o.Subtotal.StringFixed(2)))
	e.FieldStart("discount_amount")
	e.Num(jx.Num(o.DiscountAmount.StringFixed(2)))
	e.FieldStart("delivery_fee")
	e.Num(jx.Num(o.DeliveryFee.StringFixed(2)))
	e.FieldStart("total_amount")
	e.Num(jx.Num(o.TotalAmount.StringFixed(2)))

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID.String())
		if it.VariantID != nil {
			e.FieldStart("variant_id")
			e.Str(it.VariantID.String())
		}
		e.FieldStart("title")
		e.Str(it.ProductTitle)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.Num(jx.Num(it.UnitPrice.StringFixed(2)))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}
