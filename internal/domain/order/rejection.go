package order

import "fmt"

// Reason classifies why an order was refused.
type Reason string

const (
	ReasonIdentityRequired         Reason = "identity_required"
	ReasonGuestCheckout            Reason = "guest_checkout"
	ReasonEmptyCart                Reason = "empty_cart"
	ReasonProductNotFound          Reason = "product_not_found"
	ReasonProductUnavailable       Reason = "product_unavailable"
	ReasonInsufficientStock        Reason = "insufficient_stock"
	ReasonVariantNotFound          Reason = "variant_not_found"
	ReasonVariantUnavailable       Reason = "variant_unavailable"
	ReasonVariantInsufficientStock Reason = "variant_insufficient_stock"
	ReasonPromo                    Reason = "promo"
)

// Rejection is a business-rule failure. Message is safe to show to the
// caller.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
