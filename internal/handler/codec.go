package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/promo"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// decodeObject reads the request body and walks its top-level JSON object.
func decodeObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return invalid("Request body is too large or unreadable")
	}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return invalid("Request body must be a JSON object")
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		var bad *badRequest
		if errors.As(err, &bad) {
			return err
		}
		return invalid("Invalid JSON body")
	}
	return nil
}

// optString reads a string that may be null.
func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// maxMoney is the first amount NUMERIC(12,2) cannot store.
var maxMoney = decimal.New(1, 10)

// maxMoneyLen bounds the literal so huge coefficients are never parsed.
const maxMoneyLen = 32

// decodeMoney accepts a JSON number or a numeric string with at most two
// decimal places that fits NUMERIC(12,2). The exponent is checked before any
// arithmetic, which would otherwise rescale to its full width.
func decodeMoney(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = string(n)
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		return decimal.Decimal{}, invalid(field + " must be a number")
	}
	if len(raw) > maxMoneyLen {
		return decimal.Decimal{}, invalid(field + " is out of range")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, invalid(field + " must be a number")
	}
	if exp := v.Exponent(); exp > 10 || exp < -maxMoneyLen || v.Abs().GreaterThanOrEqual(maxMoney) {
		return decimal.Decimal{}, invalid(field + " is out of range")
	}
	if !v.Equal(v.Round(2)) {
		return decimal.Decimal{}, invalid(field + " must have at most two decimal places")
	}
	return v, nil
}

func decodeUUID(d *jx.Decoder, field string) (uuid.UUID, error) {
	if d.Next() != jx.String {
		return uuid.Nil, invalid(field + " must be a UUID string")
	}
	s, err := d.Str()
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalid("Invalid " + field + " format")
	}
	return id, nil
}

func decodeDelivery(d *jx.Decoder) (*order.DeliveryInfo, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	if d.Next() != jx.Object {
		return nil, invalid("deliveryInfo must be an object")
	}
	var info order.DeliveryInfo
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "county":
			info.County, err = optString(d)
		case "town":
			info.Town, err = optString(d)
		case "address":
			info.Address, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return &info, err
}

func decodeGuest(d *jx.Decoder) (*order.GuestInfo, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	if d.Next() != jx.Object {
		return nil, invalid("guestInfo must be an object")
	}
	var info order.GuestInfo
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "email":
			info.Email, err = optString(d)
		case "name":
			info.Name, err = optString(d)
		case "phone":
			info.Phone, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return &info, err
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func optMoney(e *jx.Encoder, v *decimal.Decimal) {
	if v == nil {
		e.Null()
		return
	}
	money(e, *v)
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func optUUID(e *jx.Encoder, id *uuid.UUID) {
	if id == nil {
		e.Null()
		return
	}
	e.Str(id.String())
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID.String())
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("userId")
	optUUID(e, o.UserID)
	e.FieldStart("guestInfo")
	if o.Guest != nil {
		e.ObjStart()
		e.FieldStart("email")
		e.Str(o.Guest.Email)
		e.FieldStart("name")
		e.Str(o.Guest.Name)
		e.FieldStart("phone")
		e.Str(o.Guest.Phone)
		e.ObjEnd()
	} else {
		e.Null()
	}
	e.FieldStart("deliveryInfo")
	e.ObjStart()
	e.FieldStart("county")
	e.Str(o.Delivery.County)
	e.FieldStart("town")
	e.Str(o.Delivery.Town)
	e.FieldStart("address")
	e.Str(o.Delivery.Address)
	e.ObjEnd()

	e.FieldStart("subtotal")
	money(e, o.Subtotal)
	e.FieldStart("discountAmount")
	money(e, o.DiscountAmount)
	e.FieldStart("deliveryFee")
	money(e, o.DeliveryFee)
	e.FieldStart("totalAmount")
	money(e, o.TotalAmount)
	e.FieldStart("promoCode")
	if o.PromoCode != "" {
		e.Str(o.PromoCode)
	} else {
		e.Null()
	}
	e.FieldStart("paymentMethod")
	if o.PaymentMethod != "" {
		e.Str(o.PaymentMethod)
	} else {
		e.Null()
	}
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID.String())
		e.FieldStart("productId")
		e.Str(it.ProductID.String())
		e.FieldStart("variantId")
		optUUID(e, it.VariantID)
		e.FieldStart("productTitle")
		e.Str(it.ProductTitle)
		e.FieldStart("productSku")
		e.Str(it.ProductSKU)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		money(e, it.UnitPrice)
		e.FieldStart("discount")
		money(e, it.Discount)
		e.FieldStart("totalPrice")
		money(e, it.TotalPrice)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("createdAt")
	timestamp(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	timestamp(e, o.UpdatedAt)
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, l cart.Line) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(l.ID.String())
	e.FieldStart("productId")
	e.Str(l.ProductID.String())
	e.FieldStart("variantId")
	optUUID(e, l.VariantID)
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	e.FieldStart("createdAt")
	timestamp(e, l.CreatedAt)
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(c.UserID.String())
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID.String())
		e.FieldStart("productId")
		e.Str(it.ProductID.String())
		e.FieldStart("variantId")
		optUUID(e, it.VariantID)
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("sku")
		e.Str(it.SKU)
		e.FieldStart("variantName")
		if it.VariantName != "" {
			e.Str(it.VariantName)
		} else {
			e.Null()
		}
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		money(e, it.UnitPrice)
		e.FieldStart("total")
		money(e, it.Total)
		e.FieldStart("available")
		e.Bool(it.Available)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	money(e, c.Subtotal)
	e.ObjEnd()
}

// encodePromoResult renders a preview. Details are only exposed for codes
// that can be applied.
func encodePromoResult(e *jx.Encoder, res promo.Result, now time.Time) {
	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(res.Valid)
	e.FieldStart("message")
	e.Str(res.Message)
	e.FieldStart("discountAmount")
	if res.Valid {
		money(e, res.Discount)
	} else {
		e.Null()
	}
	e.FieldStart("promoCode")
	if res.Valid && res.Promo != nil {
		encodePromo(e, res.Promo, now)
	} else {
		e.Null()
	}
	e.ObjEnd()
}

func encodePromo(e *jx.Encoder, c *promo.Code, now time.Time) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID.String())
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	money(e, c.DiscountValue)
	e.FieldStart("minOrderAmount")
	optMoney(e, c.MinOrderAmount)
	e.FieldStart("maxDiscountAmount")
	optMoney(e, c.MaxDiscountAmount)
	e.FieldStart("usageLimit")
	if c.UsageLimit != nil {
		e.Int(*c.UsageLimit)
	} else {
		e.Null()
	}
	e.FieldStart("usageCount")
	e.Int(c.UsageCount)
	e.FieldStart("validFrom")
	timestamp(e, c.ValidFrom)
	e.FieldStart("validUntil")
	timestamp(e, c.ValidUntil)
	e.FieldStart("isActive")
	e.Bool(c.Active)
	e.FieldStart("isExpired")
	e.Bool(c.Expired(now))
	e.FieldStart("isUsageExhausted")
	e.Bool(c.UsageExhausted())
	e.FieldStart("createdAt")
	timestamp(e, c.CreatedAt)
	e.FieldStart("updatedAt")
	timestamp(e, c.UpdatedAt)
	e.ObjEnd()
}
