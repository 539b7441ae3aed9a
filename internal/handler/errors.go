package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/order"
)

// WriteError renders the {"code","message"} error body.
func WriteError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// respondError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		orderRej *order.Rejection
		cartRej  *cart.Rejection
		bad      *badRequest
	)
	switch {
	case errors.As(err, &bad):
		WriteError(w, http.StatusBadRequest, bad.msg)
	case errors.As(err, &orderRej):
		WriteError(w, http.StatusBadRequest, orderRej.Message)
	case errors.As(err, &cartRej):
		WriteError(w, http.StatusBadRequest, cartRej.Message)
	case errors.Is(err, order.ErrForbidden):
		WriteError(w, http.StatusForbidden, "Not authorized to access this order")
	case errors.Is(err, order.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, cart.ErrLineNotFound):
		WriteError(w, http.StatusNotFound, "Cart item not found")
	case errors.Is(err, catalog.ErrProductNotFound):
		WriteError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, catalog.ErrVariantNotFound):
		WriteError(w, http.StatusNotFound, "Product variant not found")
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// badRequest is an input validation failure detected before any service
// call.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func invalid(msg string) error {
	return &badRequest{msg: msg}
}
