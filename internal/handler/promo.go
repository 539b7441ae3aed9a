package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// validatePromo previews a code. Any outcome of the checks is a 200; only
// malformed input and storage failures are errors.
func (h *Handler) validatePromo(w http.ResponseWriter, r *http.Request) {
	var (
		code      string
		amount    decimal.Decimal
		hasAmount bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = optString(d)
		case "orderAmount":
			amount, err = decodeMoney(d, "orderAmount")
			hasAmount = err == nil
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !hasAmount {
		WriteError(w, http.StatusBadRequest, "orderAmount is required")
		return
	}
	if amount.IsNegative() {
		WriteError(w, http.StatusBadRequest, "orderAmount must not be negative")
		return
	}

	res, err := h.promos.Validate(r.Context(), code, amount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodePromoResult(e, res, h.now())
	writeJSON(w, http.StatusOK, e.Bytes())
}
