package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), identity(r).UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeCart(e, c)
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) putCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID   uuid.UUID
		hasProduct  bool
		variantID   *uuid.UUID
		quantity    int
		hasQuantity bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			id, err := decodeUUID(d, "productId")
			hasProduct = err == nil
			productID = id
			return err
		case "variantId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			id, err := decodeUUID(d, "variantId")
			if err != nil {
				return err
			}
			variantID = &id
			return nil
		case "quantity":
			if d.Next() != jx.Number {
				return invalid("quantity must be an integer")
			}
			n, err := d.Int()
			if err != nil {
				return invalid("quantity must be an integer")
			}
			quantity, hasQuantity = n, true
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	switch {
	case !hasProduct:
		WriteError(w, http.StatusBadRequest, "productId is required")
		return
	case !hasQuantity:
		WriteError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	line, err := h.carts.Put(r.Context(), identity(r).UserID, productID, variantID, quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeLine(e, line)
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid cart item ID format")
		return
	}
	if err := h.carts.Remove(r.Context(), identity(r).UserID, id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
