package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var (
		req      order.PlaceOrderRequest
		delivery *order.DeliveryInfo
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "deliveryInfo":
			delivery, err = decodeDelivery(d)
		case "guestInfo":
			req.Guest, err = decodeGuest(d)
		case "promoCode":
			req.PromoCode, err = optString(d)
		case "paymentMethod":
			req.PaymentMethod, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := validateDelivery(delivery); err != nil {
		respondError(w, r, err)
		return
	}
	req.Delivery = *delivery

	if id, ok := auth.FromContext(r.Context()); ok {
		req.UserID = &id.UserID
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrder(e, o)
	writeJSON(w, http.StatusCreated, e.Bytes())
}

func validateDelivery(d *order.DeliveryInfo) error {
	if d == nil {
		return invalid("deliveryInfo is required")
	}
	d.County = strings.TrimSpace(d.County)
	d.Town = strings.TrimSpace(d.Town)
	d.Address = strings.TrimSpace(d.Address)
	switch {
	case d.County == "":
		return invalid("deliveryInfo.county is required")
	case d.Town == "":
		return invalid("deliveryInfo.town is required")
	case d.Address == "":
		return invalid("deliveryInfo.address is required")
	}
	return nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	o, err := h.orders.Get(r.Context(), id, identity(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrder(e, o)
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := queryInt(q.Get("skip"), 0)
	if err != nil || skip < 0 {
		WriteError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), order.DefaultLimit)
	if err != nil || limit < 1 {
		WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	res, err := h.orders.List(r.Context(), identity(r).UserID, order.Page{Skip: skip, Limit: limit})
	if err != nil {
		respondError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range res.Orders {
		encodeOrder(e, &res.Orders[i])
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int(res.Total)
	e.FieldStart("skip")
	e.Int(res.Page.Skip)
	e.FieldStart("limit")
	e.Int(res.Page.Limit)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
