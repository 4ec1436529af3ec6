package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

// CreateOrder handles POST /orders. Without items the stored cart is used and
// emptied; with items only the ordered products leave the stored cart.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, h.orders.CreateOrder, http.StatusCreated)
}

// EnqueueOrder handles POST /orders/async. The PENDING placeholder is
// returned with 202.
func (h *Handler) EnqueueOrder(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, h.orders.Enqueue, http.StatusAccepted)
}

func (h *Handler) checkout(
	w http.ResponseWriter,
	r *http.Request,
	create func(ctx context.Context, p auth.Principal, lines []cart.Line) (*order.Order, error),
	status int,
) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lines, err := decodeLines(data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := create(r.Context(), principalFrom(r), lines)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, status, &e)
}

// ListOrders handles GET /orders?status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var status order.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := order.ParseStatus(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status = parsed
	}
	orders, err := h.orders.ListOrders(r.Context(), principalFrom(r), status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range orders {
		encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetOrder handles GET /orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), principalFrom(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

// PayOrder handles POST /orders/{orderID}/pay with {"paymentMethod": "BANK"}.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var method string
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		if key != "paymentMethod" {
			return d.Skip()
		}
		var err error
		method, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	pm, err := order.ParsePaymentMethod(method)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.orders.PayOrder(r.Context(), principalFrom(r), id, pm)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeTransaction(&e, t)
	writeJSON(w, http.StatusOK, &e)
}

// UpdateOrderStatus handles PATCH /orders/{orderID}/status with
// {"status": "SHIP", "version": 2}. A stale version answers 409
// concurrency_conflict.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		status     string
		version    int
		hasVersion bool
	)
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			status, err = d.Str()
		case "version":
			version, err = d.Int()
			hasVersion = true
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && !hasVersion {
		err = invalidInput(errors.New("version is required"))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := order.ParseStatus(status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateOrderStatus(r.Context(), principalFrom(r), id, version, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidInput(errors.Errorf("invalid order id %q", chi.URLParam(r, "orderID")))
	}
	return id, nil
}
