package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

// GetCart handles GET /cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.CustomerID == 0 {
		writeError(w, r, order.ErrForbidden)
		return
	}
	lines, err := h.carts.List(r.Context(), p.CustomerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeLines(&e, lines)
	writeJSON(w, http.StatusOK, &e)
}

// PutCartItem handles PUT /cart/items with {"productId": 1, "quantity": 2}.
// The quantity replaces any existing line for the product.
func (h *Handler) PutCartItem(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.CustomerID == 0 {
		writeError(w, r, order.ErrForbidden)
		return
	}
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var line cart.Line
	err = decodeFields(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			line.ProductID, err = d.Int64()
		case "quantity":
			line.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.carts.Put(r.Context(), p.CustomerID, line); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
