//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestCart_PutAndCheckout(t *testing.T) {
	resp := doRequest(t, http.MethodPut, "/api/cart/items", testAPIKey, lineJSON{ProductID: 5, Quantity: 2})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)

	// A second put replaces the quantity.
	resp = doRequest(t, http.MethodPut, "/api/cart/items", testAPIKey, lineJSON{ProductID: 5, Quantity: 3})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)

	resp = doRequest(t, http.MethodGet, "/api/cart", testAPIKey, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	cart := decodeJSON[cartResponse](t, resp)
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("cart: got %+v, want one line of 3", cart.Items)
	}

	// Checkout without items consumes the stored cart.
	resp = doRequest(t, http.MethodPost, "/api/orders", testAPIKey, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	order := decodeJSON[orderResponse](t, resp)
	if order.TotalAmount != "12.00" {
		t.Errorf("totalAmount: got %q, want 12.00", order.TotalAmount)
	}

	resp = doRequest(t, http.MethodGet, "/api/cart", testAPIKey, nil)
	defer resp.Body.Close()
	cart = decodeJSON[cartResponse](t, resp)
	if len(cart.Items) != 0 {
		t.Errorf("cart after checkout: got %+v, want empty", cart.Items)
	}
}

func TestCart_UnknownProduct(t *testing.T) {
	resp := doRequest(t, http.MethodPut, "/api/cart/items", testAPIKey, lineJSON{ProductID: 999, Quantity: 1})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestCart_InvalidQuantity(t *testing.T) {
	resp := doRequest(t, http.MethodPut, "/api/cart/items", testAPIKey, lineJSON{ProductID: 1, Quantity: 0})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestCart_AdminForbidden(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/api/cart", adminAPIKey, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusForbidden)
}
