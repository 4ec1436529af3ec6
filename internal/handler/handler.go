// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/pkg/httpmiddleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the /api routes.
type Handler struct {
	orders *order.Service
	carts  cart.Repository
	authn  *auth.Authenticator
}

// New creates a Handler.
func New(orders *order.Service, carts cart.Repository, authn *auth.Authenticator) *Handler {
	return &Handler{
		orders: orders,
		carts:  carts,
		authn:  authn,
	}
}

// Routes mounts the API on r. Every route requires an api_key header.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Post("/async", h.EnqueueOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Post("/{orderID}/pay", h.PayOrder)
			r.Patch("/{orderID}/status", h.UpdateOrderStatus)
		})
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Put("/items", h.PutCartItem)
		})
	})
}

type principalKey struct{}

// authenticate resolves the api_key header. Handlers read the principal with
// principalFrom and pass it to the service explicitly.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.authn.Authenticate(r.Context(), r.Header.Get(httpmiddleware.HeaderAPIKey))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func principalFrom(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(principalKey{}).(auth.Principal)
	return p
}
