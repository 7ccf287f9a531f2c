// Package handler exposes the engine over HTTP. It is a thin mapping layer:
// decode request, call the domain service, encode the result or map the error.
package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/order"
	"github.com/marketloop/checkout/internal/domain/payment"
)

// Handler holds the domain services behind the HTTP API.
type Handler struct {
	auth     *Authenticator
	carts    *cart.Service
	orders   *order.Service
	payments *payment.Orchestrator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	auth *Authenticator,
	carts *cart.Service,
	orders *order.Service,
	payments *payment.Orchestrator,
) *Handler {
	return &Handler{
		auth:     auth,
		carts:    carts,
		orders:   orders,
		payments: payments,
	}
}

// Routes mounts the API. Gateway callbacks are outside the identity
// middleware: they authenticate by payload signature instead.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/payments/{gateway}/callback", h.PaymentCallback)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Get("/cart", h.GetCart)
		r.Post("/cart/items", h.AddCartItem)
		r.Put("/cart/items/{productID}", h.SetCartItemQuantity)
		r.Delete("/cart/items/{productID}", h.RemoveCartItem)
		r.Post("/cart/merge", h.MergeCart)

		r.Post("/checkout", h.Checkout)

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/orders/{id}/payment", h.PaymentStatus)
	})

	return r
}
