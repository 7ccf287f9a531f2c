package handler

import (
	"net/http"

	"github.com/marketloop/checkout/internal/domain/order"
	"github.com/marketloop/checkout/internal/domain/payment"
)

type checkoutRequest struct {
	PaymentMethod string          `json:"payment_method"`
	Customer      customerRequest `json:"customer"`
}

type customerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shipping_address"`
}

type checkoutResponse struct {
	OrderID       string `json:"order_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Total         string `json:"total"`
	PaymentStatus string `json:"payment_status"`
	// PaymentURL is where the customer must be redirected for gateway-backed
	// methods; empty for cash on delivery.
	PaymentURL string `json:"payment_url,omitempty"`
}

// Checkout converts the caller's cart into an order and starts its payment.
// Order creation is atomic; payment initiation happens after the order is
// committed, so a gateway failure leaves a pending order with stock held and
// reports the order reference for retry/polling.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ord, err := h.orders.Checkout(r.Context(), owner, order.CustomerDetails{
		Name:            req.Customer.Name,
		Email:           req.Customer.Email,
		Phone:           req.Customer.Phone,
		ShippingAddress: req.Customer.ShippingAddress,
	}, string(method))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	p, err := h.payments.Initiate(r.Context(), ord, method)
	if err != nil {
		// The order exists and its stock is held; hand the client the
		// reference so it can poll or retry payment.
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:           http.StatusBadGateway,
			Message:        "payment initiation failed",
			OrderReference: ord.Reference,
		})
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:       ord.ID,
		Reference:     ord.Reference,
		Status:        ord.Status.String(),
		Total:         ord.Total.StringFixed(2),
		PaymentStatus: p.Status.String(),
		PaymentURL:    p.PaymentURL,
	})
}
