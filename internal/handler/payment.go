package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxCallbackBytes bounds webhook payload reads.
const maxCallbackBytes = 1 << 20

// signatureHeader carries the hex HMAC-SHA256 of the callback payload.
const signatureHeader = "X-Signature"

type callbackResponse struct {
	Status string `json:"status"`
}

type paymentStatusResponse struct {
	OrderID       string     `json:"order_id"`
	Reference     string     `json:"reference"`
	OrderStatus   string     `json:"order_status"`
	PaymentStatus string     `json:"payment_status"`
	Gateway       string     `json:"gateway"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// PaymentCallback receives a signed gateway webhook. The response reports
// whether the callback was processed, independent of the payment's own
// outcome; a duplicate delivery processes as success.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = h.payments.HandleCallback(r.Context(),
		chi.URLParam(r, "gateway"), payload, r.Header.Get(signatureHeader))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{Status: "processed"})
}

// PaymentStatus is the polling read for a delayed or unreachable webhook.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	requester, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	view, err := h.payments.Status(r.Context(), chi.URLParam(r, "id"), requester)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentStatusResponse{
		OrderID:       view.OrderID,
		Reference:     view.OrderRef,
		OrderStatus:   view.OrderStatus.String(),
		PaymentStatus: view.PaymentStatus.String(),
		Gateway:       view.GatewayID,
		PaidAt:        view.PaidAt,
	})
}
