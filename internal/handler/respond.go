package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/order"
	"github.com/marketloop/checkout/internal/domain/payment"
	"github.com/marketloop/checkout/internal/repository"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// OrderReference is set when the error occurred after an order was
	// already committed (payment initiation failures), so the client can
	// poll or retry payment for it.
	OrderReference string `json:"order_reference,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeDomainError maps a domain error onto the HTTP taxonomy. Conflicts and
// validation failures carry an actionable message; everything else is
// reported generically and logged with full detail server-side.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr      *order.StockConflictError
		validationErr *order.ValidationError
		gatewayErr    *payment.GatewayError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, identity.ErrMissing),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrAmbiguous):
		writeError(w, http.StatusUnauthorized, "authentication required")

	case errors.Is(err, cart.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, payment.ErrUnknownGateway):
		writeError(w, http.StatusNotFound, "not found")

	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, "quantity no longer available: "+stockErr.Error())
	case errors.Is(err, order.ErrRefTaken),
		errors.Is(err, payment.ErrAlreadyExists),
		errors.Is(err, order.ErrTransition),
		errors.Is(err, payment.ErrTransition):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, repository.ErrTxTimeout):
		writeError(w, http.StatusConflict, "temporarily busy, retry")

	case errors.As(err, &gatewayErr):
		zctx.From(r.Context()).Error("payment gateway failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment provider unavailable")

	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, payment.ErrInvalidCallback):
		writeError(w, http.StatusBadRequest, "invalid payload")

	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
