package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketloop/checkout/internal/domain/order"
)

type orderItemView struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type orderView struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	Total         string          `json:"total"`
	Items         []orderItemView `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

type orderListResponse struct {
	Orders []orderView `json:"orders"`
}

// GetOrder returns one of the caller's orders. Foreign orders 404.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requester, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ord, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"), requester)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(ord))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	requester, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orders, err := h.orders.List(r.Context(), requester)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := orderListResponse{Orders: make([]orderView, len(orders))}
	for i := range orders {
		resp.Orders[i] = toOrderView(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func toOrderView(o *order.Order) orderView {
	items := make([]orderItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemView{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			LineTotal: it.LineTotal.StringFixed(2),
		}
	}
	return orderView{
		ID:            o.ID,
		Reference:     o.Reference,
		Status:        o.Status.String(),
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total.StringFixed(2),
		Items:         items,
		CreatedAt:     o.CreatedAt,
	}
}
