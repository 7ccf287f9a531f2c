package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketloop/checkout/internal/domain/cart"
)

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type cartItemResponse struct {
	ProductID    string       `json:"product_id"`
	Quantity     int          `json:"quantity"`
	Product      *productView `json:"product"`
	LineTotal    string       `json:"line_total"`
	StockWarning string       `json:"stock_warning,omitempty"`
}

type productView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
}

type cartResponse struct {
	Items    []cartItemResponse `json:"items"`
	Subtotal string             `json:"subtotal"`
}

type mutationResponse struct {
	StockWarning string `json:"stock_warning,omitempty"`
}

// GetCart returns the caller's enriched cart view.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	view, err := h.carts.GetView(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(view))
}

// AddCartItem adds quantity of a product, creating the cart if needed.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req cartItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id required")
		return
	}

	warning, err := h.carts.AddItem(r.Context(), owner, req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{StockWarning: warning})
}

// SetCartItemQuantity replaces the quantity of an existing line item.
func (h *Handler) SetCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req setQuantityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	warning, err := h.carts.SetItemQuantity(r.Context(), owner, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{StockWarning: warning})
}

// RemoveCartItem removes a product from the cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.carts.RemoveItem(r.Context(), owner, chi.URLParam(r, "productID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MergeCart folds the caller's previous guest cart into their user cart.
// Requires a bearer token (the user) plus the old session token header.
func (h *Handler) MergeCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityFromContext(r.Context())
	if !ok || !owner.IsUser() {
		writeError(w, http.StatusUnauthorized, "bearer token required")
		return
	}
	sessionToken := r.Header.Get(sessionTokenHeader)
	if sessionToken == "" {
		writeError(w, http.StatusBadRequest, sessionTokenHeader+" header required")
		return
	}

	if err := h.carts.MergeGuestIntoUser(r.Context(), sessionToken, owner.UserID()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCartResponse(view *cart.View) cartResponse {
	resp := cartResponse{
		Items:    make([]cartItemResponse, len(view.Items)),
		Subtotal: view.Subtotal.StringFixed(2),
	}
	for i, it := range view.Items {
		item := cartItemResponse{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			LineTotal:    it.LineTotal.StringFixed(2),
			StockWarning: it.StockWarning,
		}
		if it.Product != nil {
			item.Product = &productView{
				ID:    it.Product.ID,
				Name:  it.Product.Name,
				Price: it.Product.Price.StringFixed(2),
				Stock: it.Product.Stock,
			}
		}
		resp.Items[i] = item
	}
	return resp
}
