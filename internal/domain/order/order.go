// Package order implements the order transaction engine: converting a cart
// into an immutable-priced order while atomically reserving stock.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/marketloop/checkout/internal/domain/identity"
)

// Status is the order lifecycle state.
type Status string

const (
	// StatusPending is the state of every freshly created order.
	StatusPending Status = "PENDING"
	// StatusConfirmed is reached exactly when the order's payment succeeds.
	StatusConfirmed Status = "CONFIRMED"
)

// CanTransitionTo reports whether s → next is a legal transition.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next == StatusConfirmed
}

func (s Status) String() string { return string(s) }

// Sentinel errors for order operations.
var (
	ErrEmptyCart  = errors.New("cart has no purchasable items")
	ErrNotFound   = errors.New("order not found")
	ErrRefTaken   = errors.New("order reference already taken")
	ErrTransition = errors.New("illegal order status transition")
)

// StockConflictError reports a lost race for stock: between the availability
// check and the conditional decrement, a concurrent purchaser took the units.
type StockConflictError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("product %s: requested %d, only %d available", e.ProductID, e.Requested, e.Available)
}

// ValidationError reports a rejected checkout input. Raised before any side
// effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CustomerDetails is the contact/address snapshot captured on the order.
type CustomerDetails struct {
	Name            string
	Email           string
	Phone           string
	ShippingAddress string
}

// Validate checks required customer fields.
func (d CustomerDetails) Validate() error {
	switch {
	case d.Name == "":
		return &ValidationError{Field: "name", Reason: "required"}
	case d.Email == "":
		return &ValidationError{Field: "email", Reason: "required"}
	case d.ShippingAddress == "":
		return &ValidationError{Field: "shipping_address", Reason: "required"}
	}
	return nil
}

// Item is an order line with its price snapshot. ProductID is a weak
// reference: the product may later be deleted while the snapshot survives.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Order is a durable record created from a cart at checkout. Total and the
// per-line snapshots are computed once at creation and never re-derived.
type Order struct {
	ID            string
	Reference     string
	Owner         identity.Identity
	Status        Status
	PaymentMethod string
	Total         decimal.Decimal
	Customer      CustomerDetails
	Items         []Item
	CreatedAt     time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order and its items. Returns ErrRefTaken when the
	// human-readable reference collides with an existing order.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, ref string) (*Order, error)
	ListByOwner(ctx context.Context, owner identity.Identity) ([]Order, error)
	// UpdateStatus moves the order from one status to another. Returns
	// ErrTransition when the order is not currently in from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}
