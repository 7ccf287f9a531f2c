// Package payment tracks an order's settlement lifecycle against external
// gateways. Every backend sits behind the same two-method Gateway contract.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/marketloop/checkout/internal/domain/order"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// CanTransitionTo reports whether s → next is a legal transition. SUCCESS and
// FAILED are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && (next == StatusSuccess || next == StatusFailed)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s Status) String() string { return string(s) }

// Method is the closed set of supported payment methods.
type Method string

const (
	MethodCashOnDelivery Method = "cash_on_delivery"
	MethodCard           Method = "card"
	MethodWallet         Method = "wallet"
)

// ParseMethod validates a wire-level method tag.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCashOnDelivery, MethodCard, MethodWallet:
		return m, nil
	}
	return "", fmt.Errorf("unsupported payment method %q", s)
}

// GatewayBacked reports whether the method settles through an external
// gateway. Cash on delivery is settled manually outside this engine.
func (m Method) GatewayBacked() bool { return m != MethodCashOnDelivery }

// Sentinel errors for payment operations.
var (
	ErrNotFound         = errors.New("payment not found")
	ErrAlreadyExists    = errors.New("order already has a payment")
	ErrTransition       = errors.New("illegal payment status transition")
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrInvalidCallback  = errors.New("malformed callback payload")
	ErrUnknownGateway   = errors.New("unknown gateway")
)

// GatewayError wraps an upstream provider failure during initiation.
type GatewayError struct {
	GatewayID string
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.GatewayID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Payment is the 1:1 settlement record for an order.
type Payment struct {
	ID          string
	OrderID     string
	GatewayID   string
	Status      Status
	ExternalRef string
	PaymentURL  string
	CallbackURL string
	RawResponse []byte
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InitiateRequest is the gateway-agnostic initiation input.
type InitiateRequest struct {
	Amount      decimal.Decimal
	OrderRef    string
	Customer    order.CustomerDetails
	CallbackURL string
	ReturnURL   string
}

// InitiateResult is what a gateway returns on successful initiation.
type InitiateResult struct {
	PaymentURL  string
	ExternalRef string
	Raw         []byte
}

// CallbackEvent is a verified, decoded gateway notification.
type CallbackEvent struct {
	OrderRef    string
	ExternalRef string
	Status      Status
	Raw         []byte
}

// Gateway is the contract every payment backend must satisfy. Adding a new
// gateway means implementing these two methods and registering it.
type Gateway interface {
	// ID is the stable identifier used in callback routes and Payment rows.
	ID() string
	// Initiate starts a payment with the provider and returns the redirect
	// URL plus the provider's transaction reference.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// VerifyCallback authenticates a raw webhook payload against its
	// signature and decodes it. Returns ErrInvalidSignature on failure;
	// nothing else may be inferred from an unverified payload.
	VerifyCallback(payload []byte, signature string) (*CallbackEvent, error)
}

// Repository defines persistence operations for payments.
type Repository interface {
	// Create inserts the payment. Returns ErrAlreadyExists when the order
	// already has one.
	Create(ctx context.Context, p *Payment) error
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	// Update persists status, external reference, raw response and paid_at.
	Update(ctx context.Context, p *Payment) error
}
