package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/order"
	"github.com/marketloop/checkout/internal/domain/tx"
)

// Orchestrator drives payments through their lifecycle. It is the only
// component that mutates Payment rows and Order status.
type Orchestrator struct {
	tx       tx.Runner
	payments Repository
	orders   order.Repository
	registry *Registry

	callbackBaseURL string
	returnURL       string
}

// NewOrchestrator creates the orchestrator. callbackBaseURL is this service's
// externally reachable base URL for webhook routes; returnURL is where
// gateways send the customer's browser after payment.
func NewOrchestrator(
	runner tx.Runner,
	payments Repository,
	orders order.Repository,
	registry *Registry,
	callbackBaseURL, returnURL string,
) *Orchestrator {
	return &Orchestrator{
		tx:              runner,
		payments:        payments,
		orders:          orders,
		registry:        registry,
		callbackBaseURL: callbackBaseURL,
		returnURL:       returnURL,
	}
}

// Initiate starts the payment lifecycle for a freshly created order. For
// gateway-backed methods it calls the provider first and only persists the
// Payment row on success: a gateway failure surfaces to the caller with no
// Payment written. The order's stock reservation is NOT reversed on failure;
// inventory stays held while the customer retries payment.
func (o *Orchestrator) Initiate(ctx context.Context, ord *order.Order, method Method) (*Payment, error) {
	now := time.Now().UTC()
	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   ord.ID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if !method.GatewayBacked() {
		// Cash on delivery: a pending payment settled manually later.
		p.GatewayID = string(MethodCashOnDelivery)
		if err := o.payments.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		return p, nil
	}

	gw, ok := o.registry.ForMethod(method)
	if !ok {
		return nil, ErrUnknownGateway
	}

	callbackURL := fmt.Sprintf("%s/api/payments/%s/callback", o.callbackBaseURL, gw.ID())
	res, err := gw.Initiate(ctx, InitiateRequest{
		Amount:      ord.Total,
		OrderRef:    ord.Reference,
		Customer:    ord.Customer,
		CallbackURL: callbackURL,
		ReturnURL:   o.returnURL,
	})
	if err != nil {
		zctx.From(ctx).Warn("payment initiation failed, stock stays held",
			zap.String("gateway", gw.ID()),
			zap.String("order_ref", ord.Reference),
			zap.Error(err),
		)
		return nil, &GatewayError{GatewayID: gw.ID(), Err: err}
	}

	p.GatewayID = gw.ID()
	p.ExternalRef = res.ExternalRef
	p.PaymentURL = res.PaymentURL
	p.CallbackURL = callbackURL
	p.RawResponse = res.Raw
	if err := o.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	zctx.From(ctx).Info("payment initiated",
		zap.String("gateway", gw.ID()),
		zap.String("order_ref", ord.Reference),
		zap.String("external_ref", res.ExternalRef),
	)
	return p, nil
}

// HandleCallback processes a gateway webhook. Signature verification happens
// before any state is touched; an unverifiable payload is logged and dropped.
// The status update is atomic across Payment and Order, and idempotent: a
// replay of an already-applied terminal status is a no-op.
func (o *Orchestrator) HandleCallback(ctx context.Context, gatewayID string, payload []byte, signature string) error {
	gw, ok := o.registry.ByID(gatewayID)
	if !ok {
		return ErrUnknownGateway
	}

	// Verification first: nothing is mutated for a payload that cannot be
	// authenticated, the gateway will retry.
	event, err := gw.VerifyCallback(payload, signature)
	if err != nil {
		zctx.From(ctx).Warn("rejected gateway callback",
			zap.String("gateway", gatewayID),
			zap.Error(err),
		)
		return err
	}

	return o.applyEvent(ctx, gw.ID(), event)
}

// ConfirmManually settles a pending payment outside a gateway callback. Used
// for cash-on-delivery and test flows; it walks the same state machine.
func (o *Orchestrator) ConfirmManually(ctx context.Context, orderID string) error {
	return o.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := o.payments.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		return o.transition(ctx, p, StatusSuccess, p.ExternalRef, nil)
	})
}

// StatusView is the polling read for clients waiting on a delayed webhook.
type StatusView struct {
	OrderID       string
	OrderRef      string
	OrderStatus   order.Status
	PaymentStatus Status
	GatewayID     string
	PaidAt        *time.Time
}

// Status returns the payment and order status for an order the requester
// owns. Foreign orders report as not found.
func (o *Orchestrator) Status(ctx context.Context, orderID string, requester identity.Identity) (*StatusView, error) {
	ord, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if requester.Validate() != nil || !ord.Owner.Equal(requester) {
		return nil, order.ErrNotFound
	}

	p, err := o.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &StatusView{
		OrderID:       ord.ID,
		OrderRef:      ord.Reference,
		OrderStatus:   ord.Status,
		PaymentStatus: p.Status,
		GatewayID:     p.GatewayID,
		PaidAt:        p.PaidAt,
	}, nil
}

// applyEvent resolves the target order and applies the verified status in one
// transaction.
func (o *Orchestrator) applyEvent(ctx context.Context, gatewayID string, event *CallbackEvent) error {
	return o.tx.InTx(ctx, func(ctx context.Context) error {
		ord, err := o.orders.GetByReference(ctx, event.OrderRef)
		if err != nil {
			return err
		}

		p, err := o.payments.GetByOrderID(ctx, ord.ID)
		if err != nil {
			return err
		}
		if p.GatewayID != gatewayID {
			// A verified payload naming an order paid through a different
			// gateway is a misdirected or forged notification.
			return ErrNotFound
		}

		return o.transition(ctx, p, event.Status, event.ExternalRef, event.Raw)
	})
}

// transition applies the payment state machine and, on SUCCESS, confirms the
// order. Caller must already be inside a transaction.
func (o *Orchestrator) transition(ctx context.Context, p *Payment, next Status, externalRef string, raw []byte) error {
	if p.Status == next {
		// Gateway retry of an already-applied notification.
		zctx.From(ctx).Info("duplicate payment callback ignored",
			zap.String("order_id", p.OrderID),
			zap.String("status", next.String()),
		)
		return nil
	}
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, p.Status, next)
	}

	now := time.Now().UTC()
	p.Status = next
	p.UpdatedAt = now
	if externalRef != "" {
		p.ExternalRef = externalRef
	}
	if raw != nil {
		p.RawResponse = raw
	}
	if next == StatusSuccess {
		p.PaidAt = &now
	}
	if err := o.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	if next == StatusSuccess {
		// Payment SUCCESS is the only path that confirms an order.
		if err := o.orders.UpdateStatus(ctx, p.OrderID, order.StatusPending, order.StatusConfirmed); err != nil {
			return fmt.Errorf("confirm order: %w", err)
		}
	}

	zctx.From(ctx).Info("payment transitioned",
		zap.String("order_id", p.OrderID),
		zap.String("status", next.String()),
	)
	return nil
}
