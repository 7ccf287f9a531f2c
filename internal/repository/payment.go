package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/marketloop/checkout/internal/domain/payment"
)

const (
	createPaymentSQL = `INSERT INTO payments (id, order_id, gateway, status, external_ref,
			payment_url, callback_url, raw_response, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getPaymentByOrderSQL = `SELECT id, order_id, gateway, status, external_ref,
			payment_url, callback_url, raw_response, paid_at, created_at, updated_at
		FROM payments WHERE order_id = $1`

	updatePaymentSQL = `UPDATE payments SET status = $2, external_ref = $3,
			raw_response = $4, paid_at = $5, updated_at = $6
		WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository returns a PaymentRepository that uses the given DB.
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment. The payments.order_id unique constraint enforces
// the one-payment-per-order invariant.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.db.q(ctx).Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.GatewayID, string(p.Status), p.ExternalRef,
		p.PaymentURL, p.CallbackURL, rawOrNull(p.RawResponse), p.PaidAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "payments_order_id_key") {
			return payment.ErrAlreadyExists
		}
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetByOrderID returns the payment for an order, or payment.ErrNotFound.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := r.db.q(ctx).QueryRow(ctx, getPaymentByOrderSQL, orderID).Scan(
		&p.ID, &p.OrderID, &p.GatewayID, &status, &p.ExternalRef,
		&p.PaymentURL, &p.CallbackURL, &p.RawResponse, &p.PaidAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment for order %q: %w", orderID, err)
	}
	p.Status = payment.Status(status)
	return &p, nil
}

// Update persists a status transition.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	_, err := r.db.q(ctx).Exec(ctx, updatePaymentSQL,
		p.ID, string(p.Status), p.ExternalRef, rawOrNull(p.RawResponse),
		p.PaidAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	return nil
}

// rawOrNull maps an empty raw response to SQL NULL so the JSONB column does
// not reject empty input.
func rawOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
