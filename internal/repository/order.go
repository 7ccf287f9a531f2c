package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, reference, user_id, session_token, status, payment_method,
			total, customer_name, customer_email, customer_phone, shipping_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5)`

	orderColumns = `id, reference, user_id, session_token, status, payment_method,
			total, customer_name, customer_email, customer_phone, shipping_address, created_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByRefSQL = `SELECT ` + orderColumns + ` FROM orders WHERE reference = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	listOrdersBySessionSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE session_token = $1 ORDER BY created_at DESC`

	getOrderItemsSQL = `SELECT order_id, product_id, quantity, unit_price, line_total
		FROM order_items WHERE order_id = ANY($1) ORDER BY product_id`

	updateOrderStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses the given DB.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its line items with their price snapshots.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	userID, sessTok := ownerColumns(o.Owner)
	q := r.db.q(ctx)

	_, err := q.Exec(ctx, createOrderSQL,
		o.ID, o.Reference, userID, sessTok, string(o.Status), o.PaymentMethod,
		o.Total, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.Customer.ShippingAddress, o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_reference_key") {
			return order.ErrRefTaken
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, it := range o.Items {
		_, err := q.Exec(ctx, createOrderItemSQL,
			o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("creating order item %q: %w", it.ProductID, err)
		}
	}
	return nil
}

// GetByID returns one order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByReference returns one order with its items by human-readable reference.
func (r *OrderRepository) GetByReference(ctx context.Context, ref string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByRefSQL, ref)
}

// ListByOwner returns the owner's orders, newest first, with items attached.
func (r *OrderRepository) ListByOwner(ctx context.Context, owner identity.Identity) ([]order.Order, error) {
	sql, arg := listOrdersBySessionSQL, owner.SessionToken()
	if owner.IsUser() {
		sql, arg = listOrdersByUserSQL, owner.UserID()
	}

	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus moves the order between statuses with a conditional write.
// Zero affected rows means the order was not in the expected state.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.db.q(ctx).Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrTransition
	}
	return nil
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// attachItems loads line items for the given orders in one query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	idx := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		idx[orders[i].ID] = i
	}

	rows, err := r.db.q(ctx).Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID              string
			it                   order.Item
			unitPrice, lineTotal decimal.Decimal
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &unitPrice, &lineTotal); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		it.UnitPrice = unitPrice
		it.LineTotal = lineTotal
		i := idx[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o       order.Order
		userID  *string
		sessTok *string
		status  string
		total   decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.Reference, &userID, &sessTok, &status, &o.PaymentMethod,
		&total, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.ShippingAddress, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.Total = total
	o.Owner, err = ownerFromRow(userID, sessTok)
	return o, err
}
