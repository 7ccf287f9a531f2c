package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/identity"
)

const (
	getCartByUserSQL = `SELECT id, user_id, session_token, items, created_at, updated_at
		FROM carts WHERE user_id = $1`

	getCartBySessionSQL = `SELECT id, user_id, session_token, items, created_at, updated_at
		FROM carts WHERE session_token = $1`

	upsertCartSQL = `INSERT INTO carts (id, user_id, session_token, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET items = $4, updated_at = $6`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`

	clearCartSQL = `UPDATE carts SET items = '[]', updated_at = now() WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Line items
// live as a JSONB list inside the cart row.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository that uses the given DB.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

// GetByOwner returns the owner's cart, or cart.ErrNotFound.
func (r *CartRepository) GetByOwner(ctx context.Context, owner identity.Identity) (*cart.Cart, error) {
	sql, arg := getCartBySessionSQL, owner.SessionToken()
	if owner.IsUser() {
		sql, arg = getCartByUserSQL, owner.UserID()
	}

	var (
		c         cart.Cart
		userID    *string
		sessTok   *string
		itemsJSON []byte
	)
	err := r.db.q(ctx).QueryRow(ctx, sql, arg).Scan(
		&c.ID, &userID, &sessTok, &itemsJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart: %w", err)
	}

	c.Owner, err = ownerFromRow(userID, sessTok)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling cart items: %w", err)
	}
	return &c, nil
}

// Upsert inserts the cart or replaces its items.
func (r *CartRepository) Upsert(ctx context.Context, c *cart.Cart) error {
	itemsJSON, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}

	userID, sessTok := ownerColumns(c.Owner)
	_, err = r.db.q(ctx).Exec(ctx, upsertCartSQL,
		c.ID, userID, sessTok, itemsJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting cart %q: %w", c.ID, err)
	}
	return nil
}

// Delete removes the cart row entirely.
func (r *CartRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.q(ctx).Exec(ctx, deleteCartSQL, id)
	if err != nil {
		return fmt.Errorf("deleting cart %q: %w", id, err)
	}
	return nil
}

// Clear empties the cart's items but keeps the row.
func (r *CartRepository) Clear(ctx context.Context, id string) error {
	_, err := r.db.q(ctx).Exec(ctx, clearCartSQL, id)
	if err != nil {
		return fmt.Errorf("clearing cart %q: %w", id, err)
	}
	return nil
}

// ownerColumns splits an identity into the nullable owner columns.
func ownerColumns(owner identity.Identity) (userID, sessionToken *string) {
	if owner.IsUser() {
		v := owner.UserID()
		return &v, nil
	}
	v := owner.SessionToken()
	return nil, &v
}

// ownerFromRow rebuilds an identity from the nullable owner columns.
func ownerFromRow(userID, sessionToken *string) (identity.Identity, error) {
	if userID != nil {
		return identity.User(*userID)
	}
	if sessionToken != nil {
		return identity.Session(*sessionToken)
	}
	return identity.Identity{}, identity.ErrMissing
}
