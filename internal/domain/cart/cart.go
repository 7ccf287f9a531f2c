// Package cart implements the pre-order basket. A cart belongs to exactly one
// identity, is created lazily on first add, and is cleared (not deleted) when
// an order is created from it.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/product"
)

// Sentinel errors for cart operations.
var (
	ErrNotFound        = errors.New("cart not found")
	ErrItemNotFound    = errors.New("item not in cart")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// LineItem is a product reference plus desired quantity. Cart contents are
// advisory: prices and stock are only enforced at checkout.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart holds an owner's line items.
type Cart struct {
	ID        string
	Owner     identity.Identity
	Items     []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// item returns a pointer to the line item for productID, or nil.
func (c *Cart) item(productID string) *LineItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// removeItem deletes the line item for productID. It reports whether the
// item existed.
func (c *Cart) removeItem(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// ViewItem is a line item enriched with the live product. Product is nil when
// the catalog entry was deleted after the item was added; such items stay
// visible so the customer can see what disappeared.
type ViewItem struct {
	ProductID    string
	Quantity     int
	Product      *product.Product
	LineTotal    decimal.Decimal
	StockWarning string
}

// View is the enriched cart returned to clients.
type View struct {
	Items    []ViewItem
	Subtotal decimal.Decimal
}

// Repository defines persistence operations for carts.
type Repository interface {
	// GetByOwner returns the owner's cart, or ErrNotFound.
	GetByOwner(ctx context.Context, owner identity.Identity) (*Cart, error)
	// Upsert inserts the cart or replaces its items.
	Upsert(ctx context.Context, c *Cart) error
	// Delete removes the cart entirely. Used only by guest merge.
	Delete(ctx context.Context, id string) error
	// Clear empties the cart's items in place. Used by checkout.
	Clear(ctx context.Context, id string) error
}
