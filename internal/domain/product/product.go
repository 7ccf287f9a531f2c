// Package product is the read model for the catalog. The catalog itself is
// managed elsewhere; this engine only reads prices and stock, and decrements
// stock through a conditional update.
package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrStockConflict is returned by DecrementStock when the conditional write
// matched no row: either the product vanished or a concurrent purchaser took
// the remaining stock first.
var ErrStockConflict = errors.New("stock changed concurrently")

// Product is a catalog item as seen by the checkout engine.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Repository defines the catalog reads and the single write this engine is
// allowed to perform.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)

	// DecrementStock subtracts qty from the product's stock only if the
	// current stock still covers it (UPDATE ... WHERE stock >= qty). It
	// returns ErrStockConflict when the condition no longer holds.
	DecrementStock(ctx context.Context, id string, qty int) error
}
