package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/product"
	"github.com/marketloop/checkout/internal/domain/tx"
)

// Service is the order transaction engine.
type Service struct {
	tx       tx.Runner
	carts    cart.Repository
	products product.Repository
	orders   Repository
	refs     *ReferenceGenerator
}

// NewService creates the engine with its persistence ports.
func NewService(
	runner tx.Runner,
	carts cart.Repository,
	products product.Repository,
	orders Repository,
	refs *ReferenceGenerator,
) *Service {
	return &Service{
		tx:       runner,
		carts:    carts,
		products: products,
		orders:   orders,
		refs:     refs,
	}
}

// Checkout converts the owner's cart into an order in one atomic unit:
// validate the cart, snapshot current prices, conditionally decrement stock,
// insert the order, clear the cart. Any failure aborts the whole unit with no
// partial effects. A lost stock race surfaces as *StockConflictError and is
// never retried with a different quantity.
func (s *Service) Checkout(ctx context.Context, owner identity.Identity, customer CustomerDetails, paymentMethod string) (*Order, error) {
	if err := owner.Validate(); err != nil {
		return nil, &ValidationError{Field: "owner", Reason: err.Error()}
	}
	if err := customer.Validate(); err != nil {
		return nil, err
	}

	var created *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.checkout(ctx, owner, customer, paymentMethod)
		if err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("order created",
		zap.String("reference", created.Reference),
		zap.String("owner", created.Owner.String()),
		zap.String("total", created.Total.String()),
	)
	return created, nil
}

func (s *Service) checkout(ctx context.Context, owner identity.Identity, customer CustomerDetails, paymentMethod string) (*Order, error) {
	c, err := s.carts.GetByOwner(ctx, owner)
	if errors.Is(err, cart.ErrNotFound) {
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(c.Items))
	for i, li := range c.Items {
		ids[i] = li.ProductID
	}

	// Batch read of current price and stock. Deleted products drop out of
	// the order; if everything was deleted there is nothing to buy.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, 0, len(c.Items))
	total := decimal.Zero
	for _, li := range c.Items {
		p, ok := byID[li.ProductID]
		if !ok {
			continue
		}
		// Availability check before any write; the conditional decrement
		// below re-checks at write time.
		if li.Quantity > p.Stock {
			return nil, &StockConflictError{
				ProductID: p.ID,
				Requested: li.Quantity,
				Available: p.Stock,
			}
		}
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
		items = append(items, Item{
			ProductID: p.ID,
			Quantity:  li.Quantity,
			UnitPrice: p.Price,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	// Conditional stock decrement. Zero rows affected means a concurrent
	// purchaser won the race; the whole transaction aborts.
	for _, it := range items {
		if err := s.products.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			if errors.Is(err, product.ErrStockConflict) {
				return nil, &StockConflictError{
					ProductID: it.ProductID,
					Requested: it.Quantity,
					Available: currentStock(ctx, s.products, it.ProductID),
				}
			}
			return nil, fmt.Errorf("decrement stock for %q: %w", it.ProductID, err)
		}
	}

	o := &Order{
		ID:            uuid.New().String(),
		Owner:         owner,
		Status:        StatusPending,
		PaymentMethod: paymentMethod,
		Total:         total.Round(2),
		Customer:      customer,
		Items:         items,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.insertWithReference(ctx, o); err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	return o, nil
}

// insertWithReference generates the human-readable reference and inserts the
// order, regenerating once on a uniqueness collision before giving up.
func (s *Service) insertWithReference(ctx context.Context, o *Order) error {
	for attempt := 0; attempt < 2; attempt++ {
		ref, err := s.refs.Next()
		if err != nil {
			return err
		}
		o.Reference = ref

		err = s.orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRefTaken) {
			return fmt.Errorf("create order: %w", err)
		}
		zctx.From(ctx).Warn("order reference collision", zap.String("reference", ref))
	}
	return ErrRefTaken
}

// Get returns the order only when it belongs to the requester. A foreign
// order is indistinguishable from a missing one.
func (s *Service) Get(ctx context.Context, id string, requester identity.Identity) (*Order, error) {
	if err := requester.Validate(); err != nil {
		return nil, ErrNotFound
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Owner.Equal(requester) {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the requester's orders, newest first.
func (s *Service) List(ctx context.Context, requester identity.Identity) ([]Order, error) {
	if err := requester.Validate(); err != nil {
		return nil, err
	}
	return s.orders.ListByOwner(ctx, requester)
}

// currentStock is a best-effort read used only to enrich conflict errors.
func currentStock(ctx context.Context, products product.Repository, id string) int {
	p, err := products.GetByID(ctx, id)
	if err != nil {
		return 0
	}
	return p.Stock
}
