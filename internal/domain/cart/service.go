package cart

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/product"
	"github.com/marketloop/checkout/internal/domain/tx"
)

// Service implements the cart store operations.
type Service struct {
	carts    Repository
	products product.Repository
	tx       tx.Runner
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository, runner tx.Runner) *Service {
	return &Service{
		carts:    carts,
		products: products,
		tx:       runner,
	}
}

// GetOrCreate returns the owner's cart, creating an empty one on first use.
func (s *Service) GetOrCreate(ctx context.Context, owner identity.Identity) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	c, err := s.carts.GetByOwner(ctx, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	now := time.Now().UTC()
	c = &Cart{
		ID:        uuid.New().String(),
		Owner:     owner,
		Items:     []LineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.carts.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return c, nil
}

// AddItem adds quantity of a product to the owner's cart, summing with any
// existing line. It returns a stock warning string when the requested
// quantity exceeds the product's current stock; the warning never blocks the
// add, since enforcement happens at checkout.
func (s *Service) AddItem(ctx context.Context, owner identity.Identity, productID string, quantity int) (warning string, err error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}

	c, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		return "", err
	}

	if li := c.item(productID); li != nil {
		li.Quantity += quantity
		quantity = li.Quantity
	} else {
		c.Items = append(c.Items, LineItem{ProductID: productID, Quantity: quantity})
	}
	c.UpdatedAt = time.Now().UTC()

	if err := s.carts.Upsert(ctx, c); err != nil {
		return "", fmt.Errorf("save cart: %w", err)
	}
	return s.stockWarning(ctx, productID, quantity), nil
}

// SetItemQuantity replaces the quantity of an existing line item.
func (s *Service) SetItemQuantity(ctx context.Context, owner identity.Identity, productID string, quantity int) (warning string, err error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}

	c, err := s.carts.GetByOwner(ctx, owner)
	if err != nil {
		return "", err
	}

	li := c.item(productID)
	if li == nil {
		return "", ErrItemNotFound
	}
	li.Quantity = quantity
	c.UpdatedAt = time.Now().UTC()

	if err := s.carts.Upsert(ctx, c); err != nil {
		return "", fmt.Errorf("save cart: %w", err)
	}
	return s.stockWarning(ctx, productID, quantity), nil
}

// RemoveItem removes a product from the owner's cart.
func (s *Service) RemoveItem(ctx context.Context, owner identity.Identity, productID string) error {
	c, err := s.carts.GetByOwner(ctx, owner)
	if err != nil {
		return err
	}
	if !c.removeItem(productID) {
		return ErrItemNotFound
	}
	c.UpdatedAt = time.Now().UTC()

	if err := s.carts.Upsert(ctx, c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// GetView returns the owner's cart enriched with live product data. Products
// are fetched concurrently. An owner without a cart gets an empty view.
func (s *Service) GetView(ctx context.Context, owner identity.Identity) (*View, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	c, err := s.carts.GetByOwner(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return &View{Items: []ViewItem{}, Subtotal: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	view := &View{
		Items:    make([]ViewItem, len(c.Items)),
		Subtotal: decimal.Zero,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, li := range c.Items {
		g.Go(func() error {
			p, err := s.products.GetByID(gctx, li.ProductID)
			if err != nil && !errors.Is(err, product.ErrNotFound) {
				return fmt.Errorf("get product %q: %w", li.ProductID, err)
			}

			item := ViewItem{
				ProductID: li.ProductID,
				Quantity:  li.Quantity,
				LineTotal: decimal.Zero,
			}
			if p != nil {
				item.Product = p
				item.LineTotal = p.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
				if li.Quantity > p.Stock {
					item.StockWarning = fmt.Sprintf("only %d of %q in stock", p.Stock, p.Name)
				}
			}

			mu.Lock()
			view.Items[i] = item
			view.Subtotal = view.Subtotal.Add(item.LineTotal)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return view, nil
}

// MergeGuestIntoUser folds a guest cart into the user's cart at login time.
// Quantities for identical products are summed and the guest cart is deleted.
// Idempotent: a missing guest cart is a no-op.
func (s *Service) MergeGuestIntoUser(ctx context.Context, sessionToken, userID string) error {
	guestOwner, err := identity.Session(sessionToken)
	if err != nil {
		return err
	}
	userOwner, err := identity.User(userID)
	if err != nil {
		return err
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		guest, err := s.carts.GetByOwner(ctx, guestOwner)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get guest cart: %w", err)
		}

		user, err := s.GetOrCreate(ctx, userOwner)
		if err != nil {
			return err
		}

		merged := make(map[string]int, len(user.Items)+len(guest.Items))
		for _, li := range user.Items {
			merged[li.ProductID] += li.Quantity
		}
		for _, li := range guest.Items {
			merged[li.ProductID] += li.Quantity
		}

		ids := make([]string, 0, len(merged))
		for id := range merged {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		user.Items = make([]LineItem, 0, len(ids))
		for _, id := range ids {
			user.Items = append(user.Items, LineItem{ProductID: id, Quantity: merged[id]})
		}
		user.UpdatedAt = time.Now().UTC()

		if err := s.carts.Upsert(ctx, user); err != nil {
			return fmt.Errorf("save merged cart: %w", err)
		}
		if err := s.carts.Delete(ctx, guest.ID); err != nil {
			return fmt.Errorf("delete guest cart: %w", err)
		}

		zctx.From(ctx).Info("merged guest cart",
			zap.String("user_id", userID),
			zap.Int("items", len(user.Items)),
		)
		return nil
	})
}

// stockWarning returns a human-readable warning when quantity exceeds the
// product's current stock. Lookup failures are ignored: the warning is
// best-effort and must never block a cart mutation.
func (s *Service) stockWarning(ctx context.Context, productID string, quantity int) string {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if !errors.Is(err, product.ErrNotFound) {
			zctx.From(ctx).Warn("stock check failed", zap.String("product_id", productID), zap.Error(err))
		}
		return ""
	}
	if quantity > p.Stock {
		return fmt.Sprintf("only %d of %q in stock", p.Stock, p.Name)
	}
	return ""
}
