package order

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/product"
	"github.com/marketloop/checkout/internal/domain/tx"
)

// --- Mock implementations ---

type mockCartRepo struct {
	mu      sync.Mutex
	byOwner map[string]*cart.Cart
	cleared []string
}

func newMockCartRepo(carts ...*cart.Cart) *mockCartRepo {
	m := &mockCartRepo{byOwner: make(map[string]*cart.Cart)}
	for _, c := range carts {
		m.byOwner[c.Owner.String()] = c
	}
	return m
}

func (m *mockCartRepo) GetByOwner(_ context.Context, owner identity.Identity) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byOwner[owner.String()]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	cp.Items = append([]cart.LineItem(nil), c.Items...)
	return &cp, nil
}

func (m *mockCartRepo) Upsert(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byOwner[c.Owner.String()] = c
	return nil
}

func (m *mockCartRepo) Delete(_ context.Context, _ string) error { return nil }

func (m *mockCartRepo) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, id)
	for _, c := range m.byOwner {
		if c.ID == id {
			c.Items = nil
		}
	}
	return nil
}

// mockProductRepo enforces the conditional decrement the same way the
// database does: the write only succeeds while stock covers the quantity.
type mockProductRepo struct {
	mu   sync.Mutex
	byID map[string]*product.Product
}

func newMockProductRepo(products ...*product.Product) *mockProductRepo {
	m := &mockProductRepo{byID: make(map[string]*product.Product)}
	for _, p := range products {
		m.byID[p.ID] = p
	}
	return m
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) DecrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.Stock < qty {
		return product.ErrStockConflict
	}
	p.Stock -= qty
	return nil
}

func (m *mockProductRepo) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Stock
}

type mockOrderRepo struct {
	mu       sync.Mutex
	orders   []*Order
	refTaken map[string]bool
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refTaken[o.Reference] {
		return ErrRefTaken
	}
	cp := *o
	m.orders = append(m.orders, &cp)
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) GetByReference(_ context.Context, ref string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Reference == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) ListByOwner(_ context.Context, owner identity.Identity) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Owner.Equal(owner) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			if o.Status != from {
				return ErrTransition
			}
			o.Status = to
			return nil
		}
	}
	return ErrNotFound
}

// --- Helpers ---

var passRunner = tx.RunnerFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})

func testCustomer() CustomerDetails {
	return CustomerDetails{
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Phone:           "+1-555-0100",
		ShippingAddress: "1 Analytical Way",
	}
}

func testProduct(id, price string, stock int) *product.Product {
	return &product.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func testCart(owner identity.Identity, items ...cart.LineItem) *cart.Cart {
	return &cart.Cart{ID: "cart-" + owner.String(), Owner: owner, Items: items}
}

func testUser(t *testing.T, id string) identity.Identity {
	t.Helper()
	owner, err := identity.User(id)
	require.NoError(t, err)
	return owner
}

func newTestService(carts *mockCartRepo, products *mockProductRepo, orders *mockOrderRepo) *Service {
	return NewService(passRunner, carts, products, orders, NewReferenceGenerator(1000))
}

// --- Tests ---

func TestCheckout_MissingCart(t *testing.T) {
	svc := newTestService(newMockCartRepo(), newMockProductRepo(), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), testUser(t, "u1"), testCustomer(), "card")
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckout_EmptyCart(t *testing.T) {
	owner := testUser(t, "u1")
	svc := newTestService(newMockCartRepo(testCart(owner)), newMockProductRepo(), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckout_AllProductsDeleted(t *testing.T) {
	owner := testUser(t, "u1")
	carts := newMockCartRepo(testCart(owner, cart.LineItem{ProductID: "gone", Quantity: 1}))
	svc := newTestService(carts, newMockProductRepo(), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckout_InvalidCustomer(t *testing.T) {
	svc := newTestService(newMockCartRepo(), newMockProductRepo(), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), testUser(t, "u1"), CustomerDetails{Name: "Ada"}, "card")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "email", vErr.Field)
}

func TestCheckout_Success(t *testing.T) {
	owner := testUser(t, "u1")
	carts := newMockCartRepo(testCart(owner,
		cart.LineItem{ProductID: "p1", Quantity: 2},
		cart.LineItem{ProductID: "p2", Quantity: 1},
	))
	products := newMockProductRepo(
		testProduct("p1", "10.00", 5),
		testProduct("p2", "3.50", 5),
	)
	orders := &mockOrderRepo{}
	svc := newTestService(carts, products, orders)

	o, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, strings.HasPrefix(o.Reference, "ORD-"))
	assert.True(t, decimal.RequireFromString("23.50").Equal(o.Total), "got %s", o.Total)
	require.Len(t, o.Items, 2)

	// Stock was reserved and the cart cleared in the same unit.
	assert.Equal(t, 3, products.stock("p1"))
	assert.Equal(t, 4, products.stock("p2"))
	assert.Len(t, carts.cleared, 1)
}

func TestCheckout_PriceSnapshotImmutable(t *testing.T) {
	owner := testUser(t, "u1")
	carts := newMockCartRepo(testCart(owner, cart.LineItem{ProductID: "p1", Quantity: 2}))
	products := newMockProductRepo(testProduct("p1", "10.00", 5))
	orders := &mockOrderRepo{}
	svc := newTestService(carts, products, orders)

	o, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")
	require.NoError(t, err)

	// Catalog price changes after checkout must not touch the snapshot.
	products.byID["p1"].Price = decimal.RequireFromString("99.99")

	stored, err := svc.Get(context.Background(), o.ID, owner)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.00").Equal(stored.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("20.00").Equal(stored.Total))
}

func TestCheckout_InsufficientStock(t *testing.T) {
	owner := testUser(t, "u1")
	carts := newMockCartRepo(testCart(owner, cart.LineItem{ProductID: "p1", Quantity: 10}))
	products := newMockProductRepo(testProduct("p1", "10.00", 3))
	svc := newTestService(carts, products, &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")

	var scErr *StockConflictError
	require.ErrorAs(t, err, &scErr)
	assert.Equal(t, "p1", scErr.ProductID)
	assert.Equal(t, 10, scErr.Requested)
	assert.Equal(t, 3, scErr.Available)

	// No partial effects: stock untouched, cart intact.
	assert.Equal(t, 3, products.stock("p1"))
	c, err := carts.GetByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestCheckout_ConcurrentNoOversell(t *testing.T) {
	products := newMockProductRepo(testProduct("p1", "10.00", 5))
	orders := &mockOrderRepo{}

	const buyers = 20
	carts := newMockCartRepo()
	owners := make([]identity.Identity, buyers)
	for i := range owners {
		owners[i] = testUser(t, "u"+string(rune('a'+i)))
		require.NoError(t, carts.Upsert(context.Background(),
			testCart(owners[i], cart.LineItem{ProductID: "p1", Quantity: 1})))
	}
	svc := newTestService(carts, products, orders)

	var wg sync.WaitGroup
	results := make([]error, buyers)
	for i := range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = svc.Checkout(context.Background(), owners[i], testCustomer(), "card")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var scErr *StockConflictError
		require.ErrorAs(t, err, &scErr)
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, products.stock("p1"))
	assert.Len(t, orders.orders, 5)
}

// collideOnceRepo rejects the first insert with ErrRefTaken, as the database
// unique constraint would on a reference collision.
type collideOnceRepo struct {
	mockOrderRepo
	collided bool
	rejected string
}

func (m *collideOnceRepo) Create(ctx context.Context, o *Order) error {
	if !m.collided {
		m.collided = true
		m.rejected = o.Reference
		return ErrRefTaken
	}
	return m.mockOrderRepo.Create(ctx, o)
}

func TestCheckout_ReferenceCollisionRetries(t *testing.T) {
	owner := testUser(t, "u1")
	carts := newMockCartRepo(testCart(owner, cart.LineItem{ProductID: "p1", Quantity: 1}))
	products := newMockProductRepo(testProduct("p1", "10.00", 5))
	orders := &collideOnceRepo{}
	svc := NewService(passRunner, carts, products, orders, NewReferenceGenerator(1000))

	o, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")
	require.NoError(t, err)
	assert.NotEmpty(t, o.Reference)
	assert.NotEqual(t, orders.rejected, o.Reference)
	require.Len(t, orders.orders, 1)
}

func TestGet_OwnershipIsolation(t *testing.T) {
	owner := testUser(t, "u1")
	carts := newMockCartRepo(testCart(owner, cart.LineItem{ProductID: "p1", Quantity: 1}))
	products := newMockProductRepo(testProduct("p1", "10.00", 5))
	svc := newTestService(carts, products, &mockOrderRepo{})

	o, err := svc.Checkout(context.Background(), owner, testCustomer(), "card")
	require.NoError(t, err)

	// A foreign order must be indistinguishable from a missing one.
	_, err = svc.Get(context.Background(), o.ID, testUser(t, "intruder"))
	require.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(context.Background(), o.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestList_OnlyOwnOrders(t *testing.T) {
	alice := testUser(t, "alice")
	bob := testUser(t, "bob")
	carts := newMockCartRepo(
		testCart(alice, cart.LineItem{ProductID: "p1", Quantity: 1}),
		testCart(bob, cart.LineItem{ProductID: "p1", Quantity: 1}),
	)
	products := newMockProductRepo(testProduct("p1", "10.00", 5))
	svc := newTestService(carts, products, &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), alice, testCustomer(), "card")
	require.NoError(t, err)
	_, err = svc.Checkout(context.Background(), bob, testCustomer(), "card")
	require.NoError(t, err)

	got, err := svc.List(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Owner.Equal(alice))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusConfirmed.CanTransitionTo(StatusPending))
	assert.False(t, StatusConfirmed.CanTransitionTo(StatusConfirmed))
}
