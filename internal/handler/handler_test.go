package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/identity"
	"github.com/marketloop/checkout/internal/domain/order"
	"github.com/marketloop/checkout/internal/domain/payment"
	"github.com/marketloop/checkout/internal/domain/product"
	"github.com/marketloop/checkout/internal/domain/tx"
)

// --- In-memory fakes ---

type memProductRepo struct {
	byID map[string]*product.Product
}

func (m *memProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProductRepo) DecrementStock(_ context.Context, id string, qty int) error {
	p, ok := m.byID[id]
	if !ok || p.Stock < qty {
		return product.ErrStockConflict
	}
	p.Stock -= qty
	return nil
}

type memCartRepo struct {
	byOwner map[string]*cart.Cart
}

func (m *memCartRepo) GetByOwner(_ context.Context, owner identity.Identity) (*cart.Cart, error) {
	c, ok := m.byOwner[owner.String()]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	cp.Items = append([]cart.LineItem(nil), c.Items...)
	return &cp, nil
}

func (m *memCartRepo) Upsert(_ context.Context, c *cart.Cart) error {
	cp := *c
	cp.Items = append([]cart.LineItem(nil), c.Items...)
	m.byOwner[c.Owner.String()] = &cp
	return nil
}

func (m *memCartRepo) Delete(_ context.Context, id string) error {
	for key, c := range m.byOwner {
		if c.ID == id {
			delete(m.byOwner, key)
			return nil
		}
	}
	return cart.ErrNotFound
}

func (m *memCartRepo) Clear(_ context.Context, id string) error {
	for _, c := range m.byOwner {
		if c.ID == id {
			c.Items = []cart.LineItem{}
			return nil
		}
	}
	return cart.ErrNotFound
}

type memOrderRepo struct {
	byID map[string]*order.Order
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	for _, existing := range m.byID {
		if existing.Reference == o.Reference {
			return order.ErrRefTaken
		}
	}
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetByReference(_ context.Context, ref string) (*order.Order, error) {
	for _, o := range m.byID {
		if o.Reference == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrderRepo) ListByOwner(_ context.Context, owner identity.Identity) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.byID {
		if o.Owner.Equal(owner) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrTransition
	}
	o.Status = to
	return nil
}

type memPaymentRepo struct {
	byOrder map[string]*payment.Payment
}

func (m *memPaymentRepo) Create(_ context.Context, p *payment.Payment) error {
	if _, ok := m.byOrder[p.OrderID]; ok {
		return payment.ErrAlreadyExists
	}
	cp := *p
	m.byOrder[p.OrderID] = &cp
	return nil
}

func (m *memPaymentRepo) GetByOrderID(_ context.Context, orderID string) (*payment.Payment, error) {
	p, ok := m.byOrder[orderID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) Update(_ context.Context, p *payment.Payment) error {
	cp := *p
	m.byOrder[p.OrderID] = &cp
	return nil
}

// stubGateway accepts the literal signature "good" and replays a scripted
// event; signature mechanics are covered by the gateway package tests.
type stubGateway struct {
	id          string
	initiateRes *payment.InitiateResult
	initiateErr error
	event       *payment.CallbackEvent
}

func (g *stubGateway) ID() string { return g.id }

func (g *stubGateway) Initiate(_ context.Context, _ payment.InitiateRequest) (*payment.InitiateResult, error) {
	return g.initiateRes, g.initiateErr
}

func (g *stubGateway) VerifyCallback(_ []byte, signature string) (*payment.CallbackEvent, error) {
	if signature != "good" {
		return nil, payment.ErrInvalidSignature
	}
	return g.event, nil
}

// --- Test harness ---

const testJWTSecret = "test-secret"

var passRunner = tx.RunnerFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})

type env struct {
	handler  http.Handler
	products *memProductRepo
	orders   *memOrderRepo
	payments *memPaymentRepo
	card     *stubGateway
}

func newEnv(t *testing.T) *env {
	t.Helper()

	products := &memProductRepo{byID: map[string]*product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: decimal.RequireFromString("10.00"), Stock: 5},
		"p2": {ID: "p2", Name: "Gadget", Price: decimal.RequireFromString("3.50"), Stock: 2},
	}}
	carts := &memCartRepo{byOwner: make(map[string]*cart.Cart)}
	orders := &memOrderRepo{byID: make(map[string]*order.Order)}
	payments := &memPaymentRepo{byOrder: make(map[string]*payment.Payment)}

	card := &stubGateway{
		id: "cardlink",
		initiateRes: &payment.InitiateResult{
			PaymentURL:  "https://pay.cardlink.example/c/abc",
			ExternalRef: "ch_123",
		},
	}
	registry := payment.NewRegistry(map[payment.Method]payment.Gateway{
		payment.MethodCard: card,
	})

	cartSvc := cart.NewService(carts, products, passRunner)
	orderSvc := order.NewService(passRunner, carts, products, orders, order.NewReferenceGenerator(1000))
	orch := payment.NewOrchestrator(passRunner, payments, orders, registry,
		"https://shop.example.com", "https://shop.example.com/payment/return")

	h := NewHandler(NewAuthenticator([]byte(testJWTSecret)), cartSvc, orderSvc, orch)
	return &env{
		handler:  h.Routes(),
		products: products,
		orders:   orders,
		payments: payments,
		card:     card,
	}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID}).
		SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

type reqOpt func(*http.Request)

func asUser(t *testing.T, userID string) reqOpt {
	tok := bearerToken(t, userID)
	return func(r *http.Request) { r.Header.Set("Authorization", tok) }
}

func asSession(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set(sessionTokenHeader, token) }
}

func (e *env) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func checkoutBody() map[string]any {
	return map[string]any{
		"payment_method": "card",
		"customer": map[string]any{
			"name":             "Ada Lovelace",
			"email":            "ada@example.com",
			"phone":            "+1-555-0100",
			"shipping_address": "1 Analytical Way",
		},
	}
}

// --- Tests ---

func TestAuth_MissingCredentials(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/cart", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_BadBearerToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/cart", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not.a.jwt")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_BadSessionToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/cart", nil, asSession("not-a-uuid"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCartFlow_GuestSession(t *testing.T) {
	e := newEnv(t)
	sess := asSession(uuid.NewString())

	rec := e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 2}, sess)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/cart", nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[cartResponse](t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "p1", resp.Items[0].ProductID)
	assert.Equal(t, 2, resp.Items[0].Quantity)
	assert.Equal(t, "20.00", resp.Items[0].LineTotal)
	assert.Equal(t, "20.00", resp.Subtotal)
	require.NotNil(t, resp.Items[0].Product)
	assert.Equal(t, "Widget", resp.Items[0].Product.Name)
}

func TestCart_AddReturnsStockWarning(t *testing.T) {
	e := newEnv(t)
	sess := asSession(uuid.NewString())

	rec := e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p2", Quantity: 10}, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[mutationResponse](t, rec)
	assert.Contains(t, resp.StockWarning, "only 2")
}

func TestCart_InvalidQuantity(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 0},
		asSession(uuid.NewString()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCart_SetQuantityAndRemove(t *testing.T) {
	e := newEnv(t)
	sess := asSession(uuid.NewString())

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 1}, sess)

	rec := e.do(t, http.MethodPut, "/cart/items/p1", setQuantityRequest{Quantity: 3}, sess)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/cart/items/p1", nil, sess)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, "/cart/items/p1", nil, sess)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCart_MergeRequiresBearer(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/cart/merge", nil, asSession(uuid.NewString()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCart_Merge(t *testing.T) {
	e := newEnv(t)
	guestToken := uuid.NewString()

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 3}, asSession(guestToken))
	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 2}, asUser(t, "u1"))

	rec := e.do(t, http.MethodPost, "/cart/merge", nil, asUser(t, "u1"), asSession(guestToken))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/cart", nil, asUser(t, "u1"))
	resp := decode[cartResponse](t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 5, resp.Items[0].Quantity)

	// The guest session now has no cart.
	rec = e.do(t, http.MethodGet, "/cart", nil, asSession(guestToken))
	resp = decode[cartResponse](t, rec)
	assert.Empty(t, resp.Items)
}

func TestCheckout_CardHappyPath(t *testing.T) {
	e := newEnv(t)
	user := asUser(t, "u1")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 2}, user)

	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[checkoutResponse](t, rec)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "PENDING", resp.PaymentStatus)
	assert.Equal(t, "20.00", resp.Total)
	assert.Equal(t, "https://pay.cardlink.example/c/abc", resp.PaymentURL)
	assert.NotEmpty(t, resp.Reference)

	// The cart is now empty.
	rec = e.do(t, http.MethodGet, "/cart", nil, user)
	cartResp := decode[cartResponse](t, rec)
	assert.Empty(t, cartResp.Items)
}

func TestCheckout_CashOnDelivery(t *testing.T) {
	e := newEnv(t)
	user := asUser(t, "u1")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 1}, user)

	body := checkoutBody()
	body["payment_method"] = "cash_on_delivery"
	rec := e.do(t, http.MethodPost, "/checkout", body, user)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[checkoutResponse](t, rec)
	assert.Empty(t, resp.PaymentURL)
	assert.Equal(t, "PENDING", resp.PaymentStatus)
}

func TestCheckout_EmptyCart(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), asUser(t, "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_UnknownPaymentMethod(t *testing.T) {
	e := newEnv(t)
	user := asUser(t, "u1")

	body := checkoutBody()
	body["payment_method"] = "bitcoin"
	rec := e.do(t, http.MethodPost, "/checkout", body, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_StockConflict(t *testing.T) {
	e := newEnv(t)
	user := asUser(t, "u1")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p2", Quantity: 10}, user)

	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), user)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Contains(t, resp.Message, "quantity no longer available")
}

func TestCheckout_GatewayFailureReportsReference(t *testing.T) {
	e := newEnv(t)
	user := asUser(t, "u1")
	e.card.initiateErr = errors.New("provider down")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 1}, user)

	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), user)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.NotEmpty(t, resp.OrderReference)

	// The order exists with its stock held.
	ord, err := e.orders.GetByReference(context.Background(), resp.OrderReference)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.Equal(t, 4, e.products.byID["p1"].Stock)
}

func TestOrders_OwnershipIsolation(t *testing.T) {
	e := newEnv(t)
	alice := asUser(t, "alice")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 1}, alice)
	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[checkoutResponse](t, rec)

	rec = e.do(t, http.MethodGet, "/orders/"+created.OrderID, nil, alice)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders/"+created.OrderID, nil, asUser(t, "bob"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders", nil, asUser(t, "bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[orderListResponse](t, rec)
	assert.Empty(t, list.Orders)
}

func TestPaymentCallback_ConfirmsOrder(t *testing.T) {
	e := newEnv(t)
	user := asUser(t, "u1")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 1}, user)
	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), user)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[checkoutResponse](t, rec)

	e.card.event = &payment.CallbackEvent{
		OrderRef:    created.Reference,
		ExternalRef: "ch_123",
		Status:      payment.StatusSuccess,
	}

	rec = e.do(t, http.MethodPost, "/payments/cardlink/callback", map[string]any{},
		func(r *http.Request) { r.Header.Set(signatureHeader, "good") })
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders/"+created.OrderID+"/payment", nil, user)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[paymentStatusResponse](t, rec)
	assert.Equal(t, "CONFIRMED", status.OrderStatus)
	assert.Equal(t, "SUCCESS", status.PaymentStatus)
	assert.NotNil(t, status.PaidAt)

	// Replayed delivery still reports processed.
	rec = e.do(t, http.MethodPost, "/payments/cardlink/callback", map[string]any{},
		func(r *http.Request) { r.Header.Set(signatureHeader, "good") })
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentCallback_BadSignature(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/payments/cardlink/callback", map[string]any{},
		func(r *http.Request) { r.Header.Set(signatureHeader, "forged") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentCallback_UnknownGateway(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/payments/ghost/callback", map[string]any{},
		func(r *http.Request) { r.Header.Set(signatureHeader, "good") })
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentStatus_ForeignOrder(t *testing.T) {
	e := newEnv(t)
	alice := asUser(t, "alice")

	e.do(t, http.MethodPost, "/cart/items", cartItemRequest{ProductID: "p1", Quantity: 1}, alice)
	rec := e.do(t, http.MethodPost, "/checkout", checkoutBody(), alice)
	created := decode[checkoutResponse](t, rec)

	rec = e.do(t, http.MethodGet, "/orders/"+created.OrderID+"/payment", nil, asUser(t, "bob"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
