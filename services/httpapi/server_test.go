package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	loginOK  bool
	err      error
	products []storefront.Product
	cart     storefront.Cart
	order    *storefront.Order
	mutateOK bool
	language string
}

func (s *stubClient) Login(ctx context.Context, creds storefront.Credentials) (bool, error) {
	return s.loginOK, s.err
}

func (s *stubClient) Logout(ctx context.Context) error { return s.err }

func (s *stubClient) SearchProducts(ctx context.Context, q storefront.SearchQuery) ([]storefront.Product, error) {
	if q.Empty() {
		return nil, storefront.ErrMissingQuery
	}
	return s.products, s.err
}

func (s *stubClient) AddToCart(ctx context.Context, productID string, quantity int) (bool, error) {
	return s.mutateOK, s.err
}

func (s *stubClient) RemoveFromCart(ctx context.Context, productID string) (bool, error) {
	return s.mutateOK, s.err
}

func (s *stubClient) UpdateCartQuantity(ctx context.Context, productID string, quantity int) (bool, error) {
	return s.mutateOK, s.err
}

func (s *stubClient) GetCart(ctx context.Context) (storefront.Cart, error) {
	return s.cart, s.err
}

func (s *stubClient) GetOrders(ctx context.Context, q storefront.OrderQuery) ([]storefront.Order, error) {
	return nil, s.err
}

func (s *stubClient) GetOrderDetails(ctx context.Context, orderID string) (*storefront.Order, error) {
	return s.order, s.err
}

func (s *stubClient) SetLanguage(language string) { s.language = language }

func request(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{}})

	rec := request(t, handler, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestLogin(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{loginOK: true}})

	rec := request(t, handler, "POST", "/auth/login",
		`{"email": "user@example.com", "password": "hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"logged_in":true`)
}

func TestLoginRejected(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{loginOK: false}})

	rec := request(t, handler, "POST", "/auth/login",
		`{"email": "user@example.com", "password": "wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRequiresCredentials(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{}})

	rec := request(t, handler, "POST", "/auth/login", `{"email": "user@example.com"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthStatus(t *testing.T) {
	mgr := session.NewManager(filepath.Join(t.TempDir(), "session.json"))
	handler := NewHandler(Options{Client: &stubClient{}, Auth: mgr})

	rec := request(t, handler, "GET", "/auth/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"logged_in":false`)

	mgr.Save(map[string]string{"session": "x"}, "user@example.com")
	rec = request(t, handler, "GET", "/auth/status", "")
	require.Contains(t, rec.Body.String(), `"logged_in":true`)
	require.Contains(t, rec.Body.String(), "user@example.com")
}

func TestSearchStatusMapping(t *testing.T) {
	client := &stubClient{products: []storefront.Product{{
		ID:    "123",
		Name:  "Φρέσκο γάλα 1lt",
		Price: decimal.RequireFromString("1.85"),
	}}}
	handler := NewHandler(Options{Client: client})

	// Missing input maps to 400.
	rec := request(t, handler, "POST", "/products/search", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, handler, "POST", "/products/search", `{"query": "γάλα"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":1`)
	require.Contains(t, rec.Body.String(), "Φρέσκο γάλα 1lt")
}

func TestCartStatusMapping(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		handler := NewHandler(Options{Client: &stubClient{err: storefront.ErrNotAuthenticated}})
		rec := request(t, handler, "GET", "/cart", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("blocked", func(t *testing.T) {
		handler := NewHandler(Options{Client: &stubClient{err: storefront.Blocked("cloudflare")}})
		rec := request(t, handler, "GET", "/cart", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		// Vendor detail stays in the log.
		require.NotContains(t, rec.Body.String(), "cloudflare")
	})

	t.Run("ok", func(t *testing.T) {
		handler := NewHandler(Options{Client: &stubClient{cart: storefront.Cart{ItemCount: 2}}})
		rec := request(t, handler, "GET", "/cart", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"item_count":2`)
	})
}

func TestCartMutations(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{mutateOK: true}})

	rec := request(t, handler, "POST", "/cart/add", `{"product_id": "123", "quantity": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)

	rec = request(t, handler, "POST", "/cart/add", `{"quantity": 2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, handler, "POST", "/cart/remove", `{"product_id": "123"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, handler, "POST", "/cart/update", `{"product_id": "123", "quantity": 0}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderDetailsNotFound(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{}})

	rec := request(t, handler, "GET", "/orders/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderDetailsFound(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{order: &storefront.Order{
		ID:          "1001",
		OrderNumber: "EF-1001",
		Status:      "pending",
	}}})

	rec := request(t, handler, "GET", "/orders/1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "EF-1001")
}

func TestOrdersAcceptsEmptyBody(t *testing.T) {
	handler := NewHandler(Options{Client: &stubClient{}})

	rec := request(t, handler, "POST", "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":0`)
}

func TestSetLanguage(t *testing.T) {
	client := &stubClient{}
	handler := NewHandler(Options{Client: client})

	rec := request(t, handler, "POST", "/settings/language", `{"language": "en"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "en", client.language)

	rec = request(t, handler, "POST", "/settings/language", `{"language": "fr"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
