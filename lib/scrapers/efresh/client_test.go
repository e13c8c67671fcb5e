package efresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"
	"greekcart-backend/lib/webcache"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://www.e-fresh.gr"

func setupClient(t *testing.T, options ClientOptions) (*Client, *session.Manager) {
	t.Helper()
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/efresh")
	t.Cleanup(cleanup)

	mgr := session.NewManager(filepath.Join(t.TempDir(), "session.json"))
	options.Auth = mgr
	client, err := NewClient(options)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client, mgr
}

func authenticate(mgr *session.Manager) {
	mgr.Save(map[string]string{"laravel_session": "sess-1"}, "user@example.com")
}

func TestLogin(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})

	loginPage := httpmock.NewStringResponse(200, `<html><head>
		<meta name="csrf-token" content="csrf-123">
	</head></html>`)
	loginPage.Header.Set("Set-Cookie", "XSRF-TOKEN=tok%3D%3D; Path=/")
	httpmock.RegisterResponder("GET", testBaseURL+"/el/account/login",
		httpmock.ResponderFromResponse(loginPage))

	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/login",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "csrf-123", req.Header.Get("X-Csrf-Token"))
			require.Equal(t, "tok==", req.Header.Get("X-Xsrf-Token"))
			require.Equal(t, "XMLHttpRequest", req.Header.Get("X-Requested-With"))

			res := httpmock.NewStringResponse(200, `{"status":true,"message":"ok"}`)
			res.Header.Set("Set-Cookie", "laravel_session=sess-login; Path=/")
			return res, nil
		})

	httpmock.RegisterResponder("GET", testBaseURL+"/api/address/view",
		httpmock.NewStringResponder(200, `{"status":true}`))

	ok, err := client.Login(context.Background(), storefront.Credentials{
		Email:    "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, mgr.IsAuthenticated())
	require.Equal(t, "user@example.com", mgr.Email())
	require.Equal(t, "sess-login", mgr.Cookies()["laravel_session"])
}

func TestLoginRejected(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})

	httpmock.RegisterResponder("GET", testBaseURL+"/el/account/login",
		httpmock.NewStringResponder(200, `<html></html>`))
	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/login",
		httpmock.NewStringResponder(200, `{"status":false,"message":"invalid credentials"}`))

	ok, err := client.Login(context.Background(), storefront.Credentials{
		Email:    "user@example.com",
		Password: "wrong",
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mgr.IsAuthenticated())
}

func TestLoginVerificationFailure(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})

	httpmock.RegisterResponder("GET", testBaseURL+"/el/account/login",
		httpmock.NewStringResponder(200, `<html></html>`))
	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/login",
		httpmock.NewStringResponder(200, `{"status":true}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/api/address/view",
		httpmock.NewStringResponder(200, `{"status":false}`))

	ok, err := client.Login(context.Background(), storefront.Credentials{
		Email:    "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mgr.IsAuthenticated())
}

func TestSearchRequiresQuery(t *testing.T) {
	client, _ := setupClient(t, ClientOptions{})

	_, err := client.SearchProducts(context.Background(), storefront.SearchQuery{})
	require.ErrorIs(t, err, storefront.ErrMissingQuery)
	require.Zero(t, httpmock.GetTotalCallCount())
}

func searchResponse(products []map[string]any) string {
	raw, _ := json.Marshal(map[string]any{
		"status": true,
		"data": map[string]any{
			"products": map[string]any{"data": products},
		},
	})
	return string(raw)
}

func TestSearchSkipsMalformedEntries(t *testing.T) {
	client, _ := setupClient(t, ClientOptions{})

	var products []map[string]any
	for i := 0; i < 19; i++ {
		products = append(products, map[string]any{
			"kodikos": fmt.Sprintf("p-%d", i),
			"title":   fmt.Sprintf("Φέτα %d", i),
			"price":   "2.49",
		})
	}
	products = append(products, map[string]any{
		"kodikos": "p-bad",
		"title":   "Broken",
		"price":   "not a number",
	})

	httpmock.RegisterResponder("GET", testBaseURL+"/api/list",
		httpmock.NewStringResponder(200, searchResponse(products)))

	results, err := client.SearchProducts(context.Background(), storefront.SearchQuery{Query: "φέτα"})
	require.NoError(t, err)
	require.Len(t, results, 19)
	for _, p := range results {
		require.NotEqual(t, "p-bad", p.ID)
	}
}

func TestSearchFiltersByEAN(t *testing.T) {
	client, _ := setupClient(t, ClientOptions{})

	httpmock.RegisterResponder("GET", testBaseURL+"/api/list",
		httpmock.NewStringResponder(200, searchResponse([]map[string]any{
			{"kodikos": "p-1", "title": "Milk 1L", "barcode": "5201234567890", "price": "1.50"},
			{"kodikos": "p-2", "title": "Milk 2L", "barcode": "5209999999999", "price": "2.80"},
		})))

	results, err := client.SearchProducts(context.Background(), storefront.SearchQuery{EAN: "5201234567890"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "p-1", results[0].ID)
	require.Equal(t, "5201234567890", results[0].EAN)
}

func TestSearchFallsBackToEmbeddedHTML(t *testing.T) {
	client, _ := setupClient(t, ClientOptions{})

	httpmock.RegisterResponder("GET", testBaseURL+"/api/list",
		httpmock.NewStringResponder(500, "server error"))
	httpmock.RegisterResponder("GET", testBaseURL+"/el/search",
		httpmock.NewStringResponder(200, `<html><script>
			window.state = { "products": [{"kodikos":"p-7","title":"Γάλα","price":"1.20"}] };
		</script></html>`))

	results, err := client.SearchProducts(context.Background(), storefront.SearchQuery{Query: "γάλα"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "p-7", results[0].ID)
}

func TestSearchUsesCache(t *testing.T) {
	cache, err := webcache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	client, _ := setupClient(t, ClientOptions{Cache: cache})

	httpmock.RegisterResponder("GET", testBaseURL+"/api/list",
		httpmock.NewStringResponder(200, searchResponse([]map[string]any{
			{"kodikos": "p-1", "title": "Milk", "price": "1.50"},
		})))

	for i := 0; i < 2; i++ {
		results, err := client.SearchProducts(context.Background(), storefront.SearchQuery{Query: "milk"})
		require.NoError(t, err)
		require.Len(t, results, 1)
	}

	info := httpmock.GetCallCountInfo()
	require.Equal(t, 1, info["GET "+testBaseURL+"/api/list"])
}

func TestCartRequiresAuthentication(t *testing.T) {
	client, _ := setupClient(t, ClientOptions{})
	ctx := context.Background()

	_, err := client.AddToCart(ctx, "p-1", 1)
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.RemoveFromCart(ctx, "p-1")
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.UpdateCartQuantity(ctx, "p-1", 2)
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.GetCart(ctx)
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.GetOrders(ctx, storefront.OrderQuery{})
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.GetOrderDetails(ctx, "1001")
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)

	require.Zero(t, httpmock.GetTotalCallCount())
}

func cartResponse(items []map[string]any, total string, totalQty int) string {
	raw, _ := json.Marshal(map[string]any{
		"status": true,
		"data": map[string]any{
			"cart": map[string]any{
				"items":     items,
				"total":     total,
				"total_qty": totalQty,
			},
		},
	})
	return string(raw)
}

func TestAddToCartVerifiesResult(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("POST", testBaseURL+"/api/cart/add",
		httpmock.NewStringResponder(200, `{"status":true}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(200, cartResponse([]map[string]any{
			{"id": "p-1", "name": "Milk", "price": "1.50", "qty": 2, "total": "3.00"},
		}, "3.00", 2)))

	ok, err := client.AddToCart(context.Background(), "p-1", 2)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAddToCartDetectsDroppedWrite(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	// The endpoint acknowledges the write but the re-fetched cart does
	// not contain the product.
	httpmock.RegisterResponder("POST", testBaseURL+"/api/cart/add",
		httpmock.NewStringResponder(200, `{"status":true}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(200, cartResponse(nil, "0.00", 0)))

	ok, err := client.AddToCart(context.Background(), "p-1", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateCartQuantityChecksExactValue(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("POST", testBaseURL+"/api/cart/add",
		httpmock.NewStringResponder(200, `{"status":true}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(200, cartResponse([]map[string]any{
			{"id": "p-1", "name": "Milk", "price": "1.50", "qty": 3, "total": "4.50"},
		}, "4.50", 3)))

	ok, err := client.UpdateCartQuantity(context.Background(), "p-1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.UpdateCartQuantity(context.Background(), "p-1", 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateCartQuantityZeroRemoves(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("POST", testBaseURL+"/api/cart/add",
		httpmock.NewStringResponder(200, `{"status":true}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(200, cartResponse(nil, "0.00", 0)))

	ok, err := client.UpdateCartQuantity(context.Background(), "p-1", 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetCartFallsBackToFormEndpoint(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(500, "server error"))
	httpmock.RegisterResponder("GET", testBaseURL+"/el/cart",
		httpmock.NewStringResponder(200, `<html><script>
			window.state = { "cart": {"items":[{"id":"p-9","name":"Ψωμί","price":"0.80","qty":1,"total":"0.80"}],"total":"0.80","total_qty":1} };
		</script></html>`))

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.Equal(t, "p-9", cart.Items[0].Product.ID)
	require.Equal(t, 1, cart.ItemCount)
}

func TestGetCartIsIdempotent(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(200, cartResponse([]map[string]any{
			{"id": "p-1", "name": "Φρέσκο γάλα 1lt", "price": "1.85", "qty": 2, "total": "3.70"},
		}, "3.70", 2)))

	first, err := client.GetCart(context.Background())
	require.NoError(t, err)
	second, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(first, second))
}

func TestGetCartNeverFailsOnParseMiss(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("GET", testBaseURL+"/api/cart",
		httpmock.NewStringResponder(500, "server error"))
	httpmock.RegisterResponder("GET", testBaseURL+"/el/cart",
		httpmock.NewStringResponder(200, `<html>no cart data here</html>`))

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Empty(t, cart.Items)
	require.Zero(t, cart.ItemCount)
}

func ordersPageResponse(orders []map[string]any, perPage int) string {
	raw, _ := json.Marshal(map[string]any{
		"status": true,
		"data": map[string]any{
			"orders": map[string]any{
				"data":     orders,
				"per_page": perPage,
			},
		},
	})
	return string(raw)
}

func TestGetOrdersPaginates(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	pages := map[int]string{
		1: ordersPageResponse([]map[string]any{
			{"order_id": 1003, "status": "delivered", "created_at": "2025-03-01 10:00:00", "total_amount": "45.60"},
			{"order_id": 1002, "status": "delivered", "created_at": "2025-02-01 10:00:00", "total_amount": "12.00"},
		}, 2),
		2: ordersPageResponse([]map[string]any{
			{"order_id": 1001, "status": "pending", "created_at": "2025-01-01 10:00:00", "total_amount": "7.30"},
		}, 2),
	}
	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/orders",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Page int `json:"page"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			page, ok := pages[body.Page]
			require.True(t, ok, "unexpected page %d", body.Page)
			return httpmock.NewStringResponse(200, page), nil
		})

	orders, err := client.GetOrders(context.Background(), storefront.OrderQuery{IncludeHistory: true})
	require.NoError(t, err)
	require.Len(t, orders, 3)
	require.Equal(t, "1003", orders[0].ID)
	require.Equal(t, "1001", orders[2].ID)

	// Page 2 was short, so page 3 was never requested.
	info := httpmock.GetCallCountInfo()
	require.Equal(t, 2, info["POST "+testBaseURL+"/api/account/orders"])
}

func TestGetOrdersStopsAtPageCeiling(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	// Every page comes back full, so only the ceiling stops the loop.
	fullPage := ordersPageResponse([]map[string]any{
		{"order_id": 1002, "status": "delivered", "created_at": "2025-02-01 10:00:00", "total_amount": "12.00"},
		{"order_id": 1001, "status": "pending", "created_at": "2025-01-01 10:00:00", "total_amount": "7.30"},
	}, 2)
	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/orders",
		httpmock.NewStringResponder(200, fullPage))

	orders, err := client.GetOrders(context.Background(), storefront.OrderQuery{IncludeHistory: true})
	require.NoError(t, err)
	require.Len(t, orders, 2*maxOrderPages)

	info := httpmock.GetCallCountInfo()
	require.Equal(t, maxOrderPages, info["POST "+testBaseURL+"/api/account/orders"])
}

func TestGetOrdersFiltersActive(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/orders",
		httpmock.NewStringResponder(200, ordersPageResponse([]map[string]any{
			{"order_id": 2002, "status": "Delivered", "created_at": "2025-02-01 10:00:00", "total_amount": "12.00"},
			{"order_id": 2001, "status": "Pending", "created_at": "2025-01-01 10:00:00", "total_amount": "7.30"},
		}, 10)))

	orders, err := client.GetOrders(context.Background(), storefront.OrderQuery{IncludeHistory: false})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "2001", orders[0].ID)
}

func TestGetOrderDetails(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	raw, _ := json.Marshal(map[string]any{
		"status": true,
		"data": map[string]any{
			"order": map[string]any{
				"order_id":   3001,
				"status":     "delivered",
				"created_at": "2025-04-01T09:30:00Z",
				"total":      "21.40",
				"order_items": []map[string]any{
					{"title": "Φέτα 400g", "quantity": 2, "price": "5.20", "subtotal": "10.40"},
					{"title": "Ελιές", "quantity": 1, "price": "11.00", "total": "11.00"},
				},
			},
		},
	})
	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/order",
		httpmock.NewStringResponder(200, string(raw)))

	order, err := client.GetOrderDetails(context.Background(), "3001")
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, "3001", order.ID)
	require.Len(t, order.Items, 2)
	require.Equal(t, "Φέτα 400g", order.Items[0].ProductName)
	require.Equal(t, 2, order.Items[0].Quantity)
}

func TestGetOrderDetailsNotFound(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("POST", testBaseURL+"/api/account/order",
		httpmock.NewStringResponder(200, `{"status":false,"message":"not found"}`))

	order, err := client.GetOrderDetails(context.Background(), "9999")
	require.NoError(t, err)
	require.Nil(t, order)
}

func TestLogoutClearsSession(t *testing.T) {
	client, mgr := setupClient(t, ClientOptions{})
	authenticate(mgr)

	httpmock.RegisterResponder("GET", testBaseURL+"/el/account/logout",
		httpmock.NewStringResponder(200, "bye"))

	require.NoError(t, client.Logout(context.Background()))
	require.False(t, mgr.IsAuthenticated())
	require.Empty(t, mgr.Cookies())
}
