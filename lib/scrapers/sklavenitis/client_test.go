package sklavenitis

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://www.sklavenitis.gr"

func setupClient(t *testing.T, sessionOpts ...session.Option) (*Client, *session.Manager) {
	t.Helper()
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/sklavenitis")
	t.Cleanup(cleanup)

	mgr := session.NewManager(filepath.Join(t.TempDir(), "session.json"), sessionOpts...)
	client, err := NewClient(ClientOptions{
		Auth: mgr,
		Now: func() time.Time {
			return time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client, mgr
}

func parseFormBody(t *testing.T, req *http.Request) url.Values {
	t.Helper()
	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	values, err := url.ParseQuery(string(raw))
	require.NoError(t, err)
	return values
}

const cartJSON = `{
	"Items": {
		"1234567": {"CartQuantity": "2", "SummaryQuantity": "3,00 €"},
		"7654321": {"CartQuantity": "1", "SummaryQuantity": "1,50 €"}
	},
	"SummaryText": "3",
	"GrandTotal": "4,50 €",
	"SlotInfoWithDay": "Τετάρτη 21/05 07:00-09:00"
}`

func TestSearchRequiresQuery(t *testing.T) {
	client, _ := setupClient(t)

	_, err := client.SearchProducts(context.Background(), storefront.SearchQuery{})
	require.ErrorIs(t, err, storefront.ErrMissingQuery)
	require.Zero(t, httpmock.GetTotalCallCount())
}

func TestSearchExtractsSkusFromURLs(t *testing.T) {
	client, _ := setupClient(t)

	httpmock.RegisterResponder("GET", testBaseURL+searchPath,
		httpmock.NewStringResponder(200, `[
			{"url": "/gr/trofima/gala-fresko-1lt-1234567/", "label": "Γάλα φρέσκο 1lt", "category": "Γαλακτοκομικά"},
			{"url": "/gr/trofima/psomi-tost-7654321", "label": "Ψωμί τοστ", "category": "Αρτοζαχαροπλαστείο"},
			{"url": "/gr/offers/", "label": "Προσφορές", "category": ""}
		]`))

	products, err := client.SearchProducts(context.Background(), storefront.SearchQuery{Query: "γάλα"})
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "1234567", products[0].ID)
	require.Equal(t, "Γάλα φρέσκο 1lt", products[0].Name)
	require.Equal(t, "Γαλακτοκομικά", products[0].Description)
}

func TestLoginWithoutCookies(t *testing.T) {
	client, mgr := setupClient(t)

	ok, err := client.Login(context.Background(), storefront.Credentials{
		Email:    "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mgr.IsAuthenticated())
	require.Zero(t, httpmock.GetTotalCallCount())
}

func TestLoginValidatesInjectedCookies(t *testing.T) {
	client, mgr := setupClient(t, session.WithCookies(map[string]string{
		"SessionID": "browser-copied",
	}))

	httpmock.RegisterResponder("POST", testBaseURL+clientContextPath,
		httpmock.NewStringResponder(200, cartJSON))

	ok, err := client.Login(context.Background(), storefront.Credentials{Email: "user@example.com"})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mgr.IsAuthenticated())
	require.Equal(t, "user@example.com", mgr.Email())
}

func TestLoginRejectsDeadCookies(t *testing.T) {
	client, mgr := setupClient(t, session.WithCookies(map[string]string{
		"SessionID": "stale",
	}))

	httpmock.RegisterResponder("POST", testBaseURL+clientContextPath,
		httpmock.NewStringResponder(200, "<html>login page</html>"))

	ok, err := client.Login(context.Background(), storefront.Credentials{Email: "user@example.com"})
	require.NoError(t, err)
	require.False(t, ok)
	_ = mgr
}

func TestCartRequiresAuthentication(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	_, err := client.AddToCart(ctx, "1234567", 1)
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.RemoveFromCart(ctx, "1234567")
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.UpdateCartQuantity(ctx, "1234567", 2)
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.GetCart(ctx)
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)
	_, err = client.GetOrders(ctx, storefront.OrderQuery{})
	require.ErrorIs(t, err, storefront.ErrNotAuthenticated)

	require.Zero(t, httpmock.GetTotalCallCount())
}

func TestAddToCartRunsBothPhases(t *testing.T) {
	client, mgr := setupClient(t)
	mgr.Save(map[string]string{"SessionID": "sess"}, "user@example.com")

	var phases []url.Values
	httpmock.RegisterResponder("POST", testBaseURL+userFlowPath,
		func(req *http.Request) (*http.Response, error) {
			phases = append(phases, parseFormBody(t, req))
			return httpmock.NewStringResponse(200, "{}"), nil
		})
	httpmock.RegisterResponder("POST", testBaseURL+clientContextPath,
		httpmock.NewStringResponder(200, cartJSON))

	ok, err := client.AddToCart(context.Background(), "1234567", 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, phases, 2)
	require.Equal(t, "Update", phases[0].Get("Action"))
	require.Equal(t, "1234567", phases[0].Get("CartItems[0][ProductSKU]"))
	require.Equal(t, "2", phases[0].Get("CartItems[0][Quantity]"))
	// Slot phase: tomorrow relative to the fixed clock, 07:00-09:00.
	require.Equal(t, "2025-05-21 07:00:00", phases[1].Get("TimeSlotDate"))
	require.Equal(t, "2025-05-21 09:00:00", phases[1].Get("TimeSlotDateTo"))
	require.Equal(t, "False", phases[1].Get("RequiresNotification"))
}

func TestAddToCartFailsWhenSlotRejected(t *testing.T) {
	client, mgr := setupClient(t)
	mgr.Save(map[string]string{"SessionID": "sess"}, "user@example.com")

	httpmock.RegisterResponder("POST", testBaseURL+userFlowPath,
		func(req *http.Request) (*http.Response, error) {
			values := parseFormBody(t, req)
			if values.Get("Action") == "Update" {
				return httpmock.NewStringResponse(200, "{}"), nil
			}
			return httpmock.NewStringResponse(500, "slot unavailable"), nil
		})

	ok, err := client.AddToCart(context.Background(), "1234567", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveFromCartSetsZeroQuantity(t *testing.T) {
	client, mgr := setupClient(t)
	mgr.Save(map[string]string{"SessionID": "sess"}, "user@example.com")

	var quantity string
	httpmock.RegisterResponder("POST", testBaseURL+userFlowPath,
		func(req *http.Request) (*http.Response, error) {
			values := parseFormBody(t, req)
			if values.Get("Action") == "Update" {
				quantity = values.Get("CartItems[0][Quantity]")
			}
			return httpmock.NewStringResponse(200, "{}"), nil
		})
	// Re-fetched cart no longer lists the sku.
	httpmock.RegisterResponder("POST", testBaseURL+clientContextPath,
		httpmock.NewStringResponder(200, `{"Items": {}, "SummaryText": "0", "GrandTotal": "0,00 €"}`))

	ok, err := client.RemoveFromCart(context.Background(), "1234567")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0", quantity)
}

func TestGetCart(t *testing.T) {
	client, mgr := setupClient(t)
	mgr.Save(map[string]string{"SessionID": "sess"}, "user@example.com")

	httpmock.RegisterResponder("POST", testBaseURL+clientContextPath,
		httpmock.NewStringResponder(200, cartJSON))

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	require.Equal(t, "1234567", cart.Items[0].Product.ID)
	require.Equal(t, 2, cart.Items[0].Quantity)
	require.True(t, cart.Items[0].Subtotal.Equal(decimal.RequireFromString("3.00")))
	require.Equal(t, 3, cart.ItemCount)
	require.True(t, cart.Total.Equal(decimal.RequireFromString("4.50")))
	require.Equal(t, "Τετάρτη 21/05 07:00-09:00", cart.DeliveryInfo)
}

func TestGetCartBlocked(t *testing.T) {
	client, mgr := setupClient(t)
	mgr.Save(map[string]string{"SessionID": "sess"}, "user@example.com")

	httpmock.RegisterResponder("POST", testBaseURL+clientContextPath,
		httpmock.NewStringResponder(403, "Access denied"))

	_, err := client.GetCart(context.Background())
	require.ErrorIs(t, err, storefront.ErrBlocked)
}

func TestOrdersNotSupported(t *testing.T) {
	client, mgr := setupClient(t)
	mgr.Save(map[string]string{"SessionID": "sess"}, "user@example.com")

	orders, err := client.GetOrders(context.Background(), storefront.OrderQuery{IncludeHistory: true})
	require.NoError(t, err)
	require.Empty(t, orders)

	order, err := client.GetOrderDetails(context.Background(), "1")
	require.NoError(t, err)
	require.Nil(t, order)
}
