// Package storefront holds the domain model shared by the per-site
// scraping clients: products, carts, orders, the client contract and the
// error taxonomy callers are expected to branch on.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotAuthenticated is returned before any network call when an
	// operation requires a logged-in session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrMissingQuery is returned when a search is issued with neither a
	// free-text query nor an EAN.
	ErrMissingQuery = errors.New("either query or ean must be provided")
	// ErrBlocked marks responses rejected by the vendor's anti-bot layer
	// (Cloudflare challenges, 403 walls). It is surfaced instead of an
	// empty result wherever an empty result would mislead the caller.
	ErrBlocked = errors.New("blocked by anti-bot protection")
)

// Blocked wraps detail text in ErrBlocked so errors.Is keeps working.
func Blocked(detail string) error {
	return fmt.Errorf("%w: %s", ErrBlocked, detail)
}

// ActiveOrderStatuses is the default allow-list used to classify an order
// as "active" when history is excluded. The values are vendor-controlled
// free text observed in the wild, not a closed enum; clients accept
// overrides.
var ActiveOrderStatuses = []string{"pending", "confirmed", "processing"}

type Credentials struct {
	Email    string
	Password string
}

type Product struct {
	ID            string          `json:"id"`
	SkuID         string          `json:"sku_id,omitempty"`
	ShopID        int             `json:"shop_id,omitempty"`
	Name          string          `json:"name"`
	Maker         string          `json:"maker,omitempty"`
	EAN           string          `json:"ean,omitempty"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Available     bool            `json:"available"`
	ImageURL      string          `json:"image_url,omitempty"`
	URL           string          `json:"url,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// Discounted reports whether the product carries a struck-through price.
func (p Product) Discounted() bool {
	return !p.OriginalPrice.IsZero() && p.OriginalPrice.GreaterThan(p.Price)
}

type CartItem struct {
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Cart is rebuilt from the vendor's response on every fetch; the remote
// server is the source of truth and nothing is updated incrementally.
type Cart struct {
	Items     []CartItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
	// DeliveryInfo is free text about the selected delivery slot, on
	// targets that bind carts to one.
	DeliveryInfo string `json:"delivery_info,omitempty"`
}

// Contains reports whether the cart holds a line item for the product id.
func (c Cart) Contains(productID string) bool {
	for _, it := range c.Items {
		if it.Product.ID == productID {
			return true
		}
	}
	return false
}

// Quantity returns the line quantity for the product id, 0 if absent.
func (c Cart) Quantity(productID string) int {
	for _, it := range c.Items {
		if it.Product.ID == productID {
			return it.Quantity
		}
	}
	return 0
}

type OrderItem struct {
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	Total           decimal.Decimal `json:"total"`
	Items           []OrderItem     `json:"items,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	DeliveryDate    *time.Time      `json:"delivery_date,omitempty"`
}

type SearchQuery struct {
	Query string
	EAN   string
}

func (q SearchQuery) Empty() bool {
	return q.Query == "" && q.EAN == ""
}

// Term returns the string actually sent to the vendor, preferring EAN.
func (q SearchQuery) Term() string {
	if q.EAN != "" {
		return q.EAN
	}
	return q.Query
}

type OrderQuery struct {
	IncludeHistory bool
	IncludeItems   bool
}

// Client is implemented once per target site. All operations follow the
// same failure contract: precondition failures (ErrNotAuthenticated,
// ErrMissingQuery) are typed errors raised before any network call;
// remote rejections (bad credentials, missing item) are false/empty/nil
// results; anti-bot blocking is ErrBlocked where silence would mislead.
type Client interface {
	// Login reports false, not an error, on rejected credentials.
	Login(ctx context.Context, creds Credentials) (bool, error)
	// Logout is best-effort remotely and always clears local state.
	Logout(ctx context.Context) error
	SearchProducts(ctx context.Context, q SearchQuery) ([]Product, error)
	AddToCart(ctx context.Context, productID string, quantity int) (bool, error)
	RemoveFromCart(ctx context.Context, productID string) (bool, error)
	// UpdateCartQuantity sets the line quantity to exactly the given
	// value. Targets that reuse the add endpoint rely on it having set
	// semantics, never additive ones.
	UpdateCartQuantity(ctx context.Context, productID string, quantity int) (bool, error)
	GetCart(ctx context.Context) (Cart, error)
	GetOrders(ctx context.Context, q OrderQuery) ([]Order, error)
	// GetOrderDetails returns nil, nil when the remote reports not-found.
	GetOrderDetails(ctx context.Context, orderID string) (*Order, error)
}

// IsActiveStatus matches a vendor status string against an allow-list,
// case-insensitively. An empty allow-list falls back to the default.
func IsActiveStatus(status string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = ActiveOrderStatuses
	}
	for _, a := range allowed {
		if strings.EqualFold(status, a) {
			return true
		}
	}
	return false
}
