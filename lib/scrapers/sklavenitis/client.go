// Package sklavenitis scrapes sklavenitis.gr. The site runs on the Atcom
// Yoda platform: every useful endpoint is an AJAX component under
// /gr/ajax/, keyed by its .NET component path. Credential login is
// recaptcha-walled, so sessions come from browser cookies injected via
// the environment, validated by probing the cart component.
package sklavenitis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"greekcart-backend/lib/htmlutil"
	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/sklavenitis")

const (
	defaultBaseURL    = "https://www.sklavenitis.gr"
	searchPath        = "/gr/ajax/Atcom.Sites.Yoda.Components.Autocomplete.SearchAutocomplete/"
	userFlowPath      = "/gr/ajax/Atcom.Sites.Yoda.Components.UserFlow.AddToCartUserFlow.Index/"
	clientContextPath = "/gr/ajax/Atcom.Sites.Yoda.Components.ClientContext.Index/"
)

// skuPattern extracts the numeric SKU from a product URL tail, e.g.
// "/gr/trofima/gala-fresko-1lt-1234567/" -> 1234567.
var skuPattern = regexp.MustCompile(`-(\d+)/?$`)

type Client struct {
	baseURL *url.URL
	http    *resty.Client
	auth    *session.Manager

	slotStartHour int
	slotEndHour   int
	now           func() time.Time
}

type ClientOptions struct {
	// BaseURL defaults to the production site; tests point it elsewhere.
	BaseURL string
	Auth    *session.Manager
	// SlotStartHour/SlotEndHour bound the delivery window selected after
	// each cart write. Defaults to tomorrow 07:00-09:00, the site's
	// earliest slot.
	SlotStartHour int
	SlotEndHour   int
	// Now overrides the clock for slot selection in tests.
	Now func() time.Time
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("sklavenitis: session manager is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(base)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	client.SetHeader("accept-language", "el-GR,el;q=0.9,en;q=0.8")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/sklavenitis/http")

	c := &Client{
		baseURL:       baseURL,
		http:          client,
		auth:          opts.Auth,
		slotStartHour: opts.SlotStartHour,
		slotEndHour:   opts.SlotEndHour,
		now:           opts.Now,
	}
	if c.slotStartHour == 0 {
		c.slotStartHour = 7
	}
	if c.slotEndHour == 0 {
		c.slotEndHour = 9
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Client) refreshSession() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	jar.SetCookies(c.baseURL, c.auth.HTTPCookies())
	c.http.SetCookieJar(jar)
}

func (c *Client) persistSession() {
	jar := c.http.GetClient().Jar
	if jar == nil {
		return
	}
	c.auth.Merge(jar.Cookies(c.baseURL))
}

// Login cannot submit credentials: the site's login form is behind
// reCAPTCHA. Instead, cookies injected from a real browser session are
// validated against the cart component; success marks the session
// authenticated.
func (c *Client) Login(ctx context.Context, creds storefront.Credentials) (bool, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	cookies := c.auth.Cookies()
	if len(cookies) == 0 {
		slog.WarnContext(ctx, "credential login is recaptcha-walled; copy browser cookies into SKLAVENITIS_COOKIES",
			"scraper", "sklavenitis")
		span.SetStatus(codes.Error, "no cookies to validate")
		return false, nil
	}

	c.refreshSession()
	if _, err := c.fetchCart(ctx); err != nil {
		span.SetStatus(codes.Error, "cookie probe failed")
		slog.WarnContext(ctx, "injected cookies failed the cart probe",
			"scraper", "sklavenitis", "err", err)
		return false, nil
	}

	c.auth.Save(cookies, creds.Email)
	return true, nil
}

// Logout has no remote endpoint worth calling; the session is purely
// local cookie state.
func (c *Client) Logout(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Logout")
	defer span.End()

	c.auth.Clear()
	if jar, err := cookiejar.New(nil); err == nil {
		c.http.SetCookieJar(jar)
	}
	return nil
}

type autocompleteEntry struct {
	URL      string `json:"url"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// SearchProducts queries the autocomplete component. Results carry no
// price; only the SKU (dug out of the product URL), name and category
// are available. Entries whose URL has no SKU tail are skipped.
func (c *Client) SearchProducts(ctx context.Context, query storefront.SearchQuery) ([]storefront.Product, error) {
	ctx, span := tracer.Start(ctx, "SearchProducts")
	defer span.End()

	if query.Empty() {
		return nil, storefront.ErrMissingQuery
	}
	c.refreshSession()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("accept", "application/json").
		SetQueryParam("term", query.Term()).
		Get(searchPath)
	c.persistSession()
	if err != nil {
		span.SetStatus(codes.Error, "autocomplete request failed")
		slog.WarnContext(ctx, "search failed",
			"scraper", "sklavenitis", "term", query.Term(), "err", err)
		return []storefront.Product{}, nil
	}
	if res.StatusCode() == 403 {
		return nil, storefront.Blocked("autocomplete returned 403")
	}
	if res.StatusCode() != 200 {
		slog.WarnContext(ctx, "search returned unexpected status",
			"scraper", "sklavenitis", "status", res.StatusCode())
		return []storefront.Product{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(res.Body(), &entries); err != nil {
		slog.WarnContext(ctx, "unparseable autocomplete response",
			"scraper", "sklavenitis", "err", err)
		return []storefront.Product{}, nil
	}

	products := make([]storefront.Product, 0, len(entries))
	for _, raw := range entries {
		var entry autocompleteEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			slog.Warn("skipping unparseable autocomplete entry",
				"scraper", "sklavenitis", "err", err)
			continue
		}
		match := skuPattern.FindStringSubmatch(entry.URL)
		if match == nil {
			continue
		}
		products = append(products, storefront.Product{
			ID:          match[1],
			Name:        entry.Label,
			Description: entry.Category,
			URL:         c.baseURL.String() + entry.URL,
			Available:   true,
		})
	}

	storefront.RankByRelevance(products, query.Query)
	return products, nil
}

// submitQuantity performs the two-phase cart write: set the line
// quantity through the user-flow component, then confirm a delivery
// slot. The second phase is not optional; without it the site silently
// discards the first.
func (c *Client) submitQuantity(ctx context.Context, sku string, quantity int) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-userflow-new", "true").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetFormData(map[string]string{
			"Action":                   "Update",
			"CartItems[0][ProductSKU]": sku,
			"CartItems[0][Quantity]":   strconv.Itoa(quantity),
		}).
		Post(userFlowPath)
	if err != nil {
		return err
	}
	if res.StatusCode() == 403 {
		return storefront.Blocked("cart update returned 403")
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("cart update returned %d", res.StatusCode())
	}

	slotStart, slotEnd := c.nextSlot()
	res, err = c.http.R().
		SetContext(ctx).
		SetHeader("x-noredirect", "true").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetFormData(map[string]string{
			"TimeSlotDate":         slotStart.Format("2006-01-02 15:04:05"),
			"TimeSlotDateTo":       slotEnd.Format("2006-01-02 15:04:05"),
			"RequiresNotification": "False",
		}).
		Post(userFlowPath)
	if err != nil {
		return err
	}
	if res.StatusCode() == 403 {
		return storefront.Blocked("slot selection returned 403")
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("slot selection returned %d", res.StatusCode())
	}
	return nil
}

// nextSlot returns tomorrow's configured delivery window.
func (c *Client) nextSlot() (time.Time, time.Time) {
	tomorrow := c.now().AddDate(0, 0, 1)
	start := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(),
		c.slotStartHour, 0, 0, 0, tomorrow.Location())
	end := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(),
		c.slotEndHour, 0, 0, 0, tomorrow.Location())
	return start, end
}

func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := tracer.Start(ctx, "AddToCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.submitQuantity(ctx, productID, quantity)
	c.persistSession()
	if err != nil {
		if isBlocked(err) {
			return false, err
		}
		slog.WarnContext(ctx, "add to cart failed",
			"scraper", "sklavenitis", "sku", productID, "err", err)
		return false, nil
	}

	cart, err := c.GetCart(ctx)
	if err != nil {
		return false, err
	}
	if !cart.Contains(productID) {
		slog.WarnContext(ctx, "cart write acknowledged but sku missing on re-fetch",
			"scraper", "sklavenitis", "sku", productID)
		return false, nil
	}
	return true, nil
}

// RemoveFromCart sets the line quantity to zero; the user-flow component
// treats quantities as absolute.
func (c *Client) RemoveFromCart(ctx context.Context, productID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "RemoveFromCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.submitQuantity(ctx, productID, 0)
	c.persistSession()
	if err != nil {
		if isBlocked(err) {
			return false, err
		}
		slog.WarnContext(ctx, "remove from cart failed",
			"scraper", "sklavenitis", "sku", productID, "err", err)
		return false, nil
	}

	cart, err := c.GetCart(ctx)
	if err != nil {
		return false, err
	}
	return !cart.Contains(productID), nil
}

func (c *Client) UpdateCartQuantity(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := tracer.Start(ctx, "UpdateCartQuantity")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.submitQuantity(ctx, productID, quantity)
	c.persistSession()
	if err != nil {
		if isBlocked(err) {
			return false, err
		}
		slog.WarnContext(ctx, "cart quantity update failed",
			"scraper", "sklavenitis", "sku", productID, "err", err)
		return false, nil
	}

	cart, err := c.GetCart(ctx)
	if err != nil {
		return false, err
	}
	if quantity <= 0 {
		return !cart.Contains(productID), nil
	}
	if got := cart.Quantity(productID); got != quantity {
		slog.WarnContext(ctx, "cart quantity mismatch on re-fetch",
			"scraper", "sklavenitis", "sku", productID,
			"want", quantity, "got", got)
		return false, nil
	}
	return true, nil
}

// quantityValue tolerates the component's habit of quoting numbers.
type quantityValue string

func (q *quantityValue) UnmarshalJSON(b []byte) error {
	*q = quantityValue(strings.Trim(string(b), `"`))
	return nil
}

func (q quantityValue) Int() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(q)))
	if err != nil {
		return 0
	}
	return n
}

type clientContextResponse struct {
	Items map[string]struct {
		CartQuantity    quantityValue `json:"CartQuantity"`
		SummaryQuantity quantityValue `json:"SummaryQuantity"`
	} `json:"Items"`
	SummaryText     quantityValue `json:"SummaryText"`
	GrandTotal      string        `json:"GrandTotal"`
	SlotInfoWithDay string        `json:"SlotInfoWithDay"`
}

func (c *Client) fetchCart(ctx context.Context) (storefront.Cart, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetQueryParam("type", "Cart").
		Post(clientContextPath)
	if err != nil {
		return storefront.Cart{}, err
	}
	if res.StatusCode() == 403 {
		return storefront.Cart{}, storefront.Blocked("cart component returned 403")
	}
	if res.StatusCode() != 200 {
		return storefront.Cart{}, fmt.Errorf("cart component returned %d", res.StatusCode())
	}

	var payload clientContextResponse
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return storefront.Cart{}, err
	}

	cart := storefront.Cart{
		Total:        htmlutil.ParsePrice(payload.GrandTotal),
		DeliveryInfo: payload.SlotInfoWithDay,
	}

	// Cart entries are keyed by SKU; the component does not return
	// product names. Sorted for deterministic output.
	skus := make([]string, 0, len(payload.Items))
	for sku := range payload.Items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	for _, sku := range skus {
		entry := payload.Items[sku]
		cart.Items = append(cart.Items, storefront.CartItem{
			Product: storefront.Product{
				ID:        sku,
				Name:      fmt.Sprintf("Product %s", sku),
				Available: true,
			},
			Quantity: entry.CartQuantity.Int(),
			Subtotal: htmlutil.ParsePrice(string(entry.SummaryQuantity)),
		})
	}

	if count := payload.SummaryText.Int(); count > 0 {
		cart.ItemCount = count
	} else {
		cart.ItemCount = len(cart.Items)
	}
	return cart, nil
}

// GetCart reads the cart component. Parse misses degrade to an empty
// cart; only anti-bot blocking is surfaced.
func (c *Client) GetCart(ctx context.Context) (storefront.Cart, error) {
	ctx, span := tracer.Start(ctx, "GetCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return storefront.Cart{}, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	cart, err := c.fetchCart(ctx)
	c.persistSession()
	if err != nil {
		if isBlocked(err) {
			return storefront.Cart{}, err
		}
		slog.WarnContext(ctx, "cart fetch failed",
			"scraper", "sklavenitis", "err", err)
		return storefront.Cart{}, nil
	}
	return cart, nil
}

// GetOrders is a stub: the site's AJAX layer does not expose order
// history, only the live cart. The operation succeeds with an empty
// list so callers can treat all targets uniformly.
func (c *Client) GetOrders(ctx context.Context, query storefront.OrderQuery) ([]storefront.Order, error) {
	_, span := tracer.Start(ctx, "GetOrders")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return nil, storefront.ErrNotAuthenticated
	}
	slog.DebugContext(ctx, "order history not available for this target",
		"scraper", "sklavenitis")
	return []storefront.Order{}, nil
}

// GetOrderDetails always reports not-found; see GetOrders.
func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (*storefront.Order, error) {
	_, span := tracer.Start(ctx, "GetOrderDetails")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return nil, storefront.ErrNotAuthenticated
	}
	return nil, nil
}

func isBlocked(err error) bool {
	return errors.Is(err, storefront.ErrBlocked)
}

var _ storefront.Client = (*Client)(nil)
