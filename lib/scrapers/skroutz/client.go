// Package skroutz scrapes skroutz.gr. Unlike the grocery targets this is
// a Rails marketplace behind aggressive Cloudflare scoring: every
// operation must distinguish "the site said no" from "the anti-bot layer
// said no", and the reads that matter most (search, cart) carry a
// headless-browser strategy for when plain HTTP is challenged.
package skroutz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"
	"greekcart-backend/lib/webcache"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/skroutz")

const defaultBaseURL = "https://www.skroutz.gr"

type Client struct {
	baseURL *url.URL
	http    *resty.Client
	auth    *session.Manager
	cache   *webcache.Cache

	useBrowser     bool
	activeStatuses []string
}

type ClientOptions struct {
	// BaseURL defaults to the production site; tests point it elsewhere.
	BaseURL string
	Auth    *session.Manager
	// Cache, when set, holds search pages for a short TTL.
	Cache *webcache.Cache
	// UseBrowser enables the headless-browser fallback for search and
	// cart reads when the HTTP client is challenged. Requires a local
	// Chromium.
	UseBrowser bool
	// ActiveStatuses overrides storefront.ActiveOrderStatuses.
	ActiveStatuses []string
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("skroutz: session manager is required")
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

	client.SetHeader("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	client.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("accept-language", "el-GR,el;q=0.9,en-US;q=0.8,en;q=0.7")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/skroutz/http")

	return &Client{
		baseURL:        baseURL,
		http:           client,
		auth:           opts.Auth,
		cache:          opts.Cache,
		useBrowser:     opts.UseBrowser,
		activeStatuses: opts.ActiveStatuses,
	}, nil
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

// checkBlocked classifies a response as anti-bot rejection. 403s and
// challenge interstitials both count.
func checkBlocked(res *resty.Response) error {
	if res.StatusCode() == 403 {
		if strings.Contains(strings.ToLower(res.String()), "cloudflare") {
			return storefront.Blocked("cloudflare 403")
		}
		return storefront.Blocked("403 forbidden")
	}
	if isChallengeBody(res.String()) {
		return storefront.Blocked("challenge interstitial")
	}
	return nil
}

// Login submits the Rails login form and verifies by two signals: the
// redirect landed away from /login, and the account page shows a logout
// affordance.
func (c *Client) Login(ctx context.Context, creds storefront.Credentials) (bool, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	c.refreshSession()

	res, err := c.http.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return false, err
	}
	if err := checkBlocked(res); err != nil {
		span.SetStatus(codes.Error, "login page blocked")
		return false, err
	}

	form := map[string]string{
		"username":    creds.Email,
		"password":    creds.Password,
		"remember_me": "1",
	}
	if token := extractCSRFToken(res.String()); token != "" {
		form["authenticity_token"] = token
	}

	res, err = c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetHeader("referer", c.baseURL.String()+"/login").
		SetHeader("origin", c.baseURL.String()).
		SetFormData(form).
		Post("/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to post login form")
		return false, err
	}
	if err := checkBlocked(res); err != nil {
		span.SetStatus(codes.Error, "login post blocked")
		return false, err
	}

	// A rejected login bounces back to /login.
	finalURL := res.RawResponse.Request.URL
	if res.StatusCode() != 200 && res.StatusCode() != 302 {
		span.SetStatus(codes.Error, "login form rejected")
		return false, nil
	}
	if strings.Contains(finalURL.Path, "/login") {
		span.SetStatus(codes.Error, "bounced back to login page")
		return false, nil
	}

	res, err = c.http.R().
		SetContext(ctx).
		Get("/account")
	if err != nil {
		span.SetStatus(codes.Error, "verification probe failed")
		return false, err
	}
	body := strings.ToLower(res.String())
	if res.StatusCode() != 200 || (!strings.Contains(body, "logout") && !strings.Contains(body, "account")) {
		span.SetStatus(codes.Error, "account page shows no logged-in marker")
		return false, nil
	}

	cookies := map[string]string{}
	for _, cookie := range c.http.GetClient().Jar.Cookies(c.baseURL) {
		cookies[cookie.Name] = cookie.Value
	}
	c.auth.Save(cookies, creds.Email)
	return true, nil
}

// Logout calls the site's logout endpoint best-effort and always clears
// the local session.
func (c *Client) Logout(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	if c.auth.IsAuthenticated() {
		c.refreshSession()
		if _, err := c.http.R().SetContext(ctx).Get("/logout"); err != nil {
			span.RecordError(err)
		}
	}

	c.auth.Clear()
	if jar, err := cookiejar.New(nil); err == nil {
		c.http.SetCookieJar(jar)
	}
	return nil
}

const searchCacheLifetime = 15 * time.Minute

// SearchProducts scrapes the search results page. Blocking degrades to
// an empty result here (after the optional browser fallback): a search
// that cannot run is indistinguishable from one with no matches, and
// the caller can still act on that.
func (c *Client) SearchProducts(ctx context.Context, query storefront.SearchQuery) ([]storefront.Product, error) {
	ctx, span := tracer.Start(ctx, "SearchProducts")
	defer span.End()

	if query.Empty() {
		return nil, storefront.ErrMissingQuery
	}
	c.refreshSession()
	term := query.Term()

	cacheKey := "skroutz:search:" + term
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil {
			if products, err := c.parseSearchBody(string(cached)); err == nil {
				storefront.RankByRelevance(products, query.Query)
				return products, nil
			}
		}
	}

	html, err := c.fetchSearchPage(ctx, term)
	c.persistSession()
	if errors.Is(err, storefront.ErrBlocked) && c.useBrowser {
		slog.WarnContext(ctx, "search blocked, retrying via browser",
			"scraper", "skroutz", "term", term)
		html, err = c.renderPage(ctx, "/search?keyphrase="+url.QueryEscape(term))
	}
	if err != nil {
		slog.WarnContext(ctx, "search failed",
			"scraper", "skroutz", "term", term, "err", err)
		return []storefront.Product{}, nil
	}

	products, err := c.parseSearchBody(html)
	if err != nil {
		slog.WarnContext(ctx, "unparseable search page",
			"scraper", "skroutz", "err", err)
		return []storefront.Product{}, nil
	}

	if c.cache != nil && len(products) > 0 {
		if err := c.cache.Set(ctx, cacheKey, []byte(html), searchCacheLifetime); err != nil {
			slog.WarnContext(ctx, "failed to cache search page",
				"scraper", "skroutz", "err", err)
		}
	}

	storefront.RankByRelevance(products, query.Query)
	return products, nil
}

func (c *Client) fetchSearchPage(ctx context.Context, term string) (string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("keyphrase", term).
		Get("/search")
	if err != nil {
		return "", err
	}
	if err := checkBlocked(res); err != nil {
		return "", err
	}
	if res.StatusCode() != 200 {
		return "", fmt.Errorf("search page returned %d", res.StatusCode())
	}
	return res.String(), nil
}

func (c *Client) parseSearchBody(html string) ([]storefront.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return parseSearchProducts(doc, c.baseURL.String()), nil
}

// mutateCart posts a cart form. Blocking is always surfaced for
// mutations; a silent false would read as "out of stock".
func (c *Client) mutateCart(ctx context.Context, path string, form map[string]string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	if err != nil {
		return err
	}
	if err := checkBlocked(res); err != nil {
		return err
	}
	switch res.StatusCode() {
	case 200, 201, 204, 302:
		return nil
	}
	return fmt.Errorf("%s returned %d", path, res.StatusCode())
}

func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := tracer.Start(ctx, "AddToCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.mutateCart(ctx, "/cart/add", map[string]string{
		"product_id": productID,
		"quantity":   strconv.Itoa(quantity),
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return false, err
		}
		slog.WarnContext(ctx, "add to cart failed",
			"scraper", "skroutz", "product_id", productID, "err", err)
		return false, nil
	}

	cart, err := c.GetCart(ctx)
	if err != nil {
		return false, err
	}
	if !cart.Contains(productID) {
		slog.WarnContext(ctx, "cart write acknowledged but product missing on re-fetch",
			"scraper", "skroutz", "product_id", productID)
		return false, nil
	}
	return true, nil
}

func (c *Client) RemoveFromCart(ctx context.Context, productID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "RemoveFromCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.mutateCart(ctx, "/cart/remove", map[string]string{
		"product_id": productID,
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return false, err
		}
		slog.WarnContext(ctx, "remove from cart failed",
			"scraper", "skroutz", "product_id", productID, "err", err)
		return false, nil
	}
	return true, nil
}

// UpdateCartQuantity posts the absolute quantity to the update endpoint
// and verifies the cart reflects it.
func (c *Client) UpdateCartQuantity(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := tracer.Start(ctx, "UpdateCartQuantity")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.mutateCart(ctx, "/cart/update", map[string]string{
		"product_id": productID,
		"quantity":   strconv.Itoa(quantity),
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return false, err
		}
		slog.WarnContext(ctx, "cart quantity update failed",
			"scraper", "skroutz", "product_id", productID, "err", err)
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
			"scraper", "skroutz", "product_id", productID,
			"want", quantity, "got", got)
		return false, nil
	}
	return true, nil
}

// GetCart scrapes the rendered cart page. Blocking is surfaced (after
// the optional browser fallback): an empty cart answer under a
// challenge would mislead the caller into re-adding everything.
func (c *Client) GetCart(ctx context.Context) (storefront.Cart, error) {
	ctx, span := tracer.Start(ctx, "GetCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return storefront.Cart{}, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	html, err := c.fetchCartPage(ctx)
	c.persistSession()
	if errors.Is(err, storefront.ErrBlocked) && c.useBrowser {
		slog.WarnContext(ctx, "cart blocked, retrying via browser", "scraper", "skroutz")
		html, err = c.renderPage(ctx, "/cart")
	}
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			span.SetStatus(codes.Error, "blocked")
			return storefront.Cart{}, err
		}
		slog.WarnContext(ctx, "cart fetch failed", "scraper", "skroutz", "err", err)
		return storefront.Cart{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		slog.WarnContext(ctx, "unparseable cart page", "scraper", "skroutz", "err", err)
		return storefront.Cart{}, nil
	}
	return parseCartHTML(doc), nil
}

func (c *Client) fetchCartPage(ctx context.Context) (string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/cart")
	if err != nil {
		return "", err
	}
	if err := checkBlocked(res); err != nil {
		return "", err
	}
	if res.StatusCode() != 200 {
		return "", fmt.Errorf("cart page returned %d", res.StatusCode())
	}
	return res.String(), nil
}

// orderJSONEndpoints are probed in order before the HTML page; the JSON
// routes are less aggressively scored by the anti-bot layer.
var orderJSONEndpoints = []string{
	"/account/orders.json",
	"/api/orders",
	"/ecommerce/api/v1/orders",
}

// GetOrders lists the account's orders: JSON endpoints first, then the
// orders page fetched with AJAX headers. Blocking is surfaced.
func (c *Client) GetOrders(ctx context.Context, query storefront.OrderQuery) ([]storefront.Order, error) {
	ctx, span := tracer.Start(ctx, "GetOrders")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return nil, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	orders, err := storefront.First(ctx, "skroutz.get_orders", []storefront.Attempt[[]storefront.Order]{
		{Name: "json endpoints", Run: c.ordersViaJSON},
		{Name: "ajax html", Run: c.ordersViaHTML},
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			span.SetStatus(codes.Error, "blocked")
			return nil, err
		}
		slog.WarnContext(ctx, "orders fetch failed on all strategies",
			"scraper", "skroutz", "err", err)
		return []storefront.Order{}, nil
	}

	if !query.IncludeHistory {
		active := orders[:0]
		for _, o := range orders {
			if storefront.IsActiveStatus(o.Status, c.activeStatuses) {
				active = append(active, o)
			}
		}
		orders = active
	}

	if query.IncludeItems {
		for i := range orders {
			if len(orders[i].Items) > 0 {
				continue
			}
			details, err := c.GetOrderDetails(ctx, orders[i].ID)
			if err != nil || details == nil {
				slog.WarnContext(ctx, "failed to fetch order items",
					"scraper", "skroutz", "order_id", orders[i].ID, "err", err)
				continue
			}
			orders[i].Items = details.Items
		}
	}

	return orders, nil
}

func (c *Client) ajaxRequest(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("referer", c.baseURL.String()+"/account/orders")
}

func (c *Client) ordersViaJSON(ctx context.Context) ([]storefront.Order, error) {
	for _, endpoint := range orderJSONEndpoints {
		res, err := c.ajaxRequest(ctx).
			SetHeader("accept", "application/json").
			Get(endpoint)
		if err != nil {
			continue
		}
		if err := checkBlocked(res); err != nil {
			return nil, err
		}
		if res.StatusCode() != 200 {
			continue
		}
		if orders := parseOrdersJSON(res.Body()); len(orders) > 0 {
			return orders, nil
		}
	}
	return nil, fmt.Errorf("no json endpoint answered with orders")
}

func (c *Client) ordersViaHTML(ctx context.Context) ([]storefront.Order, error) {
	res, err := c.ajaxRequest(ctx).Get("/account/orders")
	if err != nil {
		return nil, err
	}
	if err := checkBlocked(res); err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("orders page returned %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		return nil, err
	}
	return parseOrdersHTML(doc), nil
}

// GetOrderDetails scrapes a single order page. Returns nil, nil when the
// site does not recognize the id.
func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (*storefront.Order, error) {
	ctx, span := tracer.Start(ctx, "GetOrderDetails")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return nil, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	res, err := c.ajaxRequest(ctx).Get("/account/orders/" + url.PathEscape(orderID))
	c.persistSession()
	if err != nil {
		slog.WarnContext(ctx, "order details fetch failed",
			"scraper", "skroutz", "order_id", orderID, "err", err)
		return nil, nil
	}
	if err := checkBlocked(res); err != nil {
		span.SetStatus(codes.Error, "blocked")
		return nil, err
	}
	if res.StatusCode() == 404 {
		return nil, nil
	}
	if res.StatusCode() != 200 {
		slog.WarnContext(ctx, "order details returned unexpected status",
			"scraper", "skroutz", "order_id", orderID, "status", res.StatusCode())
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		return nil, nil
	}
	return parseOrderDetailsHTML(doc, orderID), nil
}

var _ storefront.Client = (*Client)(nil)
