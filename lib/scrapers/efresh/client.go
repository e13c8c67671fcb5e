// Package efresh scrapes e-fresh.gr. The site is a Vue SPA backed by an
// undocumented JSON API under /api, so most operations try the JSON
// endpoint first and fall back to digging the same payload out of the
// rendered HTML.
package efresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"time"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"
	"greekcart-backend/lib/telemetry"
	"greekcart-backend/lib/webcache"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/efresh")

const defaultBaseURL = "https://www.e-fresh.gr"

type Client struct {
	baseURL  *url.URL
	http     *resty.Client
	auth     *session.Manager
	language string
	cache    *webcache.Cache

	activeStatuses []string
}

type ClientOptions struct {
	// BaseURL defaults to the production site; tests point it elsewhere.
	BaseURL string
	// Language is the site locale segment, "el" or "en".
	Language string
	Auth     *session.Manager
	// Cache, when set, holds search responses for a short TTL.
	Cache *webcache.Cache
	// ActiveStatuses overrides storefront.ActiveOrderStatuses.
	ActiveStatuses []string
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("efresh: session manager is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	language := opts.Language
	if language == "" {
		language = "el"
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
	client.SetHeader("accept-language", acceptLanguage(language))
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/efresh/http")

	return &Client{
		baseURL:        baseURL,
		http:           client,
		auth:           opts.Auth,
		language:       language,
		cache:          opts.Cache,
		activeStatuses: opts.ActiveStatuses,
	}, nil
}

func acceptLanguage(language string) string {
	return fmt.Sprintf("%s,en-US;q=0.9,en;q=0.8", language)
}

// SetLanguage switches the interface locale used for path prefixes and
// the Accept-Language header.
func (c *Client) SetLanguage(language string) {
	c.language = language
	c.http.SetHeader("accept-language", acceptLanguage(language))
}

func (c *Client) localized(path string) string {
	return fmt.Sprintf("/%s%s", c.language, path)
}

// refreshSession replaces the cookie jar with the session's cookie set.
// Each public operation starts from the persisted session rather than
// whatever the previous operation left in the jar.
func (c *Client) refreshSession() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	jar.SetCookies(c.baseURL, c.auth.HTTPCookies())
	c.http.SetCookieJar(jar)
}

// persistSession folds any Set-Cookie results from the jar back into the
// session file.
func (c *Client) persistSession() {
	jar := c.http.GetClient().Jar
	if jar == nil {
		return
	}
	c.auth.Merge(jar.Cookies(c.baseURL))
}

var (
	csrfMetaPattern  = regexp.MustCompile(`<meta\s+name=["']csrf-token["']\s+content=["']([^"']+)["']`)
	csrfInputPattern = regexp.MustCompile(`name=["']csrf_token["'] value=["']([^"']+)["']`)
	csrfJSPattern    = regexp.MustCompile(`["']csrf_token["']:\s*["']([^"']+)["']`)
)

// extractCSRFToken tries the known places the site hides its token: a
// meta tag, a form input, and a JS settings object.
func extractCSRFToken(html string) string {
	for _, pattern := range []*regexp.Regexp{csrfMetaPattern, csrfInputPattern, csrfJSPattern} {
		if match := pattern.FindStringSubmatch(html); match != nil {
			return match[1]
		}
	}
	return ""
}

// decodeEnvelope unmarshals the standard API envelope from the raw
// response body. The API is inconsistent about the Content-Type header,
// so resty's auto-unmarshal cannot be relied on.
func decodeEnvelope(res *resty.Response) (apiEnvelope, error) {
	var envelope apiEnvelope
	if err := json.Unmarshal(res.Body(), &envelope); err != nil {
		return apiEnvelope{}, err
	}
	return envelope, nil
}

// xsrfCookie returns the URL-decoded XSRF-TOKEN cookie, which the API
// expects echoed in the X-XSRF-TOKEN header.
func (c *Client) xsrfCookie() string {
	jar := c.http.GetClient().Jar
	if jar == nil {
		return ""
	}
	for _, cookie := range jar.Cookies(c.baseURL) {
		if cookie.Name == "XSRF-TOKEN" {
			decoded, err := url.QueryUnescape(cookie.Value)
			if err != nil {
				return cookie.Value
			}
			return decoded
		}
	}
	return ""
}

// Login performs the SPA login flow: fetch the login page for tokens and
// session cookies, post credentials to the JSON endpoint, then verify
// with an authenticated-only probe. Returns false on rejected
// credentials or failed verification.
func (c *Client) Login(ctx context.Context, creds storefront.Credentials) (bool, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	c.refreshSession()

	loginPage := c.localized("/account/login")
	res, err := c.http.R().
		SetContext(ctx).
		Get(loginPage)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return false, err
	}

	csrfToken := extractCSRFToken(res.String())
	xsrfToken := c.xsrfCookie()

	res, err = c.http.R().
		SetContext(ctx).
		SetHeader("accept", "application/json, text/plain, */*").
		SetHeader("content-type", "application/json").
		SetHeader("x-csrf-token", csrfToken).
		SetHeader("x-xsrf-token", xsrfToken).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("referer", c.baseURL.String()+loginPage).
		SetHeader("origin", c.baseURL.String()).
		SetBody(map[string]any{
			"email":         creds.Email,
			"password":      creds.Password,
			"remember":      true,
			"os":            "web",
			"lang":          c.language,
			"screen_width":  1920,
			"screen_height": 1080,
		}).
		Post("/api/account/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to post login")
		return false, err
	}
	envelope, err := decodeEnvelope(res)
	if res.StatusCode() != 200 || err != nil || !envelope.Status {
		span.SetStatus(codes.Error, "credentials rejected")
		return false, nil
	}

	// The login endpoint answers 200 even for some stale sessions, so
	// confirm with an endpoint that only works logged in.
	res, err = c.http.R().
		SetContext(ctx).
		SetHeader("accept", "application/json, text/plain, */*").
		Get("/api/address/view")
	if err != nil {
		span.SetStatus(codes.Error, "verification probe failed")
		return false, err
	}
	verify, err := decodeEnvelope(res)
	if res.StatusCode() != 200 || err != nil || !verify.Status {
		span.SetStatus(codes.Error, "verification reported logged out")
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
		_, err := c.http.R().
			SetContext(ctx).
			Get(c.localized("/account/logout"))
		if err != nil {
			span.RecordError(err)
		}
	}

	c.auth.Clear()
	if jar, err := cookiejar.New(nil); err == nil {
		c.http.SetCookieJar(jar)
	}
	return nil
}

var _ storefront.Client = (*Client)(nil)
