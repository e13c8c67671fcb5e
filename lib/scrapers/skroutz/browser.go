package skroutz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/mazen160/go-random"
)

const browserPageTimeout = 45 * time.Second

// renderPage loads a path in a headless browser carrying the saved
// session cookies and returns the rendered HTML. The browser executes
// the challenge scripts plain HTTP cannot; whatever clearance cookies
// it earns are merged back into the session so later HTTP requests
// ride on them.
func (c *Client) renderPage(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, browserPageTimeout)
	defer cancel()

	browser := rod.New().Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	defer browser.Close()

	var params []*proto.NetworkCookieParam
	for _, cookie := range c.auth.HTTPCookies() {
		params = append(params, &proto.NetworkCookieParam{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: c.baseURL.Hostname(),
			Path:   "/",
		})
	}
	if len(params) > 0 {
		if err := browser.SetCookies(params); err != nil {
			return "", fmt.Errorf("failed to inject cookies: %w", err)
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: c.baseURL.String() + path})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	// A fixed headless viewport is itself a fingerprint.
	width, err := random.IntRange(1280, 1920)
	if err != nil {
		width = 1366
	}
	height, err := random.IntRange(800, 1080)
	if err != nil {
		height = 900
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  width,
		Height: height,
	}); err != nil {
		slog.WarnContext(ctx, "failed to set viewport", "scraper", "skroutz", "err", err)
	}

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page never finished loading: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read rendered html: %w", err)
	}
	if isChallengeBody(html) {
		return "", fmt.Errorf("challenge survived browser rendering")
	}

	c.harvestBrowserCookies(browser)
	return html, nil
}

// harvestBrowserCookies merges the browser's cookie state (clearance
// cookies included) into the saved session.
func (c *Client) harvestBrowserCookies(browser *rod.Browser) {
	cookies, err := browser.GetCookies()
	if err != nil {
		slog.Warn("failed to read browser cookies", "scraper", "skroutz", "err", err)
		return
	}

	merged := make([]*http.Cookie, 0, len(cookies))
	for _, cookie := range cookies {
		merged = append(merged, &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	c.auth.Merge(merged)
}
