package efresh

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"greekcart-backend/lib/storefront"
)

const searchCacheLifetime = 15 * time.Minute

var embeddedProductsPattern = regexp.MustCompile(`products["']?\s*:\s*(\[)`)

// SearchProducts queries the catalog by free text or EAN. The JSON list
// endpoint is tried first; when it misbehaves the same payload is dug out
// of the rendered search page. Searching works logged out, but cookies
// are attached so a logged-in session sees its own pricing.
func (c *Client) SearchProducts(ctx context.Context, query storefront.SearchQuery) ([]storefront.Product, error) {
	ctx, span := tracer.Start(ctx, "SearchProducts")
	defer span.End()

	if query.Empty() {
		return nil, storefront.ErrMissingQuery
	}

	c.refreshSession()
	term := query.Term()

	products, err := storefront.First(ctx, "efresh.search", []storefront.Attempt[[]storefront.Product]{
		{Name: "api list", Run: func(ctx context.Context) ([]storefront.Product, error) {
			return c.searchViaAPI(ctx, term)
		}},
		{Name: "embedded html", Run: func(ctx context.Context) ([]storefront.Product, error) {
			return c.searchViaHTML(ctx, term)
		}},
	})
	c.persistSession()
	if err != nil {
		slog.WarnContext(ctx, "search failed on all strategies",
			"scraper", "efresh", "term", term, "err", err)
		return []storefront.Product{}, nil
	}

	if query.EAN != "" {
		filtered := make([]storefront.Product, 0, len(products))
		for _, p := range products {
			if p.EAN == query.EAN {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}

	storefront.RankByRelevance(products, query.Query)
	return products, nil
}

func (c *Client) searchCacheKey(term string) string {
	return fmt.Sprintf("efresh:search:%s:%s", c.language, term)
}

func (c *Client) searchViaAPI(ctx context.Context, term string) ([]storefront.Product, error) {
	var body []byte
	fromCache := false
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, c.searchCacheKey(term)); err == nil {
			body = cached
			fromCache = true
		}
	}

	if body == nil {
		res, err := c.http.R().
			SetContext(ctx).
			SetHeader("accept", "application/json, text/plain, */*").
			SetQueryParams(map[string]string{"q": term, "page": "1"}).
			Get("/api/list")
		if err != nil {
			return nil, err
		}
		if res.StatusCode() != 200 {
			return nil, fmt.Errorf("list endpoint returned %d", res.StatusCode())
		}
		body = res.Body()
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if !envelope.Status {
		return nil, fmt.Errorf("list endpoint reported failure: %s", envelope.Message)
	}

	var data searchData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, err
	}

	if c.cache != nil && !fromCache {
		if err := c.cache.Set(ctx, c.searchCacheKey(term), body, searchCacheLifetime); err != nil {
			slog.WarnContext(ctx, "failed to cache search response",
				"scraper", "efresh", "err", err)
		}
	}
	return parseProducts(data.Products.Data), nil
}

func (c *Client) searchViaHTML(ctx context.Context, term string) ([]storefront.Product, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", term).
		Get(c.localized("/search"))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("search page returned %d", res.StatusCode())
	}

	value, ok := extractEmbeddedJSON(res.Body(), embeddedProductsPattern)
	if !ok {
		return nil, fmt.Errorf("no embedded product data in search page")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(value, &raw); err != nil {
		return nil, err
	}
	return parseProducts(raw), nil
}
