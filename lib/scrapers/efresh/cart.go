package efresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"greekcart-backend/lib/storefront"
)

var embeddedCartPattern = regexp.MustCompile(`cart["']?\s*:\s*(\{)`)

// submitCartQuantity posts the desired line quantity for a product. The
// add endpoint has set semantics on this site, so both adding and
// updating go through it.
func (c *Client) submitCartQuantity(ctx context.Context, productID string, quantity int) error {
	_, err := storefront.First(ctx, "efresh.cart_set", []storefront.Attempt[bool]{
		{Name: "api", Run: func(ctx context.Context) (bool, error) {
			res, err := c.http.R().
				SetContext(ctx).
				SetHeader("content-type", "application/json").
				SetBody(map[string]any{"product_id": productID, "quantity": quantity}).
				Post("/api/cart/add")
			if err != nil {
				return false, err
			}
			if res.StatusCode() != 200 && res.StatusCode() != 201 {
				return false, fmt.Errorf("cart add endpoint returned %d", res.StatusCode())
			}
			return true, nil
		}},
		{Name: "form", Run: func(ctx context.Context) (bool, error) {
			res, err := c.http.R().
				SetContext(ctx).
				SetFormData(map[string]string{
					"product_id": productID,
					"quantity":   fmt.Sprint(quantity),
				}).
				Post(c.localized("/cart/add"))
			if err != nil {
				return false, err
			}
			switch res.StatusCode() {
			case 200, 201, 302:
				return true, nil
			}
			return false, fmt.Errorf("cart add form returned %d", res.StatusCode())
		}},
	})
	return err
}

// AddToCart sets the product's line quantity and confirms the change by
// re-fetching the cart. A 200 from the cart endpoint is not trusted on
// its own; the site happily acknowledges writes it then drops.
func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := tracer.Start(ctx, "AddToCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.submitCartQuantity(ctx, productID, quantity)
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return false, err
		}
		slog.WarnContext(ctx, "add to cart failed",
			"scraper", "efresh", "product_id", productID, "err", err)
		return false, nil
	}

	cart, err := c.GetCart(ctx)
	if err != nil {
		return false, err
	}
	if !cart.Contains(productID) {
		slog.WarnContext(ctx, "cart write acknowledged but product missing on re-fetch",
			"scraper", "efresh", "product_id", productID)
		return false, nil
	}
	return true, nil
}

// UpdateCartQuantity sets the absolute line quantity and verifies the
// cart reflects it. Quantity zero removes the line.
func (c *Client) UpdateCartQuantity(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := tracer.Start(ctx, "UpdateCartQuantity")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	err := c.submitCartQuantity(ctx, productID, quantity)
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return false, err
		}
		slog.WarnContext(ctx, "cart quantity update failed",
			"scraper", "efresh", "product_id", productID, "err", err)
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
			"scraper", "efresh", "product_id", productID,
			"want", quantity, "got", got)
		return false, nil
	}
	return true, nil
}

// RemoveFromCart drops the line item. The remove endpoints report success
// reliably, so no verification fetch is made here.
func (c *Client) RemoveFromCart(ctx context.Context, productID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "RemoveFromCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return false, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	_, err := storefront.First(ctx, "efresh.cart_remove", []storefront.Attempt[bool]{
		{Name: "api", Run: func(ctx context.Context) (bool, error) {
			res, err := c.http.R().
				SetContext(ctx).
				SetHeader("content-type", "application/json").
				SetBody(map[string]any{"product_id": productID}).
				Post("/api/cart/remove")
			if err != nil {
				return false, err
			}
			if res.StatusCode() != 200 && res.StatusCode() != 204 {
				return false, fmt.Errorf("cart remove endpoint returned %d", res.StatusCode())
			}
			return true, nil
		}},
		{Name: "form", Run: func(ctx context.Context) (bool, error) {
			res, err := c.http.R().
				SetContext(ctx).
				SetFormData(map[string]string{"product_id": productID}).
				Post(c.localized("/cart/remove"))
			if err != nil {
				return false, err
			}
			switch res.StatusCode() {
			case 200, 204, 302:
				return true, nil
			}
			return false, fmt.Errorf("cart remove form returned %d", res.StatusCode())
		}},
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return false, err
		}
		slog.WarnContext(ctx, "remove from cart failed",
			"scraper", "efresh", "product_id", productID, "err", err)
		return false, nil
	}
	return true, nil
}

// GetCart fetches the live cart. A parse miss yields an empty cart, not
// an error; only anti-bot blocking is surfaced so callers do not mistake
// a challenge page for an empty basket.
func (c *Client) GetCart(ctx context.Context) (storefront.Cart, error) {
	ctx, span := tracer.Start(ctx, "GetCart")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return storefront.Cart{}, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	cart, err := storefront.First(ctx, "efresh.get_cart", []storefront.Attempt[storefront.Cart]{
		{Name: "api", Run: c.cartViaAPI},
		{Name: "embedded html", Run: c.cartViaHTML},
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return storefront.Cart{}, err
		}
		slog.WarnContext(ctx, "cart fetch failed on all strategies",
			"scraper", "efresh", "err", err)
		return storefront.Cart{}, nil
	}
	return cart, nil
}

func (c *Client) cartViaAPI(ctx context.Context) (storefront.Cart, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("accept", "application/json, text/plain, */*").
		Get("/api/cart")
	if err != nil {
		return storefront.Cart{}, err
	}
	if res.StatusCode() != 200 {
		return storefront.Cart{}, fmt.Errorf("cart endpoint returned %d", res.StatusCode())
	}
	envelope, err := decodeEnvelope(res)
	if err != nil {
		return storefront.Cart{}, err
	}
	if len(envelope.Data) == 0 {
		return storefront.Cart{}, fmt.Errorf("cart endpoint returned no data")
	}
	return parseCart(envelope.Data), nil
}

func (c *Client) cartViaHTML(ctx context.Context) (storefront.Cart, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(c.localized("/cart"))
	if err != nil {
		return storefront.Cart{}, err
	}
	if res.StatusCode() != 200 {
		return storefront.Cart{}, fmt.Errorf("cart page returned %d", res.StatusCode())
	}
	value, ok := extractEmbeddedJSON(res.Body(), embeddedCartPattern)
	if !ok {
		return storefront.Cart{}, fmt.Errorf("no embedded cart data in cart page")
	}
	return parseCart(value), nil
}
