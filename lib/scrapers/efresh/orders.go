package efresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"greekcart-backend/lib/storefront"
)

// maxOrderPages caps pagination in case the API never reports a short
// page.
const maxOrderPages = 50

var embeddedOrdersPattern = regexp.MustCompile(`orders["']?\s*:\s*(\[)`)

func (c *Client) orderRequestBody(extra map[string]any) map[string]any {
	body := map[string]any{
		"os":            "web",
		"lang":          c.language,
		"screen_width":  1920,
		"screen_height": 1080,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// GetOrders lists the account's orders, newest first as the site returns
// them. Paginates the JSON endpoint until a short page, falling back to
// the embedded payload on the account page.
func (c *Client) GetOrders(ctx context.Context, query storefront.OrderQuery) ([]storefront.Order, error) {
	ctx, span := tracer.Start(ctx, "GetOrders")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return nil, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	orders, err := storefront.First(ctx, "efresh.get_orders", []storefront.Attempt[[]storefront.Order]{
		{Name: "api paginated", Run: c.ordersViaAPI},
		{Name: "embedded html", Run: c.ordersViaHTML},
	})
	c.persistSession()
	if err != nil {
		if errors.Is(err, storefront.ErrBlocked) {
			return nil, err
		}
		slog.WarnContext(ctx, "orders fetch failed on all strategies",
			"scraper", "efresh", "err", err)
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
					"scraper", "efresh", "order_id", orders[i].ID, "err", err)
				continue
			}
			orders[i].Items = details.Items
		}
	}

	return orders, nil
}

func (c *Client) ordersViaAPI(ctx context.Context) ([]storefront.Order, error) {
	var all []storefront.Order

	for page := 1; page <= maxOrderPages; page++ {
		res, err := c.http.R().
			SetContext(ctx).
			SetHeader("content-type", "application/json").
			SetHeader("accept", "application/json").
			SetBody(c.orderRequestBody(map[string]any{"page": page})).
			Post("/api/account/orders")
		if err != nil {
			if page == 1 {
				return nil, err
			}
			break
		}
		if res.StatusCode() != 200 {
			if page == 1 {
				return nil, fmt.Errorf("orders endpoint returned %d", res.StatusCode())
			}
			break
		}
		envelope, err := decodeEnvelope(res)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			break
		}

		var data orderPage
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			if page == 1 {
				return nil, err
			}
			break
		}

		orders := parseOrders(data.Orders.Data)
		if len(orders) == 0 {
			break
		}
		all = append(all, orders...)

		perPage := int(data.Orders.PerPage)
		if perPage == 0 {
			perPage = 10
		}
		if len(orders) < perPage {
			break
		}
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("orders endpoint returned no orders")
	}
	return all, nil
}

func (c *Client) ordersViaHTML(ctx context.Context) ([]storefront.Order, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(c.localized("/account/orders"))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("orders page returned %d", res.StatusCode())
	}
	value, ok := extractEmbeddedJSON(res.Body(), embeddedOrdersPattern)
	if !ok {
		return nil, fmt.Errorf("no embedded order data in orders page")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(value, &raw); err != nil {
		return nil, err
	}
	return parseOrders(raw), nil
}

// GetOrderDetails fetches one order with its line items. Returns nil, nil
// when the site does not recognize the id.
func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (*storefront.Order, error) {
	ctx, span := tracer.Start(ctx, "GetOrderDetails")
	defer span.End()

	if !c.auth.IsAuthenticated() {
		return nil, storefront.ErrNotAuthenticated
	}
	c.refreshSession()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetHeader("accept", "application/json").
		SetBody(c.orderRequestBody(map[string]any{"id": orderID})).
		Post("/api/account/order")
	c.persistSession()
	if err != nil {
		slog.WarnContext(ctx, "order details fetch failed",
			"scraper", "efresh", "order_id", orderID, "err", err)
		return nil, nil
	}
	envelope, err := decodeEnvelope(res)
	if res.StatusCode() != 200 || err != nil || !envelope.Status {
		return nil, nil
	}

	var data struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil || len(data.Order) == 0 {
		return nil, nil
	}

	var payload orderPayload
	if err := json.Unmarshal(data.Order, &payload); err != nil {
		slog.WarnContext(ctx, "unparseable order details",
			"scraper", "efresh", "order_id", orderID, "err", err)
		return nil, nil
	}
	order := payload.toOrder()
	return &order, nil
}
