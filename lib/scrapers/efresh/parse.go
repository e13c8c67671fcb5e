package efresh

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"greekcart-backend/lib/storefront"

	"github.com/shopspring/decimal"
)

// extractEmbeddedJSON finds the JSON value following pattern in a rendered
// page. The pattern's first capture group must mark the value's opening
// bracket; the decoder then consumes one complete value, so nested
// objects survive where a lazy regex would truncate them.
func extractEmbeddedJSON(body []byte, pattern *regexp.Regexp) (json.RawMessage, bool) {
	loc := pattern.FindSubmatchIndex(body)
	if loc == nil || len(loc) < 4 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body[loc[2]:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

// apiEnvelope is the shape every /api response shares.
type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// flexString tolerates numeric JSON where a string is expected. The API
// is inconsistent about ids and barcodes.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	*s = flexString(b)
	return nil
}

// flexDecimal accepts both "12.34" and 12.34.
type flexDecimal struct {
	decimal.Decimal
}

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	trimmed := strings.Trim(string(b), `"`)
	if trimmed == "" || trimmed == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(trimmed)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

// flexInt accepts both 3 and "3".
type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	trimmed := strings.Trim(string(b), `"`)
	if trimmed == "" || trimmed == "null" {
		*i = 0
		return nil
	}
	var v int
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return err
	}
	*i = flexInt(v)
	return nil
}

type productAttr struct {
	Title string `json:"title"`
}

type productImage struct {
	HasImage bool   `json:"has_image"`
	URL      string `json:"url"`
}

type productPayload struct {
	ID         flexString             `json:"id"`
	Kodikos    flexString             `json:"kodikos"`
	Title      string                 `json:"title"`
	Barcode    flexString             `json:"barcode"`
	Price      flexDecimal            `json:"price"`
	PriceOld   *flexDecimal           `json:"price_old"`
	InStock    *bool                  `json:"in_stock"`
	IsSaleable *bool                  `json:"is_saleable"`
	Attrs      map[string]productAttr `json:"attrs"`
	Image      *productImage          `json:"image"`
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func (p *productPayload) toProduct() storefront.Product {
	id := string(p.Kodikos)
	if id == "" {
		id = string(p.ID)
	}

	product := storefront.Product{
		ID:        id,
		Name:      p.Title,
		EAN:       string(p.Barcode),
		Price:     p.Price.Decimal,
		Available: boolOr(p.InStock, true) && boolOr(p.IsSaleable, true),
	}
	if p.PriceOld != nil && !p.PriceOld.IsZero() {
		product.OriginalPrice = p.PriceOld.Decimal
	}
	if attr, ok := p.Attrs["developer_id"]; ok {
		product.Maker = attr.Title
	}
	if attr, ok := p.Attrs["pkg_unit"]; ok {
		product.Unit = attr.Title
	}
	if p.Image != nil && p.Image.HasImage {
		product.ImageURL = p.Image.URL
	}
	return product
}

// parseProducts decodes each entry individually so one malformed product
// does not discard the rest of the page.
func parseProducts(raw []json.RawMessage) []storefront.Product {
	products := make([]storefront.Product, 0, len(raw))
	for _, entry := range raw {
		var payload productPayload
		if err := json.Unmarshal(entry, &payload); err != nil {
			slog.Warn("skipping unparseable product", "scraper", "efresh", "err", err)
			continue
		}
		products = append(products, payload.toProduct())
	}
	return products
}

type searchData struct {
	Products struct {
		Data []json.RawMessage `json:"data"`
	} `json:"products"`
}

type cartItemPayload struct {
	ID       flexString      `json:"id"`
	Name     string          `json:"name"`
	Price    flexDecimal     `json:"price"`
	Quantity flexInt         `json:"qty"`
	Total    flexDecimal     `json:"total"`
	Item     *productPayload `json:"item"`
}

type cartPayload struct {
	Items    []json.RawMessage `json:"items"`
	Total    flexDecimal       `json:"total"`
	TotalQty *flexInt          `json:"total_qty"`
}

type cartData struct {
	Cart *cartPayload `json:"cart"`
}

// parseCart accepts both the API wrapper {cart: {...}} and a bare cart
// object, as the embedded-HTML fallback yields the latter.
func parseCart(raw json.RawMessage) storefront.Cart {
	var wrapper cartData
	var payload cartPayload
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Cart != nil {
		payload = *wrapper.Cart
	} else if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("unparseable cart payload", "scraper", "efresh", "err", err)
		return storefront.Cart{}
	}

	cart := storefront.Cart{Total: payload.Total.Decimal}
	for _, entry := range payload.Items {
		var item cartItemPayload
		if err := json.Unmarshal(entry, &item); err != nil {
			slog.Warn("skipping unparseable cart item", "scraper", "efresh", "err", err)
			continue
		}

		product := storefront.Product{
			ID:        string(item.ID),
			Name:      item.Name,
			Price:     item.Price.Decimal,
			Available: true,
		}
		if item.Item != nil {
			detail := item.Item.toProduct()
			if product.ID == "" {
				product.ID = detail.ID
			}
			if product.Name == "" {
				product.Name = detail.Name
			}
			product.EAN = detail.EAN
			product.Maker = detail.Maker
			product.ImageURL = detail.ImageURL
			product.Available = boolOr(item.Item.InStock, true)
		}

		quantity := int(item.Quantity)
		if quantity == 0 {
			quantity = 1
		}
		cart.Items = append(cart.Items, storefront.CartItem{
			Product:  product,
			Quantity: quantity,
			Subtotal: item.Total.Decimal,
		})
	}

	if payload.TotalQty != nil {
		cart.ItemCount = int(*payload.TotalQty)
	} else {
		cart.ItemCount = len(cart.Items)
	}
	return cart
}

type orderItemPayload struct {
	Title       string      `json:"title"`
	ProductName string      `json:"product_name"`
	Name        string      `json:"name"`
	Quantity    *flexInt    `json:"quantity"`
	Qty         *flexInt    `json:"qty"`
	Price       flexDecimal `json:"price"`
	Subtotal    *flexDecimal `json:"subtotal"`
	Total       *flexDecimal `json:"total"`
}

type orderPayload struct {
	OrderID         flexString        `json:"order_id"`
	ID              flexString        `json:"id"`
	OrderNumber     flexString        `json:"order_number"`
	Status          string            `json:"status"`
	CreatedAt       string            `json:"created_at"`
	Total           *flexDecimal      `json:"total"`
	TotalAmount     *flexDecimal      `json:"total_amount"`
	Items           []json.RawMessage `json:"items"`
	OrderItems      []json.RawMessage `json:"order_items"`
	DeliveryAddress string            `json:"delivery_address"`
	DeliveryDate    string            `json:"delivery_date"`
}

type orderPage struct {
	Orders struct {
		Data    []json.RawMessage `json:"data"`
		PerPage flexInt           `json:"per_page"`
	} `json:"orders"`
}

var orderTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseOrderTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(strings.Replace(value, "Z", "+00:00", 1))
	for _, layout := range orderTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	// Some responses carry a timezone suffix the layouts above reject.
	if idx := strings.Index(value, "+"); idx > 0 {
		if t, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(value[:idx])); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (o *orderPayload) toOrder() storefront.Order {
	id := string(o.OrderID)
	if id == "" {
		id = string(o.ID)
	}
	number := string(o.OrderID)
	if number == "" {
		number = string(o.OrderNumber)
	}
	if number == "" {
		number = string(o.ID)
	}

	status := o.Status
	if status == "" {
		status = "unknown"
	}

	order := storefront.Order{
		ID:              id,
		OrderNumber:     number,
		Status:          status,
		DeliveryAddress: o.DeliveryAddress,
	}
	if t, ok := parseOrderTime(o.CreatedAt); ok {
		order.CreatedAt = t
	} else {
		order.CreatedAt = time.Now()
	}
	if o.DeliveryDate != "" {
		if t, ok := parseOrderTime(o.DeliveryDate); ok {
			order.DeliveryDate = &t
		}
	}
	if o.TotalAmount != nil {
		order.Total = o.TotalAmount.Decimal
	} else if o.Total != nil {
		order.Total = o.Total.Decimal
	}

	itemEntries := o.OrderItems
	if len(itemEntries) == 0 {
		itemEntries = o.Items
	}
	for _, entry := range itemEntries {
		var item orderItemPayload
		if err := json.Unmarshal(entry, &item); err != nil {
			slog.Warn("skipping unparseable order item", "scraper", "efresh", "err", err)
			continue
		}

		name := item.Title
		if name == "" {
			name = item.ProductName
		}
		if name == "" {
			name = item.Name
		}
		if name == "" {
			name = "Unknown"
		}

		quantity := 1
		if item.Quantity != nil {
			quantity = int(*item.Quantity)
		} else if item.Qty != nil {
			quantity = int(*item.Qty)
		}

		var subtotal decimal.Decimal
		if item.Subtotal != nil {
			subtotal = item.Subtotal.Decimal
		} else if item.Total != nil {
			subtotal = item.Total.Decimal
		}

		order.Items = append(order.Items, storefront.OrderItem{
			ProductName: name,
			Quantity:    quantity,
			Price:       item.Price.Decimal,
			Subtotal:    subtotal,
		})
	}
	return order
}

// parseOrders decodes each order individually, skipping malformed ones.
func parseOrders(raw []json.RawMessage) []storefront.Order {
	orders := make([]storefront.Order, 0, len(raw))
	for _, entry := range raw {
		var payload orderPayload
		if err := json.Unmarshal(entry, &payload); err != nil {
			slog.Warn("skipping unparseable order", "scraper", "efresh", "err", err)
			continue
		}
		orders = append(orders, payload.toOrder())
	}
	return orders
}
