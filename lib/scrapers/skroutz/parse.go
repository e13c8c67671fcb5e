package skroutz

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"greekcart-backend/lib/htmlutil"
	"greekcart-backend/lib/storefront"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var (
	csrfMetaPattern  = regexp.MustCompile(`<meta\s+name=["']csrf-token["']\s+content=["']([^"']+)["']`)
	authTokenPattern = regexp.MustCompile(`name=["']authenticity_token["'] value=["']([^"']+)["']`)
	railsCSRFPattern = regexp.MustCompile(`(?i)name=["']csrf[_-]token["'] value=["']([^"']+)["']`)

	skuHrefPattern    = regexp.MustCompile(`/s/(\d+)`)
	digitsPattern     = regexp.MustCompile(`\d+`)
	orderIDPattern    = regexp.MustCompile(`\d+-(\d+)`)
	euroAmountPattern = regexp.MustCompile(`([\d.,]+)\s*€`)
)

// extractCSRFToken tries the Rails token spots: the csrf-token meta tag,
// the authenticity_token form input, and a csrf_token input.
func extractCSRFToken(html string) string {
	for _, pattern := range []*regexp.Regexp{csrfMetaPattern, authTokenPattern, railsCSRFPattern} {
		if match := pattern.FindStringSubmatch(html); match != nil {
			return match[1]
		}
	}
	return ""
}

// isChallengeBody reports whether the HTML is a Cloudflare interstitial
// rather than real content. The cf beacon script alone is not enough,
// every page carries that.
func isChallengeBody(body string) bool {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true
	}
	return strings.Contains(lower, "<title>just a moment")
}

// sponsored classes and attributes, from the uBlock filter lists.
var sponsoredClasses = []string{"labeled-product", "labeled-item", "product-ad"}

func isSponsored(sel *goquery.Selection) bool {
	class, _ := sel.Attr("class")
	for _, marker := range sponsoredClasses {
		if strings.Contains(class, marker) {
			return true
		}
	}
	if _, ok := sel.Attr("data-ad"); ok {
		return true
	}
	if _, ok := sel.Attr("data-sponsored"); ok {
		return true
	}
	parentClass, _ := sel.Parent().Attr("class")
	return strings.Contains(parentClass, "selected-product-cards") ||
		strings.Contains(parentClass, "product-ad")
}

const maxSearchResults = 50

// parseSearchProducts reads product cards out of a search results page.
// The current markup is li[data-skuid]; older card markup is kept as a
// fallback. Sponsored placements are dropped, malformed cards skipped.
func parseSearchProducts(doc *goquery.Document, baseURL string) []storefront.Product {
	var products []storefront.Product

	cards := doc.Find("li[data-skuid]")
	if cards.Length() == 0 {
		cards = doc.Find("li[class*=product], li[class*=item], div[class*=product]")
	}

	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if len(products) >= maxSearchResults {
			return false
		}
		if isSponsored(card) {
			return true
		}

		link := card.Find("a[href*='/s/']").First()
		if link.Length() == 0 {
			return true
		}
		href, _ := link.Attr("href")

		skuID, _ := card.Attr("data-skuid")
		if skuID == "" {
			match := skuHrefPattern.FindStringSubmatch(href)
			if match == nil {
				return true
			}
			skuID = match[1]
		}

		name, _ := link.Attr("title")
		if name == "" {
			name = htmlutil.CleanText(link.Text())
		}
		if name == "" {
			return true
		}

		var price decimal.Decimal
		priceText := card.Find("[class*=price]").First().Text()
		if match := euroAmountPattern.FindStringSubmatch(priceText); match != nil {
			price = htmlutil.ParsePrice(match[1])
		} else {
			price = htmlutil.ParsePrice(priceText)
		}

		product := storefront.Product{
			ID:        skuID,
			SkuID:     skuID,
			Name:      name,
			Price:     price,
			Available: true,
		}
		if src, ok := card.Find("img").First().Attr("src"); ok {
			product.ImageURL = src
		}
		if href != "" {
			product.URL = baseURL + href
		}
		products = append(products, product)
		return true
	})

	return products
}

// parseCartHTML rebuilds the cart from the rendered cart page.
func parseCartHTML(doc *goquery.Document) storefront.Cart {
	var cart storefront.Cart

	doc.Find("[class*=cart-item], li[class*=cart_item]").Each(func(i int, item *goquery.Selection) {
		name := htmlutil.CleanText(item.Find("[class*=name], [class*=title]").First().Text())
		if name == "" {
			return
		}

		quantity := 1
		qtyInput := item.Find("input[class*=quantity], input[class*=qty]").First()
		if value, ok := qtyInput.Attr("value"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				quantity = n
			}
		} else if text := item.Find("[class*=quantity], [class*=qty]").First().Text(); text != "" {
			if match := digitsPattern.FindString(text); match != "" {
				if n, err := strconv.Atoi(match); err == nil {
					quantity = n
				}
			}
		}

		price := htmlutil.ParsePrice(item.Find("[class*=price]").First().Text())

		id := ""
		if href, ok := item.Find("a[href*='/s/']").First().Attr("href"); ok {
			if match := skuHrefPattern.FindStringSubmatch(href); match != nil {
				id = match[1]
			}
		}
		if id == "" {
			id = "cart_item_" + strconv.Itoa(i)
		}

		cart.Items = append(cart.Items, storefront.CartItem{
			Product: storefront.Product{
				ID:        id,
				Name:      name,
				Price:     price,
				Available: true,
			},
			Quantity: quantity,
			Subtotal: price.Mul(decimal.NewFromInt(int64(quantity))),
		})
	})

	cart.Total = htmlutil.ParsePrice(doc.Find("[class*=total]").First().Text())
	for _, item := range cart.Items {
		cart.ItemCount += item.Quantity
	}
	return cart
}

var orderDateLayouts = []string{
	"02/01/2006 3:04 PM",
	"02/01/2006",
	"2006-01-02",
}

func parseOrderDate(text string) (time.Time, bool) {
	// Greek am/pm markers.
	text = strings.ReplaceAll(text, " μ.μ.", " PM")
	text = strings.ReplaceAll(text, " π.μ.", " AM")
	text = strings.TrimSpace(text)
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseOrdersHTML reads the account orders page. Each order is anchored
// by its span.order-code element; the surrounding container supplies
// status, date and total.
func parseOrdersHTML(doc *goquery.Document) []storefront.Order {
	var orders []storefront.Order

	doc.Find("span.order-code").Each(func(_ int, code *goquery.Selection) {
		number := htmlutil.CleanText(code.Text())
		if number == "" {
			return
		}

		// Order codes look like "250921-2298786"; the tail is the id.
		id := number
		if match := orderIDPattern.FindStringSubmatch(number); match != nil {
			id = match[1]
		}

		order := storefront.Order{
			ID:          id,
			OrderNumber: number,
			Status:      "unknown",
			CreatedAt:   time.Now(),
		}

		container := code.Closest("div, article, section")
		if container.Length() > 0 {
			if status := htmlutil.CleanText(container.Find("[class*=status], [class*=state]").First().Text()); status != "" {
				order.Status = status
			}
			if date := container.Find("[class*=date], time, [class*=created]").First().Text(); date != "" {
				if t, ok := parseOrderDate(htmlutil.CleanText(date)); ok {
					order.CreatedAt = t
				}
			}
			if totalText := container.Find("[class*=total], [class*=cost]").First().Text(); totalText != "" {
				order.Total = htmlutil.ParsePrice(totalText)
			} else {
				// No labeled total: take the largest euro amount in the
				// container.
				for _, match := range euroAmountPattern.FindAllStringSubmatch(container.Text(), -1) {
					if amount := htmlutil.ParsePrice(match[1]); amount.GreaterThan(order.Total) {
						order.Total = amount
					}
				}
			}
		}

		orders = append(orders, order)
	})

	return orders
}

// parseOrderDetailsHTML reads a single order page into an order with
// line items.
func parseOrderDetailsHTML(doc *goquery.Document, orderID string) *storefront.Order {
	order := &storefront.Order{
		ID:          orderID,
		OrderNumber: orderID,
		Status:      "unknown",
		CreatedAt:   time.Now(),
	}

	if status := htmlutil.CleanText(doc.Find("[class*=status]").First().Text()); status != "" {
		order.Status = status
	}
	order.Total = htmlutil.ParsePrice(doc.Find("[class*=total]").First().Text())

	doc.Find("tr[class*=item], div[class*=line-item], li[class*=order-item]").Each(func(_ int, item *goquery.Selection) {
		name := htmlutil.CleanText(item.Find("[class*=name], [class*=title]").First().Text())
		if name == "" {
			return
		}

		quantity := 1
		if text := item.Find("[class*=quantity], [class*=qty]").First().Text(); text != "" {
			if match := digitsPattern.FindString(text); match != "" {
				if n, err := strconv.Atoi(match); err == nil {
					quantity = n
				}
			}
		}

		price := htmlutil.ParsePrice(item.Find("[class*=price]").First().Text())
		order.Items = append(order.Items, storefront.OrderItem{
			ProductName: name,
			Quantity:    quantity,
			Price:       price,
			Subtotal:    price.Mul(decimal.NewFromInt(int64(quantity))),
		})
	})

	return order
}

// flexString tolerates numeric JSON where a string is expected.
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

type orderJSON struct {
	ID          flexString `json:"id"`
	OrderID     flexString `json:"order_id"`
	Code        flexString `json:"code"`
	OrderNumber flexString `json:"order_number"`
	Status      string     `json:"status"`
	CreatedAt   string     `json:"created_at"`
	Total       flexString `json:"total"`
	Amount      flexString `json:"amount"`
}

// parseOrdersJSON accepts the bare-array, {orders: []} and {data: []}
// shapes the JSON endpoints answer with.
func parseOrdersJSON(body []byte) []storefront.Order {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		var wrapper struct {
			Orders []json.RawMessage `json:"orders"`
			Data   []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil
		}
		entries = wrapper.Orders
		if entries == nil {
			entries = wrapper.Data
		}
	}

	var orders []storefront.Order
	for _, entry := range entries {
		var payload orderJSON
		if err := json.Unmarshal(entry, &payload); err != nil {
			slog.Warn("skipping unparseable order", "scraper", "skroutz", "err", err)
			continue
		}

		id := string(payload.ID)
		if id == "" {
			id = string(payload.OrderID)
		}
		number := string(payload.Code)
		if number == "" {
			number = string(payload.OrderNumber)
		}
		if number == "" {
			number = id
		}
		status := payload.Status
		if status == "" {
			status = "unknown"
		}

		order := storefront.Order{
			ID:          id,
			OrderNumber: number,
			Status:      status,
			CreatedAt:   time.Now(),
		}
		if t, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
			order.CreatedAt = t
		}
		totalText := string(payload.Total)
		if totalText == "" {
			totalText = string(payload.Amount)
		}
		if d, err := decimal.NewFromString(totalText); err == nil {
			order.Total = d
		}
		orders = append(orders, order)
	}
	return orders
}
