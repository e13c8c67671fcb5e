package mcptools

import (
	"fmt"
	"strings"

	"greekcart-backend/lib/storefront"
)

const timeLayout = "2006-01-02 15:04"

// formatProducts renders search results as the numbered text listing the
// tool callers expect.
func formatProducts(products []storefront.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d product(s):\n", len(products))
	for i, p := range products {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, p.Name)
		fmt.Fprintf(&b, "   ID: %s\n", p.ID)
		if p.Maker != "" {
			fmt.Fprintf(&b, "   Maker: %s\n", p.Maker)
		}
		if p.EAN != "" {
			fmt.Fprintf(&b, "   EAN: %s\n", p.EAN)
		}
		fmt.Fprintf(&b, "   Price: €%s\n", p.Price.StringFixed(2))
		if p.Discounted() {
			fmt.Fprintf(&b, "   Original Price: €%s (DISCOUNTED)\n", p.OriginalPrice.StringFixed(2))
		}
		fmt.Fprintf(&b, "   Available: %s\n", yesNo(p.Available))
		if p.Unit != "" {
			fmt.Fprintf(&b, "   Unit: %s\n", p.Unit)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCart(cart storefront.Cart) string {
	if len(cart.Items) == 0 {
		return "Your cart is empty"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Shopping Cart (%d items):\n", cart.ItemCount)
	for i, item := range cart.Items {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, item.Product.Name)
		fmt.Fprintf(&b, "   Product ID: %s\n", item.Product.ID)
		fmt.Fprintf(&b, "   Price: €%s\n", item.Product.Price.StringFixed(2))
		fmt.Fprintf(&b, "   Quantity: %d\n", item.Quantity)
		fmt.Fprintf(&b, "   Subtotal: €%s\n", item.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\n%s\n", strings.Repeat("=", 50))
	fmt.Fprintf(&b, "Total: €%s", cart.Total.StringFixed(2))
	if cart.DeliveryInfo != "" {
		fmt.Fprintf(&b, "\nDelivery slot: %s", cart.DeliveryInfo)
	}
	return b.String()
}

func formatOrders(orders []storefront.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d order(s):\n", len(orders))
	for i, order := range orders {
		fmt.Fprintf(&b, "\n%d. Order #%s\n", i+1, order.OrderNumber)
		fmt.Fprintf(&b, "   Status: %s\n", order.Status)
		fmt.Fprintf(&b, "   Date: %s\n", order.CreatedAt.Format(timeLayout))
		fmt.Fprintf(&b, "   Total: €%s\n", order.Total.StringFixed(2))
		if order.DeliveryDate != nil {
			fmt.Fprintf(&b, "   Delivery: %s\n", order.DeliveryDate.Format(timeLayout))
		}
		if len(order.Items) > 0 {
			fmt.Fprintf(&b, "   Items (%d):\n", len(order.Items))
			for _, item := range order.Items {
				fmt.Fprintf(&b, "     - %s x%d (€%s)\n",
					item.ProductName, item.Quantity, item.Subtotal.StringFixed(2))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOrderDetails(order storefront.Order) string {
	var b strings.Builder
	b.WriteString("Order Details:\n\n")
	fmt.Fprintf(&b, "Order #%s\n", order.OrderNumber)
	fmt.Fprintf(&b, "Status: %s\n", order.Status)
	fmt.Fprintf(&b, "Date: %s\n", order.CreatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "Total: €%s\n", order.Total.StringFixed(2))
	if order.DeliveryDate != nil {
		fmt.Fprintf(&b, "Delivery: %s\n", order.DeliveryDate.Format(timeLayout))
	}
	if order.DeliveryAddress != "" {
		fmt.Fprintf(&b, "Delivery Address: %s\n", order.DeliveryAddress)
	}
	if len(order.Items) > 0 {
		fmt.Fprintf(&b, "\nItems (%d):\n", len(order.Items))
		for i, item := range order.Items {
			fmt.Fprintf(&b, "\n%d. %s\n", i+1, item.ProductName)
			fmt.Fprintf(&b, "   Quantity: %d\n", item.Quantity)
			fmt.Fprintf(&b, "   Price: €%s\n", item.Price.StringFixed(2))
			fmt.Fprintf(&b, "   Subtotal: €%s\n", item.Subtotal.StringFixed(2))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
