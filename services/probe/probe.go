// Package probe prints a quick operator report for one target: session
// state, the current cart and recent orders, as tables on stdout. It is
// the fastest way to tell whether a saved session still works and
// whether the site is currently blocking us.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Report writes the probe report to out. It never returns early: each
// section reports its own failure so one blocked endpoint does not hide
// the rest.
func Report(ctx context.Context, out io.Writer, client storefront.Client, auth *session.Manager) {
	writeSessionTable(out, auth)

	cart, err := client.GetCart(ctx)
	if err != nil {
		writeSectionError(out, "Cart", err)
	} else {
		writeCartTable(out, cart)
	}

	orders, err := client.GetOrders(ctx, storefront.OrderQuery{IncludeHistory: true})
	if err != nil {
		writeSectionError(out, "Orders", err)
	} else {
		writeOrdersTable(out, orders)
	}
}

func writeSectionError(out io.Writer, section string, err error) {
	switch {
	case errors.Is(err, storefront.ErrNotAuthenticated):
		fmt.Fprintf(out, "%s: not authenticated, log in first\n", section)
	case errors.Is(err, storefront.ErrBlocked):
		fmt.Fprintf(out, "%s: blocked by anti-bot protection\n", section)
	default:
		fmt.Fprintf(out, "%s: %v\n", section, err)
	}
}

func writeSessionTable(out io.Writer, auth *session.Manager) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Session")
	t.AppendHeader(table.Row{"Field", "Value"})

	t.AppendRow(table.Row{"Authenticated", auth.IsAuthenticated()})
	if email := auth.Email(); email != "" {
		t.AppendRow(table.Row{"Email", email})
	}
	t.AppendRow(table.Row{"Cookies", len(auth.Cookies())})
	t.AppendRow(table.Row{"File", auth.Path()})
	t.Render()
}

func writeCartTable(out io.Writer, cart storefront.Cart) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Cart (%d items)", cart.ItemCount)
	t.AppendHeader(table.Row{"Product ID", "Name", "Qty", "Price", "Subtotal"})

	for _, item := range cart.Items {
		t.AppendRow(table.Row{
			item.Product.ID,
			item.Product.Name,
			item.Quantity,
			"€" + item.Product.Price.StringFixed(2),
			"€" + item.Subtotal.StringFixed(2),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", "€" + cart.Total.StringFixed(2)})
	t.Render()

	if cart.DeliveryInfo != "" {
		fmt.Fprintf(out, "Delivery slot: %s\n", cart.DeliveryInfo)
	}
}

func writeOrdersTable(out io.Writer, orders []storefront.Order) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Orders (%d)", len(orders))
	t.AppendHeader(table.Row{"Order #", "Status", "Date", "Total"})

	for _, order := range orders {
		t.AppendRow(table.Row{
			order.OrderNumber,
			order.Status,
			order.CreatedAt.Format("2006-01-02 15:04"),
			"€" + order.Total.StringFixed(2),
		})
	}
	t.Render()
}
