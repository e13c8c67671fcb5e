// Package mcptools exposes a storefront client as an MCP tool server.
// One constructor serves every target; tool names are prefixed with the
// target so several servers can sit in the same MCP client config.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"greekcart-backend/lib/storefront"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// LanguageSetter is implemented by clients whose target serves localized
// storefronts; they get an extra <target>_set_language tool.
type LanguageSetter interface {
	SetLanguage(language string)
}

type Options struct {
	// Target prefixes every tool name, e.g. "efresh".
	Target string
	Client storefront.Client
	// Credentials, when non-empty, let authenticated tools log in
	// automatically instead of failing on a cold session. They come from
	// the environment, never from config files.
	Credentials storefront.Credentials
	Version     string
}

type Service struct {
	target string
	client storefront.Client
	creds  storefront.Credentials

	mu       sync.Mutex
	loggedIn bool
}

// NewServer builds the MCP server with all tools registered.
func NewServer(opts Options) *server.MCPServer {
	version := opts.Version
	if version == "" {
		version = "0.0.0-dev"
	}

	svc := &Service{
		target: opts.Target,
		client: opts.Client,
		creds:  opts.Credentials,
	}

	s := server.NewMCPServer(
		opts.Target+"-storefront",
		version,
		server.WithToolCapabilities(false),
	)
	svc.register(s)
	return s
}

func (svc *Service) toolName(op string) string {
	return svc.target + "_" + op
}

func (svc *Service) register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool(svc.toolName("login"),
		mcp.WithDescription("Log in to "+svc.target+" with email and password"),
		mcp.WithString("email", mcp.Required(), mcp.Description("Account email")),
		mcp.WithString("password", mcp.Required(), mcp.Description("Account password")),
	), svc.handleLogin)

	s.AddTool(mcp.NewTool(svc.toolName("logout"),
		mcp.WithDescription("Log out and clear the saved session"),
	), svc.handleLogout)

	s.AddTool(mcp.NewTool(svc.toolName("search_products"),
		mcp.WithDescription("Search the "+svc.target+" catalog by free text or EAN barcode"),
		mcp.WithString("query", mcp.Description("Free-text search query")),
		mcp.WithString("ean", mcp.Description("EAN barcode for an exact lookup")),
	), svc.handleSearch)

	s.AddTool(mcp.NewTool(svc.toolName("add_to_cart"),
		mcp.WithDescription("Add a product to the shopping cart"),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product id from search results")),
		mcp.WithNumber("quantity", mcp.Description("Quantity to add, default 1")),
	), svc.handleAddToCart)

	s.AddTool(mcp.NewTool(svc.toolName("remove_from_cart"),
		mcp.WithDescription("Remove a product from the shopping cart"),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product id to remove")),
	), svc.handleRemoveFromCart)

	s.AddTool(mcp.NewTool(svc.toolName("update_cart_quantity"),
		mcp.WithDescription("Set the cart quantity of a product to an exact value"),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product id to update")),
		mcp.WithNumber("quantity", mcp.Required(), mcp.Description("New absolute quantity; 0 removes the item")),
	), svc.handleUpdateCartQuantity)

	s.AddTool(mcp.NewTool(svc.toolName("get_cart"),
		mcp.WithDescription("Show the current shopping cart"),
	), svc.handleGetCart)

	s.AddTool(mcp.NewTool(svc.toolName("get_orders"),
		mcp.WithDescription("List orders on the account"),
		mcp.WithBoolean("include_history", mcp.Description("Include completed orders, not just active ones")),
		mcp.WithBoolean("include_items", mcp.Description("Fetch line items for each order")),
	), svc.handleGetOrders)

	s.AddTool(mcp.NewTool(svc.toolName("get_order_details"),
		mcp.WithDescription("Show one order with its line items"),
		mcp.WithString("order_id", mcp.Required(), mcp.Description("Order id from the orders list")),
	), svc.handleGetOrderDetails)

	if _, ok := svc.client.(LanguageSetter); ok {
		s.AddTool(mcp.NewTool(svc.toolName("set_language"),
			mcp.WithDescription("Switch the storefront language"),
			mcp.WithString("language", mcp.Required(), mcp.Description("Language code: el or en"), mcp.Enum("el", "en")),
		), svc.handleSetLanguage)
	}
}

// ensureAuthenticated logs in with the environment credentials if no
// login happened yet this process. Failures are logged and swallowed;
// the underlying operation reports ErrNotAuthenticated with a usable
// message if the session is still cold.
func (svc *Service) ensureAuthenticated(ctx context.Context) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.loggedIn || svc.creds.Email == "" {
		return
	}

	ok, err := svc.client.Login(ctx, svc.creds)
	if err != nil {
		slog.WarnContext(ctx, "automatic login failed", "target", svc.target, "err", err)
		return
	}
	if !ok {
		slog.WarnContext(ctx, "automatic login rejected", "target", svc.target)
		return
	}
	svc.loggedIn = true
}

// toolError maps the client error taxonomy to operator-readable text.
// Raw errors never reach the MCP caller.
func (svc *Service) toolError(ctx context.Context, op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, storefront.ErrNotAuthenticated):
		return mcp.NewToolResultError(fmt.Sprintf(
			"Not logged in. Use the %s tool first.", svc.toolName("login")))
	case errors.Is(err, storefront.ErrMissingQuery):
		return mcp.NewToolResultError("Either query or ean must be provided")
	case errors.Is(err, storefront.ErrBlocked):
		return mcp.NewToolResultError(
			"The request was blocked by the site's anti-bot protection. Try again later.")
	}
	slog.ErrorContext(ctx, "tool failed", "target", svc.target, "tool", op, "err", err)
	return mcp.NewToolResultError("The operation failed, see the server log for details.")
}

func (svc *Service) handleLogin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email, err := request.RequireString("email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	password, err := request.RequireString("password")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ok, err := svc.client.Login(ctx, storefront.Credentials{Email: email, Password: password})
	if err != nil {
		return svc.toolError(ctx, "login", err), nil
	}
	if !ok {
		return mcp.NewToolResultError("Login failed: the site rejected the credentials"), nil
	}

	svc.mu.Lock()
	svc.loggedIn = true
	svc.mu.Unlock()
	return mcp.NewToolResultText(fmt.Sprintf("Successfully logged in as %s", email)), nil
}

func (svc *Service) handleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := svc.client.Logout(ctx); err != nil {
		return svc.toolError(ctx, "logout", err), nil
	}
	svc.mu.Lock()
	svc.loggedIn = false
	svc.mu.Unlock()
	return mcp.NewToolResultText("Logged out"), nil
}

func (svc *Service) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := storefront.SearchQuery{
		Query: request.GetString("query", ""),
		EAN:   request.GetString("ean", ""),
	}

	products, err := svc.client.SearchProducts(ctx, query)
	if err != nil {
		return svc.toolError(ctx, "search_products", err), nil
	}
	if len(products) == 0 {
		return mcp.NewToolResultText("No products found for: " + query.Term()), nil
	}
	return mcp.NewToolResultText(formatProducts(products)), nil
}

func (svc *Service) handleAddToCart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID, err := request.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	quantity := request.GetInt("quantity", 1)

	svc.ensureAuthenticated(ctx)
	ok, err := svc.client.AddToCart(ctx, productID, quantity)
	if err != nil {
		return svc.toolError(ctx, "add_to_cart", err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to add product %s to cart", productID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Successfully added product %s (quantity: %d) to cart", productID, quantity)), nil
}

func (svc *Service) handleRemoveFromCart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID, err := request.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	svc.ensureAuthenticated(ctx)
	ok, err := svc.client.RemoveFromCart(ctx, productID)
	if err != nil {
		return svc.toolError(ctx, "remove_from_cart", err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to remove product %s from cart", productID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully removed product %s from cart", productID)), nil
}

func (svc *Service) handleUpdateCartQuantity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID, err := request.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	quantity, err := request.RequireInt("quantity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	svc.ensureAuthenticated(ctx)
	ok, err := svc.client.UpdateCartQuantity(ctx, productID, quantity)
	if err != nil {
		return svc.toolError(ctx, "update_cart_quantity", err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update product %s quantity", productID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Successfully updated product %s to quantity %d", productID, quantity)), nil
}

func (svc *Service) handleGetCart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	svc.ensureAuthenticated(ctx)
	cart, err := svc.client.GetCart(ctx)
	if err != nil {
		return svc.toolError(ctx, "get_cart", err), nil
	}
	return mcp.NewToolResultText(formatCart(cart)), nil
}

func (svc *Service) handleGetOrders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := storefront.OrderQuery{
		IncludeHistory: request.GetBool("include_history", false),
		IncludeItems:   request.GetBool("include_items", false),
	}

	svc.ensureAuthenticated(ctx)
	orders, err := svc.client.GetOrders(ctx, query)
	if err != nil {
		return svc.toolError(ctx, "get_orders", err), nil
	}
	if len(orders) == 0 {
		return mcp.NewToolResultText("No orders found"), nil
	}
	return mcp.NewToolResultText(formatOrders(orders)), nil
}

func (svc *Service) handleGetOrderDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, err := request.RequireString("order_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	svc.ensureAuthenticated(ctx)
	order, err := svc.client.GetOrderDetails(ctx, orderID)
	if err != nil {
		return svc.toolError(ctx, "get_order_details", err), nil
	}
	if order == nil {
		return mcp.NewToolResultText(fmt.Sprintf("Order %s not found", orderID)), nil
	}
	return mcp.NewToolResultText(formatOrderDetails(*order)), nil
}

var languageNames = map[string]string{
	"el": "Greek",
	"en": "English",
}

func (svc *Service) handleSetLanguage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, ok := languageNames[language]
	if !ok {
		return mcp.NewToolResultError("Unsupported language: " + language), nil
	}

	svc.client.(LanguageSetter).SetLanguage(language)
	return mcp.NewToolResultText(fmt.Sprintf("Language set to %s (%s)", name, language)), nil
}
