// Package httpapi mirrors the MCP tool surface as a small REST API, for
// operators and integrations that speak HTTP instead of MCP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"greekcart-backend/lib/session"
	"greekcart-backend/lib/storefront"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// LanguageSetter mirrors mcptools: targets with localized storefronts
// accept POST /settings/language.
type LanguageSetter interface {
	SetLanguage(language string)
}

type Options struct {
	Client storefront.Client
	Auth   *session.Manager
}

type Server struct {
	client storefront.Client
	auth   *session.Manager
}

// NewHandler builds the chi router for the API.
func NewHandler(opts Options) http.Handler {
	s := &Server{client: opts.Client, auth: opts.Auth}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/auth/status", s.handleAuthStatus)
	r.Post("/products/search", s.handleSearch)
	r.Get("/cart", s.handleGetCart)
	r.Post("/cart/add", s.handleAddToCart)
	r.Post("/cart/remove", s.handleRemoveFromCart)
	r.Post("/cart/update", s.handleUpdateCart)
	r.Post("/orders", s.handleGetOrders)
	r.Get("/orders/{id}", s.handleGetOrderDetails)
	r.Post("/settings/language", s.handleSetLanguage)

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// writeError maps the client error taxonomy onto HTTP statuses. Internal
// error detail stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storefront.ErrMissingQuery):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "either query or ean must be provided"})
	case errors.Is(err, storefront.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not authenticated"})
	case errors.Is(err, storefront.ErrBlocked):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "blocked by anti-bot protection"})
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// readBody decodes a JSON body; an empty body decodes to the zero value.
func readBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var body T
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return body, false
	}
	return body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody[struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}](w, r)
	if !ok {
		return
	}
	if body.Email == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "email and password are required"})
		return
	}

	loggedIn, err := s.client.Login(r.Context(), storefront.Credentials{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !loggedIn {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "credentials rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": true, "email": body.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": false})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"logged_in": false}
	if s.auth != nil && s.auth.IsAuthenticated() {
		status["logged_in"] = true
		status["email"] = s.auth.Email()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody[struct {
		Query string `json:"query"`
		EAN   string `json:"ean"`
	}](w, r)
	if !ok {
		return
	}

	products, err := s.client.SearchProducts(r.Context(), storefront.SearchQuery{
		Query: body.Query,
		EAN:   body.EAN,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.client.GetCart(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

type cartMutationBody struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody[cartMutationBody](w, r)
	if !ok {
		return
	}
	if body.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "product_id is required"})
		return
	}
	if body.Quantity <= 0 {
		body.Quantity = 1
	}

	added, err := s.client.AddToCart(r.Context(), body.ProductID, body.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": added})
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody[cartMutationBody](w, r)
	if !ok {
		return
	}
	if body.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "product_id is required"})
		return
	}

	removed, err := s.client.RemoveFromCart(r.Context(), body.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": removed})
}

func (s *Server) handleUpdateCart(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody[cartMutationBody](w, r)
	if !ok {
		return
	}
	if body.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "product_id is required"})
		return
	}

	updated, err := s.client.UpdateCartQuantity(r.Context(), body.ProductID, body.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": updated})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody[struct {
		IncludeHistory bool `json:"include_history"`
		IncludeItems   bool `json:"include_items"`
	}](w, r)
	if !ok {
		return
	}

	orders, err := s.client.GetOrders(r.Context(), storefront.OrderQuery{
		IncludeHistory: body.IncludeHistory,
		IncludeItems:   body.IncludeItems,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

func (s *Server) handleGetOrderDetails(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	order, err := s.client.GetOrderDetails(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if order == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	setter, supported := s.client.(LanguageSetter)
	if !supported {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "this target has no language setting"})
		return
	}

	body, ok := readBody[struct {
		Language string `json:"language"`
	}](w, r)
	if !ok {
		return
	}
	if body.Language != "el" && body.Language != "en" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "language must be el or en"})
		return
	}

	setter.SetLanguage(body.Language)
	writeJSON(w, http.StatusOK, map[string]string{"language": body.Language})
}
