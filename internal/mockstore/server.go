package mockstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type contextKey string

// userKey holds the authenticated *User in the request context.
const userKey contextKey = "user"

// Options configures the server.
type Options struct {
	// Products is the number of seeded products (default 20)
	Products int

	// Latency is added to every request
	Latency time.Duration

	Logger *zap.Logger
}

// Server serves the storefront API.
type Server struct {
	store    *Store
	latency  time.Duration
	logger   *zap.Logger
	requests atomic.Int64
	router   chi.Router
}

// NewServer creates a server over a freshly seeded store.
func NewServer(opts Options) *Server {
	if opts.Products <= 0 {
		opts.Products = 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		store:   NewStore(opts.Products),
		latency: opts.Latency,
		logger:  opts.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.count)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", s.handleRegister)
		r.Post("/users/login", s.handleLogin)

		r.Get("/products", s.handleProducts)
		r.Get("/products/search", s.handleSearch)
		r.Get("/products/category/{category}", s.handleCategory)
		r.Get("/products/{id}", s.handleProduct)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/users/profile", s.handleProfile)
			r.Post("/cart/items", s.handleAddToCart)
			r.Post("/cart/add", s.handleAddToCart)
			r.Get("/cart", s.handleCart)
			r.Post("/orders", s.handlePlaceOrder)
			r.Get("/orders", s.handleOrders)
			r.Get("/orders/{id}", s.handleOrder)
		})
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Store returns the backing store.
func (s *Server) Store() *Store { return s.store }

// Requests returns the number of requests served.
func (s *Server) Requests() int64 { return s.requests.Load() }

// count counts requests and applies the configured latency.
func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer token into the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, ok := s.store.Authenticate(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func currentUser(r *http.Request) *User {
	u, _ := r.Context().Value(userKey).(*User)
	return u
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// handleRegister handles POST /api/users/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, token, err := s.store.Register(req.Email, req.Password, req.FirstName, req.LastName)
	if errors.Is(err, ErrEmailTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to register user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, UserID: user.ID, Email: user.Email})
}

// handleLogin handles POST /api/users/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := s.store.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, UserID: user.ID, Email: user.Email})
}

// handleProfile handles GET /api/users/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

// handleProducts handles GET /api/products
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products := s.store.Products()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":       products,
		"totalElements": len(products),
	})
}

// handleSearch handles GET /api/products/search?query=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	products := s.store.Search(r.URL.Query().Get("query"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":       nonNil(products),
		"totalElements": len(products),
	})
}

// handleCategory handles GET /api/products/category/{category}
func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.store.ByCategory(chi.URLParam(r, "category"))))
}

// handleProduct handles GET /api/products/{id}
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Product(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleAddToCart handles POST /api/cart/items and /api/cart/add
func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID flexibleID `json:"productId"`
		Quantity  int        `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	cart, err := s.store.AddToCart(currentUser(r).ID, string(req.ProductID), req.Quantity)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, cart)
	}
}

// handleCart handles GET /api/cart
func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Cart(currentUser(r).ID))
}

// handlePlaceOrder handles POST /api/orders
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.PlaceOrder(currentUser(r).ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// handleOrders handles GET /api/orders
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.store.Orders(currentUser(r).ID)))
}

// handleOrder handles GET /api/orders/{id}
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.Order(currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// flexibleID accepts a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
