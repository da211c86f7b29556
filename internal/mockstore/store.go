// Package mockstore is an in-memory storefront API used as a load target by
// tests and the mock-server command.
package mockstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store errors
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)

// Categories are the seeded product categories.
var Categories = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}

var productNames = []string{"Laptop", "Phone", "Headphone", "Watch", "Camera"}

// User is a registered account.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	password  string
}

// Product is a catalog entry.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
}

// CartItem is one line in a cart or order.
type CartItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

// Cart holds the items a user is about to order.
type Cart struct {
	Items []CartItem `json:"items"`
	Total float64    `json:"total"`
}

// Order is a placed order.
type Order struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Status    string     `json:"status"`
	Items     []CartItem `json:"items"`
	Total     float64    `json:"total"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store keeps every entity in memory.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*User // by email
	tokens   map[string]string
	products []Product
	byID     map[string]int
	carts    map[string][]CartItem
	orders   map[string][]Order
}

// NewStore creates a store seeded with n products.
func NewStore(n int) *Store {
	s := &Store{
		users:  make(map[string]*User),
		tokens: make(map[string]string),
		byID:   make(map[string]int),
		carts:  make(map[string][]CartItem),
		orders: make(map[string][]Order),
	}
	for i := 0; i < n; i++ {
		p := Product{
			ID:       fmt.Sprintf("%d", i+1),
			Name:     fmt.Sprintf("%s %d", productNames[i%len(productNames)], i+1),
			Category: Categories[i%len(Categories)],
			Price:    float64(10+i*5) - 0.01,
			Stock:    1000,
		}
		s.byID[p.ID] = len(s.products)
		s.products = append(s.products, p)
	}
	return s
}

// Register creates a user and returns it with a session token.
func (s *Store) Register(email, password, firstName, lastName string) (*User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.users[key]; ok {
		return nil, "", ErrEmailTaken
	}
	u := &User{ID: uuid.NewString(), Email: email, FirstName: firstName, LastName: lastName, password: password}
	s.users[key] = u

	token := uuid.NewString()
	s.tokens[token] = key
	return u, token, nil
}

// Login checks credentials and issues a new token.
func (s *Store) Login(email, password string) (*User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok || u.password != password {
		return nil, "", ErrInvalidCredentials
	}
	token := uuid.NewString()
	s.tokens[token] = strings.ToLower(email)
	return u, token, nil
}

// Authenticate resolves a token to its user.
func (s *Store) Authenticate(token string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	return s.users[email], true
}

// Products returns the whole catalog.
func (s *Store) Products() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Product(nil), s.products...)
}

// Product returns one product.
func (s *Store) Product(id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return s.products[i], nil
}

// Search returns products whose name contains query, case-insensitively.
func (s *Store) Search(query string) []Product {
	q := strings.ToLower(query)
	var out []Product
	for _, p := range s.Products() {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	return out
}

// ByCategory returns products in category, case-insensitively.
func (s *Store) ByCategory(category string) []Product {
	var out []Product
	for _, p := range s.Products() {
		if strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// AddToCart adds quantity of product to the user's cart.
func (s *Store) AddToCart(userID, productID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return Cart{}, ErrInvalidQuantity
	}
	p, err := s.Product(productID)
	if err != nil {
		return Cart{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[userID]
	merged := false
	for i := range items {
		if items[i].ProductID == p.ID {
			items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		items = append(items, CartItem{ProductID: p.ID, ProductName: p.Name, Price: p.Price, Quantity: quantity})
	}
	s.carts[userID] = items
	return newCart(items), nil
}

// Cart returns the user's cart.
func (s *Store) Cart(userID string) Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newCart(s.carts[userID])
}

// PlaceOrder turns the user's cart into an order and empties the cart.
func (s *Store) PlaceOrder(userID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[userID]
	if len(items) == 0 {
		return Order{}, ErrEmptyCart
	}
	cart := newCart(items)
	order := Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    "PENDING",
		Items:     cart.Items,
		Total:     cart.Total,
		CreatedAt: time.Now().UTC(),
	}
	s.orders[userID] = append(s.orders[userID], order)
	delete(s.carts, userID)
	return order, nil
}

// Orders returns the user's orders, newest first.
func (s *Store) Orders(userID string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]Order(nil), s.orders[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Order returns one of the user's orders.
func (s *Store) Order(userID, orderID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders[userID] {
		if o.ID == orderID {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

// Stats returns entity counts.
func (s *Store) Stats() (users, orders int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, list := range s.orders {
		orders += len(list)
	}
	return len(s.users), orders
}

func newCart(items []CartItem) Cart {
	cart := Cart{Items: append([]CartItem{}, items...)}
	for _, it := range items {
		cart.Total += it.Price * float64(it.Quantity)
	}
	return cart
}
