package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/store"
	"clinicstock/backend/internal/xid"
)

// Store keeps everything in maps behind one mutex. Holding the write lock for
// the whole of UpdateOrder gives the same per-order exclusion the postgres
// store gets from row locks.
type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	suppliers       map[int64]domain.Supplier
	orders          map[int64]domain.Order
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	nextProductID   int64
	nextSupplierID  int64
	nextOrderID     int64
	nextItemID      int64
}

func New() *Store {
	return &Store{
		products:        make(map[int64]domain.Product),
		suppliers:       make(map[int64]domain.Supplier),
		orders:          make(map[int64]domain.Order),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_EMPLOYEE_PASSWORD.
// If unset, dev defaults are used with a warning. The postgres store is used
// whenever DATABASE_URL is set, so these never reach production.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "employee123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_EMPLOYEE_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"employee", employeePwd, domain.RoleEmployee},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, suppliers and products.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, sup := range []domain.Supplier{
		{Name: "PT Medika Farma", Phone: "021-555-0101"},
		{Name: "CV Sehat Sentosa", Phone: "021-555-0142"},
	} {
		s.nextSupplierID++
		sup.ID = s.nextSupplierID
		sup.CreatedAt = now
		s.suppliers[sup.ID] = sup
	}
	for _, p := range []domain.Product{
		{Name: "Paracetamol 500mg", Category: "medicine", Unit: "strip", Price: decimal.RequireFromString("4500")},
		{Name: "Amoxicillin 500mg", Category: "medicine", Unit: "strip", Price: decimal.RequireFromString("12500")},
		{Name: "Sterile Gauze 10cm", Category: "consumable", Unit: "pack", Price: decimal.RequireFromString("8000")},
		{Name: "Disposable Syringe 3ml", Category: "consumable", Unit: "box", Price: decimal.RequireFromString("65000")},
		{Name: "Vitamin C 1000mg", Category: "supplement", Unit: "bottle", Price: decimal.RequireFromString("38000")},
	} {
		s.nextProductID++
		p.ID = s.nextProductID
		p.Stock = 50
		p.Active = true
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	product.ID = s.nextProductID
	product.Active = true
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.suppliers {
		if existing.Name == supplier.Name {
			return nil, store.ErrDuplicate
		}
	}
	s.nextSupplierID++
	supplier.ID = s.nextSupplierID
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) GetSupplier(_ context.Context, id int64) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	supplier, exists := s.suppliers[order.SupplierID]
	if !exists {
		return nil, store.ErrUnknownSupplier
	}
	for _, item := range order.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.ErrUnknownProduct
		}
		if item.OrderedQty < 1 || item.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	}

	s.nextOrderID++
	order.ID = s.nextOrderID
	order.SupplierName = supplier.Name
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 1

	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		s.nextItemID++
		item.ID = s.nextItemID
		item.OrderID = order.ID
		if item.ProductName == "" {
			item.ProductName = s.products[item.ProductID].Name
		}
		items[i] = item
	}
	order.Items = items

	s.orders[order.ID] = cloneOrder(order)
	saved := cloneOrder(order)
	return &saved, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) ListOrders(_ context.Context, query domain.OrderQuery) (domain.OrderPage, error) {
	query = store.NormalizeQuery(query)

	s.mu.RLock()
	matched := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if query.Matches(order) {
			matched = append(matched, cloneOrder(order))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Order) int {
		cmp := 0
		switch query.SortBy {
		case "total_price":
			cmp = a.TotalPrice.Cmp(b.TotalPrice)
		case "id":
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp == 0 {
			cmp = compareInt64(a.ID, b.ID)
		}
		if query.Desc {
			return -cmp
		}
		return cmp
	})

	total := len(matched)
	start := (query.Page - 1) * query.PageSize
	if start > total {
		start = total
	}
	end := start + query.PageSize
	if end > total {
		end = total
	}

	return domain.OrderPage{
		Orders:     matched[start:end],
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalItems: total,
		TotalPages: store.TotalPages(total, query.PageSize),
	}, nil
}

func (s *Store) DeleteOrder(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *Store) UpdateOrder(_ context.Context, id int64, mutate store.OrderMutation) (*domain.OrderUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.orders[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	next, adjustments, err := mutate(cloneOrder(current))
	if err != nil {
		return nil, err
	}

	// Validate every adjustment before touching stock so a bad one leaves
	// nothing half-applied.
	for _, adj := range adjustments {
		if _, ok := s.products[adj.ProductID]; !ok {
			return nil, store.ErrUnknownProduct
		}
	}

	now := time.Now().UTC()
	touched := make([]domain.Product, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.Qty == 0 {
			continue
		}
		product := s.products[adj.ProductID]
		product.Stock += adj.Qty
		product.UpdatedAt = now
		s.products[adj.ProductID] = product
		touched = append(touched, product)
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now
	next.Version = current.Version + 1
	s.orders[id] = cloneOrder(next)

	return &domain.OrderUpdate{Order: cloneOrder(next), Products: touched}, nil
}

func (s *Store) GetOrderStats(_ context.Context) (domain.OrderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.OrderStats{TotalSpent: decimal.Zero}
	for _, order := range s.orders {
		stats.TotalOrders++
		switch order.Status {
		case domain.OrderStatusOrdered:
			stats.OrderedOrders++
		case domain.OrderStatusPartiallyReceived:
			stats.PartiallyReceived++
		case domain.OrderStatusCompleted:
			stats.CompletedOrders++
		case domain.OrderStatusCancelled:
			stats.CancelledOrders++
			continue
		}
		stats.TotalSpent = stats.TotalSpent.Add(order.TotalPrice)
		for _, item := range order.Items {
			if item.Status == domain.ItemStatusPending {
				stats.PendingItems++
			}
			stats.ReturnedUnits += item.RefundedQty
		}
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func compareInt64(a int64, b int64) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	items := make([]domain.OrderItem, len(src.Items))
	for i, item := range src.Items {
		if item.RefundedAt != nil {
			at := *item.RefundedAt
			item.RefundedAt = &at
		}
		items[i] = item
	}
	dup.Items = items
	return dup
}
