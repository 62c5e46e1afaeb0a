package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemStatusPending           ItemStatus = "pending"
	ItemStatusReceived          ItemStatus = "received"
	ItemStatusPartiallyReturned ItemStatus = "partially_returned"
	ItemStatusReturned          ItemStatus = "returned"
)

type OrderStatus string

const (
	OrderStatusOrdered           OrderStatus = "ordered"
	OrderStatusPartiallyReceived OrderStatus = "partially_received"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Unit      string          `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Category     string          `json:"category" validate:"required,max=60"`
	Unit         string          `json:"unit" validate:"max=20"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock" validate:"min=0"`
}

type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"max=30"`
}

type OrderItem struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"order_id"`
	ProductID    int64           `json:"product_id"`
	ProductName  string          `json:"product_name"`
	OrderedQty   int             `json:"ordered_qty"`
	RefundedQty  int             `json:"refunded_qty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Status       ItemStatus      `json:"status"`
	RefundReason string          `json:"refund_reason,omitempty"`
	RefundedAt   *time.Time      `json:"refunded_at,omitempty"`
}

type Order struct {
	ID            int64           `json:"id"`
	SupplierID    int64           `json:"supplier_id"`
	SupplierName  string          `json:"supplier_name"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	Description   string          `json:"description,omitempty"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Status        OrderStatus     `json:"status"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []OrderItem     `json:"items"`
}

// Item returns a pointer into o.Items for the given item id, or nil.
func (o *Order) Item(itemID int64) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

type OrderItemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreateRequest struct {
	SupplierID    int64              `json:"supplier_id" validate:"required,gt=0"`
	ReceiptNumber string             `json:"receipt_number" validate:"max=64"`
	Description   string             `json:"description" validate:"max=500"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ItemStatusRequest struct {
	Status ItemStatus `json:"status"`
}

type OrderStatusRequest struct {
	Status OrderStatus `json:"status"`
}

// ItemReturnRequest keeps the quantity as a raw number so non-integer input
// can be rejected explicitly instead of failing JSON decoding.
type ItemReturnRequest struct {
	ReturnedQuantity QuantityInput `json:"returned_quantity"`
	RefundReason     string        `json:"refund_reason"`
}

type OrderQuery struct {
	Status     OrderStatus
	SupplierID int64
	Search     string
	From       *time.Time
	To         *time.Time
	SortBy     string
	Desc       bool
	Page       int
	PageSize   int
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalItems int     `json:"total_items"`
	TotalPages int     `json:"total_pages"`
}

type OrderStats struct {
	TotalOrders       int             `json:"total_orders"`
	OrderedOrders     int             `json:"ordered_orders"`
	PartiallyReceived int             `json:"partially_received_orders"`
	CompletedOrders   int             `json:"completed_orders"`
	CancelledOrders   int             `json:"cancelled_orders"`
	PendingItems      int             `json:"pending_items"`
	ReturnedUnits     int             `json:"returned_units"`
	TotalSpent        decimal.Decimal `json:"total_spent"`
}

type StockAdjustment struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

// OrderUpdate is the committed result of a store mutation: the new order
// state plus every product whose stock was adjusted in the same commit.
type OrderUpdate struct {
	Order    Order
	Products []Product
}

// Transaction is a sales record owned by the billing side. This service only
// reconciles its change notifications into client views.
type Transaction struct {
	ID          int64           `json:"id"`
	PatientName string          `json:"patient_name"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type EmployeeCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type EmployeeUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
