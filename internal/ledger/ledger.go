// Package ledger holds the order line item accounting rules: status
// derivation, receipt, single-shot return resolution and the stock credit each
// resolution produces. Everything here is pure; persistence and locking live in
// the store.
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clinicstock/backend/internal/domain"
)

var (
	ErrInvalidQuantity  = fmt.Errorf("%w: returned quantity must be a positive integer", domain.ErrValidation)
	ErrMissingReason    = fmt.Errorf("%w: refund reason is required", domain.ErrValidation)
	ErrQuantityExceeded = fmt.Errorf("%w: returned quantity exceeds quantity available to return", domain.ErrValidation)
	ErrInvalidState     = fmt.Errorf("%w: item can no longer be changed", domain.ErrStateConflict)
	ErrUnsupportedState = fmt.Errorf("%w: unsupported item status", domain.ErrValidation)
	ErrItemNotFound     = fmt.Errorf("order item %w", domain.ErrNotFound)
)

// Resolution is the outcome of a single item mutation.
type Resolution struct {
	Item        domain.OrderItem
	StockCredit int
}

// DeriveStatus is the only place an item status is computed. Refund fields win
// over the explicit status; with nothing refunded the explicit status stands.
func DeriveStatus(orderedQty int, refundedQty int, explicit domain.ItemStatus) domain.ItemStatus {
	switch {
	case refundedQty > 0 && refundedQty >= orderedQty:
		return domain.ItemStatusReturned
	case refundedQty > 0:
		return domain.ItemStatusPartiallyReturned
	case explicit == domain.ItemStatusReceived:
		return domain.ItemStatusReceived
	default:
		return domain.ItemStatusPending
	}
}

// Available is the quantity that can still be returned.
func Available(item domain.OrderItem) int {
	available := item.OrderedQty - item.RefundedQty
	if available < 0 {
		return 0
	}
	return available
}

// ParseQuantity converts raw client input into a quantity. Only plain decimal
// digits are accepted; signs, fractions and exponents such as "3.0" or "1e1"
// are rejected.
func ParseQuantity(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidQuantity
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, ErrInvalidQuantity
		}
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n <= 0 {
		return 0, ErrInvalidQuantity
	}
	return int(n), nil
}

// ProcessReturn resolves the outstanding quantity of a pending item in one
// shot: qty goes back to the supplier and the rest of the outstanding quantity
// is credited to sellable stock. The input item is never modified.
func ProcessReturn(item domain.OrderItem, qty int, reason string, now time.Time) (Resolution, error) {
	if item.Status != domain.ItemStatusPending || item.RefundedQty > 0 {
		return Resolution{}, ErrInvalidState
	}
	if qty <= 0 {
		return Resolution{}, ErrInvalidQuantity
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Resolution{}, ErrMissingReason
	}
	available := Available(item)
	if qty > available {
		return Resolution{}, ErrQuantityExceeded
	}

	at := now.UTC()
	updated := item
	updated.RefundedQty = item.RefundedQty + qty
	updated.RefundReason = reason
	updated.RefundedAt = &at
	updated.Status = DeriveStatus(updated.OrderedQty, updated.RefundedQty, item.Status)

	return Resolution{Item: updated, StockCredit: available - qty}, nil
}

// MarkReceived moves a pending item to received and credits its full ordered
// quantity to stock.
func MarkReceived(item domain.OrderItem) (Resolution, error) {
	if item.Status != domain.ItemStatusPending || item.RefundedQty > 0 {
		return Resolution{}, ErrInvalidState
	}
	updated := item
	updated.Status = DeriveStatus(item.OrderedQty, item.RefundedQty, domain.ItemStatusReceived)
	return Resolution{Item: updated, StockCredit: item.OrderedQty}, nil
}

// ApplyStatus handles the explicit status endpoint. Only "received" can be set
// directly; the return states are reachable through ProcessReturn alone.
func ApplyStatus(item domain.OrderItem, status domain.ItemStatus) (Resolution, error) {
	switch status {
	case domain.ItemStatusReceived:
		return MarkReceived(item)
	case domain.ItemStatusPending:
		if item.Status == domain.ItemStatusPending {
			return Resolution{Item: item}, nil
		}
		return Resolution{}, ErrInvalidState
	case domain.ItemStatusReturned, domain.ItemStatusPartiallyReturned:
		return Resolution{}, fmt.Errorf("%w: use the return action to return items", ErrUnsupportedState)
	default:
		return Resolution{}, ErrUnsupportedState
	}
}

// DeriveOrderStatus recomputes the aggregate status from the items. A
// cancelled order stays cancelled.
func DeriveOrderStatus(current domain.OrderStatus, items []domain.OrderItem) domain.OrderStatus {
	if current == domain.OrderStatusCancelled {
		return current
	}
	if len(items) == 0 {
		return domain.OrderStatusOrdered
	}
	pending := 0
	for _, item := range items {
		if item.Status == domain.ItemStatusPending {
			pending++
		}
	}
	switch pending {
	case len(items):
		return domain.OrderStatusOrdered
	case 0:
		return domain.OrderStatusCompleted
	default:
		return domain.OrderStatusPartiallyReceived
	}
}

// Subtotal is the historical line value. Returns never change it.
func Subtotal(item domain.OrderItem) decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(int64(item.OrderedQty)))
}

func OrderTotal(items []domain.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(Subtotal(item))
	}
	return total
}

// ResolveItem applies fn to one item of the order and returns the new order
// state and the stock adjustment it implies. It is the mutation the store runs
// under its per-order lock.
func ResolveItem(order domain.Order, itemID int64, fn func(domain.OrderItem) (Resolution, error)) (domain.Order, []domain.StockAdjustment, Resolution, error) {
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, nil, Resolution{}, ErrInvalidState
	}
	idx := -1
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Order{}, nil, Resolution{}, ErrItemNotFound
	}

	res, err := fn(order.Items[idx])
	if err != nil {
		return domain.Order{}, nil, Resolution{}, err
	}

	updated := order
	updated.Items = make([]domain.OrderItem, len(order.Items))
	copy(updated.Items, order.Items)
	updated.Items[idx] = res.Item
	updated.Status = DeriveOrderStatus(order.Status, updated.Items)

	var adjustments []domain.StockAdjustment
	if res.StockCredit > 0 {
		adjustments = append(adjustments, domain.StockAdjustment{ProductID: res.Item.ProductID, Qty: res.StockCredit})
	}
	return updated, adjustments, res, nil
}
