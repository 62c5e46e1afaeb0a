package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/ledger"
)

func TestUpdateOrderReturnCreditsStockAtomically(t *testing.T) {
	databaseURL := os.Getenv("CLINIC_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CLINIC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.EnsureSchema(ctx))

	stamp := time.Now().UnixNano()
	supplier, err := s.CreateSupplier(ctx, domain.Supplier{Name: fmt.Sprintf("Supplier IT %d", stamp)})
	require.NoError(t, err)
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:     fmt.Sprintf("Produk IT %d", stamp),
		Category: "medicine",
		Price:    decimal.RequireFromString("1500"),
		Stock:    5,
	})
	require.NoError(t, err)

	unitPrice := decimal.RequireFromString("1000")
	order, err := s.CreateOrder(ctx, domain.Order{
		SupplierID: supplier.ID,
		Status:     domain.OrderStatusOrdered,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(10)),
		Items: []domain.OrderItem{{
			ProductID:  product.ID,
			OrderedQty: 10,
			UnitPrice:  unitPrice,
			Subtotal:   unitPrice.Mul(decimal.NewFromInt(10)),
			Status:     domain.ItemStatusPending,
		}},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, supplier.ID)
	})

	itemID := order.Items[0].ID
	returnThree := func(current domain.Order) (domain.Order, []domain.StockAdjustment, error) {
		next, adjustments, _, err := ledger.ResolveItem(current, itemID, func(item domain.OrderItem) (ledger.Resolution, error) {
			return ledger.ProcessReturn(item, 3, "damaged box", time.Now())
		})
		return next, adjustments, err
	}

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateOrder(ctx, order.ID, returnThree)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, errors.Is(err, ledger.ErrInvalidState), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, successes)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].RefundedQty)
	assert.Equal(t, domain.ItemStatusPartiallyReturned, got.Items[0].Status)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("10000")))

	p, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, p.Stock)
}
