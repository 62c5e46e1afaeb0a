package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"clinicstock/backend/internal/domain"
)

func TestSocketURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/ws", socketURL("http://127.0.0.1:8080/"))
	assert.Equal(t, "wss://clinic.example.com/ws", socketURL("https://clinic.example.com"))
}

func TestPrintOrdersShowsReturns(t *testing.T) {
	var buf bytes.Buffer
	printOrders(&buf, []domain.Order{{
		ID:           4,
		Status:       domain.OrderStatusCompleted,
		SupplierName: "PT Medika Farma",
		TotalPrice:   decimal.NewFromInt(45000),
		Items: []domain.OrderItem{
			{ProductName: "Paracetamol 500mg", OrderedQty: 10, RefundedQty: 3, Status: domain.ItemStatusPartiallyReturned},
		},
	}})

	out := buf.String()
	assert.Contains(t, out, "1 orders")
	assert.Contains(t, out, "45000.00")
	assert.True(t, strings.Contains(out, "Paracetamol 500mg x10 partially_returned (-3)"), out)
}
