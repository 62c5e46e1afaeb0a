package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/metrics"
	"clinicstock/backend/internal/service"
	"clinicstock/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	m := metrics.New()
	svc := service.New(repo, service.Options{Metrics: m})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*").WithMetrics(m)
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

type session struct {
	handler http.Handler
	token   string
	csrf    string
}

func newSession(t *testing.T, api *API, username, password string) session {
	t.Helper()
	return session{
		handler: api.Handler(),
		token:   login(t, api, username, password),
		csrf:    fetchCSRFToken(t, api),
	}
}

func (s session) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-CSRF-Token", s.csrf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) domain.Order {
	t.Helper()
	var payload struct {
		Order domain.Order `json:"order"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	return payload.Order
}

func createTestOrder(t *testing.T, admin session, qty int) domain.Order {
	t.Helper()
	rec := admin.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"supplier_id":    1,
		"receipt_number": "INV-2026-010",
		"description":    "ward restock",
		"items": []map[string]any{
			{"product_id": 1, "quantity": qty, "unit_price": "4000"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeOrder(t, rec)
	require.Len(t, order.Items, 1)
	return order
}

func productStock(t *testing.T, s session, productID int64) int {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Products []domain.Product `json:"products"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	for _, p := range payload.Products {
		if p.ID == productID {
			return p.Stock
		}
	}
	t.Fatalf("product %d not listed", productID)
	return 0
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	employee := newSession(t, api, "employee", "employee123")

	rec := employee.do(t, http.MethodGet, "/api/v1/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestReturnFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	employee := newSession(t, api, "employee", "employee123")

	before := productStock(t, admin, 1)
	order := createTestOrder(t, admin, 10)
	assert.Equal(t, domain.OrderStatusOrdered, order.Status)
	assert.Equal(t, "40000", order.TotalPrice.String())

	path := fmt.Sprintf("/api/v1/orders/%d/items/%d/return", order.ID, order.Items[0].ID)
	rec := employee.do(t, http.MethodPatch, path, map[string]any{
		"returned_quantity": 3,
		"refund_reason":     "damaged packaging",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	returned := decodeOrder(t, rec)
	item := returned.Items[0]
	assert.Equal(t, 3, item.RefundedQty)
	assert.Equal(t, domain.ItemStatusPartiallyReturned, item.Status)
	assert.Equal(t, "damaged packaging", item.RefundReason)
	assert.NotNil(t, item.RefundedAt)
	assert.Equal(t, order.Version+1, returned.Version)
	assert.Equal(t, before+7, productStock(t, admin, 1))

	rec = employee.do(t, http.MethodPatch, path, map[string]any{
		"returned_quantity": 1,
		"refund_reason":     "second try",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, before+7, productStock(t, admin, 1))
}

func TestReturnRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	order := createTestOrder(t, admin, 5)
	path := fmt.Sprintf("/api/v1/orders/%d/items/%d/return", order.ID, order.Items[0].ID)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"fractional quantity", map[string]any{"returned_quantity": 2.5, "refund_reason": "x"}},
		{"non numeric quantity", map[string]any{"returned_quantity": "two", "refund_reason": "x"}},
		{"zero quantity", map[string]any{"returned_quantity": 0, "refund_reason": "x"}},
		{"exceeds ordered", map[string]any{"returned_quantity": 6, "refund_reason": "x"}},
		{"missing reason", map[string]any{"returned_quantity": 1, "refund_reason": "  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := admin.do(t, http.MethodPatch, path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := admin.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unchanged := decodeOrder(t, rec)
	assert.Equal(t, 0, unchanged.Items[0].RefundedQty)
	assert.Equal(t, domain.ItemStatusPending, unchanged.Items[0].Status)
	assert.Equal(t, order.Version, unchanged.Version)
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	employee := newSession(t, api, "employee", "employee123")
	order := createTestOrder(t, admin, 4)

	rec := admin.do(t, http.MethodGet, "/api/v1/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = admin.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/items/999/return", order.ID), map[string]any{
		"returned_quantity": 1, "refund_reason": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = admin.do(t, http.MethodGet, "/api/v1/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = employee.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/orders/%d", order.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = employee.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/status", order.ID), map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/status", order.ID), map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = admin.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/status", order.ID), map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderStatusCancelled, decodeOrder(t, rec).Status)

	rec = admin.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/items/%d/status", order.ID, order.Items[0].ID), map[string]any{"status": "received"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = admin.do(t, http.MethodPut, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReceiveItemCreditsStock(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	before := productStock(t, admin, 1)
	order := createTestOrder(t, admin, 6)

	rec := admin.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/items/%d/status", order.ID, order.Items[0].ID), map[string]any{"status": "received"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	received := decodeOrder(t, rec)
	assert.Equal(t, domain.ItemStatusReceived, received.Items[0].Status)
	assert.Equal(t, domain.OrderStatusCompleted, received.Status)
	assert.Equal(t, before+6, productStock(t, admin, 1))
}

func TestListOrdersFiltersAndStats(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	first := createTestOrder(t, admin, 2)
	createTestOrder(t, admin, 3)

	rec := admin.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/items/%d/status", first.ID, first.Items[0].ID), map[string]any{"status": "received"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = admin.do(t, http.MethodGet, "/api/v1/orders?status=ordered&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page domain.OrderPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 1, page.TotalItems)
	assert.Equal(t, 10, page.PageSize)
	require.Len(t, page.Orders, 1)
	assert.NotEqual(t, first.ID, page.Orders[0].ID)

	rec = admin.do(t, http.MethodGet, "/api/v1/orders?from=not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	today := time.Now().UTC().Format("2006-01-02")
	rec = admin.do(t, http.MethodGet, "/api/v1/orders?from="+today+"&to="+today+"&search=ward", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page = domain.OrderPage{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.TotalItems)

	rec = admin.do(t, http.MethodGet, "/api/v1/orders/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Stats domain.OrderStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Stats.TotalOrders)
	assert.Equal(t, 1, stats.Stats.CompletedOrders)
	assert.Equal(t, 1, stats.Stats.PendingItems)
}

func TestDeleteOrderAndAuditTrail(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	order := createTestOrder(t, admin, 2)

	rec := admin.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/orders/%d", order.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = admin.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = admin.do(t, http.MethodGet, "/api/v1/audit-logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload struct {
		AuditLogs []domain.AuditLog `json:"audit_logs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.NotEmpty(t, payload.AuditLogs)
	assert.Equal(t, "admin", payload.AuditLogs[0].ActorUsername)
}

func TestSupplierAndEmployeeAdministration(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	employee := newSession(t, api, "employee", "employee123")

	rec := employee.do(t, http.MethodPost, "/api/v1/suppliers", map[string]any{"name": "PT Baru"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(t, http.MethodPost, "/api/v1/suppliers", map[string]any{"name": "PT Baru", "phone": "021-555"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(t, http.MethodPost, "/api/v1/suppliers", map[string]any{"name": "PT Baru"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = admin.do(t, http.MethodPost, "/api/v1/users/employees", map[string]any{
		"username": "pharmacist",
		"password": "pharma-pass1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = employee.do(t, http.MethodGet, "/api/v1/users/employees", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
