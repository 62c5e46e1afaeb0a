package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateRegisteredCollectors(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(http.MethodGet, "/api/v1/orders", http.StatusOK, 12*time.Millisecond)
	m.RecordReturn("ok")
	m.RecordReturn("ok")
	m.RecordStockCredit(7)
	m.RecordStockCredit(-1)
	m.SocketOpened()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/orders", "200")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReturnsProcessed.WithLabelValues("ok")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.StockCredited))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SocketConnections))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_stock_credited_units_total 7"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.RecordEventPublished("order-updated", "added", true)
	m.SocketOpened()
	m.SocketClosed()
	m.RecordReturn("rejected")
	m.RecordStockCredit(3)
}
