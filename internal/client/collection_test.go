package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/events"
	"clinicstock/backend/internal/httpapi"
	"clinicstock/backend/internal/realtime"
	"clinicstock/backend/internal/reconcile"
	"clinicstock/backend/internal/service"
	"clinicstock/backend/internal/store/memory"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
	calls  int
}

func (f *fakeOrders) fetch(context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Order, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeOrders) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func orderIDs(orders []domain.Order) []int64 {
	out := make([]int64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func orderEvent(t *testing.T, typ events.Type, o domain.Order) Notification {
	t.Helper()
	msg, err := events.NewMessage(typ, o.ID, o)
	require.NoError(t, err)
	return Notification{Topic: events.TopicOrders, Message: &msg}
}

func newOrderCollection(src *fakeOrders, page int, stats func(context.Context) error) *Collection[domain.Order] {
	return NewCollection(CollectionOptions[domain.Order]{
		Topic: events.TopicOrders,
		Match: reconcile.OrderFilter(domain.OrderQuery{Status: domain.OrderStatusOrdered}),
		ID:    reconcile.OrderID,
		Page:  page,
		Fetch: src.fetch,
		Stats: stats,
	})
}

func TestCollectionRemovesOrderLeavingFilter(t *testing.T) {
	src := &fakeOrders{orders: []domain.Order{
		{ID: 5, Status: domain.OrderStatusOrdered},
		{ID: 9, Status: domain.OrderStatusOrdered},
	}}
	var statsCalls atomic.Int32
	coll := newOrderCollection(src, 1, func(context.Context) error {
		statsCalls.Add(1)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, coll.Refresh(ctx))
	require.False(t, coll.Stale())

	require.NoError(t, coll.Handle(ctx, orderEvent(t, events.Updated, domain.Order{ID: 5, Status: domain.OrderStatusCompleted})))
	assert.Equal(t, []int64{9}, orderIDs(coll.Items()))
	assert.Equal(t, 1, src.fetchCalls())

	coll.WaitStats()
	assert.Positive(t, statsCalls.Load())
}

func TestCollectionCoalescesStatsRefreshes(t *testing.T) {
	src := &fakeOrders{orders: []domain.Order{{ID: 5, Status: domain.OrderStatusOrdered}}}
	release := make(chan struct{})
	var statsCalls atomic.Int32
	coll := newOrderCollection(src, 1, func(context.Context) error {
		statsCalls.Add(1)
		<-release
		return nil
	})
	ctx := context.Background()

	require.NoError(t, coll.Refresh(ctx))
	for id := int64(10); id < 13; id++ {
		require.NoError(t, coll.Handle(ctx, orderEvent(t, events.Added, domain.Order{ID: id, Status: domain.OrderStatusOrdered})))
	}
	assert.Equal(t, []int64{12, 11, 10, 5}, orderIDs(coll.Items()))

	time.Sleep(50 * time.Millisecond)
	close(release)
	coll.WaitStats()
	assert.Equal(t, int32(2), statsCalls.Load())
}

func TestCollectionStatsRerunAfterEventDuringRefresh(t *testing.T) {
	src := &fakeOrders{orders: []domain.Order{{ID: 5, Status: domain.OrderStatusOrdered}}}
	var serverVersion, seenVersion atomic.Int32
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var once sync.Once
	coll := newOrderCollection(src, 1, func(context.Context) error {
		v := serverVersion.Load()
		started <- struct{}{}
		once.Do(func() { <-release })
		seenVersion.Store(v)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, coll.Refresh(ctx))
	<-started

	serverVersion.Store(1)
	require.NoError(t, coll.Handle(ctx, orderEvent(t, events.Added, domain.Order{ID: 6, Status: domain.OrderStatusOrdered})))
	close(release)
	coll.WaitStats()

	assert.Equal(t, int32(1), seenVersion.Load())
}

func TestCollectionRefetchesWhenEventShiftsPage(t *testing.T) {
	src := &fakeOrders{orders: []domain.Order{{ID: 20, Status: domain.OrderStatusOrdered}}}
	coll := newOrderCollection(src, 2, nil)
	ctx := context.Background()
	require.NoError(t, coll.Refresh(ctx))

	src.mu.Lock()
	src.orders = []domain.Order{{ID: 19, Status: domain.OrderStatusOrdered}}
	src.mu.Unlock()

	require.NoError(t, coll.Handle(ctx, orderEvent(t, events.Added, domain.Order{ID: 31, Status: domain.OrderStatusOrdered})))
	assert.Equal(t, 2, src.fetchCalls())
	assert.Equal(t, []int64{19}, orderIDs(coll.Items()))

	require.NoError(t, coll.Handle(ctx, orderEvent(t, events.Added, domain.Order{ID: 32, Status: domain.OrderStatusCancelled})))
	assert.Equal(t, 2, src.fetchCalls())
}

func TestCollectionWaitsForLiveBeforeTrustingEvents(t *testing.T) {
	src := &fakeOrders{orders: []domain.Order{{ID: 5, Status: domain.OrderStatusOrdered}}}
	coll := newOrderCollection(src, 1, nil)
	ctx := context.Background()
	require.NoError(t, coll.Refresh(ctx))

	require.NoError(t, coll.Handle(ctx, Notification{State: StateDisconnected}))
	assert.True(t, coll.Stale())

	require.NoError(t, coll.Handle(ctx, orderEvent(t, events.Added, domain.Order{ID: 6, Status: domain.OrderStatusOrdered})))
	assert.Equal(t, []int64{5}, orderIDs(coll.Items()), "events are not folded into a stale view")

	require.NoError(t, coll.Handle(ctx, Notification{State: StateStale}))
	assert.Equal(t, 1, src.fetchCalls())

	src.mu.Lock()
	src.orders = []domain.Order{{ID: 6, Status: domain.OrderStatusOrdered}, {ID: 5, Status: domain.OrderStatusOrdered}}
	src.mu.Unlock()

	require.NoError(t, coll.Handle(ctx, Notification{State: StateLive}))
	assert.False(t, coll.Stale())
	assert.Equal(t, 2, src.fetchCalls())
	assert.Equal(t, []int64{6, 5}, orderIDs(coll.Items()))
}

func TestCollectionStaysStaleWhenRefetchFails(t *testing.T) {
	src := &fakeOrders{err: errors.New("backend down")}
	coll := newOrderCollection(src, 1, nil)

	err := coll.Handle(context.Background(), Notification{State: StateLive})
	assert.Error(t, err)
	assert.True(t, coll.Stale())
}

func TestCollectionRefetchesOnUndecodableEvent(t *testing.T) {
	src := &fakeOrders{orders: []domain.Order{{ID: 5, Status: domain.OrderStatusOrdered}}}
	coll := newOrderCollection(src, 1, nil)
	ctx := context.Background()
	require.NoError(t, coll.Refresh(ctx))

	bad := events.Message{Type: events.Updated}
	require.NoError(t, coll.Handle(ctx, Notification{Topic: events.TopicOrders, Message: &bad}))
	assert.Equal(t, 2, src.fetchCalls())
	assert.False(t, coll.Stale())
}

func TestCollectionFollowsLiveBackend(t *testing.T) {
	repo := memory.NewSeeded()
	auth := httpapi.NewAuthManager("collection-test-secret", time.Hour, repo)
	hub := realtime.NewHub(auth, "*", nil)
	defer hub.Close()
	svc := service.New(repo, service.Options{Publisher: hub})
	srv := httptest.NewServer(httpapi.New(svc, auth, "*").WithSocket(http.HandlerFunc(hub.ServeWS)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := New(srv.URL, fastOptions())
	_, err := cl.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	newOrder := func(receipt string) domain.Order {
		order, err := cl.CreateOrder(ctx, domain.OrderCreateRequest{
			SupplierID:    1,
			ReceiptNumber: receipt,
			Items:         []domain.OrderItemRequest{{ProductID: 3, Quantity: 4, UnitPrice: decimal.NewFromInt(8000)}},
		})
		require.NoError(t, err)
		return order
	}
	first := newOrder("INV-LIVE-1")

	query := domain.OrderQuery{Status: domain.OrderStatusOrdered}
	var stats atomic.Value
	coll := NewCollection(CollectionOptions[domain.Order]{
		Topic: events.TopicOrders,
		Match: reconcile.OrderFilter(query),
		ID:    reconcile.OrderID,
		Fetch: func(ctx context.Context) ([]domain.Order, error) {
			page, err := cl.ListOrders(ctx, query)
			return page.Orders, err
		},
		Stats: func(ctx context.Context) error {
			s, err := cl.OrderStats(ctx)
			if err == nil {
				stats.Store(s)
			}
			return err
		},
	})

	conn := NewConn("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", ConnOptions{Token: cl.Token})
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect()
	require.NoError(t, conn.Subscribe(ctx, events.TopicOrders))
	go func() { _ = coll.Run(ctx, conn.Notifications()) }()

	require.Eventually(t, func() bool {
		return !coll.Stale() && len(coll.Items()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, first.ID, coll.Items()[0].ID)

	second := newOrder("INV-LIVE-2")
	require.Eventually(t, func() bool {
		ids := orderIDs(coll.Items())
		return len(ids) == 2 && ids[0] == second.ID
	}, 3*time.Second, 10*time.Millisecond)

	_, err = cl.UpdateItemStatus(ctx, first.ID, first.Items[0].ID, domain.ItemStatusReceived)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids := orderIDs(coll.Items())
		return len(ids) == 1 && ids[0] == second.ID
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		s, ok := stats.Load().(domain.OrderStats)
		return ok && s.CompletedOrders == 1 && s.OrderedOrders == 1
	}, 3*time.Second, 10*time.Millisecond)
}
