package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/events"
)

type staticTokens map[string]domain.Actor

func (s staticTokens) ParseToken(token string) (domain.Actor, error) {
	actor, ok := s[token]
	if !ok {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	return actor, nil
}

func newTestHub() *Hub {
	return NewHub(staticTokens{"good": {Username: "admin", Role: domain.RoleAdmin}}, "*", nil)
}

func TestPublishDeliversOnlyToJoinedRoom(t *testing.T) {
	h := newTestHub()
	orders := h.register(domain.Actor{Username: "a"})
	inventory := h.register(domain.Actor{Username: "b"})
	require.NoError(t, h.Join(orders, events.TopicOrders))
	require.NoError(t, h.Join(inventory, events.TopicInventory))

	require.NoError(t, h.Publish(context.Background(), events.TopicOrders, events.Message{Type: events.Deleted, ID: 3}))

	select {
	case frame := <-orders.send:
		assert.Equal(t, events.ActionEvent, frame.Action)
		assert.Equal(t, events.TopicOrders, frame.Topic)
		require.NotNil(t, frame.Message)
		assert.Equal(t, events.Deleted, frame.Message.Type)
	default:
		t.Fatal("expected order subscriber to receive the event")
	}
	assert.Empty(t, inventory.send, "inventory subscriber must not see order events")
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := newTestHub()
	c := h.register(domain.Actor{Username: "a"})
	require.NoError(t, h.Join(c, events.TopicOrders))
	h.Leave(c, events.TopicOrders)

	require.NoError(t, h.Publish(context.Background(), events.TopicOrders, events.Message{Type: events.Added}))
	assert.Empty(t, c.send)
	assert.Equal(t, 0, h.RoomSize(events.TopicOrders))
}

func TestJoinRejectsUnknownTopic(t *testing.T) {
	h := newTestHub()
	c := h.register(domain.Actor{Username: "a"})
	assert.ErrorIs(t, h.Join(c, "patients"), ErrUnknownTopic)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := newTestHub()
	c := h.register(domain.Actor{Username: "slow"})
	require.NoError(t, h.Join(c, events.TopicOrders))

	for range sendBufferSize + 1 {
		require.NoError(t, h.Publish(context.Background(), events.TopicOrders, events.Message{Type: events.Updated}))
	}

	select {
	case <-c.closed:
	default:
		t.Fatal("expected slow client to be disconnected")
	}
	assert.Equal(t, 0, h.RoomSize(events.TopicOrders))
}

func TestServeWSRejectsMissingOrInvalidToken(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSJoinThenReceiveEvent(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer good")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(events.Frame{Action: events.ActionJoin, Topic: events.TopicOrders}))
	var ack events.Frame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, events.ActionJoined, ack.Action)
	assert.Equal(t, events.TopicOrders, ack.Topic)

	msg, err := events.NewMessage(events.Added, 9, map[string]any{"id": 9})
	require.NoError(t, err)
	require.NoError(t, h.Publish(context.Background(), events.TopicOrders, msg))

	var got events.Frame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.ActionEvent, got.Action)
	require.NotNil(t, got.Message)
	assert.Equal(t, events.Added, got.Message.Type)
	assert.JSONEq(t, `{"id":9}`, string(got.Message.Data))

	require.NoError(t, conn.WriteJSON(events.Frame{Action: events.ActionJoin, Topic: "patients"}))
	var rejected events.Frame
	require.NoError(t, conn.ReadJSON(&rejected))
	assert.Equal(t, events.ActionError, rejected.Action)
}

func TestDecodeRelayedValidatesChannelAndType(t *testing.T) {
	topic, msg, err := decodeRelayed("clinic:events:", "clinic:events:order-updated", `{"type":"deleted","id":"12"}`)
	require.NoError(t, err)
	assert.Equal(t, events.TopicOrders, topic)
	assert.Equal(t, "12", msg.ID)

	_, _, err = decodeRelayed("clinic:events:", "other:order-updated", `{"type":"deleted"}`)
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, _, err = decodeRelayed("clinic:events:", "clinic:events:order-updated", `{"type":"renamed"}`)
	assert.Error(t, err)
}
