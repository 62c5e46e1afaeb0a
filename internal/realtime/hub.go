// Package realtime fans change notifications out to socket clients grouped in
// topic rooms, optionally relayed across instances through redis.
package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/events"
	"clinicstock/backend/internal/metrics"
	"clinicstock/backend/internal/xid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8 << 10
	sendBufferSize = 64
)

var ErrUnknownTopic = errors.New("unknown topic")

type TokenParser interface {
	ParseToken(token string) (domain.Actor, error)
}

type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	clients  map[*client]struct{}
	auth     TokenParser
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

type client struct {
	id     string
	actor  domain.Actor
	send   chan events.Frame
	closed chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.closed) })
}

func NewHub(auth TokenParser, allowedOrigin string, m *metrics.Metrics) *Hub {
	h := &Hub{
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
		auth:    auth,
		metrics: m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	return h
}

func (h *Hub) register(actor domain.Actor) *client {
	c := &client{
		id:     xid.New("ws"),
		actor:  actor,
		send:   make(chan events.Frame, sendBufferSize),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.SocketOpened()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for topic, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, topic)
		}
	}
	h.mu.Unlock()
	c.close()
	h.metrics.SocketClosed()
}

func (h *Hub) Join(c *client, topic string) error {
	if !events.KnownTopic(topic) {
		return ErrUnknownTopic
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return errors.New("client is not connected")
	}
	members, ok := h.rooms[topic]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[topic] = members
	}
	members[c] = struct{}{}
	return nil
}

func (h *Hub) Leave(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[topic]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, topic)
		}
	}
}

// Publish delivers msg to every client joined to topic. A client whose send
// buffer is full is disconnected rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, topic string, msg events.Message) error {
	frame := events.Frame{Action: events.ActionEvent, Topic: topic, Message: &msg}

	var slow []*client
	h.mu.RLock()
	for c := range h.rooms[topic] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("[realtime] WARN: dropping slow client %s (%s)", c.id, c.actor.Username)
		h.unregister(c)
	}
	return nil
}

// RoomSize reports how many clients are joined to topic.
func (h *Hub) RoomSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

func bearerToken(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ServeWS authenticates the request, upgrades it and serves join/leave frames
// until the socket closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	actor, err := h.auth.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[realtime] upgrade failed: %v", err)
		return
	}

	c := h.register(actor)
	go h.writePump(conn, c)
	h.readPump(conn, c)
}

func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.unregister(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame events.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[realtime] read error for %s: %v", c.id, err)
			}
			return
		}
		h.handleFrame(c, frame)
	}
}

func (h *Hub) handleFrame(c *client, frame events.Frame) {
	var reply events.Frame
	switch frame.Action {
	case events.ActionJoin:
		if err := h.Join(c, frame.Topic); err != nil {
			reply = events.Frame{Action: events.ActionError, Topic: frame.Topic, Error: err.Error()}
		} else {
			reply = events.Frame{Action: events.ActionJoined, Topic: frame.Topic}
		}
	case events.ActionLeave:
		h.Leave(c, frame.Topic)
		reply = events.Frame{Action: events.ActionLeft, Topic: frame.Topic}
	default:
		reply = events.Frame{Action: events.ActionError, Topic: frame.Topic, Error: "unsupported action"}
	}

	select {
	case c.send <- reply:
	case <-c.closed:
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
