package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/events"
)

var ErrAlreadyConnected = errors.New("connection already started")

type State int

const (
	StateDisconnected State = iota
	// StateStale means the socket is up but at least one join is not yet
	// acknowledged, so local views cannot be trusted.
	StateStale
	StateLive
)

func (s State) String() string {
	switch s {
	case StateStale:
		return "stale"
	case StateLive:
		return "live"
	default:
		return "disconnected"
	}
}

// Notification is one item of the ordered stream a Conn delivers: either a
// state change (Message nil) or an event received on Topic.
type Notification struct {
	State   State
	Topic   string
	Message *events.Message
}

type FrameConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (FrameConn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (FrameConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Op: "dial " + url, Err: err}
	}
	return conn, nil
}

type ConnOptions struct {
	Dialer            Dialer
	Token             func() string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Buffer            int
}

// Conn owns one realtime socket. It remembers the subscribed topics and joins
// all of them again after every reconnect.
type Conn struct {
	url   string
	opts  ConnOptions
	notes chan Notification

	mu      sync.Mutex
	state   State
	topics  map[string]struct{}
	pending map[string]struct{}
	rejects map[string]int
	current FrameConn
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

func NewConn(url string, opts ConnOptions) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 500 * time.Millisecond
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 15 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return &Conn{
		url:     url,
		opts:    opts,
		notes:   make(chan Notification, opts.Buffer),
		topics:  make(map[string]struct{}),
		pending: make(map[string]struct{}),
		rejects: make(map[string]int),
	}
}

func (c *Conn) Notifications() <-chan Notification {
	return c.notes
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials once and then keeps the connection alive in the background
// until Disconnect.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	started := c.cancel != nil
	c.mu.Unlock()
	if started {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(runCtx, conn, done)
	return nil
}

func (c *Conn) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Conn) Subscribe(ctx context.Context, topic string) error {
	if !events.KnownTopic(topic) {
		return fmt.Errorf("%w: unknown topic %q", domain.ErrValidation, topic)
	}

	c.mu.Lock()
	if _, ok := c.topics[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.topics[topic] = struct{}{}
	conn := c.current
	if conn != nil {
		c.pending[topic] = struct{}{}
	}
	c.mu.Unlock()
	c.refreshState(ctx)

	if conn != nil {
		if err := c.write(conn, events.Frame{Action: events.ActionJoin, Topic: topic}); err != nil {
			return &TransportError{Op: "join " + topic, Err: err}
		}
	}
	return nil
}

func (c *Conn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	if _, ok := c.topics[topic]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.topics, topic)
	delete(c.pending, topic)
	delete(c.rejects, topic)
	conn := c.current
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, events.Frame{Action: events.ActionLeave, Topic: topic}); err != nil {
			return &TransportError{Op: "leave " + topic, Err: err}
		}
	}
	c.refreshState(ctx)
	return nil
}

func (c *Conn) dial(ctx context.Context) (FrameConn, error) {
	header := http.Header{}
	if c.opts.Token != nil {
		if token := c.opts.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	return c.opts.Dialer.Dial(ctx, c.url, header)
}

func (c *Conn) run(ctx context.Context, conn FrameConn, done chan struct{}) {
	defer close(done)

	for {
		c.session(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		delay := c.opts.ReconnectDelay
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			next, err := c.dial(ctx)
			if err == nil {
				conn = next
				break
			}
			log.Printf("[client] reconnect failed: %v", err)
			delay *= 2
			if delay > c.opts.MaxReconnectDelay {
				delay = c.opts.MaxReconnectDelay
			}
		}
	}
}

// session serves one physical connection until it fails or ctx ends.
func (c *Conn) session(ctx context.Context, conn FrameConn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.mu.Lock()
	c.current = conn
	c.pending = make(map[string]struct{}, len(c.topics))
	c.rejects = make(map[string]int)
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		c.pending[topic] = struct{}{}
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	c.refreshState(ctx)

	healthy := true
	for _, topic := range topics {
		if err := c.write(conn, events.Frame{Action: events.ActionJoin, Topic: topic}); err != nil {
			log.Printf("[client] rejoin %s failed: %v", topic, err)
			healthy = false
			break
		}
	}

	for healthy {
		var frame events.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				log.Printf("[client] connection lost: %v", err)
			}
			break
		}
		c.handleFrame(ctx, frame)
	}

	c.mu.Lock()
	if c.current == conn {
		c.current = nil
	}
	c.mu.Unlock()
	conn.Close()
	c.refreshState(ctx)
}

func (c *Conn) handleFrame(ctx context.Context, frame events.Frame) {
	switch frame.Action {
	case events.ActionJoined:
		c.mu.Lock()
		delete(c.pending, frame.Topic)
		delete(c.rejects, frame.Topic)
		c.mu.Unlock()
		c.refreshState(ctx)
	case events.ActionEvent:
		if frame.Message == nil {
			return
		}
		c.mu.Lock()
		_, subscribed := c.topics[frame.Topic]
		c.mu.Unlock()
		if subscribed {
			c.emit(ctx, Notification{Topic: frame.Topic, Message: frame.Message})
		}
	case events.ActionError:
		log.Printf("[client] server error on %q: %s", frame.Topic, frame.Error)
		// A rejected join keeps the topic pending, so the connection stays
		// stale until a retried join is acknowledged.
		c.mu.Lock()
		_, waiting := c.pending[frame.Topic]
		conn := c.current
		delay := c.opts.ReconnectDelay
		if waiting {
			c.rejects[frame.Topic]++
			for i := 1; i < c.rejects[frame.Topic] && delay < c.opts.MaxReconnectDelay; i++ {
				delay *= 2
			}
			if delay > c.opts.MaxReconnectDelay {
				delay = c.opts.MaxReconnectDelay
			}
		}
		c.mu.Unlock()
		if waiting && conn != nil {
			c.retryJoin(ctx, conn, frame.Topic, delay)
		}
	}
}

func (c *Conn) retryJoin(ctx context.Context, conn FrameConn, topic string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		_, waiting := c.pending[topic]
		current := c.current == conn
		c.mu.Unlock()
		if !waiting || !current {
			return
		}
		if err := c.write(conn, events.Frame{Action: events.ActionJoin, Topic: topic}); err != nil {
			log.Printf("[client] retry join %s failed: %v", topic, err)
		}
	})
}

func (c *Conn) refreshState(ctx context.Context) {
	c.mu.Lock()
	next := StateLive
	switch {
	case c.current == nil:
		next = StateDisconnected
	case len(c.pending) > 0:
		next = StateStale
	}
	changed := next != c.state
	c.state = next
	c.mu.Unlock()

	if changed {
		c.emit(ctx, Notification{State: next})
	}
}

func (c *Conn) emit(ctx context.Context, n Notification) {
	select {
	case c.notes <- n:
	case <-ctx.Done():
	}
}

func (c *Conn) write(conn FrameConn, frame events.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}
