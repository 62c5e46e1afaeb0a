// Package events defines the change notifications broadcast to subscribed
// clients and the socket frame that carries them.
package events

import (
	"context"
	"encoding/json"
	"sync"
)

type Type string

const (
	Added   Type = "added"
	Updated Type = "updated"
	Deleted Type = "deleted"
)

const (
	TopicOrders       = "order-updated"
	TopicInventory    = "inventory-updated"
	TopicTransactions = "transaction-updated"
	TopicSuppliers    = "supplier-updated"
)

// Topics lists every room a client may join.
var Topics = []string{TopicOrders, TopicInventory, TopicTransactions, TopicSuppliers}

func KnownTopic(topic string) bool {
	for _, t := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Message is a single change notification. Data carries the full entity for
// added and updated; for deleted only ID is meaningful. ID is left untyped on
// the wire because producers send it as a number or a string.
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   any             `json:"id,omitempty"`
}

func NewMessage(t Type, id any, entity any) (Message, error) {
	msg := Message{Type: t, ID: id}
	if entity != nil {
		raw, err := json.Marshal(entity)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

type Action string

const (
	ActionJoin   Action = "join"
	ActionLeave  Action = "leave"
	ActionJoined Action = "joined"
	ActionLeft   Action = "left"
	ActionEvent  Action = "event"
	ActionError  Action = "error"
)

// Frame is the socket wire format in both directions.
type Frame struct {
	Action  Action   `json:"action"`
	Topic   string   `json:"topic,omitempty"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

type PublisherFunc func(ctx context.Context, topic string, msg Message) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, msg Message) error {
	return f(ctx, topic, msg)
}

// Discard drops every message.
var Discard Publisher = PublisherFunc(func(context.Context, string, Message) error { return nil })

type Published struct {
	Topic   string
	Message Message
}

// Recorder keeps every published message in order. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Published
	Err      error
}

func (r *Recorder) Publish(_ context.Context, topic string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, Published{Topic: topic, Message: msg})
	return nil
}

func (r *Recorder) Messages() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Recorder) ByTopic(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.messages))
	for _, p := range r.messages {
		if p.Topic == topic {
			out = append(out, p.Message)
		}
	}
	return out
}

// Fanout publishes to every publisher and returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, msg Message) error {
	var firstErr error
	for _, p := range f {
		if err := p.Publish(ctx, topic, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
