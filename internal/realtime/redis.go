package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"clinicstock/backend/internal/events"
)

// RedisPublisher publishes every message on the channel <prefix><topic> so all
// instances running a Relay receive it.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, msg events.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.prefix+topic, payload).Err()
}

// Relay feeds messages from redis into a local publisher, normally the Hub.
type Relay struct {
	client *redis.Client
	prefix string
	local  events.Publisher
}

func NewRelay(client *redis.Client, prefix string, local events.Publisher) *Relay {
	return &Relay{client: client, prefix: prefix, local: local}
}

// Run blocks until ctx is cancelled or the subscription channel closes.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", r.prefix, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			topic, msg, err := decodeRelayed(r.prefix, m.Channel, m.Payload)
			if err != nil {
				log.Printf("[realtime] WARN: dropping relayed message on %s: %v", m.Channel, err)
				continue
			}
			if err := r.local.Publish(ctx, topic, msg); err != nil {
				log.Printf("[realtime] WARN: local publish on %s failed: %v", topic, err)
			}
		}
	}
}

func decodeRelayed(prefix string, channel string, payload string) (string, events.Message, error) {
	topic, ok := strings.CutPrefix(channel, prefix)
	if !ok || !events.KnownTopic(topic) {
		return "", events.Message{}, ErrUnknownTopic
	}
	var msg events.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", events.Message{}, err
	}
	switch msg.Type {
	case events.Added, events.Updated, events.Deleted:
	default:
		return "", events.Message{}, fmt.Errorf("unknown event type %q", msg.Type)
	}
	return topic, msg, nil
}
