package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// RedisBus fans deltas out over Redis pub/sub, one channel per document:
// <prefix><documentID>.
type RedisBus struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBus wraps an existing client. Each bus gets its own instance id so
// it can skip its own messages.
func NewRedisBus(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBus {
	id := ksuid.New().String()
	return &RedisBus{
		client:     client,
		prefix:     prefix,
		instanceID: id,
		logger:     logger.With().Str("component", "bus").Str("instance_id", id).Logger(),
	}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, prefix string, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisBus(client, prefix, logger), nil
}

func (b *RedisBus) InstanceID() string {
	return b.instanceID
}

func (b *RedisBus) Publish(ctx context.Context, documentID string, payload []byte) error {
	data, err := json.Marshal(envelope{Origin: b.instanceID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+documentID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", documentID, err)
	}
	return nil
}

// Subscribe listens on every document channel until Close. It returns once the
// subscription is confirmed by the server.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return fmt.Errorf("bus already subscribed")
	}

	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	b.pubsub = pubsub
	b.done = make(chan struct{})

	go b.listen(ctx, pubsub.Channel(), handler, b.done)

	b.logger.Info().Str("pattern", b.prefix+"*").Msg("bus subscribed")
	return nil
}

func (b *RedisBus) listen(ctx context.Context, ch <-chan *redis.Message, handler Handler, done chan struct{}) {
	defer close(done)

	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable bus message")
			continue
		}
		if env.Origin == b.instanceID {
			continue
		}
		handler(ctx, Message{
			DocumentID: strings.TrimPrefix(msg.Channel, b.prefix),
			Origin:     env.Origin,
			Payload:    env.Payload,
		})
	}
}

// Close stops the subscription and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to close subscription")
		}
		<-done
	}
	return b.client.Close()
}
