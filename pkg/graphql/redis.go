package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSourceConfig streams subscription events from a Redis pub/sub channel.
// Every message published on Channel becomes one event; JSON payloads are
// decoded, anything else is delivered as a string.
type RedisSourceConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `json:"addr" yaml:"addr"`
	// Password is the optional Redis password.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// DB selects the Redis database.
	DB int `json:"db,omitempty" yaml:"db,omitempty"`
	// Channel is the channel name; {{args.x}} references are substituted.
	Channel string `json:"channel" yaml:"channel"`
}

// ErrRedisChannelRequired indicates a Redis source without a channel.
var ErrRedisChannelRequired = errors.New("redis source requires a channel")

type redisPublisher struct {
	executor *Executor
	field    string
	config   *SubscriptionConfig
	args     map[string]interface{}
}

var _ Publisher = (*redisPublisher)(nil)

// Subscribe relays channel messages until ctx is done or the subscription
// is closed by the server.
func (p *redisPublisher) Subscribe(ctx context.Context, yield func(*GraphQLResponse) bool) error {
	src := p.config.Redis
	channel := substitute(src.Channel, p.args)
	if channel == "" {
		return ErrRedisChannelRequired
	}

	client := redis.NewClient(&redis.Options{
		Addr:     src.Addr,
		Password: src.Password,
		DB:       src.DB,
	})
	defer func() { _ = client.Close() }()

	pubsub := client.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	// Receive blocks until the subscription is confirmed, surfacing
	// connection errors before any event is expected.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			data := decodeRedisPayload(msg.Payload)
			keep, err := p.executor.matchFilter(p.config.Filter, p.args, data)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}

			if !yield(&GraphQLResponse{Data: map[string]interface{}{p.field: data}}) {
				return nil
			}
		}
	}
}

func decodeRedisPayload(payload string) interface{} {
	var data interface{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return payload
	}
	return data
}
