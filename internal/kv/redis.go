package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ChangeChannel is the pub/sub channel carrying cross-context change notifications.
const ChangeChannel = "fineu:changes"

// RedisClient is the subset of pkg/redis clients used by the backend.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Redis stores keys in Redis and announces writes over pub/sub.
type Redis struct {
	client RedisClient
	log    *slog.Logger
	origin string
	prefix string
}

var (
	_ Backend = (*Redis)(nil)
	_ Watcher = (*Redis)(nil)
)

// NewRedis creates a Redis backend. prefix namespaces every key (may be empty).
func NewRedis(client RedisClient, prefix string, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}

	return &Redis{
		client: client,
		log:    log,
		origin: uuid.NewString(),
		prefix: prefix,
	}
}

// Origin identifies this execution context in published changes.
func (r *Redis) Origin() string {
	return r.origin
}

// Get returns the value stored under key or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.prefix+key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", ErrNotFound
		}
		r.log.Error("failed to get key from redis", slog.String("key", key), slog.Any("error", err))
		return "", fmt.Errorf("get %s from redis: %w", key, err)
	}
	return value, nil
}

// Set stores value without expiry and publishes the change.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0); err != nil {
		r.log.Error("failed to set key in redis", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("set %s in redis: %w", key, err)
	}
	r.publish(ctx, key)
	return nil
}

// Delete removes key and publishes the change.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Delete(ctx, r.prefix+key); err != nil {
		r.log.Error("failed to delete key in redis", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("delete %s from redis: %w", key, err)
	}
	r.publish(ctx, key)
	return nil
}

// Watch subscribes to changes published by other contexts.
func (r *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	pubsub := r.client.Subscribe(ctx, r.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", r.channel(), err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := pubsub.Close(); err != nil {
				r.log.Warn("failed to close change subscription", slog.Any("error", err))
			}
		}()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					r.log.Warn("ignoring malformed change notification", slog.String("payload", msg.Payload), slog.Any("error", err))
					continue
				}
				if change.Origin == r.origin {
					continue
				}

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Redis) publish(ctx context.Context, key string) {
	payload, err := json.Marshal(Change{Key: key, Origin: r.origin})
	if err != nil {
		return
	}
	// The write already landed; notification failures are logged only.
	if err := r.client.Publish(ctx, r.channel(), payload); err != nil {
		r.log.Warn("failed to publish change notification", slog.String("key", key), slog.Any("error", err))
	}
}

func (r *Redis) channel() string {
	return r.prefix + ChangeChannel
}
