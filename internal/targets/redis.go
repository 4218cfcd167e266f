package targets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastBehaviorTTL = 24 * time.Hour

// RedisTarget publishes behavior payloads for one character on a Redis channel.
// A rendering process subscribed to the channel applies them.
type RedisTarget struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedisClient builds a client from a redis:// URL and verifies the connection
func NewRedisClient(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// constructor for RedisTarget; an empty channel defaults to DefaultChannel(key)
func NewRedisTarget(client *redis.Client, key, channel string) *RedisTarget {
	if channel == "" {
		channel = DefaultChannel(key)
	}
	return &RedisTarget{client: client, key: key, channel: channel}
}

// DefaultChannel is the channel name used when the registry file gives none
func DefaultChannel(key string) string {
	return "bml." + strings.ToLower(key)
}

// LastBehaviorKey is the hash holding the last behavior sent to a character
func LastBehaviorKey(key string) string {
	return fmt.Sprintf("bml:last:%s", key)
}

func (t *RedisTarget) Channel() string {
	return t.channel
}

// ApplyBehavior publishes the payload and records it as the character's last behavior
func (t *RedisTarget) ApplyBehavior(ctx context.Context, payload string) error {
	if t == nil || t.client == nil {
		// No-op when redis is not configured
		return nil
	}

	pipe := t.client.TxPipeline()
	pipe.Publish(ctx, t.channel, payload)
	pipe.HSet(ctx, LastBehaviorKey(t.key), map[string]any{
		"payload":    payload,
		"channel":    t.channel,
		"applied_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, LastBehaviorKey(t.key), lastBehaviorTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", t.channel, err)
	}
	return nil
}

// LastBehavior reads back what was last published for key. Empty when nothing was sent.
func LastBehavior(ctx context.Context, client *redis.Client, key string) (string, error) {
	if client == nil {
		return "", nil
	}
	fields, err := client.HGetAll(ctx, LastBehaviorKey(key)).Result()
	if err != nil {
		return "", err
	}
	return fields["payload"], nil
}
