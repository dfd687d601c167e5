package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyType namespaces the keys this service writes.
type KeyType string

const (
	ACTIVE_CALL KeyType = "callgw_active_call"
)

// RedisConfig holds connection settings for the Redis instance.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var ErrKeyNotExist = redis.Nil

// RedisServiceInterface is the subset of Redis operations the gateway uses.
type RedisServiceInterface interface {
	GenerateKey(keyType KeyType, identifier string) string
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key string, value string, ttl time.Duration) error
	DelValue(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string, handler func(string)) error
}

// RedisService is the go-redis backed implementation.
type RedisService struct {
	client *redis.Client
}

// NewRedisService connects to Redis and verifies the connection with a ping.
func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

// GenerateKey generates a Redis key with the given key type and identifier.
func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", string(keyType), identifier)
}

// GetValue gets a value from Redis by key.
func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetValue sets a value in Redis with TTL.
func (r *RedisService) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DelValue deletes a value from Redis by key.
func (r *RedisService) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Publish publishes a JSON-encoded message to a Redis channel.
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a Redis channel and handles incoming messages
// on a background goroutine.
func (r *RedisService) Subscribe(ctx context.Context, channel string, handler func(string)) error {
	pubsub := r.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for msg := range ch {
			handler(msg.Payload)
		}
	}()

	return nil
}
