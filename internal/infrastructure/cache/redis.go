package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/infrastructure/config"
)

// LastKnownStore keeps the most recent successful value per key for use when
// every provider is failing
type LastKnownStore interface {
	Put(ctx context.Context, key string, value interface{}) error
	// Get decodes the stored value into dest and reports whether one existed
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// redisStore implements LastKnownStore using go-redis
type redisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (LastKnownStore, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis successfully", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return &redisStore{
		client:    rdb,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.LastKnownTTL,
		logger:    logger,
	}, nil
}

func redisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// Put stores value as JSON, expiring after the configured ttl (zero keeps it forever)
func (r *redisStore) Put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, r.keyPrefix+key, data, r.ttl).Err()
}

// Get retrieves a value by key and unmarshals it into dest
func (r *redisStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get key '%s' from Redis: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to decode key '%s': %w", key, err)
	}
	return true, nil
}

// Ping checks the connection to Redis
func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *redisStore) Close() error {
	return r.client.Close()
}
