package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"counterd/counter"
)

const DefaultKey = "counterd:counter"

// RedisConfig selects the Redis instance and key holding the counter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// stepScript applies INCR or DECR (ARGV[1]) unless the value already sits at
// the bound (ARGV[3]), re-seeding a missing key with ARGV[2] first. It returns
// the resulting value as a string plus 1 when the step saturated. Values stay
// strings on the Lua side: Lua numbers are doubles and cannot hold every int64.
var stepScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  v = ARGV[2]
  redis.call('SET', KEYS[1], v)
end
if v == ARGV[3] then
  return {v, 1}
end
redis.call(ARGV[1], KEYS[1])
return {redis.call('GET', KEYS[1]), 0}
`)

// readScript returns the value, re-seeding a missing key with ARGV[1].
var readScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
  return v
end
redis.call('SET', KEYS[1], ARGV[1])
return ARGV[1]
`)

var (
	maxValue = strconv.FormatInt(math.MaxInt64, 10)
	minValue = strconv.FormatInt(math.MinInt64, 10)
)

// RedisStore keeps the counter in a single Redis key so several counterd
// processes can share it. Every operation runs as one Lua script, so the
// store is linearizable without client-side locking, and a key that was
// evicted or deleted comes back at the configured initial value.
type RedisStore struct {
	client  *redis.Client
	key     string
	initial string
	logger  zerolog.Logger
}

var _ counter.Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and seeds the key with initial if it does
// not exist yet. If cfg.Addr is empty, returns nil (Redis is disabled).
func NewRedisStore(ctx context.Context, cfg RedisConfig, initial int64, logger zerolog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	store, err := newRedisStore(ctx, client, cfg.Key, initial, logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	store.logger.Info().Str("addr", cfg.Addr).Str("key", store.key).Msg("redis connected")
	return store, nil
}

func newRedisStore(ctx context.Context, client *redis.Client, key string, initial int64, logger zerolog.Logger) (*RedisStore, error) {
	if key == "" {
		key = DefaultKey
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	seeded, err := client.SetNX(ctx, key, initial, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("seed counter key %s: %w", key, err)
	}

	store := &RedisStore{
		client:  client,
		key:     key,
		initial: strconv.FormatInt(initial, 10),
		logger:  logger.With().Str("component", "storage").Logger(),
	}
	if !seeded {
		store.logger.Info().Str("key", key).Msg("reusing existing counter value")
	}
	return store, nil
}

func (r *RedisStore) Increment(ctx context.Context) (int64, error) {
	return r.step(ctx, "increment", "INCR", maxValue)
}

func (r *RedisStore) Decrement(ctx context.Context) (int64, error) {
	return r.step(ctx, "decrement", "DECR", minValue)
}

func (r *RedisStore) Read(ctx context.Context) (int64, error) {
	raw, err := readScript.Run(ctx, r.client, []string{r.key}, r.initial).Text()
	if err != nil {
		return 0, fmt.Errorf("failed to read counter from redis: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter from redis: %w", err)
	}
	return v, nil
}

// step runs stepScript. At the bound the value is left unchanged and the
// bound is reported, matching the in-memory counter's saturation.
func (r *RedisStore) step(ctx context.Context, op, cmd, bound string) (int64, error) {
	res, err := stepScript.Run(ctx, r.client, []string{r.key}, cmd, r.initial, bound).Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to %s counter in redis: %w", op, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("failed to %s counter in redis: unexpected reply %v", op, res)
	}
	raw, _ := res[0].(string)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to %s counter in redis: %w", op, err)
	}
	if saturated, _ := res[1].(int64); saturated == 1 {
		r.logger.Warn().Str("operation", op).Int64("value", v).Msg("counter saturated")
	}
	return v, nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
