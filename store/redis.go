package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript atomically checks and increments a fixed-window counter.
// KEYS[1] is the counter key, ARGV[1] the limit, ARGV[2] the window in milliseconds.
// Returns {count, pttl, allowed}.
var takeScript = redis.NewScript(`
local count = redis.call('GET', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if not count or ttl < 0 then
    redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
    return {1, tonumber(ARGV[2]), 1}
end
count = tonumber(count)
if count >= tonumber(ARGV[1]) then
    return {count, ttl, 0}
end
count = redis.call('INCR', KEYS[1])
return {count, ttl, 1}
`)

// Redis is a Redis-backed implementation of Store suitable for distributed deployments.
// Every instance sharing the same Redis and prefix enforces the same counters and blocklist.
//
// Key layout under the prefix:
//   - rl:<key>            rate limit counter
//   - blocked             set of blocked identifiers
//   - events:{<id>}:list  list of the most recent event messages
//   - events:{<id>}:meta  hash with the monotonic count and last event time
//
// The two event keys end in different suffixes, so no identifier can make
// one client's list collide with another client's hash.
type Redis struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// RedisConfig holds configuration for Redis connection.
// All fields should be populated explicitly by your application code. Never reads
// environment variables directly.
type RedisConfig struct {
	// URL is the Redis server address (e.g., "localhost:6379")
	URL string

	// Password for Redis authentication (optional)
	Password string

	// DB is the Redis database number (default: 0)
	DB int

	// Prefix is prepended to all keys (default: "chigate:")
	Prefix string

	// EventRetention is the TTL of idle event logs (default: DefaultEventRetention)
	EventRetention time.Duration

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes (default: ReadTimeout)
	WriteTimeout time.Duration
}

// NewRedis creates a Redis store with the given configuration.
// Validates the connection with a ping before returning.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = "chigate:"
	}
	if config.EventRetention <= 0 {
		config.EventRetention = DefaultEventRetention
	}

	opts := &redis.Options{
		Addr:     config.URL,
		Password: config.Password,
		DB:       config.DB,
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client:    client,
		prefix:    config.Prefix,
		retention: config.EventRetention,
	}, nil
}

// Take runs the check-and-increment script for key.
func (r *Redis) Take(ctx context.Context, key string, limit int64, window time.Duration) (Counter, bool, error) {
	result, err := takeScript.Run(ctx, r.client, []string{r.prefix + "rl:" + key}, limit, window.Milliseconds()).Slice()
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis take failed: %w", err)
	}
	if len(result) != 3 {
		return Counter{}, false, fmt.Errorf("unexpected result length: got %d, want 3", len(result))
	}

	count, ok := result[0].(int64)
	if !ok {
		return Counter{}, false, fmt.Errorf("unexpected type for count: %T", result[0])
	}
	ttlMillis, ok := result[1].(int64)
	if !ok {
		return Counter{}, false, fmt.Errorf("unexpected type for ttl: %T", result[1])
	}
	allowed, ok := result[2].(int64)
	if !ok {
		return Counter{}, false, fmt.Errorf("unexpected type for allowed: %T", result[2])
	}

	return Counter{
		Count:   count,
		ResetAt: time.Now().Add(time.Duration(ttlMillis) * time.Millisecond),
	}, allowed == 1, nil
}

func (r *Redis) IsBlocked(ctx context.Context, id string) (bool, error) {
	blocked, err := r.client.SIsMember(ctx, r.prefix+"blocked", id).Result()
	if err != nil {
		return false, fmt.Errorf("redis blocklist lookup failed: %w", err)
	}
	return blocked, nil
}

func (r *Redis) Block(ctx context.Context, id string) error {
	if err := r.client.SAdd(ctx, r.prefix+"blocked", id).Err(); err != nil {
		return fmt.Errorf("redis block failed: %w", err)
	}
	return nil
}

// ClearBlocked deletes the blocked set under the store prefix. Every instance
// sharing the prefix loses its bans, so give production and development
// deployments different prefixes.
func (r *Redis) ClearBlocked(ctx context.Context) error {
	if err := r.client.Del(ctx, r.prefix+"blocked").Err(); err != nil {
		return fmt.Errorf("redis clear blocklist failed: %w", err)
	}
	return nil
}

// RecordEvent appends, trims, and counts inside a MULTI/EXEC transaction.
func (r *Redis) RecordEvent(ctx context.Context, id, message string, at time.Time) (int64, error) {
	listKey, metaKey := r.eventKeys(id)

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, listKey, message)
		pipe.LTrim(ctx, listKey, -MaxEvents, -1)
		count = pipe.HIncrBy(ctx, metaKey, "count", 1)
		pipe.HSet(ctx, metaKey, "last", at.UnixMilli())
		pipe.PExpire(ctx, listKey, r.retention)
		pipe.PExpire(ctx, metaKey, r.retention)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis record event failed: %w", err)
	}
	return count.Val(), nil
}

func (r *Redis) Events(ctx context.Context, id string) (EventLog, error) {
	listKey, metaKey := r.eventKeys(id)

	events, err := r.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return EventLog{}, fmt.Errorf("redis events lookup failed: %w", err)
	}
	meta, err := r.client.HGetAll(ctx, metaKey).Result()
	if err != nil {
		return EventLog{}, fmt.Errorf("redis events lookup failed: %w", err)
	}
	if len(events) == 0 && len(meta) == 0 {
		return EventLog{}, nil
	}

	log := EventLog{Events: events}
	if v, ok := meta["count"]; ok {
		log.Count, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := meta["last"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			log.LastEventAt = time.UnixMilli(ms)
		}
	}
	return log, nil
}

func (r *Redis) eventKeys(id string) (list, meta string) {
	base := r.prefix + "events:{" + id + "}"
	return base + ":list", base + ":meta"
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
