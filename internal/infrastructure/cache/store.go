// Package cache wraps Redis behind a Store that never fails its callers: when
// Redis is unreachable reads return empty values and writes return false.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-api-notify/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	reconnectStep = 50 * time.Millisecond
	reconnectCap  = 2 * time.Second
)

// Options configures a Store. Zero values fall back to sane defaults.
type Options struct {
	Addr           string
	Password       string
	DB             int
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// PingTimeout bounds the single ping a reconnect attempt makes.
	PingTimeout time.Duration
	Logger      *slog.Logger
}

// OptionsFromConfig maps process configuration onto Store options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		PingTimeout: cfg.CachePingTimeout,
	}
}

// Store is the process-wide cache connection. It is safe for concurrent use;
// construct one and pass it to every consumer.
type Store struct {
	client *redis.Client
	logger *slog.Logger

	pingTimeout    time.Duration
	commandTimeout time.Duration

	mu          sync.Mutex
	connected   bool
	connecting  bool
	attempt     int
	nextAttempt time.Time
	cooldown    backoff.BackOff
}

// New creates a Store. It does not dial: the first operation connects lazily.
func New(opts Options) *Store {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 2 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:                  opts.Addr,
		Password:              opts.Password,
		DB:                    opts.DB,
		DialTimeout:           opts.DialTimeout,
		ReadTimeout:           opts.CommandTimeout,
		WriteTimeout:          opts.CommandTimeout,
		ContextTimeoutEnabled: true,
		MaxRetries:            1,
	})
	return &Store{
		client:         client,
		logger:         opts.Logger.With("component", "cache"),
		pingTimeout:    opts.PingTimeout,
		commandTimeout: opts.CommandTimeout,
		cooldown:       newCooldown(),
	}
}

// newCooldown yields the wait after each consecutive failed attempt:
// 50ms doubling up to 2s, without jitter.
func newCooldown() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     reconnectStep,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         reconnectCap,
	}
}

// getClient returns a live client. When the store is marked down exactly one
// caller pings; everyone else, and every caller inside the cool-down window,
// gets nil without waiting.
func (s *Store) getClient(ctx context.Context) *redis.Client {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return s.client
	}
	if s.connecting || time.Now().Before(s.nextAttempt) {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	attempt := s.attempt
	s.mu.Unlock()

	if attempt == 0 {
		s.logger.Info("cache connecting")
	} else {
		s.logger.Info("cache reconnecting", "attempt", attempt)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pingTimeout)
	err := s.client.Ping(pctx).Err()
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	if err != nil {
		s.attempt++
		s.nextAttempt = time.Now().Add(s.cooldown.NextBackOff())
		s.logger.Warn("cache error", "err", err, "attempt", s.attempt)
		return nil
	}

	s.connected = true
	s.attempt = 0
	s.nextAttempt = time.Time{}
	s.cooldown.Reset()
	s.logger.Info("cache ready")
	return s.client
}

// observe inspects an operation error and marks the store down when the
// failure is at the connection level rather than a server reply.
func (s *Store) observe(err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		s.logger.Warn("cache error", "err", err)
		return
	}
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if wasConnected {
		s.logger.Warn("cache disconnected", "err", err)
	}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.commandTimeout)
}

// IsConnected reports the last known connection state without dialing.
func (s *Store) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Ping forces a connection attempt and reports whether the store is reachable.
func (s *Store) Ping(ctx context.Context) bool {
	return s.getClient(ctx) != nil
}

// Get returns the value stored at key; ok is false on a miss or when the
// store is unreachable.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	c := s.getClient(ctx)
	if c == nil {
		return "", false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	v, err := c.Get(ctx, key).Result()
	if err != nil {
		s.observe(err)
		return "", false
	}
	return v, true
}

// Set stores value under key. A ttl of zero means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	c := s.getClient(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
		s.observe(err)
		return false
	}
	return true
}

// GetJSON decodes the value at key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Warn("cache decode failed", "key", key, "err", err)
		return false
	}
	return true
}

// SetJSON encodes v as JSON and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "err", err)
		return false
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// Del removes key. It reports whether the command reached the store.
func (s *Store) Del(ctx context.Context, key string) bool {
	c := s.getClient(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := c.Del(ctx, key).Err(); err != nil {
		s.observe(err)
		return false
	}
	return true
}

func (s *Store) Exists(ctx context.Context, key string) bool {
	c := s.getClient(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := c.Exists(ctx, key).Result()
	if err != nil {
		s.observe(err)
		return false
	}
	return n > 0
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	c := s.getClient(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	ok, err := c.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.observe(err)
		return false
	}
	return ok
}

// TTL returns the remaining lifetime of key in seconds, or -1 when the key is
// missing, has no expiry, or the store is unreachable.
func (s *Store) TTL(ctx context.Context, key string) int64 {
	c := s.getClient(ctx)
	if c == nil {
		return -1
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	d, err := c.TTL(ctx, key).Result()
	if err != nil {
		s.observe(err)
		return -1
	}
	if d < 0 {
		return -1
	}
	return int64(d / time.Second)
}

// Keys lists keys matching a glob pattern.
func (s *Store) Keys(ctx context.Context, pattern string) []string {
	c := s.getClient(ctx)
	if c == nil {
		return []string{}
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	keys, err := c.Keys(ctx, pattern).Result()
	if err != nil {
		s.observe(err)
		return []string{}
	}
	return keys
}

// DelPattern scans for keys matching pattern and deletes them one by one,
// returning how many were actually removed. It is not atomic: a key written
// while the scan runs may survive until its TTL expires.
func (s *Store) DelPattern(ctx context.Context, pattern string) int {
	c := s.getClient(ctx)
	if c == nil {
		return 0
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	removed := 0
	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.Del(ctx, iter.Val()).Result()
		if err != nil {
			s.observe(err)
			return removed
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		s.observe(err)
	}
	return removed
}

// IncrWithExpire increments the counter at key and starts its expiry window
// on first use, in one MULTI/EXEC. Later increments never move the window.
// ok is false when the store is unreachable.
func (s *Store) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, bool) {
	c := s.getClient(ctx)
	if c == nil {
		return 0, false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var incr *redis.IntCmd
	_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		s.observe(err)
		return 0, false
	}
	return incr.Val(), true
}

// Decr undoes one IncrWithExpire increment.
func (s *Store) Decr(ctx context.Context, key string) bool {
	c := s.getClient(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := c.Decr(ctx, key).Err(); err != nil {
		s.observe(err)
		return false
	}
	return true
}

// Publish sends message on a pub/sub channel. Delivery is at-most-once.
func (s *Store) Publish(ctx context.Context, channel string, message []byte) bool {
	c := s.getClient(ctx)
	if c == nil {
		return false
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := c.Publish(ctx, channel, message).Err(); err != nil {
		s.observe(err)
		return false
	}
	return true
}

// PSubscribe opens a pattern subscription. It returns nil when the store is
// unreachable; the caller owns closing the returned PubSub.
func (s *Store) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c := s.getClient(ctx)
	if c == nil {
		return nil
	}
	return c.PSubscribe(ctx, patterns...)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.logger.Info("cache disconnected", "reason", "closed")
	return s.client.Close()
}
