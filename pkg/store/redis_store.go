package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const resubscribeDelay = time.Second

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures the Redis backed store.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	// ConfigureKeyspaceEvents issues CONFIG SET notify-keyspace-events Ex on connect.
	ConfigureKeyspaceEvents bool
}

// RedisStore implements KeyedStore on top of a Redis client and its expired
// keyevent notifications.
type RedisStore struct {
	opts   RedisOptions
	Logger zerolog.Logger

	mu      sync.RWMutex
	client  *redis.Client
	pubsubs map[*redis.PubSub]struct{}
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewRedisStore creates the client and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisStore, error) {
	s := &RedisStore{
		opts:    opts,
		Logger:  logger,
		pubsubs: make(map[*redis.PubSub]struct{}),
		closed:  make(chan struct{}),
	}
	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client; Reconnect reuses its options.
func NewRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	o := client.Options()
	return &RedisStore{
		opts: RedisOptions{
			Addr:        o.Addr,
			Password:    o.Password,
			DB:          o.DB,
			DialTimeout: o.DialTimeout,
		},
		Logger:  logger,
		client:  client,
		pubsubs: make(map[*redis.PubSub]struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *RedisStore) dial(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        s.opts.Addr,
		Password:    s.opts.Password,
		DB:          s.opts.DB,
		DialTimeout: s.opts.DialTimeout,
		Protocol:    2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping", err)
	}
	if s.opts.ConfigureKeyspaceEvents {
		if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
			s.Logger.Warn().Err(err).Msg("Failed to enable keyspace expiration events")
		}
	}
	return client, nil
}

// errClosed is reported by every call made after Close.
var errClosed = errors.New("store closed")

func (s *RedisStore) rdb() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// conn returns the live client or an unavailable error naming op once the
// store is closed.
func (s *RedisStore) conn(op string) (*redis.Client, error) {
	client := s.rdb()
	if client == nil {
		return nil, unavailable(op, errClosed)
	}
	return client, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	client, err := s.conn("get " + key)
	if err != nil {
		return "", false, err
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable("get "+key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	client, err := s.conn("set " + key)
	if err != nil {
		return err
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	client, err := s.conn("del")
	if err != nil {
		return err
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	client, err := s.conn("compare-and-delete " + key)
	if err != nil {
		return false, err
	}
	n, err := compareAndDelete.Run(ctx, client, []string{key}, value).Int64()
	if err != nil {
		return false, unavailable("compare-and-delete "+key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	client, err := s.conn("exists " + key)
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists "+key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	client, err := s.conn("ttl " + key)
	if err != nil {
		return 0, false, err
	}
	d, err := client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, unavailable("ttl "+key, err)
	}
	// go-redis reports the raw -2 (missing) and -1 (no expiry) replies unscaled.
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	}
	return d, true, nil
}

func (s *RedisStore) GetSet(ctx context.Context, key, value string) (string, bool, error) {
	client, err := s.conn("getset " + key)
	if err != nil {
		return "", false, err
	}
	prev, err := client.GetSet(ctx, key, value).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable("getset "+key, err)
	}
	return prev, true, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	client, err := s.conn("setnx " + key)
	if err != nil {
		return false, err
	}
	ok, err := client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx "+key, err)
	}
	return ok, nil
}

// ExpiredChannel is the keyevent channel Redis publishes expired key names on.
func (s *RedisStore) ExpiredChannel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", s.opts.DB)
}

// SubscribeExpirations listens on the expired keyevent channel until ctx is done.
// The subscription is re-established after Reconnect.
func (s *RedisStore) SubscribeExpirations(ctx context.Context, handler ExpirationHandler) error {
	ps, err := s.subscribe(ctx)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			for msg := range ps.Channel() {
				handler(ctx, msg.Payload)
			}
			s.untrack(ps)
			_ = ps.Close()

			if !s.wait(ctx) {
				return
			}

			for {
				ps, err = s.subscribe(ctx)
				if err == nil {
					break
				}
				s.Logger.Error().Err(err).Msg("Failed to resubscribe to key expirations")
				if !s.wait(ctx) {
					return
				}
			}
			s.Logger.Info().Str("channel", s.ExpiredChannel()).Msg("Resubscribed to key expirations")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		s.closePubSubs()
	}()

	return nil
}

// wait pauses before a resubscribe attempt and reports false once the
// subscription should end.
func (s *RedisStore) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	case <-time.After(resubscribeDelay):
		return true
	}
}

func (s *RedisStore) subscribe(ctx context.Context) (*redis.PubSub, error) {
	client, err := s.conn("subscribe")
	if err != nil {
		return nil, err
	}
	ps := client.Subscribe(ctx, s.ExpiredChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("subscribe", err)
	}
	s.mu.Lock()
	s.pubsubs[ps] = struct{}{}
	s.mu.Unlock()
	s.Logger.Debug().Str("channel", s.ExpiredChannel()).Msg("Subscribed to key expirations")
	return ps, nil
}

func (s *RedisStore) untrack(ps *redis.PubSub) {
	s.mu.Lock()
	delete(s.pubsubs, ps)
	s.mu.Unlock()
}

func (s *RedisStore) closePubSubs() {
	s.mu.Lock()
	pubsubs := s.pubsubs
	s.pubsubs = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()
	for ps := range pubsubs {
		_ = ps.Close()
	}
}

// Reconnect dials a fresh client, swaps it in and drops subscriptions so they
// re-attach to the new connection.
func (s *RedisStore) Reconnect(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.client
	if old == nil {
		s.mu.Unlock()
		_ = client.Close()
		return unavailable("reconnect", errClosed)
	}
	s.client = client
	s.mu.Unlock()

	s.closePubSubs()
	_ = old.Close()
	s.Logger.Info().Str("addr", s.opts.Addr).Msg("Reconnected to redis")
	return nil
}

func (s *RedisStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.closePubSubs()
		s.wg.Wait()

		s.mu.Lock()
		client := s.client
		s.client = nil
		s.mu.Unlock()
		if client != nil {
			err = client.Close()
		}
	})
	return err
}
