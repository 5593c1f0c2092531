package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memorySubscription struct {
	ctx     context.Context
	handler ExpirationHandler
}

// MemoryStore is a single-process KeyedStore. Expired keys are removed and
// announced to subscribers by Sweep, which Start runs on an interval.
type MemoryStore struct {
	Now           func() time.Time
	SweepInterval time.Duration
	Logger        zerolog.Logger

	mu      sync.Mutex
	entries map[string]memoryEntry
	subs    []memorySubscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore(sweepInterval time.Duration, logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		Now:           time.Now,
		SweepInterval: sweepInterval,
		Logger:        logger,
		entries:       make(map[string]memoryEntry),
	}
}

// Start runs Sweep every SweepInterval.
func (s *MemoryStore) Start() error {
	if s.ctx != nil {
		return errors.New("memory store sweeper is already running")
	}
	if s.SweepInterval <= 0 {
		return errors.New("memory store sweep interval must be positive")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.ctx.Done():
				return
			}
		}
	}()

	s.Logger.Info().Dur("interval", s.SweepInterval).Msg("Memory store sweeper started")
	return nil
}

func (s *MemoryStore) Stop() error {
	if s.ctx == nil {
		return errors.New("memory store sweeper is not running")
	}
	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil
	return nil
}

// Sweep removes every expired key and notifies subscribers, returning the
// number of keys removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	now := s.Now()
	var expired []string
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			expired = append(expired, key)
		}
	}
	subs := append([]memorySubscription(nil), s.subs...)
	s.mu.Unlock()

	s.notify(subs, expired)
	return len(expired)
}

func (s *MemoryStore) notify(subs []memorySubscription, keys []string) {
	for _, key := range keys {
		for _, sub := range subs {
			if sub.ctx.Err() != nil {
				continue
			}
			sub.handler(sub.ctx, key)
		}
	}
}

// live returns the entry for key, treating expired entries as absent until
// Sweep announces them. Callers hold mu.
func (s *MemoryStore) live(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(now) {
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, s.Now())
	return e.value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, s.Now())
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key, s.Now())
	return ok, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	e, ok := s.live(key, now)
	if !ok {
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return 0, true, nil
	}
	return e.expiresAt.Sub(now), true, nil
}

// GetSet clears any TTL on key, matching Redis GETSET.
func (s *MemoryStore) GetSet(_ context.Context, key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.live(key, s.Now())
	s.entries[key] = memoryEntry{value: value}
	return prev.value, ok, nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key, s.Now()); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) SubscribeExpirations(ctx context.Context, handler ExpirationHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, memorySubscription{ctx: ctx, handler: handler})
	return nil
}

func (s *MemoryStore) Reconnect(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
	return nil
}
