package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/presence-engine/internal/state_managers"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// staleEvictionWindows is how many liveness windows a mark may wait for its
// heartbeat tick before it is dropped.
const staleEvictionWindows = 2

// LivenessService tracks client pings per connection in a local TTL cache.
// A connection whose window elapses is marked for eviction; the transport
// terminates it on its next heartbeat tick.
type LivenessService struct {
	Window time.Duration
	Logger zerolog.Logger

	tickets   *ttlcache.Cache[string, struct{}]
	evictions *state_managers.EvictionSet

	mu       sync.RWMutex
	handlers []func(connID string)

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewLivenessService initializes a new LivenessService.
func NewLivenessService(window time.Duration, evictions *state_managers.EvictionSet, logger zerolog.Logger) *LivenessService {
	l := &LivenessService{
		Window:    window,
		Logger:    logger,
		evictions: evictions,
		tickets: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](window),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}

	l.tickets.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		if reason == ttlcache.EvictionReasonExpired {
			l.Expire(item.Key())
		}
	})
	return l
}

// Start launches the cache expiry loop and the pruning of stale eviction marks.
func (l *LivenessService) Start() error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel != nil {
		l.Logger.Warn().Msg("LivenessService is already running")
		return errors.New("liveness service is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.tickets.Start()
	}()
	go func() {
		defer l.wg.Done()
		l.pruneLoop(ctx)
	}()

	l.Logger.Info().Dur("window", l.Window).Msg("LivenessService started successfully")
	return nil
}

// Stop halts both loops.
func (l *LivenessService) Stop() error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel == nil {
		l.Logger.Warn().Msg("LivenessService is not running")
		return errors.New("liveness service is not running")
	}
	l.cancel()
	l.tickets.Stop()
	l.wg.Wait()
	l.cancel = nil

	l.Logger.Info().Msg("LivenessService stopped successfully")
	return nil
}

// pruneLoop drops marks no heartbeat tick consumed, such as marks for
// superseded connections served by another instance.
func (l *LivenessService) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(l.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.PruneEvictions(staleEvictionWindows * l.Window)
		}
	}
}

// PruneEvictions forgets marks older than maxAge and returns how many it dropped.
func (l *LivenessService) PruneEvictions(maxAge time.Duration) int {
	n := l.evictions.Prune(time.Now().Add(-maxAge))
	if n > 0 {
		l.Logger.Debug().Int("dropped", n).Msg("Pruned stale eviction marks")
	}
	return n
}

// Touch creates or refreshes the ticket of connID for a full window.
func (l *LivenessService) Touch(connID string) {
	l.tickets.Set(connID, struct{}{}, ttlcache.DefaultTTL)
}

// Forget drops all liveness state of a cleanly closed connection.
func (l *LivenessService) Forget(connID string) {
	l.tickets.Delete(connID)
	l.evictions.Forget(connID)
}

// Sweep expires overdue tickets immediately instead of waiting for the loop.
func (l *LivenessService) Sweep() {
	l.tickets.DeleteExpired()
}

// OnLivenessExpired registers fn to run whenever a ticket expires. Handlers
// run on the cache's goroutine and must not call back into the service.
func (l *LivenessService) OnLivenessExpired(fn func(connID string)) {
	l.mu.Lock()
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

// Expire marks connID for eviction and notifies handlers.
func (l *LivenessService) Expire(connID string) {
	if !l.evictions.Mark(connID) {
		return
	}
	l.Logger.Info().Str("connection_id", connID).Msg("Liveness window elapsed, connection marked for eviction")

	l.mu.RLock()
	handlers := append([]func(string){}, l.handlers...)
	l.mu.RUnlock()
	for _, fn := range handlers {
		fn(connID)
	}
}

// MarkForEviction schedules connID for termination on its next heartbeat tick.
func (l *LivenessService) MarkForEviction(connID string) {
	if l.evictions.Mark(connID) {
		l.Logger.Debug().Str("connection_id", connID).Msg("Connection marked for eviction")
	}
}

// TryConsumeEviction reports, at most once per mark, that connID must be terminated.
func (l *LivenessService) TryConsumeEviction(connID string) bool {
	return l.evictions.TryConsume(connID)
}

// PendingEvictions returns the number of connections awaiting termination.
func (l *LivenessService) PendingEvictions() int {
	return l.evictions.Len()
}

// Tracked reports whether connID has a live ticket.
func (l *LivenessService) Tracked(connID string) bool {
	return l.tickets.Has(connID)
}
