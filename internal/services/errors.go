package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownDevice is returned when a device cannot be resolved from the catalog.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrMalformedPayload is returned for pending markers that cannot be decoded.
	ErrMalformedPayload = errors.New("malformed notification payload")
)

const reconnectTimeout = 5 * time.Second

// StoreRecovery asks the store client to reconnect after a transient failure,
// letting only one reconnect run at a time.
type StoreRecovery struct {
	store  store.KeyedStore
	logger zerolog.Logger
	busy   atomic.Bool
}

func NewStoreRecovery(st store.KeyedStore, logger zerolog.Logger) *StoreRecovery {
	return &StoreRecovery{store: st, logger: logger}
}

// Recover reconnects the store in the background when err marks it unavailable.
func (r *StoreRecovery) Recover(err error) {
	if !errors.Is(err, store.ErrUnavailable) {
		return
	}
	if !r.busy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.busy.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
		defer cancel()
		if err := r.store.Reconnect(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Failed to reconnect keyed store")
		}
	}()
}
