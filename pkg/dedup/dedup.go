// Package dedup suppresses concurrent and duplicate processing of inbound
// provider events. Each event acquires a short-TTL marker keyed by its
// provider message id before any work happens and releases it on every exit
// path; an existing marker means another delivery of the same event is in
// flight or already done.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// ErrAlreadyProcessing is returned when a marker for the event already exists.
var ErrAlreadyProcessing = errors.New("event is already being processed")

// DefaultTTL bounds how long a marker can outlive a crashed processor.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "dedup:msg:"

// Store is the expiring key-value abstraction backing the guard. The redis
// client satisfies it; tests inject an in-memory implementation.
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Guard provides scoped acquisition of per-event processing markers.
type Guard struct {
	store  Store
	ttl    time.Duration
	logger ectologger.Logger
}

// NewGuard creates a Guard over the given store.
func NewGuard(store Store, ttl time.Duration, logger ectologger.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Key builds the marker key for a provider message id scoped to a channel.
func Key(channelID uuid.UUID, sourceID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, channelID, sourceID)
}

// Held reports whether a marker for the event currently exists.
func (g *Guard) Held(ctx context.Context, key string) (bool, error) {
	return g.store.Exists(ctx, key)
}

// Acquire sets the marker for the event. It returns ErrAlreadyProcessing when
// the marker exists, and a release function that must be deferred so the
// marker is removed on every exit path.
func (g *Guard) Acquire(ctx context.Context, key string) (func(), error) {
	ok, err := g.store.SetNX(ctx, key, true, g.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyProcessing
	}

	g.logger.WithContext(ctx).Debugf("Acquired dedup marker: %s", key)

	release := func() {
		if err := g.store.Del(ctx, key); err != nil {
			// The TTL cleans up after us; losing the delete only widens the
			// duplicate-suppression window.
			g.logger.WithContext(ctx).WithError(err).Warnf("Failed to release dedup marker %s", key)
		}
	}
	return release, nil
}
