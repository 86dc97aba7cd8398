package providers

import (
	"context"
	"sync/atomic"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
)

// ConnectionSink receives the connection blob whenever the decorator forces a
// state change. Implementations persist it as a whole-blob replacement.
type ConnectionSink func(ctx context.Context, conn *models.ProviderConnection)

// Reconnecting wraps a provider so that any outbound operation failing with
// ErrProviderUnavailable triggers exactly one synchronous reconnect attempt
// followed by a single retry. The reconnecting flag keeps concurrent failures
// from stacking setup calls; losers of the race see the original error.
type Reconnecting struct {
	Provider
	logger       ectologger.Logger
	sink         ConnectionSink
	reconnecting atomic.Bool
}

// WithReconnect decorates p. sink may be nil when no persistence is wanted.
func WithReconnect(p Provider, logger ectologger.Logger, sink ConnectionSink) *Reconnecting {
	return &Reconnecting{
		Provider: p,
		logger:   logger,
		sink:     sink,
	}
}

// tryReconnect runs one setup attempt if no reconnect is already in flight.
// Returns true when the caller may retry its operation.
func (r *Reconnecting) tryReconnect(ctx context.Context) bool {
	if !r.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer r.reconnecting.Store(false)

	if r.sink != nil {
		r.sink(ctx, &models.ProviderConnection{Connection: models.ConnectionClose})
	}

	conn, err := r.Provider.Setup(ctx)
	if err != nil {
		metrics.ReconnectAttemptsTotal.WithLabelValues("error").Inc()
		r.logger.WithContext(ctx).WithError(err).Warn("Reconnect attempt failed")
		return false
	}

	metrics.ReconnectAttemptsTotal.WithLabelValues("ok").Inc()
	if r.sink != nil {
		r.sink(ctx, conn)
	}
	return conn.Connection == models.ConnectionOpen
}

func (r *Reconnecting) retryable(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !IsUnavailable(err) {
		return err
	}

	r.logger.WithContext(ctx).WithError(err).Warn("Provider unavailable, attempting reconnect")
	if !r.tryReconnect(ctx) {
		return err
	}

	if retryErr := op(); retryErr != nil {
		// The original outage is the error of record; the retry failure is
		// noted but never double-raised.
		r.logger.WithContext(ctx).WithError(retryErr).Warn("Retry after reconnect failed")
		return err
	}
	return nil
}

func (r *Reconnecting) Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error) {
	var id string
	err := r.retryable(ctx, func() error {
		var opErr error
		id, opErr = r.Provider.Send(ctx, phone, msg, attachments)
		return opErr
	})
	return id, err
}

func (r *Reconnecting) MarkRead(ctx context.Context, phone string, msgs []*models.Message) error {
	return r.retryable(ctx, func() error {
		return r.Provider.MarkRead(ctx, phone, msgs)
	})
}

func (r *Reconnecting) UnreadLast(ctx context.Context, phone string, msg *models.Message) error {
	return r.retryable(ctx, func() error {
		return r.Provider.UnreadLast(ctx, phone, msg)
	})
}

func (r *Reconnecting) ToggleTyping(ctx context.Context, phone string, on bool) error {
	return r.retryable(ctx, func() error {
		return r.Provider.ToggleTyping(ctx, phone, on)
	})
}

func (r *Reconnecting) UpdatePresence(ctx context.Context, status string) error {
	return r.retryable(ctx, func() error {
		return r.Provider.UpdatePresence(ctx, status)
	})
}
