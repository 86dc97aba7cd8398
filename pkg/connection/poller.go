package connection

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/providers"
)

const (
	// DefaultPollDelay is the wait between pairing code refreshes.
	DefaultPollDelay = 30 * time.Second
	// DefaultMaxAttempts bounds the refresh loop before forcing close.
	DefaultMaxAttempts = 3
)

// ProviderFactory resolves the adapter for a channel at poll time, so config
// changes between attempts are picked up.
type ProviderFactory func(channel *models.Channel) (providers.Provider, error)

// Poller refreshes pairing QR codes as a self-rescheduling deferred task.
// Attempt 1 expects the channel still closed; later attempts expect it still
// connecting. If the state moved on, the loop exits silently. After the
// attempt cap the channel is forced to close.
type Poller struct {
	manager     *Manager
	store       ChannelStore
	providerFor ProviderFactory
	logger      ectologger.Logger

	delay       time.Duration
	maxAttempts int

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

// NewPoller creates a QR poller. Zero delay or attempts fall back to the
// defaults.
func NewPoller(manager *Manager, store ChannelStore, providerFor ProviderFactory, logger ectologger.Logger, delay time.Duration, maxAttempts int) *Poller {
	if delay <= 0 {
		delay = DefaultPollDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{
		manager:     manager,
		store:       store,
		providerFor: providerFor,
		logger:      logger,
		delay:       delay,
		maxAttempts: maxAttempts,
		timers:      make(map[uuid.UUID]*time.Timer),
	}
}

// Start kicks off the pairing loop for a channel. Any loop already running
// for the channel is replaced.
func (p *Poller) Start(channelID uuid.UUID) {
	p.schedule(channelID, 1, 0)
}

// Stop cancels a pending poll for the channel, if any.
func (p *Poller) Stop(channelID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[channelID]; ok {
		timer.Stop()
		delete(p.timers, channelID)
	}
}

// StopAll cancels every pending poll. Used at shutdown.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
}

func (p *Poller) schedule(channelID uuid.UUID, attempt int, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.timers[channelID]; ok {
		existing.Stop()
	}
	p.timers[channelID] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, channelID)
		p.mu.Unlock()
		p.poll(context.Background(), channelID, attempt)
	})
}

func (p *Poller) poll(ctx context.Context, channelID uuid.UUID, attempt int) {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": channelID,
		"attempt":    attempt,
	})

	channel, err := p.store.GetChannel(ctx, channelID)
	if err != nil {
		metrics.PairingPollAttemptsTotal.WithLabelValues("error").Inc()
		log.WithError(err).Warnf("Pairing poll could not load channel")
		return
	}

	// The user may have completed pairing through another path.
	if channel.ConnectionState() == models.ConnectionOpen {
		metrics.PairingPollAttemptsTotal.WithLabelValues("already_open").Inc()
		log.Debugf("Pairing poll found channel already open")
		return
	}

	expected := models.ConnectionConnecting
	if attempt == 1 {
		expected = models.ConnectionClose
	}
	if channel.ConnectionState() != expected {
		metrics.PairingPollAttemptsTotal.WithLabelValues("state_moved").Inc()
		log.Debugf("Pairing poll expected state %s, found %s", expected, channel.ConnectionState())
		return
	}

	if attempt > p.maxAttempts {
		metrics.PairingPollAttemptsTotal.WithLabelValues("exhausted").Inc()
		log.Infof("Pairing attempts exhausted, forcing channel closed")
		if err := p.manager.Apply(ctx, channel, models.ProviderConnection{
			Connection: models.ConnectionClose,
			Error:      "pairing timed out",
		}); err != nil {
			log.WithError(err).Error("Failed to force channel closed")
		}
		return
	}

	provider, err := p.providerFor(channel)
	if err != nil {
		metrics.PairingPollAttemptsTotal.WithLabelValues("error").Inc()
		log.WithError(err).Error("Pairing poll could not build provider")
		return
	}

	conn, err := provider.Setup(ctx)
	if err != nil {
		metrics.PairingPollAttemptsTotal.WithLabelValues("error").Inc()
		log.WithError(err).Warnf("Pairing code fetch failed, forcing channel closed")
		if err := p.manager.Apply(ctx, channel, models.ProviderConnection{
			Connection: models.ConnectionClose,
			Error:      "pairing failed",
		}); err != nil {
			log.WithError(err).Error("Failed to force channel closed")
		}
		return
	}

	// Re-read immediately before writing: a connected callback may have
	// opened the channel while the fetch was in flight.
	fresh, err := p.store.GetChannel(ctx, channelID)
	if err != nil {
		metrics.PairingPollAttemptsTotal.WithLabelValues("error").Inc()
		log.WithError(err).Warnf("Pairing poll could not re-read channel before write")
		return
	}
	if fresh.ConnectionState() == models.ConnectionOpen {
		metrics.PairingPollAttemptsTotal.WithLabelValues("already_open").Inc()
		log.Debugf("Channel opened while fetching pairing code, keeping it")
		return
	}

	if err := p.manager.Apply(ctx, fresh, *conn); err != nil {
		metrics.PairingPollAttemptsTotal.WithLabelValues("error").Inc()
		log.WithError(err).Error("Failed to store pairing state")
		return
	}

	if conn.Connection == models.ConnectionOpen {
		metrics.PairingPollAttemptsTotal.WithLabelValues("connected").Inc()
		log.Infof("Channel paired")
		return
	}

	metrics.PairingPollAttemptsTotal.WithLabelValues("ok").Inc()
	p.schedule(channelID, attempt+1, p.delay)
}
