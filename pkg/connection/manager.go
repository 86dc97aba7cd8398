// Package connection owns the per-channel connection lifecycle: state
// transitions driven by provider callbacks and the bounded QR polling loop.
// The connection blob is always replaced wholesale to keep the webhook path
// and the polling path from merging partial updates.
package connection

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/phone"
	"github.com/Ramsey-B/aster/pkg/providers"
)

// ChannelStore is the persistence surface the lifecycle needs.
type ChannelStore interface {
	GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	UpdateConnection(ctx context.Context, channelID uuid.UUID, conn models.ProviderConnection) error
}

// Events receives connection change notifications after persistence.
type Events interface {
	PublishConnectionChanged(ctx context.Context, tenantID string, channel *models.Channel) error
}

// Manager applies connection state transitions for channels.
type Manager struct {
	store  ChannelStore
	events Events
	logger ectologger.Logger
}

// NewManager creates a connection lifecycle manager. events may be nil.
func NewManager(store ChannelStore, events Events, logger ectologger.Logger) *Manager {
	return &Manager{
		store:  store,
		events: events,
		logger: logger,
	}
}

// Apply replaces the channel's connection blob and emits the change event.
// The in-memory channel is updated so callers see the new state.
func (m *Manager) Apply(ctx context.Context, channel *models.Channel, conn models.ProviderConnection) error {
	if err := m.store.UpdateConnection(ctx, channel.ID, conn); err != nil {
		return err
	}
	channel.ProviderConnection.Data = conn

	metrics.RecordConnectionTransition(string(channel.Provider), string(channel.ConnectionState()))
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": channel.ID,
		"state":      channel.ConnectionState(),
	}).Infof("Channel connection state changed")

	if m.events != nil {
		// Fire-and-forget: a lost event never blocks the transition.
		if err := m.events.PublishConnectionChanged(ctx, channel.TenantID.String(), channel); err != nil {
			m.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish connection change for channel %s", channel.ID)
		}
	}
	return nil
}

// Connected handles a provider "connected" callback. The reported phone
// number must match the channel's own; a mismatch forces close and logs the
// session out so the foreign number cannot keep using the channel.
func (m *Manager) Connected(ctx context.Context, channel *models.Channel, p providers.Provider, reportedPhone string) error {
	if reportedPhone != "" && !phone.Matches(channel.PhoneNumber, reportedPhone) {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id":     channel.ID,
			"reported_phone": reportedPhone,
		}).Warnf("Connected callback reported a different phone number, forcing close")

		if err := m.Apply(ctx, channel, models.ProviderConnection{
			Connection: models.ConnectionClose,
			Error:      "connected phone number does not match the channel",
		}); err != nil {
			return err
		}

		if p != nil && p.Capabilities().Supports(providers.CapDisconnect) {
			if err := p.Disconnect(ctx); err != nil {
				m.logger.WithContext(ctx).WithError(err).Warnf("Failed to disconnect mismatched session for channel %s", channel.ID)
			}
		}
		return nil
	}

	// Open clears any stale QR and error from earlier pairing attempts.
	return m.Apply(ctx, channel, models.ProviderConnection{Connection: models.ConnectionOpen})
}

// Disconnected handles a provider "disconnected" callback.
func (m *Manager) Disconnected(ctx context.Context, channel *models.Channel, reason string) error {
	return m.Apply(ctx, channel, models.ProviderConnection{
		Connection: models.ConnectionClose,
		Error:      reason,
	})
}

// Connecting records a pairing in progress with a fresh QR code.
func (m *Manager) Connecting(ctx context.Context, channel *models.Channel, qrDataURL string) error {
	return m.Apply(ctx, channel, models.ProviderConnection{
		Connection: models.ConnectionConnecting,
		QRDataURL:  qrDataURL,
	})
}
