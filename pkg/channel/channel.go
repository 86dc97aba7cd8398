// Package channel is the single entry point for talking to a channel's
// provider. It resolves the adapter variant from channel configuration and
// applies provider-agnostic policy: capability probing before every dispatch
// and the mark-as-read feature flag.
package channel

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/connection"
	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/providers"
)

// Facade exposes the uniform channel operation set.
type Facade struct {
	client  *httpclient.Client
	manager *connection.Manager
	logger  ectologger.Logger
}

// NewFacade creates the channel facade.
func NewFacade(client *httpclient.Client, manager *connection.Manager, logger ectologger.Logger) *Facade {
	return &Facade{
		client:  client,
		manager: manager,
		logger:  logger,
	}
}

// ProviderFor resolves the adapter for a channel. Bridge channels get the
// reconnect decorator with forced state changes persisted through the
// lifecycle manager.
func (f *Facade) ProviderFor(ch *models.Channel) (providers.Provider, error) {
	var sink providers.ConnectionSink
	if f.manager != nil {
		sink = func(ctx context.Context, conn *models.ProviderConnection) {
			if err := f.manager.Apply(ctx, ch, *conn); err != nil {
				f.logger.WithContext(ctx).WithError(err).Warnf("Failed to persist forced connection state for channel %s", ch.ID)
			}
		}
	}
	return providers.FromChannel(ch, f.client, f.logger, sink)
}

// Send delivers one message and reflects the outcome on the message in
// place. Terminal conditions (oversized attachment, unsendable content) are
// absorbed here; only transient provider failures propagate, leaving the
// message pending for the caller to decide.
func (f *Facade) Send(ctx context.Context, ch *models.Channel, to string, msg *models.Message, attachments []models.Attachment) error {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return err
	}
	if !provider.Capabilities().Supports(providers.CapSend) {
		return providers.ErrNotImplemented
	}

	id, err := provider.Send(ctx, to, msg, attachments)

	var tooLarge *providers.AttachmentTooLargeError
	switch {
	case errors.As(err, &tooLarge):
		reason := tooLarge.Error()
		msg.Status = models.StatusFailed
		msg.ExternalError = &reason
		return nil
	case errors.Is(err, providers.ErrUnsupportedContent):
		msg.ContentAttributes.Data.IsUnsupported = true
		return nil
	case err != nil:
		return err
	}

	msg.SourceID = id
	msg.Status = models.StatusSent
	return nil
}

// ReceivedMessages issues provider-side read receipts for incoming messages.
// Skipped entirely when the channel disables mark-as-read or the provider
// cannot do it.
func (f *Facade) ReceivedMessages(ctx context.Context, ch *models.Channel, contactPhone string, msgs []*models.Message) error {
	if !ch.ProviderConfig.Data.MarkAsReadEnabled() {
		return nil
	}

	provider, err := f.ProviderFor(ch)
	if err != nil {
		return err
	}
	if !provider.Capabilities().Supports(providers.CapMarkRead) {
		return nil
	}

	incoming := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Incoming() {
			incoming = append(incoming, m)
		}
	}
	if len(incoming) == 0 {
		return nil
	}
	return provider.MarkRead(ctx, contactPhone, incoming)
}

// Setup initiates provider pairing for the channel.
func (f *Facade) Setup(ctx context.Context, ch *models.Channel) (*models.ProviderConnection, error) {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return nil, err
	}
	return provider.Setup(ctx)
}

// Teardown destroys the channel's provider session.
func (f *Facade) Teardown(ctx context.Context, ch *models.Channel) error {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return err
	}
	return provider.Teardown(ctx)
}

// ValidateConfig checks the channel's provider config against the vendor.
func (f *Facade) ValidateConfig(ctx context.Context, ch *models.Channel) error {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return err
	}
	return provider.ValidateConfig(ctx)
}

// ToggleTyping switches the composing indicator. No-op for providers that
// cannot do it.
func (f *Facade) ToggleTyping(ctx context.Context, ch *models.Channel, contactPhone string, on bool) error {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return err
	}
	if !provider.Capabilities().Supports(providers.CapTyping) {
		return nil
	}
	return provider.ToggleTyping(ctx, contactPhone, on)
}

// CheckRegistered looks up whether a number is on WhatsApp. Providers
// without lookup report unknown (nil result).
func (f *Facade) CheckRegistered(ctx context.Context, ch *models.Channel, phoneNumber string) (*providers.Lookup, error) {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return nil, err
	}
	if !provider.Capabilities().Supports(providers.CapCheckRegistered) {
		return nil, nil
	}
	return provider.CheckRegistered(ctx, phoneNumber)
}

// ProfilePictureURL returns a contact's avatar URL, or "" when the provider
// cannot fetch profiles.
func (f *Facade) ProfilePictureURL(ctx context.Context, ch *models.Channel, identifier string) (string, error) {
	provider, err := f.ProviderFor(ch)
	if err != nil {
		return "", err
	}
	if !provider.Capabilities().Supports(providers.CapProfilePicture) {
		return "", nil
	}
	return provider.ProfilePictureURL(ctx, identifier)
}
