// Package providers contains the per-vendor WhatsApp adapters. Each variant
// speaks one provider's wire protocol; callers go through the channel facade,
// which probes capabilities before dispatching.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ramsey-B/aster/pkg/models"
)

// Capability identifies one optional provider operation.
type Capability uint32

const (
	CapSend Capability = 1 << iota
	CapMarkRead
	CapUnread
	CapTyping
	CapPresence
	CapCheckRegistered
	CapProfilePicture
	CapPairing
	CapDisconnect
	CapTemplates
)

// CapabilitySet is a bitmask of supported capabilities.
type CapabilitySet uint32

// Supports reports whether the set contains the capability.
func (s CapabilitySet) Supports(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// ErrNotImplemented is returned by a variant for operations outside its
// capability set. The facade never calls such operations, so seeing this
// error means a caller skipped the capability probe.
var ErrNotImplemented = errors.New("operation not implemented for this provider")

// ErrProviderUnavailable wraps any transport-level or non-2xx provider
// failure. For the bridge variant it triggers the reconnect decorator.
var ErrProviderUnavailable = errors.New("provider unavailable")

// IsUnavailable reports whether err represents a provider outage.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

func unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProviderUnavailable, fmt.Sprintf(format, args...))
}

// Lookup is the result of a registered-number check.
type Lookup struct {
	Registered bool   `json:"registered"`
	Identifier string `json:"identifier,omitempty"`
}

// Provider is the operation set a WhatsApp vendor adapter may implement.
// Capabilities() declares which operations are real; the rest return
// ErrNotImplemented.
type Provider interface {
	Kind() models.ProviderKind
	Capabilities() CapabilitySet

	// Setup initiates (or re-initiates) the provider session and returns the
	// fresh connection blob, including QR data for pairing variants.
	Setup(ctx context.Context) (*models.ProviderConnection, error)
	// Teardown destroys the provider session.
	Teardown(ctx context.Context) error
	// ValidateConfig verifies the channel's provider config against the
	// vendor, without mutating session state.
	ValidateConfig(ctx context.Context) error
	// Disconnect logs the session out without destroying it.
	Disconnect(ctx context.Context) error

	// Send delivers one canonical message. Exactly one payload is chosen:
	// reaction, then first attachment, then text. Returns the provider
	// message id.
	Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error)
	MarkRead(ctx context.Context, phone string, msgs []*models.Message) error
	UnreadLast(ctx context.Context, phone string, msg *models.Message) error
	ToggleTyping(ctx context.Context, phone string, on bool) error
	UpdatePresence(ctx context.Context, status string) error
	CheckRegistered(ctx context.Context, phone string) (*Lookup, error)
	ProfilePictureURL(ctx context.Context, identifier string) (string, error)
}
