package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/database"
)

// ProviderKind identifies which connectivity provider backs a channel.
type ProviderKind string

const (
	// ProviderBridge is the self-hosted multi-device bridge.
	ProviderBridge ProviderKind = "bridge"
	// ProviderGateway is the third-party cloud gateway.
	ProviderGateway ProviderKind = "gateway"
	// ProviderCloud is the official cloud API.
	ProviderCloud ProviderKind = "cloud"
	// ProviderDefault is the legacy fallback variant.
	ProviderDefault ProviderKind = "default"
)

// ConnectionState describes provider-session liveness.
type ConnectionState string

const (
	ConnectionClose      ConnectionState = "close"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
)

// ProviderConnection is the per-channel connection blob. It is always
// replaced wholesale; no caller may patch individual fields in place.
type ProviderConnection struct {
	Connection ConnectionState `json:"connection"`
	QRDataURL  string          `json:"qr_data_url,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ProviderConfig holds the provider-specific credentials and feature flags
// for a channel.
type ProviderConfig struct {
	BaseURL       string `json:"base_url,omitempty" validate:"omitempty,url"`
	APIKey        string `json:"api_key,omitempty"`
	InstanceID    string `json:"instance_id,omitempty"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	BusinessID    string `json:"business_account_id,omitempty"`
	WebhookToken  string `json:"webhook_verify_token,omitempty"`

	// MarkAsRead controls provider-side read receipts. Absence of the flag
	// means enabled.
	MarkAsRead *bool `json:"mark_as_read,omitempty"`
}

// MarkAsReadEnabled reports whether read receipts should be issued for the
// channel. Only an explicit false disables them.
func (c ProviderConfig) MarkAsReadEnabled() bool {
	return c.MarkAsRead == nil || *c.MarkAsRead
}

// Channel is one phone-number-bound provider configuration.
type Channel struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	TenantID    uuid.UUID    `db:"tenant_id" json:"tenant_id"`
	PhoneNumber string       `db:"phone_number" json:"phone_number"`
	Provider    ProviderKind `db:"provider" json:"provider"`

	ProviderConfig     database.JSONB[ProviderConfig]     `db:"provider_config" json:"provider_config"`
	ProviderConnection database.JSONB[ProviderConnection] `db:"provider_connection" json:"provider_connection"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Channel) TableName() string {
	return "channels"
}

// ConnectionState returns the current connection enum for the channel.
func (c *Channel) ConnectionState() ConnectionState {
	if c.ProviderConnection.Data.Connection == "" {
		return ConnectionClose
	}
	return c.ProviderConnection.Data.Connection
}

// PublicView is the channel representation exposed to non-administrative
// viewers: the connection enum only, never QR or provider error internals.
type PublicView struct {
	ID          uuid.UUID       `json:"id"`
	PhoneNumber string          `json:"phone_number"`
	Provider    ProviderKind    `json:"provider"`
	Connection  ConnectionState `json:"connection"`
}

// Public returns the non-administrative view of the channel.
func (c *Channel) Public() PublicView {
	return PublicView{
		ID:          c.ID,
		PhoneNumber: c.PhoneNumber,
		Provider:    c.Provider,
		Connection:  c.ConnectionState(),
	}
}
