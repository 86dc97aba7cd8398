package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is an external party resolved from a provider-supplied identifier.
type Contact struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name        string    `db:"name" json:"name"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	// Identifier is the provider-local id when it differs from the phone
	// number.
	Identifier string  `db:"identifier" json:"identifier,omitempty"`
	AvatarURL  *string `db:"avatar_url" json:"avatar_url,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Contact) TableName() string {
	return "contacts"
}

// HasAvatar reports whether an avatar has already been attached. Avatars are
// fetched once and never re-synced.
func (c *Contact) HasAvatar() bool {
	return c.AvatarURL != nil && *c.AvatarURL != ""
}

// ContactInbox links a contact to a channel by the provider-supplied source
// identifier. Resolution is an idempotent upsert keyed by (channel, source_id).
type ContactInbox struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	ChannelID uuid.UUID `db:"channel_id" json:"channel_id"`
	ContactID uuid.UUID `db:"contact_id" json:"contact_id"`
	SourceID  string    `db:"source_id" json:"source_id"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (ContactInbox) TableName() string {
	return "contact_inboxes"
}

// Conversation is the minimal conversation record messages attach to. One
// open conversation exists per contact inbox.
type Conversation struct {
	ID             uuid.UUID `db:"id" json:"id"`
	TenantID       uuid.UUID `db:"tenant_id" json:"tenant_id"`
	ChannelID      uuid.UUID `db:"channel_id" json:"channel_id"`
	ContactInboxID uuid.UUID `db:"contact_inbox_id" json:"contact_inbox_id"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Conversation) TableName() string {
	return "conversations"
}
