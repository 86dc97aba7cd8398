package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/database"
)

// Direction indicates whether a message was received from or sent to the
// provider.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ContentAttributes carries the provider-independent message annotations.
type ContentAttributes struct {
	IsReaction          bool   `json:"is_reaction,omitempty"`
	InReplyToExternalID string `json:"in_reply_to_external_id,omitempty"`
	// InReplyToFromMe records whether the referenced message was sent by
	// this channel. Reaction payloads need it to address the target key.
	InReplyToFromMe bool `json:"in_reply_to_from_me,omitempty"`

	IsUnsupported   bool   `json:"is_unsupported,omitempty"`
	IsEdited        bool   `json:"is_edited,omitempty"`
	PreviousContent string `json:"previous_content,omitempty"`
}

// Message is the canonical, provider-independent representation of one
// WhatsApp message.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	TenantID       uuid.UUID `db:"tenant_id" json:"tenant_id"`
	ChannelID      uuid.UUID `db:"channel_id" json:"channel_id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`

	// SourceID is the provider message id, unique per channel.
	SourceID  string    `db:"source_id" json:"source_id"`
	Direction Direction `db:"direction" json:"direction"`
	Content   *string   `db:"content" json:"content,omitempty"`

	Status Status `db:"status" json:"status"`
	// ExternalError holds a human-readable failure description shown to
	// agents when Status is failed.
	ExternalError *string `db:"external_error" json:"external_error,omitempty"`

	ContentAttributes database.JSONB[ContentAttributes] `db:"content_attributes" json:"content_attributes"`

	SenderContactID   *uuid.UUID `db:"sender_contact_id" json:"sender_contact_id,omitempty"`
	ExternalCreatedAt time.Time  `db:"external_created_at" json:"external_created_at"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Message) TableName() string {
	return "messages"
}

// Incoming reports whether the message was received from the provider.
func (m *Message) Incoming() bool {
	return m.Direction == DirectionIncoming
}

// TextContent returns the message content or "" when unset.
func (m *Message) TextContent() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
