// Package webhooks normalizes provider webhook payloads into canonical
// messages, status transitions and connection changes. One processor exists
// per provider; each maps its event vocabulary onto the shared pipeline.
package webhooks

import (
	"time"

	"github.com/Ramsey-B/aster/pkg/models"
)

// MessageKind classifies an inbound message payload.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindAudio       MessageKind = "audio"
	KindVideo       MessageKind = "video"
	KindFile        MessageKind = "file"
	KindSticker     MessageKind = "sticker"
	KindReaction    MessageKind = "reaction"
	KindContactCard MessageKind = "contact"
	KindUnsupported MessageKind = "unsupported"
)

// ChatKind identifies what kind of chat an event belongs to. Only direct
// chats are processed.
type ChatKind string

const (
	ChatDirect     ChatKind = "direct"
	ChatGroup      ChatKind = "group"
	ChatBroadcast  ChatKind = "broadcast"
	ChatNewsletter ChatKind = "newsletter"
)

// InboundMessage is the provider-independent form of a received message,
// produced by the per-provider parsers.
type InboundMessage struct {
	SourceID string
	ChatKind ChatKind

	// Sender identity.
	From         string
	SenderName   string
	BusinessName string
	AvatarURL    string

	Kind MessageKind
	// Text holds the body, media caption, reaction emoji or vCard summary
	// depending on Kind.
	Text string

	// Media, when Kind is a media type. MediaHeaders carries provider auth
	// for URLs that are not pre-signed.
	MediaURL     string
	MediaHeaders map[string]string
	MimeType     string
	IsVoiceNote  bool

	// Reaction target.
	TargetSourceID string
	TargetFromMe   bool

	// Edit of a previously delivered message.
	IsEdit bool

	Timestamp time.Time
}

// StatusEvent is a provider delivery/read receipt mapped onto the canonical
// status ladder.
type StatusEvent struct {
	SourceID string
	Status   models.Status
	// Reason carries the provider's failure description for failed statuses.
	Reason string
}

// ConnectionCallback is a provider connection/auth event.
type ConnectionCallback struct {
	State models.ConnectionState
	// Phone is the number the provider reports as connected; it must match
	// the channel's own.
	Phone     string
	QRDataURL string
	Reason    string
}
