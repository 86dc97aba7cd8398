package webhooks

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/channel"
	"github.com/Ramsey-B/aster/pkg/connection"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/dedup"
	"github.com/Ramsey-B/aster/pkg/media"
	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/phone"
	"github.com/Ramsey-B/aster/pkg/repositories"
	"github.com/Ramsey-B/aster/pkg/status"
)

// Events publishes canonical message events after persistence.
type Events interface {
	PublishMessageCreated(ctx context.Context, tenantID string, msg *models.Message, provider models.ProviderKind) error
	PublishMessageStatusChanged(ctx context.Context, tenantID string, msg *models.Message, provider models.ProviderKind) error
}

// Pipeline is the shared inbound processing path all provider processors
// feed into.
type Pipeline struct {
	guard         *dedup.Guard
	messages      repositories.MessageRepo
	attachments   repositories.AttachmentRepo
	contacts      repositories.ContactRepo
	conversations repositories.ConversationRepo
	downloader    *media.Downloader
	facade        *channel.Facade
	manager       *connection.Manager
	events        Events
	logger        ectologger.Logger
}

// NewPipeline wires the shared inbound pipeline. events may be nil.
func NewPipeline(
	guard *dedup.Guard,
	messages repositories.MessageRepo,
	attachments repositories.AttachmentRepo,
	contacts repositories.ContactRepo,
	conversations repositories.ConversationRepo,
	downloader *media.Downloader,
	facade *channel.Facade,
	manager *connection.Manager,
	events Events,
	logger ectologger.Logger,
) *Pipeline {
	return &Pipeline{
		guard:         guard,
		messages:      messages,
		attachments:   attachments,
		contacts:      contacts,
		conversations: conversations,
		downloader:    downloader,
		facade:        facade,
		manager:       manager,
		events:        events,
		logger:        logger,
	}
}

// ProcessMessage runs one received-message event through the shared
// pipeline. Duplicates and out-of-scope chats are silent no-ops.
func (p *Pipeline) ProcessMessage(ctx context.Context, ch *models.Channel, ev *InboundMessage) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": ch.ID,
		"source_id":  ev.SourceID,
	})

	// Groups, broadcasts and newsletters are out of scope.
	if ev.ChatKind != ChatDirect && ev.ChatKind != "" {
		log.Debugf("Ignoring %s chat event", ev.ChatKind)
		return nil
	}

	if ev.IsEdit {
		return p.processEdit(ctx, ch, ev)
	}

	// Durable idempotence: a persisted message with this provider id means
	// the event was already fully processed.
	exists, err := p.messages.ExistsBySourceID(ctx, ch.ID, ev.SourceID)
	if err != nil {
		return err
	}
	if exists {
		metrics.RecordDedupSuppression(string(ch.Provider))
		log.Debugf("Message already persisted, skipping duplicate delivery")
		return nil
	}

	// Short-lived mutual exclusion against concurrent deliveries of the
	// same event. Released on every exit path.
	release, err := p.guard.Acquire(ctx, dedup.Key(ch.ID, ev.SourceID))
	if errors.Is(err, dedup.ErrAlreadyProcessing) {
		metrics.RecordDedupSuppression(string(ch.Provider))
		log.Debugf("Message is already being processed, skipping duplicate delivery")
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	contact, conversation, err := p.resolveContact(ctx, ch, ev)
	if err != nil {
		return err
	}

	msg, attachment := p.buildMessage(ctx, ch, conversation, contact, ev)

	// The message row and its attachment row land atomically. A message
	// persisted without its attachment would survive the provider retry
	// (the durable existence check suppresses it), so a failed attachment
	// insert must roll the message back.
	txCtx, tx, err := p.messages.DB().GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := p.messages.Create(txCtx, msg); err != nil {
		if errors.Is(err, repositories.ErrDuplicateSourceID) {
			metrics.RecordDedupSuppression(string(ch.Provider))
			log.Debugf("Message raced into existence, skipping duplicate delivery")
			return nil
		}
		return err
	}

	if attachment != nil {
		attachment.MessageID = msg.ID
		if err := p.attachments.Create(txCtx, attachment); err != nil {
			log.WithError(err).Error("Failed to persist attachment, rolling back message")
			return err
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		return err
	}
	metrics.RecordMessagePersisted(string(ch.Provider), string(msg.Direction))

	if msg.Incoming() {
		if err := p.facade.ReceivedMessages(ctx, ch, contact.PhoneNumber, []*models.Message{msg}); err != nil {
			log.WithError(err).Warnf("Failed to issue read receipts")
		}
	}

	p.publishCreated(ctx, ch, msg)
	return nil
}

// processEdit rewrites the original message's content, stashing the previous
// body in the attributes blob.
func (p *Pipeline) processEdit(ctx context.Context, ch *models.Channel, ev *InboundMessage) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": ch.ID,
		"source_id":  ev.SourceID,
	})

	original, err := p.messages.GetBySourceID(ctx, ch.ID, ev.SourceID)
	if err != nil {
		return err
	}
	if original == nil {
		log.Warnf("Edit event for unknown message, dropping")
		return nil
	}

	// Durable idempotence for edits: re-applying a delivered edit would
	// shift previous_content to the already-edited body, losing the
	// original text.
	if original.TextContent() == ev.Text {
		metrics.RecordDedupSuppression(string(ch.Provider))
		log.Debugf("Edit already applied, skipping duplicate delivery")
		return nil
	}

	release, err := p.guard.Acquire(ctx, editKey(ch.ID, ev))
	if errors.Is(err, dedup.ErrAlreadyProcessing) {
		metrics.RecordDedupSuppression(string(ch.Provider))
		log.Debugf("Edit is already being processed, skipping duplicate delivery")
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	return p.messages.UpdateContent(ctx, original, ev.Text)
}

// editKey scopes the dedup marker to this particular edit, so successive
// edits of the same message do not collide with each other.
func editKey(channelID uuid.UUID, ev *InboundMessage) string {
	sum := sha256.Sum256([]byte(ev.Text))
	return dedup.Key(channelID, fmt.Sprintf("%s:edit:%x", ev.SourceID, sum[:8]))
}

// resolveContact upserts the contact and inbox for the sender and returns
// the conversation messages attach to.
func (p *Pipeline) resolveContact(ctx context.Context, ch *models.Channel, ev *InboundMessage) (*models.Contact, *models.Conversation, error) {
	phoneNumber := phone.Normalize(ev.From)

	name := ev.SenderName
	// A verified business name outranks the push name.
	if ev.BusinessName != "" {
		name = ev.BusinessName
	}

	existing, err := p.contacts.GetByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, nil, err
	}

	var contact *models.Contact
	if existing != nil {
		contact = existing
		// Contacts created before their name was known carry the raw phone
		// number; replace it once a human name shows up.
		if name != "" && (contact.Name == contact.PhoneNumber || contact.Name == "") && contact.Name != name {
			if err := p.contacts.UpdateName(ctx, contact, name); err != nil {
				return nil, nil, err
			}
		}
	} else {
		if name == "" {
			name = phoneNumber
		}
		contact = &models.Contact{
			Name:        name,
			PhoneNumber: phoneNumber,
			Identifier:  ev.From,
		}
		if err := p.contacts.Upsert(ctx, contact); err != nil {
			return nil, nil, err
		}
	}

	p.maybeAttachAvatar(ctx, ch, contact, ev)

	inbox := &models.ContactInbox{
		ChannelID: ch.ID,
		ContactID: contact.ID,
		SourceID:  ev.From,
	}
	if err := p.contacts.UpsertInbox(ctx, inbox); err != nil {
		return nil, nil, err
	}

	conversation, err := p.conversations.GetOrCreate(ctx, ch.ID, inbox.ID)
	if err != nil {
		return nil, nil, err
	}
	return contact, conversation, nil
}

// maybeAttachAvatar fetches a profile picture only when the contact has none
// yet. Failures are logged and ignored.
func (p *Pipeline) maybeAttachAvatar(ctx context.Context, ch *models.Channel, contact *models.Contact, ev *InboundMessage) {
	if contact.HasAvatar() {
		return
	}

	avatarURL := ev.AvatarURL
	if avatarURL == "" {
		url, err := p.facade.ProfilePictureURL(ctx, ch, ev.From)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Debugf("Profile picture lookup failed for contact %s", contact.ID)
			return
		}
		avatarURL = url
	}
	if avatarURL == "" {
		return
	}

	if _, err := p.contacts.AttachAvatar(ctx, contact, avatarURL); err != nil {
		p.logger.WithContext(ctx).WithError(err).Debugf("Failed to attach avatar for contact %s", contact.ID)
	}
}

// buildMessage assembles the canonical message and, for media kinds, the
// attachment. A failed media download degrades the message to unsupported.
func (p *Pipeline) buildMessage(ctx context.Context, ch *models.Channel, conversation *models.Conversation, contact *models.Contact, ev *InboundMessage) (*models.Message, *models.Attachment) {
	content := ev.Text
	attrs := models.ContentAttributes{}

	switch ev.Kind {
	case KindReaction:
		attrs.IsReaction = true
		attrs.InReplyToExternalID = ev.TargetSourceID
		attrs.InReplyToFromMe = ev.TargetFromMe
	case KindContactCard:
		// Text already carries the vCard-derived "name: phone" summary.
	case KindUnsupported:
		attrs.IsUnsupported = true
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	msg := &models.Message{
		ChannelID:         ch.ID,
		ConversationID:    conversation.ID,
		SourceID:          ev.SourceID,
		Direction:         models.DirectionIncoming,
		Status:            models.StatusDelivered,
		SenderContactID:   &contact.ID,
		ExternalCreatedAt: ts,
	}
	if content != "" {
		msg.Content = &content
	}

	var attachment *models.Attachment
	if isMediaKind(ev.Kind) && ev.MediaURL == "" {
		// A media kind with no resolvable URL (a failed cloud media id
		// lookup, for example) is as undeliverable as a failed download.
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id": ch.ID,
			"source_id":  ev.SourceID,
		}).Warnf("Media message without a download URL, storing as unsupported")
		attrs.IsUnsupported = true
	}
	if isMediaKind(ev.Kind) && ev.MediaURL != "" {
		download, err := p.downloader.Fetch(ctx, ev.MediaURL, ev.MimeType, ev.MediaHeaders)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"channel_id": ch.ID,
				"source_id":  ev.SourceID,
			}).Warnf("Media download failed, storing message as unsupported")
			attrs.IsUnsupported = true
		} else {
			attachment = &models.Attachment{
				FileType:    download.FileType,
				DownloadURL: ev.MediaURL,
				MimeType:    download.MimeType,
				SizeBytes:   download.Size,
				Meta: database.JSONB[models.AttachmentMeta]{
					Data: models.AttachmentMeta{IsRecordedAudio: ev.IsVoiceNote},
				},
			}
		}
	}

	msg.ContentAttributes = database.JSONB[models.ContentAttributes]{Data: attrs}
	return msg, attachment
}

func isMediaKind(kind MessageKind) bool {
	switch kind {
	case KindImage, KindAudio, KindVideo, KindFile, KindSticker:
		return true
	}
	return false
}

// ProcessStatus applies one provider delivery/read receipt, consulting the
// transition guard. Rejected transitions are silent no-ops.
func (p *Pipeline) ProcessStatus(ctx context.Context, ch *models.Channel, ev *StatusEvent) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": ch.ID,
		"source_id":  ev.SourceID,
		"status":     ev.Status,
	})

	if !ev.Status.Valid() {
		log.Warnf("Unknown status label, dropping")
		return nil
	}

	msg, err := p.messages.GetBySourceID(ctx, ch.ID, ev.SourceID)
	if err != nil {
		return err
	}
	if msg == nil {
		log.Debugf("Status update for unknown message, dropping")
		return nil
	}

	if !status.Allowed(msg.Status, ev.Status) {
		metrics.RecordStatusUpdate(string(ch.Provider), "rejected")
		log.Debugf("Status transition %s -> %s rejected", msg.Status, ev.Status)
		return nil
	}
	if msg.Status == ev.Status {
		return nil
	}

	var externalError *string
	if ev.Status == models.StatusFailed && ev.Reason != "" {
		reason := ev.Reason
		externalError = &reason
	}

	if err := p.messages.UpdateStatus(ctx, msg, ev.Status, externalError); err != nil {
		return err
	}
	metrics.RecordStatusUpdate(string(ch.Provider), "applied")

	if p.events != nil {
		if err := p.events.PublishMessageStatusChanged(ctx, ch.TenantID.String(), msg, ch.Provider); err != nil {
			log.WithError(err).Warnf("Failed to publish status change event")
		}
	}
	return nil
}

func (p *Pipeline) publishCreated(ctx context.Context, ch *models.Channel, msg *models.Message) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishMessageCreated(ctx, ch.TenantID.String(), msg, ch.Provider); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish message created event")
	}
}

// ProcessConnection applies one provider connection/auth callback through
// the lifecycle manager.
func (p *Pipeline) ProcessConnection(ctx context.Context, ch *models.Channel, ev *ConnectionCallback) error {
	switch ev.State {
	case models.ConnectionOpen:
		provider, err := p.facade.ProviderFor(ch)
		if err != nil {
			return err
		}
		return p.manager.Connected(ctx, ch, provider, ev.Phone)
	case models.ConnectionConnecting:
		return p.manager.Connecting(ctx, ch, ev.QRDataURL)
	case models.ConnectionClose:
		return p.manager.Disconnected(ctx, ch, ev.Reason)
	default:
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id": ch.ID,
			"state":      ev.State,
		}).Warnf("Unknown connection state in callback, dropping")
		return nil
	}
}

// UnknownEvent logs and drops an unrecognized event type. Not an error by
// contract; providers add event types faster than we consume them.
func (p *Pipeline) UnknownEvent(ctx context.Context, ch *models.Channel, eventType string) error {
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": ch.ID,
		"event_type": eventType,
	}).Warnf("Unknown webhook event type, dropping")
	metrics.WebhookEventsTotal.WithLabelValues(string(ch.Provider), eventType, "unknown").Inc()
	return nil
}

// VerifyToken compares the provider-supplied verify token against the
// channel's stored secret. Nil means authenticated.
func VerifyToken(ch *models.Channel, token string) error {
	stored := ch.ProviderConfig.Data.WebhookToken
	if stored == "" || token != stored {
		return fmt.Errorf("webhook verify token mismatch for channel %s", ch.ID)
	}
	return nil
}
