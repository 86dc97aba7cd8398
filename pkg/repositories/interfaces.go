package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
)

// ChannelRepo defines the interface for channel repository operations
type ChannelRepo interface {
	Create(ctx context.Context, channel *models.Channel) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetByIDUnscoped(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	List(ctx context.Context) ([]models.Channel, error)
	UpdateConfig(ctx context.Context, channel *models.Channel) error
	UpdateConnection(ctx context.Context, channelID uuid.UUID, conn models.ProviderConnection) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageRepo defines the interface for message repository operations
type MessageRepo interface {
	DB() database.DB
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetBySourceID(ctx context.Context, channelID uuid.UUID, sourceID string) (*models.Message, error)
	ExistsBySourceID(ctx context.Context, channelID uuid.UUID, sourceID string) (bool, error)
	UpdateStatus(ctx context.Context, message *models.Message, status models.Status, externalError *string) error
	UpdateContent(ctx context.Context, message *models.Message, newContent string) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
}

// AttachmentRepo defines the interface for attachment repository operations
type AttachmentRepo interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.Attachment, error)
}

// ContactRepo defines the interface for contact repository operations
type ContactRepo interface {
	GetByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error)
	GetContact(ctx context.Context, id uuid.UUID) (*models.Contact, error)
	Upsert(ctx context.Context, contact *models.Contact) error
	UpdateName(ctx context.Context, contact *models.Contact, name string) error
	AttachAvatar(ctx context.Context, contact *models.Contact, avatarURL string) (bool, error)
	UpsertInbox(ctx context.Context, inbox *models.ContactInbox) error
	GetInbox(ctx context.Context, channelID uuid.UUID, sourceID string) (*models.ContactInbox, error)
}

// ConversationRepo defines the interface for conversation repository operations
type ConversationRepo interface {
	GetOrCreate(ctx context.Context, channelID, contactInboxID uuid.UUID) (*models.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
}
