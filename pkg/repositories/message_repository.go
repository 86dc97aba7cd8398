package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const messagesTable = "messages"

var messageStruct = database.NewStruct(new(models.Message))

// ErrDuplicateSourceID is returned by Create when a message with the same
// provider message id already exists for the channel. Callers treat it as a
// silent no-op.
var ErrDuplicateSourceID = errors.New("message source_id already exists for channel")

// MessageRepository handles database operations for messages
type MessageRepository struct {
	*Repository
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db database.DB, logger ectologger.Logger) *MessageRepository {
	return &MessageRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create persists a message. The (channel_id, source_id) pair is unique;
// a conflicting insert returns ErrDuplicateSourceID without touching the
// existing row. This is the durable second line of defense behind the dedup
// lock.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	message.TenantID = tenantID

	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(messagesTable).
		Cols("id", "tenant_id", "channel_id", "conversation_id", "source_id", "direction", "content",
			"status", "external_error", "content_attributes", "sender_contact_id", "external_created_at",
			"created_at", "updated_at").
		Values(message.ID, message.TenantID, message.ChannelID, message.ConversationID, message.SourceID,
			message.Direction, message.Content, message.Status, message.ExternalError, message.ContentAttributes,
			message.SenderContactID, message.ExternalCreatedAt, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		OnConflictDoNothing().
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.Querier(ctx).QueryRowContext(ctx, query, args...).Scan(&message.CreatedAt, &message.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// DO NOTHING returns no row when the insert was skipped.
		return ErrDuplicateSourceID
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": message.ID,
			"channel_id": message.ChannelID,
		}).Error("failed to create message")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create message")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": message.ID,
		"channel_id": message.ChannelID,
	}).Debugf("Created %s", messagesTable)
	return nil
}

// GetByID retrieves a message by ID (tenant-scoped)
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var message models.Message
	err = r.DB().GetContext(ctx, &message, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "message %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": id,
		}).Error("failed to get message by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get message by ID")
	}

	return &message, nil
}

// GetBySourceID retrieves a message by its provider message id within a
// channel. Returns nil without error when it does not exist.
func (r *MessageRepository) GetBySourceID(ctx context.Context, channelID uuid.UUID, sourceID string) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.GetBySourceID")
	defer span.End()

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("channel_id", channelID), sb.Equal("source_id", sourceID))

	query, args := sb.Build()
	var message models.Message
	err := r.DB().GetContext(ctx, &message, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": channelID,
			"source_id":  sourceID,
		}).Error("failed to get message by source ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get message by source ID")
	}

	return &message, nil
}

// ExistsBySourceID reports whether a message with the provider message id is
// already persisted for the channel.
func (r *MessageRepository) ExistsBySourceID(ctx context.Context, channelID uuid.UUID, sourceID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ExistsBySourceID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("1").From(messagesTable)
	sb.Where(sb.Equal("channel_id", channelID), sb.Equal("source_id", sourceID))
	sb.Limit(1)

	query, args := sb.Build()
	var one int
	err := r.DB().GetContext(ctx, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": channelID,
			"source_id":  sourceID,
		}).Error("failed to check message existence")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check message existence")
	}
	return true, nil
}

// UpdateStatus writes a new delivery status. The caller consults the status
// transition guard first; this method does not re-check it.
func (r *MessageRepository) UpdateStatus(ctx context.Context, message *models.Message, status models.Status, externalError *string) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(messagesTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("external_error", externalError),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", message.ID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": message.ID,
			"status":     status,
		}).Error("failed to update message status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update message status")
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "message %s does not exist", message.ID)
	}

	message.Status = status
	message.ExternalError = externalError
	return nil
}

// UpdateContent rewrites the message body after a provider edit event,
// preserving the previous content in the attributes blob.
func (r *MessageRepository) UpdateContent(ctx context.Context, message *models.Message, newContent string) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.UpdateContent")
	defer span.End()

	attrs := message.ContentAttributes.Data
	attrs.IsEdited = true
	attrs.PreviousContent = message.TextContent()
	message.ContentAttributes.Data = attrs

	ub := database.NewUpdateBuilder()
	ub.Update(messagesTable).
		Set(
			ub.Assign("content", newContent),
			ub.Assign("content_attributes", message.ContentAttributes),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", message.ID))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": message.ID,
		}).Error("failed to update message content")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update message content")
	}

	message.Content = &newContent
	return nil
}

// ListByConversation retrieves messages for a conversation in creation order
// (tenant-scoped).
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ListByConversation")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("conversation_id", conversationID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	messages := []models.Message{}
	err = r.DB().SelectContext(ctx, &messages, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversationID,
		}).Error("failed to list messages")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list messages")
	}

	return messages, nil
}
