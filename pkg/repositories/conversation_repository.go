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

const conversationsTable = "conversations"

var conversationStruct = database.NewStruct(new(models.Conversation))

// ConversationRepository handles database operations for conversations
type ConversationRepository struct {
	*Repository
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db database.DB, logger ectologger.Logger) *ConversationRepository {
	return &ConversationRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetOrCreate returns the conversation for a contact inbox, creating it when
// none exists. One conversation exists per contact inbox.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, channelID, contactInboxID uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetOrCreate")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("contact_inbox_id", contactInboxID))

	query, args := sb.Build()
	var conversation models.Conversation
	err = r.DB().GetContext(ctx, &conversation, query, args...)
	if err == nil {
		return &conversation, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get conversation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conversation")
	}

	conversation = models.Conversation{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ChannelID:      channelID,
		ContactInboxID: contactInboxID,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(conversationsTable).
		Cols("id", "tenant_id", "channel_id", "contact_inbox_id", "created_at", "updated_at").
		Values(conversation.ID, conversation.TenantID, conversation.ChannelID, conversation.ContactInboxID,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

	// Concurrent resolution of the same inbox races here; on conflict keep
	// the winner and update the timestamp so a row always comes back.
	ub := ib.OnConflict("contact_inbox_id")
	ub.Set(
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "created_at", "updated_at")

	query, args = ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&conversation.ID, &conversation.CreatedAt, &conversation.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_inbox_id": contactInboxID,
		}).Error("failed to create conversation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}

	return &conversation, nil
}

// GetByID retrieves a conversation by ID (tenant-scoped)
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var conversation models.Conversation
	err = r.DB().GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get conversation by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conversation by ID")
	}

	return &conversation, nil
}
