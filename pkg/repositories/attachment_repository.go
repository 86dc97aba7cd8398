package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const attachmentsTable = "attachments"

var attachmentStruct = database.NewStruct(new(models.Attachment))

// AttachmentRepository handles database operations for attachments
type AttachmentRepository struct {
	*Repository
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db database.DB, logger ectologger.Logger) *AttachmentRepository {
	return &AttachmentRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create persists an attachment. Attachments are immutable after creation.
func (r *AttachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	ctx, span := tracing.StartSpan(ctx, "AttachmentRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	attachment.TenantID = tenantID

	if attachment.ID == uuid.Nil {
		attachment.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(attachmentsTable).
		Cols("id", "tenant_id", "message_id", "file_type", "download_url", "mime_type", "size_bytes", "meta", "created_at").
		Values(attachment.ID, attachment.TenantID, attachment.MessageID, attachment.FileType, attachment.DownloadURL,
			attachment.MimeType, attachment.SizeBytes, attachment.Meta, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	err = r.Querier(ctx).QueryRowContext(ctx, query, args...).Scan(&attachment.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"attachment_id": attachment.ID,
			"message_id":    attachment.MessageID,
		}).Error("failed to create attachment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create attachment")
	}

	return nil
}

// ListByMessage retrieves the attachments of a message in creation order.
func (r *AttachmentRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.Attachment, error) {
	ctx, span := tracing.StartSpan(ctx, "AttachmentRepository.ListByMessage")
	defer span.End()

	sb := attachmentStruct.SelectFrom(attachmentsTable)
	sb.Where(sb.Equal("message_id", messageID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	attachments := []models.Attachment{}
	err := r.DB().SelectContext(ctx, &attachments, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": messageID,
		}).Error("failed to list attachments")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list attachments")
	}

	return attachments, nil
}
