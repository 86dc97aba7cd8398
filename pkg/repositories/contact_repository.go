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

const (
	contactsTable       = "contacts"
	contactInboxesTable = "contact_inboxes"
)

var (
	contactStruct      = database.NewStruct(new(models.Contact))
	contactInboxStruct = database.NewStruct(new(models.ContactInbox))
)

// ContactRepository handles database operations for contacts and their
// channel inboxes
type ContactRepository struct {
	*Repository
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db database.DB, logger ectologger.Logger) *ContactRepository {
	return &ContactRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByPhone retrieves a contact by phone number (tenant-scoped). Returns nil
// without error when it does not exist.
func (r *ContactRepository) GetByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.GetByPhone")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := contactStruct.SelectFrom(contactsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("phone_number", phoneNumber))

	query, args := sb.Build()
	var contact models.Contact
	err = r.DB().GetContext(ctx, &contact, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get contact by phone")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact by phone")
	}

	return &contact, nil
}

// Upsert creates the contact or updates its name and identifier, keyed by
// (tenant, phone_number). The avatar is deliberately not part of the update
// set; it is attached once through AttachAvatar and never re-synced.
func (r *ContactRepository) Upsert(ctx context.Context, contact *models.Contact) error {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.Upsert")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	contact.TenantID = tenantID

	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(contactsTable).
		Cols("id", "tenant_id", "name", "phone_number", "identifier", "avatar_url", "created_at", "updated_at").
		Values(contact.ID, contact.TenantID, contact.Name, contact.PhoneNumber, contact.Identifier, contact.AvatarURL,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

	ub := ib.OnConflict("tenant_id", "phone_number")
	ub.Set(
		ub.Assign("name", database.Excluded("name")),
		ub.Assign("identifier", database.Excluded("identifier")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.Returning("id", "avatar_url", "created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&contact.ID, &contact.AvatarURL, &contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"phone_number": contact.PhoneNumber,
		}).Error("failed to upsert contact")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert contact")
	}

	return nil
}

// UpdateName overwrites the contact's display name.
func (r *ContactRepository) UpdateName(ctx context.Context, contact *models.Contact, name string) error {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.UpdateName")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(contactsTable).
		Set(
			ub.Assign("name", name),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", contact.ID))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contact.ID,
		}).Error("failed to update contact name")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contact name")
	}

	contact.Name = name
	return nil
}

// AttachAvatar stores the avatar URL only when none is present yet. Returns
// whether the write happened.
func (r *ContactRepository) AttachAvatar(ctx context.Context, contact *models.Contact, avatarURL string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.AttachAvatar")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(contactsTable).
		Set(
			ub.Assign("avatar_url", avatarURL),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", contact.ID), ub.IsNull("avatar_url"))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contact.ID,
		}).Error("failed to attach contact avatar")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach contact avatar")
	}

	rows, err := result.RowsAffected()
	if err != nil || rows == 0 {
		return false, nil
	}
	contact.AvatarURL = &avatarURL
	return true, nil
}

// UpsertInbox resolves the contact inbox for (channel, source_id) as an
// idempotent upsert.
func (r *ContactRepository) UpsertInbox(ctx context.Context, inbox *models.ContactInbox) error {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.UpsertInbox")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	inbox.TenantID = tenantID

	if inbox.ID == uuid.Nil {
		inbox.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(contactInboxesTable).
		Cols("id", "tenant_id", "channel_id", "contact_id", "source_id", "created_at").
		Values(inbox.ID, inbox.TenantID, inbox.ChannelID, inbox.ContactID, inbox.SourceID,
			sqlbuilder.Raw("NOW()"))

	ub := ib.OnConflict("channel_id", "source_id")
	ub.Set(
		ub.Assign("contact_id", database.Excluded("contact_id")),
	)
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&inbox.ID, &inbox.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": inbox.ChannelID,
			"source_id":  inbox.SourceID,
		}).Error("failed to upsert contact inbox")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert contact inbox")
	}

	return nil
}

// GetInbox retrieves the contact inbox for (channel, source_id). Returns nil
// without error when it does not exist.
func (r *ContactRepository) GetInbox(ctx context.Context, channelID uuid.UUID, sourceID string) (*models.ContactInbox, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.GetInbox")
	defer span.End()

	sb := contactInboxStruct.SelectFrom(contactInboxesTable)
	sb.Where(sb.Equal("channel_id", channelID), sb.Equal("source_id", sourceID))

	query, args := sb.Build()
	var inbox models.ContactInbox
	err := r.DB().GetContext(ctx, &inbox, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get contact inbox")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact inbox")
	}

	return &inbox, nil
}

// GetContact retrieves a contact by ID (tenant-scoped)
func (r *ContactRepository) GetContact(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.GetContact")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := contactStruct.SelectFrom(contactsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var contact models.Contact
	err = r.DB().GetContext(ctx, &contact, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "contact %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact")
	}

	return &contact, nil
}
