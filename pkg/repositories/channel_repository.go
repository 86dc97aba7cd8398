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

const channelsTable = "channels"

var channelStruct = database.NewStruct(new(models.Channel))

// ChannelRepository handles database operations for channels
type ChannelRepository struct {
	*Repository
}

// NewChannelRepository creates a new channel repository
func NewChannelRepository(db database.DB, logger ectologger.Logger) *ChannelRepository {
	return &ChannelRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new channel. A phone number pairs with at most one
// channel, across all tenants.
func (r *ChannelRepository) Create(ctx context.Context, channel *models.Channel) error {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	channel.TenantID = tenantID

	if channel.ID == uuid.Nil {
		channel.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(channelsTable).
		Cols("id", "tenant_id", "phone_number", "provider", "provider_config", "provider_connection", "created_at", "updated_at").
		Values(channel.ID, channel.TenantID, channel.PhoneNumber, channel.Provider, channel.ProviderConfig, channel.ProviderConnection,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&channel.CreatedAt, &channel.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return httperror.NewHTTPErrorf(http.StatusConflict, "a channel for phone number %s already exists", channel.PhoneNumber)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": channel.ID,
		}).Error("failed to create channel")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create channel")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"channel_id": channel.ID,
	}).Debugf("Created %s", channelsTable)
	return nil
}

// GetByID retrieves a channel by ID (tenant-scoped)
func (r *ChannelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := channelStruct.SelectFrom(channelsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var channel models.Channel
	err = r.DB().GetContext(ctx, &channel, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "channel %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": id,
		}).Error("failed to get channel by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get channel by ID")
	}

	return &channel, nil
}

// GetByIDUnscoped retrieves a channel by ID without tenant scoping. Webhook
// intake authenticates with the channel's verify token instead of a bearer
// tenant.
func (r *ChannelRepository) GetByIDUnscoped(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.GetByIDUnscoped")
	defer span.End()

	sb := channelStruct.SelectFrom(channelsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var channel models.Channel
	err := r.DB().GetContext(ctx, &channel, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "channel %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": id,
		}).Error("failed to get channel by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get channel by ID")
	}

	return &channel, nil
}

// GetChannel satisfies the connection lifecycle's store interface. The
// polling loop runs outside a tenant-authenticated request, so the lookup is
// unscoped.
func (r *ChannelRepository) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	return r.GetByIDUnscoped(ctx, id)
}

// List retrieves all channels for the current tenant
func (r *ChannelRepository) List(ctx context.Context) ([]models.Channel, error) {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := channelStruct.SelectFrom(channelsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	channels := []models.Channel{}
	err = r.DB().SelectContext(ctx, &channels, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list channels")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list channels")
	}

	return channels, nil
}

// UpdateConfig replaces the channel's provider config blob.
func (r *ChannelRepository) UpdateConfig(ctx context.Context, channel *models.Channel) error {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.UpdateConfig")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(channelsTable).
		Set(
			ub.Assign("provider_config", channel.ProviderConfig),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", channel.ID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": channel.ID,
		}).Error("failed to update channel config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update channel config")
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "channel %s does not exist", channel.ID)
	}
	return nil
}

// UpdateConnection replaces the channel's connection blob wholesale, never a
// partial merge. Not tenant-scoped: the webhook and polling paths mutate
// connection state outside a tenant-authenticated request.
func (r *ChannelRepository) UpdateConnection(ctx context.Context, channelID uuid.UUID, conn models.ProviderConnection) error {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.UpdateConnection")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(channelsTable).
		Set(
			ub.Assign("provider_connection", database.JSONB[models.ProviderConnection]{Data: conn}),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", channelID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": channelID,
		}).Error("failed to update channel connection")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update channel connection")
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "channel %s does not exist", channelID)
	}
	return nil
}

// Delete removes a channel (tenant-scoped)
func (r *ChannelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ChannelRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(channelsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"channel_id": id,
		}).Error("failed to delete channel")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete channel")
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "channel %s does not exist", id)
	}
	return nil
}
