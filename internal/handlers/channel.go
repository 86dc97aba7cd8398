package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/channel"
	"github.com/Ramsey-B/aster/pkg/connection"
	appctx "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/repositories"
)

// AdminRole grants access to channel credentials, QR codes and provider
// error details. Everyone else sees the public view.
const AdminRole = "admin"

// ChannelHandler handles channel-related API requests
type ChannelHandler struct {
	repo     repositories.ChannelRepo
	facade   *channel.Facade
	poller   *connection.Poller
	manager  *connection.Manager
	validate *validator.Validate
}

// NewChannelHandler creates a new channel handler
func NewChannelHandler(repo repositories.ChannelRepo, facade *channel.Facade, poller *connection.Poller, manager *connection.Manager) *ChannelHandler {
	return &ChannelHandler{
		repo:     repo,
		facade:   facade,
		poller:   poller,
		manager:  manager,
		validate: validator.New(),
	}
}

// CreateChannelRequest is the request body for creating a channel
type CreateChannelRequest struct {
	PhoneNumber string                `json:"phone_number" validate:"required,e164"`
	Provider    models.ProviderKind   `json:"provider" validate:"required,oneof=bridge gateway cloud default"`
	Config      models.ProviderConfig `json:"provider_config"`
}

// UpdateChannelRequest is the request body for updating a channel's config
type UpdateChannelRequest struct {
	Config models.ProviderConfig `json:"provider_config"`
}

// RegisterRoutes registers the channel routes
func (h *ChannelHandler) RegisterRoutes(g *echo.Group) {
	channels := g.Group("/channels")
	channels.POST("", h.Create)
	channels.GET("", h.List)
	channels.GET("/:id", h.Get)
	channels.PUT("/:id", h.Update)
	channels.DELETE("/:id", h.Delete)
	channels.GET("/:id/connection", h.GetConnection)
	channels.POST("/:id/connect", h.Connect)
	channels.DELETE("/:id/connection", h.Disconnect)
}

// Create handles POST /channels
func (h *ChannelHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req CreateChannelRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid channel: %s", err.Error())
	}

	ch := &models.Channel{
		TenantID:       tenantID,
		PhoneNumber:    req.PhoneNumber,
		Provider:       req.Provider,
		ProviderConfig: database.JSONB[models.ProviderConfig]{Data: req.Config},
		ProviderConnection: database.JSONB[models.ProviderConnection]{
			Data: models.ProviderConnection{Connection: models.ConnectionClose},
		},
	}

	// Reject credentials the provider itself will not accept before the
	// channel row exists.
	if err := h.facade.ValidateConfig(ctx, ch); err != nil {
		return httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "provider rejected the channel config: %s", err.Error())
	}

	if err := h.repo.Create(ctx, ch); err != nil {
		return err
	}

	return CreatedResponse(c, ch)
}

// List handles GET /channels
func (h *ChannelHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	channels, err := h.repo.List(ctx)
	if err != nil {
		return err
	}

	if appctx.HasRole(ctx, AdminRole) {
		return SuccessResponse(c, channels)
	}

	views := make([]models.PublicView, 0, len(channels))
	for i := range channels {
		views = append(views, channels[i].Public())
	}
	return SuccessResponse(c, views)
}

// Get handles GET /channels/:id
func (h *ChannelHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ch, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if appctx.HasRole(ctx, AdminRole) {
		return SuccessResponse(c, ch)
	}
	return SuccessResponse(c, ch.Public())
}

// Update handles PUT /channels/:id
func (h *ChannelHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var req UpdateChannelRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	existing.ProviderConfig = database.JSONB[models.ProviderConfig]{Data: req.Config}

	if err := h.facade.ValidateConfig(ctx, existing); err != nil {
		return httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "provider rejected the channel config: %s", err.Error())
	}

	if err := h.repo.UpdateConfig(ctx, existing); err != nil {
		return err
	}

	return SuccessResponse(c, existing)
}

// Delete handles DELETE /channels/:id
func (h *ChannelHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ch, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	h.poller.Stop(ch.ID)

	// Best effort: the provider session should not outlive the channel, but
	// a dead provider must not block the delete.
	if err := h.facade.Teardown(ctx, ch); err != nil {
		c.Logger().Warnf("teardown failed for channel %s: %v", ch.ID, err)
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// GetConnection handles GET /channels/:id/connection
func (h *ChannelHandler) GetConnection(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ch, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if appctx.HasRole(ctx, AdminRole) {
		return SuccessResponse(c, ch.ProviderConnection.Data)
	}
	return SuccessResponse(c, map[string]any{"connection": ch.ConnectionState()})
}

// Connect handles POST /channels/:id/connect. It starts the pairing loop and
// returns immediately; the QR code arrives on the connection resource.
func (h *ChannelHandler) Connect(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ch, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if ch.ConnectionState() == models.ConnectionOpen {
		return httperror.NewHTTPError(http.StatusConflict, "channel is already connected")
	}

	h.poller.Start(ch.ID)

	return c.JSON(http.StatusAccepted, map[string]any{"connection": models.ConnectionConnecting})
}

// Disconnect handles DELETE /channels/:id/connection
func (h *ChannelHandler) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ch, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	h.poller.Stop(ch.ID)

	if err := h.facade.Teardown(ctx, ch); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadGateway, "provider teardown failed: %s", err.Error())
	}

	if err := h.manager.Disconnected(ctx, ch, "disconnected by user"); err != nil {
		return err
	}

	return NoContentResponse(c)
}
