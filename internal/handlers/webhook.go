package handlers

import (
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/repositories"
	"github.com/Ramsey-B/aster/pkg/webhooks"
)

// maxWebhookBody bounds inbound webhook payloads. Providers send metadata,
// never media bytes; 1MB is generous.
const maxWebhookBody = 1 << 20

// WebhookHandler is the unauthenticated intake endpoint providers POST to.
// Authentication is the per-channel verify token, checked before any state
// changes.
type WebhookHandler struct {
	channels repositories.ChannelRepo
	registry *webhooks.Registry
	logger   ectologger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(channels repositories.ChannelRepo, registry *webhooks.Registry, logger ectologger.Logger) *WebhookHandler {
	return &WebhookHandler{
		channels: channels,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook intake route
func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks/:provider/:channel_id", h.Receive)
	g.GET("/webhooks/:provider/:channel_id", h.VerifyGet)
}

// Receive handles POST /webhooks/:provider/:channel_id
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()

	channelID, err := ParseUUID(c, "channel_id")
	if err != nil {
		return err
	}

	ch, err := h.channels.GetByIDUnscoped(ctx, channelID)
	if err != nil {
		return err
	}

	if string(ch.Provider) != c.Param("provider") {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "channel %s is not a %s channel", channelID, c.Param("provider"))
	}

	token := c.Request().Header.Get("X-Webhook-Verify-Token")
	if token == "" {
		token = c.QueryParam("verify_token")
	}
	if err := webhooks.VerifyToken(ch, token); err != nil {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id": channelID,
		}).Warnf("Webhook rejected: bad verify token")
		return httperror.NewHTTPError(http.StatusUnauthorized, "invalid verify token")
	}

	// Repositories downstream scope by tenant; webhook requests carry no
	// bearer, so the channel's own tenant seeds the context.
	ctx = appctx.SetTenantID(ctx, ch.TenantID.String())
	c.SetRequest(c.Request().WithContext(ctx))

	processor, ok := h.registry.For(ch.Provider)
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "no webhook processor for provider %s", ch.Provider)
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read webhook body")
	}

	if err := processor.Process(ctx, ch, payload); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// VerifyGet handles the cloud provider's GET subscription handshake: echo the
// challenge back when the verify token matches.
func (h *WebhookHandler) VerifyGet(c echo.Context) error {
	ctx := c.Request().Context()

	channelID, err := ParseUUID(c, "channel_id")
	if err != nil {
		return err
	}

	ch, err := h.channels.GetByIDUnscoped(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.Provider != models.ProviderCloud {
		return httperror.NewHTTPError(http.StatusNotFound, "subscription handshake is cloud-only")
	}

	if err := webhooks.VerifyToken(ch, c.QueryParam("hub.verify_token")); err != nil {
		return httperror.NewHTTPError(http.StatusUnauthorized, "invalid verify token")
	}

	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}
