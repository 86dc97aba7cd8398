package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
)

// Gateway speaks a hosted WhatsApp gateway API: instance-scoped paths, flat
// request bodies, bearer token auth.
type Gateway struct {
	cfg    models.ProviderConfig
	client *httpclient.Client
	logger ectologger.Logger
}

// NewGateway creates a gateway adapter for one channel.
func NewGateway(cfg models.ProviderConfig, client *httpclient.Client, logger ectologger.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (g *Gateway) Kind() models.ProviderKind {
	return models.ProviderGateway
}

func (g *Gateway) Capabilities() CapabilitySet {
	return CapabilitySet(CapSend | CapMarkRead | CapCheckRegistered | CapProfilePicture |
		CapPairing | CapDisconnect)
}

func (g *Gateway) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.cfg.APIKey}
}

func (g *Gateway) url(path string, args ...any) string {
	return g.cfg.BaseURL + "/instances/" + url.PathEscape(g.cfg.InstanceID) + fmt.Sprintf(path, args...)
}

// Setup requests a pairing QR code from the gateway instance.
func (g *Gateway) Setup(ctx context.Context) (*models.ProviderConnection, error) {
	resp, err := g.client.Get(ctx, g.url("/qr-code"), g.headers())
	if err != nil {
		return nil, unavailablef("gateway setup failed: %s", err.Error())
	}
	if !resp.Success() {
		return nil, unavailablef("gateway setup returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out struct {
		Connected bool   `json:"connected"`
		Value     string `json:"value"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, unavailablef("gateway setup returned malformed body: %s", err.Error())
	}

	if out.Connected {
		return &models.ProviderConnection{Connection: models.ConnectionOpen}, nil
	}
	return &models.ProviderConnection{
		Connection: models.ConnectionConnecting,
		QRDataURL:  out.Value,
	}, nil
}

// Teardown disconnects the gateway instance session.
func (g *Gateway) Teardown(ctx context.Context) error {
	return g.Disconnect(ctx)
}

// ValidateConfig checks instance reachability and token validity.
func (g *Gateway) ValidateConfig(ctx context.Context) error {
	resp, err := g.client.Get(ctx, g.url("/status"), g.headers())
	if err != nil {
		return unavailablef("gateway unreachable: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("gateway status check returned %d", resp.StatusCode)
	}
	return nil
}

// Disconnect logs the instance session out.
func (g *Gateway) Disconnect(ctx context.Context) error {
	resp, err := g.client.PostJSON(ctx, g.url("/disconnect"), g.headers(), nil)
	if err != nil {
		return unavailablef("gateway disconnect failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("gateway disconnect returned status %d", resp.StatusCode)
	}
	return nil
}

type gatewaySendResponse struct {
	MessageID string `json:"messageId"`
}

// Send delivers one message. The gateway has one endpoint per payload type.
func (g *Gateway) Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error) {
	plan, err := planOutbound(msg, attachments)
	if err != nil {
		return "", err
	}

	var path string
	var body map[string]any
	switch plan.kind {
	case outboundReaction:
		path = "/send-reaction"
		body = map[string]any{
			"phone":     phone,
			"reaction":  plan.emoji,
			"messageId": plan.targetSourceID,
		}
	case outboundAttachment:
		path = "/send-media"
		body = map[string]any{
			"phone":    phone,
			"url":      plan.attachment.DownloadURL,
			"mimeType": plan.attachment.MimeType,
			"caption":  plan.caption,
		}
		if plan.attachment.Meta.Data.IsRecordedAudio {
			body["voice"] = true
		}
	case outboundText:
		path = "/send-text"
		body = map[string]any{
			"phone":   phone,
			"message": plan.text,
		}
		if plan.replyTo != "" {
			body["replyMessageId"] = plan.replyTo
		}
	}

	resp, err := g.client.PostJSON(ctx, g.url("%s", path), g.headers(), body)
	if err != nil {
		return "", unavailablef("gateway send failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("gateway send returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out gatewaySendResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("gateway send returned malformed body: %s", err.Error())
	}
	return out.MessageID, nil
}

// MarkRead issues read receipts one message at a time; the gateway has no
// batch endpoint.
func (g *Gateway) MarkRead(ctx context.Context, phone string, msgs []*models.Message) error {
	for _, m := range msgs {
		resp, err := g.client.PostJSON(ctx, g.url("/read-message"), g.headers(), map[string]any{
			"phone":     phone,
			"messageId": m.SourceID,
		})
		if err != nil {
			return unavailablef("gateway mark-read failed: %s", err.Error())
		}
		if !resp.Success() {
			return unavailablef("gateway mark-read returned status %d", resp.StatusCode)
		}
	}
	return nil
}

func (g *Gateway) UnreadLast(ctx context.Context, phone string, msg *models.Message) error {
	return ErrNotImplemented
}

func (g *Gateway) ToggleTyping(ctx context.Context, phone string, on bool) error {
	return ErrNotImplemented
}

func (g *Gateway) UpdatePresence(ctx context.Context, status string) error {
	return ErrNotImplemented
}

// CheckRegistered asks the gateway whether the number exists on WhatsApp.
func (g *Gateway) CheckRegistered(ctx context.Context, phone string) (*Lookup, error) {
	resp, err := g.client.Get(ctx, g.url("/phone-exists/%s", url.PathEscape(phone)), g.headers())
	if err != nil {
		return nil, unavailablef("gateway phone check failed: %s", err.Error())
	}
	if !resp.Success() {
		return nil, unavailablef("gateway phone check returned status %d", resp.StatusCode)
	}

	var out struct {
		Exists bool   `json:"exists"`
		Phone  string `json:"outputPhone"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, unavailablef("gateway phone check returned malformed body: %s", err.Error())
	}
	return &Lookup{Registered: out.Exists, Identifier: out.Phone}, nil
}

// ProfilePictureURL fetches the avatar URL for a phone number.
func (g *Gateway) ProfilePictureURL(ctx context.Context, identifier string) (string, error) {
	resp, err := g.client.Get(ctx, g.url("/profile-picture?phone=%s", url.QueryEscape(identifier)), g.headers())
	if err != nil {
		return "", unavailablef("gateway profile picture lookup failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("gateway profile picture lookup returned status %d", resp.StatusCode)
	}

	var out struct {
		Link string `json:"link"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("gateway profile picture lookup returned malformed body: %s", err.Error())
	}
	return out.Link, nil
}
