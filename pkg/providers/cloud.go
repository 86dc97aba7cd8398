package providers

import (
	"context"
	"net/url"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
)

// DefaultCloudBaseURL is the graph API root used when the channel config
// does not override it.
const DefaultCloudBaseURL = "https://graph.facebook.com/v17.0"

// Cloud speaks the official graph API. There is no session to pair; the
// access token either works or it does not.
type Cloud struct {
	cfg    models.ProviderConfig
	client *httpclient.Client
	logger ectologger.Logger
}

// NewCloud creates a cloud API adapter for one channel.
func NewCloud(cfg models.ProviderConfig, client *httpclient.Client, logger ectologger.Logger) *Cloud {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudBaseURL
	}
	return &Cloud{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (c *Cloud) Kind() models.ProviderKind {
	return models.ProviderCloud
}

func (c *Cloud) Capabilities() CapabilitySet {
	return CapabilitySet(CapSend | CapMarkRead | CapProfilePicture)
}

func (c *Cloud) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func (c *Cloud) messagesURL() string {
	return c.cfg.BaseURL + "/" + url.PathEscape(c.cfg.PhoneNumberID) + "/messages"
}

// Setup validates the token and reports the channel open. The cloud API has
// no QR pairing.
func (c *Cloud) Setup(ctx context.Context) (*models.ProviderConnection, error) {
	if err := c.ValidateConfig(ctx); err != nil {
		return nil, err
	}
	return &models.ProviderConnection{Connection: models.ConnectionOpen}, nil
}

// Teardown is a no-op; there is no provider-side session to destroy.
func (c *Cloud) Teardown(ctx context.Context) error {
	return nil
}

// ValidateConfig verifies the access token against the phone number node.
func (c *Cloud) ValidateConfig(ctx context.Context) error {
	resp, err := c.client.Get(ctx, c.cfg.BaseURL+"/"+url.PathEscape(c.cfg.PhoneNumberID), c.headers())
	if err != nil {
		return unavailablef("cloud API unreachable: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("cloud API token check returned %d: %s", resp.StatusCode, string(resp.Body))
	}
	return nil
}

func (c *Cloud) Disconnect(ctx context.Context) error {
	return ErrNotImplemented
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers one message through the graph API messages endpoint.
func (c *Cloud) Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error) {
	plan, err := planOutbound(msg, attachments)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone,
	}
	switch plan.kind {
	case outboundReaction:
		body["type"] = "reaction"
		body["reaction"] = map[string]any{
			"message_id": plan.targetSourceID,
			"emoji":      plan.emoji,
		}
	case outboundAttachment:
		kind := string(plan.attachment.FileType)
		if plan.attachment.FileType == models.FileTypeFile {
			kind = "document"
		}
		media := map[string]any{"link": plan.attachment.DownloadURL}
		if plan.caption != "" && plan.attachment.FileType != models.FileTypeAudio {
			media["caption"] = plan.caption
		}
		body["type"] = kind
		body[kind] = media
	case outboundText:
		body["type"] = "text"
		body["text"] = map[string]any{"body": plan.text}
		if plan.replyTo != "" {
			body["context"] = map[string]any{"message_id": plan.replyTo}
		}
	}

	resp, err := c.client.PostJSON(ctx, c.messagesURL(), c.headers(), body)
	if err != nil {
		return "", unavailablef("cloud send failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("cloud send returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out cloudSendResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("cloud send returned malformed body: %s", err.Error())
	}
	if len(out.Messages) == 0 {
		return "", unavailablef("cloud send returned no message id")
	}
	return out.Messages[0].ID, nil
}

// SendTemplate will deliver pre-approved template messages.
// TODO: implement once template sync lands; requires the template catalog
// from the business account node.
func (c *Cloud) SendTemplate(ctx context.Context, phone string, templateName string, params []string) (string, error) {
	return "", ErrNotImplemented
}

// MarkRead issues read receipts one message at a time.
func (c *Cloud) MarkRead(ctx context.Context, phone string, msgs []*models.Message) error {
	for _, m := range msgs {
		resp, err := c.client.PostJSON(ctx, c.messagesURL(), c.headers(), map[string]any{
			"messaging_product": "whatsapp",
			"status":            "read",
			"message_id":        m.SourceID,
		})
		if err != nil {
			return unavailablef("cloud mark-read failed: %s", err.Error())
		}
		if !resp.Success() {
			return unavailablef("cloud mark-read returned status %d", resp.StatusCode)
		}
	}
	return nil
}

func (c *Cloud) UnreadLast(ctx context.Context, phone string, msg *models.Message) error {
	return ErrNotImplemented
}

func (c *Cloud) ToggleTyping(ctx context.Context, phone string, on bool) error {
	return ErrNotImplemented
}

func (c *Cloud) UpdatePresence(ctx context.Context, status string) error {
	return ErrNotImplemented
}

func (c *Cloud) CheckRegistered(ctx context.Context, phone string) (*Lookup, error) {
	return nil, ErrNotImplemented
}

// ProfilePictureURL fetches the business profile picture for the number.
func (c *Cloud) ProfilePictureURL(ctx context.Context, identifier string) (string, error) {
	resp, err := c.client.Get(ctx, c.cfg.BaseURL+"/"+url.PathEscape(identifier)+"?fields=profile_picture_url", c.headers())
	if err != nil {
		return "", unavailablef("cloud profile lookup failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("cloud profile lookup returned status %d", resp.StatusCode)
	}

	var out struct {
		ProfilePictureURL string `json:"profile_picture_url"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("cloud profile lookup returned malformed body: %s", err.Error())
	}
	return out.ProfilePictureURL, nil
}
