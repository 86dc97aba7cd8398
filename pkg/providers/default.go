package providers

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
)

// Legacy is the fallback variant kept for channels created before the
// provider split. It can validate its config and send; nothing else.
type Legacy struct {
	cfg    models.ProviderConfig
	client *httpclient.Client
	logger ectologger.Logger
}

// NewLegacy creates the legacy fallback adapter.
func NewLegacy(cfg models.ProviderConfig, client *httpclient.Client, logger ectologger.Logger) *Legacy {
	return &Legacy{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (l *Legacy) Kind() models.ProviderKind {
	return models.ProviderDefault
}

func (l *Legacy) Capabilities() CapabilitySet {
	return CapabilitySet(CapSend)
}

func (l *Legacy) headers() map[string]string {
	return map[string]string{"apikey": l.cfg.APIKey}
}

func (l *Legacy) Setup(ctx context.Context) (*models.ProviderConnection, error) {
	if err := l.ValidateConfig(ctx); err != nil {
		return nil, err
	}
	return &models.ProviderConnection{Connection: models.ConnectionOpen}, nil
}

func (l *Legacy) Teardown(ctx context.Context) error {
	return nil
}

func (l *Legacy) ValidateConfig(ctx context.Context) error {
	resp, err := l.client.Get(ctx, l.cfg.BaseURL+"/status", l.headers())
	if err != nil {
		return unavailablef("legacy provider unreachable: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("legacy provider status check returned %d", resp.StatusCode)
	}
	return nil
}

func (l *Legacy) Disconnect(ctx context.Context) error {
	return ErrNotImplemented
}

func (l *Legacy) Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error) {
	plan, err := planOutbound(msg, attachments)
	if err != nil {
		return "", err
	}

	body := map[string]any{"to": phone}
	switch plan.kind {
	case outboundReaction:
		// The legacy API has no reaction endpoint; deliver the emoji as text.
		body["text"] = plan.emoji
	case outboundAttachment:
		body["mediaUrl"] = plan.attachment.DownloadURL
		body["mimeType"] = plan.attachment.MimeType
		if plan.caption != "" {
			body["text"] = plan.caption
		}
	case outboundText:
		body["text"] = plan.text
	}

	resp, err := l.client.PostJSON(ctx, l.cfg.BaseURL+"/messages", l.headers(), body)
	if err != nil {
		return "", unavailablef("legacy send failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("legacy send returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("legacy send returned malformed body: %s", err.Error())
	}
	return out.ID, nil
}

func (l *Legacy) MarkRead(ctx context.Context, phone string, msgs []*models.Message) error {
	return ErrNotImplemented
}

func (l *Legacy) UnreadLast(ctx context.Context, phone string, msg *models.Message) error {
	return ErrNotImplemented
}

func (l *Legacy) ToggleTyping(ctx context.Context, phone string, on bool) error {
	return ErrNotImplemented
}

func (l *Legacy) UpdatePresence(ctx context.Context, status string) error {
	return ErrNotImplemented
}

func (l *Legacy) CheckRegistered(ctx context.Context, phone string) (*Lookup, error) {
	return nil, ErrNotImplemented
}

func (l *Legacy) ProfilePictureURL(ctx context.Context, identifier string) (string, error) {
	return "", ErrNotImplemented
}
