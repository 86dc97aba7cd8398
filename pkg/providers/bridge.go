package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
)

// Bridge speaks the self-hosted multi-device bridge API. Sessions are keyed
// by the channel's phone number; pairing happens over QR codes.
type Bridge struct {
	cfg    models.ProviderConfig
	phone  string
	client *httpclient.Client
	logger ectologger.Logger
}

// NewBridge creates a bridge adapter for one channel.
func NewBridge(cfg models.ProviderConfig, phone string, client *httpclient.Client, logger ectologger.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		phone:  phone,
		client: client,
		logger: logger,
	}
}

func (b *Bridge) Kind() models.ProviderKind {
	return models.ProviderBridge
}

func (b *Bridge) Capabilities() CapabilitySet {
	return CapabilitySet(CapSend | CapMarkRead | CapUnread | CapTyping | CapPresence |
		CapCheckRegistered | CapProfilePicture | CapPairing | CapDisconnect)
}

func (b *Bridge) headers() map[string]string {
	return map[string]string{"x-api-key": b.cfg.APIKey}
}

func (b *Bridge) url(path string, args ...any) string {
	return b.cfg.BaseURL + fmt.Sprintf(path, args...)
}

// bridgeConnection mirrors the bridge's connection resource.
type bridgeConnection struct {
	Connection string `json:"connection"`
	QRDataURL  string `json:"qrDataUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (c bridgeConnection) toModel() *models.ProviderConnection {
	state := models.ConnectionState(c.Connection)
	switch state {
	case models.ConnectionOpen, models.ConnectionConnecting, models.ConnectionClose:
	default:
		state = models.ConnectionClose
	}
	return &models.ProviderConnection{
		Connection: state,
		QRDataURL:  c.QRDataURL,
		Error:      c.Error,
	}
}

// Setup creates or refreshes the bridge session and returns the connection
// blob. While pairing is pending the blob carries the current QR code.
func (b *Bridge) Setup(ctx context.Context) (*models.ProviderConnection, error) {
	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s", url.PathEscape(b.phone)), b.headers(), map[string]any{
		"webhookVerifyToken": b.cfg.WebhookToken,
	})
	if err != nil {
		return nil, unavailablef("bridge setup failed: %s", err.Error())
	}
	if !resp.Success() {
		return nil, unavailablef("bridge setup returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var conn bridgeConnection
	if err := resp.DecodeJSON(&conn); err != nil {
		return nil, unavailablef("bridge setup returned malformed body: %s", err.Error())
	}
	return conn.toModel(), nil
}

// Teardown destroys the bridge session.
func (b *Bridge) Teardown(ctx context.Context) error {
	resp, err := b.client.Delete(ctx, b.url("/connections/%s", url.PathEscape(b.phone)), b.headers())
	if err != nil {
		return unavailablef("bridge teardown failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge teardown returned status %d: %s", resp.StatusCode, string(resp.Body))
	}
	return nil
}

// ValidateConfig checks that the bridge is reachable with the configured key.
func (b *Bridge) ValidateConfig(ctx context.Context) error {
	resp, err := b.client.Get(ctx, b.url("/status"), b.headers())
	if err != nil {
		return unavailablef("bridge unreachable: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge status check returned %d", resp.StatusCode)
	}
	return nil
}

// Disconnect logs the session out without destroying it.
func (b *Bridge) Disconnect(ctx context.Context) error {
	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/logout", url.PathEscape(b.phone)), b.headers(), nil)
	if err != nil {
		return unavailablef("bridge disconnect failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge disconnect returned status %d", resp.StatusCode)
	}
	return nil
}

// bridgeMessageKey addresses one message in the bridge's store.
type bridgeMessageKey struct {
	ID     string `json:"id"`
	FromMe bool   `json:"fromMe"`
}

type bridgeSendRequest struct {
	Recipient string            `json:"recipient"`
	Message   bridgeSendMessage `json:"message"`
}

type bridgeSendMessage struct {
	Text     *bridgeText     `json:"text,omitempty"`
	Media    *bridgeMedia    `json:"media,omitempty"`
	Reaction *bridgeReaction `json:"react,omitempty"`
}

type bridgeText struct {
	Body     string `json:"body"`
	QuotedID string `json:"quotedId,omitempty"`
}

type bridgeMedia struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Caption  string `json:"caption,omitempty"`
	// Ptt marks voice notes so the bridge renders them as recorded audio.
	Ptt bool `json:"ptt,omitempty"`
}

type bridgeReaction struct {
	Text string           `json:"text"`
	Key  bridgeMessageKey `json:"key"`
}

type bridgeSendResponse struct {
	MessageID string `json:"messageId"`
}

// Send delivers one message through the bridge.
func (b *Bridge) Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error) {
	plan, err := planOutbound(msg, attachments)
	if err != nil {
		return "", err
	}

	req := bridgeSendRequest{Recipient: phone}
	switch plan.kind {
	case outboundReaction:
		req.Message.Reaction = &bridgeReaction{
			Text: plan.emoji,
			Key:  bridgeMessageKey{ID: plan.targetSourceID, FromMe: plan.targetFromMe},
		}
	case outboundAttachment:
		req.Message.Media = &bridgeMedia{
			URL:      plan.attachment.DownloadURL,
			MimeType: plan.attachment.MimeType,
			Caption:  plan.caption,
			Ptt:      plan.attachment.Meta.Data.IsRecordedAudio,
		}
	case outboundText:
		req.Message.Text = &bridgeText{Body: plan.text, QuotedID: plan.replyTo}
	}

	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/messages", url.PathEscape(b.phone)), b.headers(), req)
	if err != nil {
		return "", unavailablef("bridge send failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("bridge send returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out bridgeSendResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("bridge send returned malformed body: %s", err.Error())
	}
	return out.MessageID, nil
}

// MarkRead issues read receipts for the given messages.
func (b *Bridge) MarkRead(ctx context.Context, phone string, msgs []*models.Message) error {
	keys := make([]bridgeMessageKey, 0, len(msgs))
	for _, m := range msgs {
		keys = append(keys, bridgeMessageKey{ID: m.SourceID, FromMe: !m.Incoming()})
	}
	if len(keys) == 0 {
		return nil
	}

	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/read-messages", url.PathEscape(b.phone)), b.headers(), map[string]any{
		"recipient": phone,
		"keys":      keys,
	})
	if err != nil {
		return unavailablef("bridge mark-read failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge mark-read returned status %d", resp.StatusCode)
	}
	return nil
}

// UnreadLast marks the chat unread at the given message.
func (b *Bridge) UnreadLast(ctx context.Context, phone string, msg *models.Message) error {
	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/unread", url.PathEscape(b.phone)), b.headers(), map[string]any{
		"recipient": phone,
		"key":       bridgeMessageKey{ID: msg.SourceID, FromMe: !msg.Incoming()},
	})
	if err != nil {
		return unavailablef("bridge unread failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge unread returned status %d", resp.StatusCode)
	}
	return nil
}

// ToggleTyping switches the composing indicator for the chat.
func (b *Bridge) ToggleTyping(ctx context.Context, phone string, on bool) error {
	status := "paused"
	if on {
		status = "composing"
	}
	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/chat-presence", url.PathEscape(b.phone)), b.headers(), map[string]any{
		"recipient": phone,
		"status":    status,
	})
	if err != nil {
		return unavailablef("bridge typing toggle failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge typing toggle returned status %d", resp.StatusCode)
	}
	return nil
}

// UpdatePresence sets the account-level presence.
func (b *Bridge) UpdatePresence(ctx context.Context, status string) error {
	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/presence", url.PathEscape(b.phone)), b.headers(), map[string]any{
		"status": status,
	})
	if err != nil {
		return unavailablef("bridge presence update failed: %s", err.Error())
	}
	if !resp.Success() {
		return unavailablef("bridge presence update returned status %d", resp.StatusCode)
	}
	return nil
}

// CheckRegistered asks the bridge whether the number is on WhatsApp.
func (b *Bridge) CheckRegistered(ctx context.Context, phone string) (*Lookup, error) {
	resp, err := b.client.PostJSON(ctx, b.url("/connections/%s/contacts/check", url.PathEscape(b.phone)), b.headers(), map[string]any{
		"numbers": []string{phone},
	})
	if err != nil {
		return nil, unavailablef("bridge contact check failed: %s", err.Error())
	}
	if !resp.Success() {
		return nil, unavailablef("bridge contact check returned status %d", resp.StatusCode)
	}

	var out []struct {
		Exists bool   `json:"exists"`
		JID    string `json:"jid"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, unavailablef("bridge contact check returned malformed body: %s", err.Error())
	}
	if len(out) == 0 {
		return &Lookup{Registered: false}, nil
	}
	return &Lookup{Registered: out[0].Exists, Identifier: out[0].JID}, nil
}

// ProfilePictureURL fetches the avatar URL for a contact identifier.
func (b *Bridge) ProfilePictureURL(ctx context.Context, identifier string) (string, error) {
	resp, err := b.client.Get(ctx, b.url("/connections/%s/profile-picture?jid=%s", url.PathEscape(b.phone), url.QueryEscape(identifier)), b.headers())
	if err != nil {
		return "", unavailablef("bridge profile picture lookup failed: %s", err.Error())
	}
	if !resp.Success() {
		return "", unavailablef("bridge profile picture lookup returned status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", unavailablef("bridge profile picture lookup returned malformed body: %s", err.Error())
	}
	return out.URL, nil
}
