package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/models"
)

// BridgeProcessor handles webhooks from the self-hosted multi-device bridge:
// an event discriminator plus a key/message envelope.
type BridgeProcessor struct {
	pipeline *Pipeline
	logger   ectologger.Logger
	handlers map[string]func(ctx context.Context, ch *models.Channel, data json.RawMessage) error
}

// NewBridgeProcessor creates the bridge webhook processor.
func NewBridgeProcessor(pipeline *Pipeline, logger ectologger.Logger) *BridgeProcessor {
	p := &BridgeProcessor{
		pipeline: pipeline,
		logger:   logger,
	}
	p.handlers = map[string]func(ctx context.Context, ch *models.Channel, data json.RawMessage) error{
		"message":           p.processMessage,
		"message.updated":   p.processMessageUpdated,
		"message.status":    p.processMessageStatus,
		"connection.update": p.processConnectionUpdate,
	}
	return p
}

func (p *BridgeProcessor) Provider() models.ProviderKind {
	return models.ProviderBridge
}

type bridgeEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Process dispatches one bridge webhook by its event discriminator.
func (p *BridgeProcessor) Process(ctx context.Context, ch *models.Channel, payload []byte) error {
	var envelope bridgeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}

	handler, ok := p.handlers[envelope.Event]
	if !ok {
		return p.pipeline.UnknownEvent(ctx, ch, envelope.Event)
	}
	return handler(ctx, ch, envelope.Data)
}

type bridgeKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

type bridgeMessagePayload struct {
	Key              bridgeKey `json:"key"`
	PushName         string    `json:"pushName"`
	VerifiedBizName  string    `json:"verifiedBizName"`
	MessageTimestamp int64     `json:"messageTimestamp"`
	Message          struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
			Caption  string `json:"caption"`
		} `json:"imageMessage"`
		AudioMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
			PTT      bool   `json:"ptt"`
		} `json:"audioMessage"`
		VideoMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
			Caption  string `json:"caption"`
		} `json:"videoMessage"`
		DocumentMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
			FileName string `json:"fileName"`
			Caption  string `json:"caption"`
		} `json:"documentMessage"`
		StickerMessage *struct {
			URL      string `json:"url"`
			Mimetype string `json:"mimetype"`
		} `json:"stickerMessage"`
		ReactionMessage *struct {
			Key  bridgeKey `json:"key"`
			Text string    `json:"text"`
		} `json:"reactionMessage"`
		ContactMessage *struct {
			DisplayName string `json:"displayName"`
			VCard       string `json:"vcard"`
		} `json:"contactMessage"`
		EditedMessage *struct {
			Message struct {
				Conversation        string `json:"conversation"`
				ExtendedTextMessage *struct {
					Text string `json:"text"`
				} `json:"extendedTextMessage"`
			} `json:"message"`
		} `json:"editedMessage"`
	} `json:"message"`
}

func bridgeChatKind(remoteJID string) ChatKind {
	switch {
	case strings.HasSuffix(remoteJID, "@g.us"):
		return ChatGroup
	case remoteJID == "status@broadcast", strings.HasSuffix(remoteJID, "@broadcast"):
		return ChatBroadcast
	case strings.HasSuffix(remoteJID, "@newsletter"):
		return ChatNewsletter
	default:
		return ChatDirect
	}
}

func bridgeSender(remoteJID string) string {
	if i := strings.IndexByte(remoteJID, '@'); i >= 0 {
		return remoteJID[:i]
	}
	return remoteJID
}

func (p *BridgeProcessor) processMessage(ctx context.Context, ch *models.Channel, data json.RawMessage) error {
	var payload bridgeMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed message payload")
	}

	// Echoes of our own sends arrive with fromMe set; those are already
	// persisted on the outbound path.
	if payload.Key.FromMe {
		return nil
	}

	ev := &InboundMessage{
		SourceID:     payload.Key.ID,
		ChatKind:     bridgeChatKind(payload.Key.RemoteJID),
		From:         bridgeSender(payload.Key.RemoteJID),
		SenderName:   payload.PushName,
		BusinessName: payload.VerifiedBizName,
	}
	if payload.MessageTimestamp > 0 {
		ev.Timestamp = time.Unix(payload.MessageTimestamp, 0).UTC()
	}

	msg := payload.Message
	switch {
	case msg.Conversation != "":
		ev.Kind = KindText
		ev.Text = msg.Conversation
	case msg.ExtendedTextMessage != nil:
		ev.Kind = KindText
		ev.Text = msg.ExtendedTextMessage.Text
	case msg.ImageMessage != nil:
		ev.Kind = KindImage
		ev.Text = msg.ImageMessage.Caption
		ev.MediaURL = msg.ImageMessage.URL
		ev.MimeType = msg.ImageMessage.Mimetype
	case msg.AudioMessage != nil:
		ev.Kind = KindAudio
		ev.MediaURL = msg.AudioMessage.URL
		ev.MimeType = msg.AudioMessage.Mimetype
		ev.IsVoiceNote = msg.AudioMessage.PTT
	case msg.VideoMessage != nil:
		ev.Kind = KindVideo
		ev.Text = msg.VideoMessage.Caption
		ev.MediaURL = msg.VideoMessage.URL
		ev.MimeType = msg.VideoMessage.Mimetype
	case msg.DocumentMessage != nil:
		ev.Kind = KindFile
		ev.Text = msg.DocumentMessage.Caption
		if ev.Text == "" {
			ev.Text = msg.DocumentMessage.FileName
		}
		ev.MediaURL = msg.DocumentMessage.URL
		ev.MimeType = msg.DocumentMessage.Mimetype
	case msg.StickerMessage != nil:
		ev.Kind = KindSticker
		ev.MediaURL = msg.StickerMessage.URL
		ev.MimeType = msg.StickerMessage.Mimetype
	case msg.ReactionMessage != nil:
		ev.Kind = KindReaction
		ev.Text = msg.ReactionMessage.Text
		ev.TargetSourceID = msg.ReactionMessage.Key.ID
		ev.TargetFromMe = msg.ReactionMessage.Key.FromMe
	case msg.ContactMessage != nil:
		ev.Kind = KindContactCard
		ev.Text = vcardSummary(msg.ContactMessage.DisplayName, msg.ContactMessage.VCard)
	default:
		ev.Kind = KindUnsupported
	}

	return p.pipeline.ProcessMessage(ctx, ch, ev)
}

func (p *BridgeProcessor) processMessageUpdated(ctx context.Context, ch *models.Channel, data json.RawMessage) error {
	var payload bridgeMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed message payload")
	}
	if payload.Message.EditedMessage == nil {
		return nil
	}

	edited := payload.Message.EditedMessage.Message
	text := edited.Conversation
	if text == "" && edited.ExtendedTextMessage != nil {
		text = edited.ExtendedTextMessage.Text
	}

	return p.pipeline.ProcessMessage(ctx, ch, &InboundMessage{
		SourceID: payload.Key.ID,
		ChatKind: bridgeChatKind(payload.Key.RemoteJID),
		From:     bridgeSender(payload.Key.RemoteJID),
		Kind:     KindText,
		Text:     text,
		IsEdit:   true,
	})
}

type bridgeStatusPayload struct {
	Key    bridgeKey `json:"key"`
	Status string    `json:"status"`
	Error  string    `json:"error"`
}

// bridgeStatusLadder maps the bridge's ack vocabulary to canonical statuses.
var bridgeStatusLadder = map[string]models.Status{
	"SERVER_ACK":   models.StatusSent,
	"DELIVERY_ACK": models.StatusDelivered,
	"READ":         models.StatusRead,
	"PLAYED":       models.StatusRead,
	"ERROR":        models.StatusFailed,
}

func (p *BridgeProcessor) processMessageStatus(ctx context.Context, ch *models.Channel, data json.RawMessage) error {
	var payload bridgeStatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed status payload")
	}

	mapped, ok := bridgeStatusLadder[strings.ToUpper(payload.Status)]
	if !ok {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id": ch.ID,
			"status":     payload.Status,
		}).Warnf("Unknown bridge status label, dropping")
		return nil
	}

	return p.pipeline.ProcessStatus(ctx, ch, &StatusEvent{
		SourceID: payload.Key.ID,
		Status:   mapped,
		Reason:   payload.Error,
	})
}

type bridgeConnectionPayload struct {
	Connection string `json:"connection"`
	QRDataURL  string `json:"qrDataUrl"`
	Me         struct {
		ID string `json:"id"`
	} `json:"me"`
	LastDisconnectReason string `json:"lastDisconnectReason"`
}

func (p *BridgeProcessor) processConnectionUpdate(ctx context.Context, ch *models.Channel, data json.RawMessage) error {
	var payload bridgeConnectionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed connection payload")
	}

	// The session jid looks like "5511999999999:12@s.whatsapp.net"; the part
	// before the colon is the phone number.
	reported := bridgeSender(payload.Me.ID)
	if i := strings.IndexByte(reported, ':'); i >= 0 {
		reported = reported[:i]
	}

	return p.pipeline.ProcessConnection(ctx, ch, &ConnectionCallback{
		State:     models.ConnectionState(payload.Connection),
		Phone:     reported,
		QRDataURL: payload.QRDataURL,
		Reason:    payload.LastDisconnectReason,
	})
}

// vcardSummary derives "name: phone" from a contact card.
func vcardSummary(displayName, vcard string) string {
	phone := ""
	for _, line := range strings.Split(vcard, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "TEL") {
			continue
		}
		if i := strings.IndexByte(line, ':'); i >= 0 {
			phone = strings.TrimSpace(line[i+1:])
			break
		}
	}

	switch {
	case displayName != "" && phone != "":
		return displayName + ": " + phone
	case displayName != "":
		return displayName
	default:
		return phone
	}
}
