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

// GatewayProcessor handles webhooks from the hosted gateway service. The
// gateway sends one flat JSON object per callback with a type discriminator.
type GatewayProcessor struct {
	pipeline *Pipeline
	logger   ectologger.Logger
	handlers map[string]func(ctx context.Context, ch *models.Channel, payload []byte) error
}

// NewGatewayProcessor creates the gateway webhook processor.
func NewGatewayProcessor(pipeline *Pipeline, logger ectologger.Logger) *GatewayProcessor {
	p := &GatewayProcessor{
		pipeline: pipeline,
		logger:   logger,
	}
	p.handlers = map[string]func(ctx context.Context, ch *models.Channel, payload []byte) error{
		"ReceivedCallback":       p.processReceived,
		"MessageStatusCallback":  p.processStatus,
		"ConnectedCallback":      p.processConnected,
		"DisconnectedCallback":   p.processDisconnected,
		"DeliveryCallback":       p.processDelivery,
		"PresenceChatCallback":   p.ignore,
		"ReceivedStatusCallback": p.ignore,
	}
	return p
}

func (p *GatewayProcessor) Provider() models.ProviderKind {
	return models.ProviderGateway
}

// Process dispatches one gateway webhook by its type discriminator.
func (p *GatewayProcessor) Process(ctx context.Context, ch *models.Channel, payload []byte) error {
	var discriminator struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &discriminator); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}

	handler, ok := p.handlers[discriminator.Type]
	if !ok {
		return p.pipeline.UnknownEvent(ctx, ch, discriminator.Type)
	}
	return handler(ctx, ch, payload)
}

func (p *GatewayProcessor) ignore(ctx context.Context, ch *models.Channel, payload []byte) error {
	return nil
}

type gatewayReceivedPayload struct {
	MessageID   string `json:"messageId"`
	Phone       string `json:"phone"`
	FromMe      bool   `json:"fromMe"`
	IsGroup     bool   `json:"isGroup"`
	Broadcast   bool   `json:"broadcast"`
	SenderName  string `json:"senderName"`
	SenderPhoto string `json:"senderPhoto"`
	Momment     int64  `json:"momment"`
	IsEdit      bool   `json:"isEdit"`
	Text        *struct {
		Message string `json:"message"`
	} `json:"text"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
		MimeType string `json:"mimeType"`
		Caption  string `json:"caption"`
	} `json:"image"`
	Audio *struct {
		AudioURL string `json:"audioUrl"`
		MimeType string `json:"mimeType"`
		PTT      bool   `json:"ptt"`
	} `json:"audio"`
	Video *struct {
		VideoURL string `json:"videoUrl"`
		MimeType string `json:"mimeType"`
		Caption  string `json:"caption"`
	} `json:"video"`
	Document *struct {
		DocumentURL string `json:"documentUrl"`
		MimeType    string `json:"mimeType"`
		FileName    string `json:"fileName"`
		Caption     string `json:"caption"`
	} `json:"document"`
	Sticker *struct {
		StickerURL string `json:"stickerUrl"`
		MimeType   string `json:"mimeType"`
	} `json:"sticker"`
	Reaction *struct {
		Value        string `json:"value"`
		ReferencedID string `json:"referencedMessage"`
		FromMe       bool   `json:"referencedFromMe"`
	} `json:"reaction"`
	Contact *struct {
		DisplayName string `json:"displayName"`
		VCard       string `json:"vcard"`
	} `json:"contact"`
}

func (p *GatewayProcessor) processReceived(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body gatewayReceivedPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed message payload")
	}
	if body.FromMe {
		return nil
	}

	ev := &InboundMessage{
		SourceID:   body.MessageID,
		ChatKind:   gatewayChatKind(&body),
		From:       body.Phone,
		SenderName: body.SenderName,
		AvatarURL:  body.SenderPhoto,
		IsEdit:     body.IsEdit,
	}
	if body.Momment > 0 {
		ev.Timestamp = time.UnixMilli(body.Momment).UTC()
	}

	switch {
	case body.Text != nil:
		ev.Kind = KindText
		ev.Text = body.Text.Message
	case body.Image != nil:
		ev.Kind = KindImage
		ev.Text = body.Image.Caption
		ev.MediaURL = body.Image.ImageURL
		ev.MimeType = body.Image.MimeType
	case body.Audio != nil:
		ev.Kind = KindAudio
		ev.MediaURL = body.Audio.AudioURL
		ev.MimeType = body.Audio.MimeType
		ev.IsVoiceNote = body.Audio.PTT
	case body.Video != nil:
		ev.Kind = KindVideo
		ev.Text = body.Video.Caption
		ev.MediaURL = body.Video.VideoURL
		ev.MimeType = body.Video.MimeType
	case body.Document != nil:
		ev.Kind = KindFile
		ev.Text = body.Document.Caption
		if ev.Text == "" {
			ev.Text = body.Document.FileName
		}
		ev.MediaURL = body.Document.DocumentURL
		ev.MimeType = body.Document.MimeType
	case body.Sticker != nil:
		ev.Kind = KindSticker
		ev.MediaURL = body.Sticker.StickerURL
		ev.MimeType = body.Sticker.MimeType
	case body.Reaction != nil:
		ev.Kind = KindReaction
		ev.Text = body.Reaction.Value
		ev.TargetSourceID = body.Reaction.ReferencedID
		ev.TargetFromMe = body.Reaction.FromMe
	case body.Contact != nil:
		ev.Kind = KindContactCard
		ev.Text = vcardSummary(body.Contact.DisplayName, body.Contact.VCard)
	default:
		ev.Kind = KindUnsupported
	}

	return p.pipeline.ProcessMessage(ctx, ch, ev)
}

func gatewayChatKind(body *gatewayReceivedPayload) ChatKind {
	switch {
	case body.IsGroup:
		return ChatGroup
	case body.Broadcast:
		return ChatBroadcast
	default:
		return ChatDirect
	}
}

type gatewayStatusPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// gatewayStatusLadder maps the gateway's status vocabulary onto canonical
// statuses.
var gatewayStatusLadder = map[string]models.Status{
	"SENT":      models.StatusSent,
	"RECEIVED":  models.StatusDelivered,
	"READ":      models.StatusRead,
	"READ-SELF": models.StatusRead,
	"PLAYED":    models.StatusRead,
	"FAILED":    models.StatusFailed,
}

func (p *GatewayProcessor) processStatus(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body gatewayStatusPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed status payload")
	}

	mapped, ok := gatewayStatusLadder[strings.ToUpper(body.Status)]
	if !ok {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id": ch.ID,
			"status":     body.Status,
		}).Warnf("Unknown gateway status label, dropping")
		return nil
	}

	return p.pipeline.ProcessStatus(ctx, ch, &StatusEvent{
		SourceID: body.MessageID,
		Status:   mapped,
		Reason:   body.Error,
	})
}

// processDelivery confirms server acceptance of an outbound message.
func (p *GatewayProcessor) processDelivery(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body struct {
		MessageID string `json:"messageId"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed delivery payload")
	}

	ev := &StatusEvent{SourceID: body.MessageID, Status: models.StatusSent}
	if body.Error != "" {
		ev.Status = models.StatusFailed
		ev.Reason = body.Error
	}
	return p.pipeline.ProcessStatus(ctx, ch, ev)
}

func (p *GatewayProcessor) processConnected(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body struct {
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed connection payload")
	}

	return p.pipeline.ProcessConnection(ctx, ch, &ConnectionCallback{
		State: models.ConnectionOpen,
		Phone: body.Phone,
	})
}

func (p *GatewayProcessor) processDisconnected(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed connection payload")
	}

	return p.pipeline.ProcessConnection(ctx, ch, &ConnectionCallback{
		State:  models.ConnectionClose,
		Reason: body.Error,
	})
}
