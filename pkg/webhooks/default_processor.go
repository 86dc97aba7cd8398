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

// DefaultProcessor handles webhooks from the legacy fallback variant. The
// legacy API only reports inbound text or media and delivery statuses.
type DefaultProcessor struct {
	pipeline *Pipeline
	logger   ectologger.Logger
}

// NewDefaultProcessor creates the legacy webhook processor.
func NewDefaultProcessor(pipeline *Pipeline, logger ectologger.Logger) *DefaultProcessor {
	return &DefaultProcessor{pipeline: pipeline, logger: logger}
}

func (p *DefaultProcessor) Provider() models.ProviderKind {
	return models.ProviderDefault
}

type defaultWebhook struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	MediaURL  string `json:"mediaUrl"`
	MimeType  string `json:"mimeType"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// Process dispatches one legacy webhook by its event field.
func (p *DefaultProcessor) Process(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body defaultWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}

	switch body.Event {
	case "message":
		return p.processMessage(ctx, ch, &body)
	case "status":
		return p.processStatus(ctx, ch, &body)
	default:
		return p.pipeline.UnknownEvent(ctx, ch, body.Event)
	}
}

func (p *DefaultProcessor) processMessage(ctx context.Context, ch *models.Channel, body *defaultWebhook) error {
	ev := &InboundMessage{
		SourceID:   body.MessageID,
		ChatKind:   ChatDirect,
		From:       body.From,
		SenderName: body.Name,
		Text:       body.Text,
	}
	if body.Timestamp > 0 {
		ev.Timestamp = time.Unix(body.Timestamp, 0).UTC()
	}

	switch {
	case body.MediaURL != "":
		ev.MediaURL = body.MediaURL
		ev.MimeType = body.MimeType
		ev.Kind = defaultMediaKind(body.MimeType)
	case body.Text != "":
		ev.Kind = KindText
	default:
		ev.Kind = KindUnsupported
	}

	return p.pipeline.ProcessMessage(ctx, ch, ev)
}

func defaultMediaKind(mimeType string) MessageKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}

func (p *DefaultProcessor) processStatus(ctx context.Context, ch *models.Channel, body *defaultWebhook) error {
	mapped := models.Status(strings.ToLower(body.Status))
	if !mapped.Valid() {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"channel_id": ch.ID,
			"status":     body.Status,
		}).Warnf("Unknown legacy status label, dropping")
		return nil
	}

	return p.pipeline.ProcessStatus(ctx, ch, &StatusEvent{
		SourceID: body.MessageID,
		Status:   mapped,
		Reason:   body.Error,
	})
}
