package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/providers"
)

// CloudProcessor handles webhooks from the official graph API. Unlike the
// other providers it batches events: one POST can carry several entries,
// each with message and status arrays.
type CloudProcessor struct {
	pipeline *Pipeline
	client   *httpclient.Client
	logger   ectologger.Logger
}

// NewCloudProcessor creates the cloud webhook processor. The HTTP client is
// used to resolve media ids into short-lived download URLs.
func NewCloudProcessor(pipeline *Pipeline, client *httpclient.Client, logger ectologger.Logger) *CloudProcessor {
	return &CloudProcessor{
		pipeline: pipeline,
		client:   client,
		logger:   logger,
	}
}

func (p *CloudProcessor) Provider() models.ProviderKind {
	return models.ProviderCloud
}

type cloudMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	Voice    bool   `json:"voice"`
}

type cloudWebhook struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []cloudInboundMessage `json:"messages"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Errors []struct {
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudInboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *cloudMedia `json:"image"`
	Audio    *cloudMedia `json:"audio"`
	Video    *cloudMedia `json:"video"`
	Document *cloudMedia `json:"document"`
	Sticker  *cloudMedia `json:"sticker"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
	Contacts []struct {
		Name struct {
			FormattedName string `json:"formatted_name"`
		} `json:"name"`
		Phones []struct {
			Phone string `json:"phone"`
		} `json:"phones"`
	} `json:"contacts"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context"`
}

// cloudStatusLadder maps graph API status labels onto canonical statuses.
var cloudStatusLadder = map[string]models.Status{
	"sent":      models.StatusSent,
	"delivered": models.StatusDelivered,
	"read":      models.StatusRead,
	"failed":    models.StatusFailed,
}

// Process walks every entry and change in the batch. Individual event
// failures abort the batch so the provider retries it.
func (p *CloudProcessor) Process(ctx context.Context, ch *models.Channel, payload []byte) error {
	var body cloudWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}

	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				if err := p.pipeline.UnknownEvent(ctx, ch, change.Field); err != nil {
					return err
				}
				continue
			}

			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for i := range change.Value.Messages {
				msg := &change.Value.Messages[i]
				if err := p.processMessage(ctx, ch, msg, names[msg.From]); err != nil {
					return err
				}
			}

			for _, status := range change.Value.Statuses {
				mapped, ok := cloudStatusLadder[status.Status]
				if !ok {
					p.logger.WithContext(ctx).WithFields(map[string]any{
						"channel_id": ch.ID,
						"status":     status.Status,
					}).Warnf("Unknown cloud status label, dropping")
					continue
				}
				reason := ""
				if len(status.Errors) > 0 {
					reason = status.Errors[0].Title
				}
				err := p.pipeline.ProcessStatus(ctx, ch, &StatusEvent{
					SourceID: status.ID,
					Status:   mapped,
					Reason:   reason,
				})
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *CloudProcessor) processMessage(ctx context.Context, ch *models.Channel, msg *cloudInboundMessage, senderName string) error {
	ev := &InboundMessage{
		SourceID:   msg.ID,
		ChatKind:   ChatDirect,
		From:       msg.From,
		SenderName: senderName,
	}
	if secs, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil && secs > 0 {
		ev.Timestamp = time.Unix(secs, 0).UTC()
	}

	var media *cloudMedia
	switch msg.Type {
	case "text":
		ev.Kind = KindText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case "image":
		ev.Kind = KindImage
		media = msg.Image
	case "audio":
		ev.Kind = KindAudio
		media = msg.Audio
	case "video":
		ev.Kind = KindVideo
		media = msg.Video
	case "document":
		ev.Kind = KindFile
		media = msg.Document
	case "sticker":
		ev.Kind = KindSticker
		media = msg.Sticker
	case "reaction":
		ev.Kind = KindReaction
		if msg.Reaction != nil {
			ev.Text = msg.Reaction.Emoji
			ev.TargetSourceID = msg.Reaction.MessageID
		}
	case "contacts":
		ev.Kind = KindContactCard
		if len(msg.Contacts) > 0 {
			phone := ""
			if len(msg.Contacts[0].Phones) > 0 {
				phone = msg.Contacts[0].Phones[0].Phone
			}
			ev.Text = vcardSummary(msg.Contacts[0].Name.FormattedName, "TEL:"+phone)
		}
	default:
		ev.Kind = KindUnsupported
	}

	if media != nil {
		ev.Text = media.Caption
		if ev.Text == "" && media.Filename != "" {
			ev.Text = media.Filename
		}
		ev.MimeType = media.MimeType
		ev.IsVoiceNote = media.Voice

		downloadURL, err := p.resolveMediaURL(ctx, ch, media.ID)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"channel_id": ch.ID,
				"media_id":   media.ID,
			}).Warnf("Failed to resolve cloud media url")
		} else {
			ev.MediaURL = downloadURL
			// Media CDN URLs require the same bearer token as the API.
			ev.MediaHeaders = map[string]string{
				"Authorization": "Bearer " + ch.ProviderConfig.Data.APIKey,
			}
		}
	}

	if msg.Context != nil && ev.Kind == KindText {
		ev.TargetSourceID = msg.Context.ID
	}

	return p.pipeline.ProcessMessage(ctx, ch, ev)
}

// resolveMediaURL exchanges a media id for its short-lived download URL.
func (p *CloudProcessor) resolveMediaURL(ctx context.Context, ch *models.Channel, mediaID string) (string, error) {
	cfg := ch.ProviderConfig.Data
	base := cfg.BaseURL
	if base == "" {
		base = providers.DefaultCloudBaseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}

	resp, err := p.client.Get(ctx, base+"/"+url.PathEscape(mediaID), headers)
	if err != nil {
		return "", err
	}
	if !resp.Success() {
		return "", httperror.NewHTTPErrorf(http.StatusBadGateway, "media lookup returned status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}
