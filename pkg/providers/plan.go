package providers

import (
	"errors"
	"fmt"

	"github.com/Ramsey-B/aster/pkg/models"
)

// ErrUnsupportedContent is returned when a message carries no payload any
// provider can deliver. The facade marks the message is_unsupported and
// stops; no provider call is made.
var ErrUnsupportedContent = errors.New("message has no sendable content")

// AttachmentTooLargeError is a terminal per-message failure: the attachment
// exceeds the per-type size ceiling and must never be retried. Its Error text
// is persisted as the message's external error.
type AttachmentTooLargeError struct {
	FileType models.FileType
	Size     int64
	Limit    int64
}

func (e *AttachmentTooLargeError) Error() string {
	return fmt.Sprintf("File too large (%s attachments are limited to %d MB)", e.FileType, e.Limit/(1024*1024))
}

type outboundKind int

const (
	outboundReaction outboundKind = iota
	outboundAttachment
	outboundText
)

// sendPlan is the single payload chosen for one outbound message. Reaction
// wins over attachments, attachments over plain text.
type sendPlan struct {
	kind outboundKind

	// reaction
	emoji          string
	targetSourceID string
	targetFromMe   bool

	// attachment
	attachment *models.Attachment
	caption    string

	// text
	text    string
	replyTo string
}

// planOutbound classifies the message into exactly one wire payload. The
// attachment size ceiling is enforced here, before any HTTP call.
func planOutbound(msg *models.Message, attachments []models.Attachment) (*sendPlan, error) {
	attrs := msg.ContentAttributes.Data

	if attrs.IsReaction {
		return &sendPlan{
			kind:           outboundReaction,
			emoji:          msg.TextContent(),
			targetSourceID: attrs.InReplyToExternalID,
			targetFromMe:   attrs.InReplyToFromMe,
		}, nil
	}

	if len(attachments) > 0 {
		att := attachments[0]
		if limit := att.FileType.MaxBytes(); att.SizeBytes > limit {
			return nil, &AttachmentTooLargeError{
				FileType: att.FileType,
				Size:     att.SizeBytes,
				Limit:    limit,
			}
		}
		return &sendPlan{
			kind:       outboundAttachment,
			attachment: &att,
			caption:    msg.TextContent(),
		}, nil
	}

	if msg.TextContent() != "" {
		return &sendPlan{
			kind:    outboundText,
			text:    msg.TextContent(),
			replyTo: attrs.InReplyToExternalID,
		}, nil
	}

	return nil, ErrUnsupportedContent
}
