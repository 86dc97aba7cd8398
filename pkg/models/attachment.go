package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/database"
)

// FileType classifies an attachment's payload.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeAudio FileType = "audio"
	FileTypeVideo FileType = "video"
	FileTypeFile  FileType = "file"
)

// Per-type size ceilings for outbound attachments, in bytes. Exceeding the
// ceiling is a terminal per-message failure, never retried.
const (
	MaxImageBytes = 5 * 1024 * 1024
	MaxAVBytes    = 16 * 1024 * 1024
	MaxFileBytes  = 100 * 1024 * 1024
)

// MaxBytes returns the outbound size ceiling for the file type.
func (f FileType) MaxBytes() int64 {
	switch f {
	case FileTypeImage:
		return MaxImageBytes
	case FileTypeAudio, FileTypeVideo:
		return MaxAVBytes
	default:
		return MaxFileBytes
	}
}

// FileTypeFromMime maps a mime type onto the attachment classification.
// Anything that is not image, audio or video is a generic file.
func FileTypeFromMime(mime string) FileType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return FileTypeImage
	case strings.HasPrefix(mime, "audio/"):
		return FileTypeAudio
	case strings.HasPrefix(mime, "video/"):
		return FileTypeVideo
	default:
		return FileTypeFile
	}
}

// AttachmentMeta holds flags set once at attachment creation.
type AttachmentMeta struct {
	// IsRecordedAudio distinguishes voice notes from ordinary audio files.
	IsRecordedAudio bool `json:"is_recorded_audio,omitempty"`
}

// Attachment belongs to exactly one message and is immutable after creation.
type Attachment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	MessageID uuid.UUID `db:"message_id" json:"message_id"`

	FileType    FileType `db:"file_type" json:"file_type"`
	DownloadURL string   `db:"download_url" json:"download_url"`
	MimeType    string   `db:"mime_type" json:"mime_type"`
	SizeBytes   int64    `db:"size_bytes" json:"size_bytes"`

	Meta database.JSONB[AttachmentMeta] `db:"meta" json:"meta"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Attachment) TableName() string {
	return "attachments"
}
