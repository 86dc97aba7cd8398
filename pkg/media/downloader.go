// Package media downloads inbound attachment payloads from provider-hosted
// URLs.
package media

import (
	"context"
	"mime"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
)

// Download is the result of fetching one media payload.
type Download struct {
	Body     []byte
	MimeType string
	FileType models.FileType
	Size     int64
}

// Downloader fetches media from provider URLs with a hard size ceiling.
type Downloader struct {
	client   *httpclient.Client
	logger   ectologger.Logger
	maxBytes int64
}

// NewDownloader creates a media downloader. maxBytes caps any single
// download; zero means the client default.
func NewDownloader(client *httpclient.Client, logger ectologger.Logger, maxBytes int64) *Downloader {
	if maxBytes <= 0 {
		maxBytes = httpclient.MaxResponseSize
	}
	return &Downloader{
		client:   client,
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// Fetch downloads the media at url. headers carries provider auth when the
// URL is not pre-signed. The declared mime type wins over the response
// Content-Type when the provider supplied one.
func (d *Downloader) Fetch(ctx context.Context, url string, declaredMime string, headers map[string]string) (*Download, error) {
	resp, err := d.client.Get(ctx, url, headers)
	if err != nil {
		metrics.MediaDownloadsTotal.WithLabelValues("unknown", "error").Inc()
		d.logger.WithContext(ctx).WithError(err).Warnf("Media download failed: %s", url)
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "failed to download media: %s", err.Error())
	}
	if !resp.Success() {
		metrics.MediaDownloadsTotal.WithLabelValues("unknown", "error").Inc()
		d.logger.WithContext(ctx).Warnf("Media download returned status %d: %s", resp.StatusCode, url)
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "media download returned status %d", resp.StatusCode)
	}

	size := int64(len(resp.Body))
	if size > d.maxBytes {
		metrics.MediaDownloadsTotal.WithLabelValues("unknown", "too_large").Inc()
		return nil, httperror.NewHTTPErrorf(http.StatusRequestEntityTooLarge, "media exceeds maximum download size of %d bytes", d.maxBytes)
	}

	mimeType := declaredMime
	if mimeType == "" {
		mimeType = resp.ContentType
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(resp.Body)
	}
	// Strip codec parameters like "audio/ogg; codecs=opus".
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}

	fileType := models.FileTypeFromMime(mimeType)
	metrics.MediaDownloadsTotal.WithLabelValues(string(fileType), "ok").Inc()

	return &Download{
		Body:     resp.Body,
		MimeType: mimeType,
		FileType: fileType,
		Size:     size,
	}, nil
}
