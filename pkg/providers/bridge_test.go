package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/models"
)

func testLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func testHTTPClient() *httpclient.Client {
	return httpclient.NewClient(httpclient.DefaultConfig(), testLogger())
}

func textMessage(content string) *models.Message {
	return &models.Message{
		ID:        uuid.New(),
		ChannelID: uuid.New(),
		SourceID:  "src-1",
		Direction: models.DirectionOutgoing,
		Content:   &content,
	}
}

func TestBridgeSendText(t *testing.T) {
	var gotBody bridgeSendRequest
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/connections/5511888888888/messages", r.URL.Path)
		gotAPIKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId": "BAE5F4A0"}`))
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{
		BaseURL: server.URL,
		APIKey:  "secret",
	}, "5511888888888", testHTTPClient(), testLogger())

	id, err := bridge.Send(context.Background(), "5511999999999", textMessage("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "BAE5F4A0", id)
	assert.Equal(t, "secret", gotAPIKey)
	assert.Equal(t, "5511999999999", gotBody.Recipient)
	require.NotNil(t, gotBody.Message.Text)
	assert.Equal(t, "hello", gotBody.Message.Text.Body)
}

func TestBridgeSendReactionToIncomingMessage(t *testing.T) {
	var gotBody bridgeSendRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId": "REACT1"}`))
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	msg := textMessage("\U0001F44D")
	msg.ContentAttributes = database.JSONB[models.ContentAttributes]{Data: models.ContentAttributes{
		IsReaction:          true,
		InReplyToExternalID: "TARGET1",
	}}

	id, err := bridge.Send(context.Background(), "5511999999999", msg, nil)
	require.NoError(t, err)
	assert.Equal(t, "REACT1", id)

	require.NotNil(t, gotBody.Message.Reaction)
	assert.Equal(t, "\U0001F44D", gotBody.Message.Reaction.Text)
	assert.Equal(t, "TARGET1", gotBody.Message.Reaction.Key.ID)
	// Reacting to a contact's message must address the target with fromMe
	// false.
	assert.False(t, gotBody.Message.Reaction.Key.FromMe)
}

func TestBridgeSendAttachmentSizeCeiling(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId": "MEDIA1"}`))
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	attachment := models.Attachment{
		FileType:    models.FileTypeImage,
		DownloadURL: "https://cdn.example.com/photo.jpg",
		MimeType:    "image/jpeg",
		SizeBytes:   models.MaxImageBytes,
	}

	// Exactly at the ceiling is accepted.
	id, err := bridge.Send(context.Background(), "5511999999999", textMessage("caption"), []models.Attachment{attachment})
	require.NoError(t, err)
	assert.Equal(t, "MEDIA1", id)
	assert.Equal(t, 1, calls)

	// One byte over is a terminal failure with no network call.
	attachment.SizeBytes = models.MaxImageBytes + 1
	_, err = bridge.Send(context.Background(), "5511999999999", textMessage("caption"), []models.Attachment{attachment})
	require.Error(t, err)

	var tooLarge *AttachmentTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Contains(t, tooLarge.Error(), "File too large")
	assert.Equal(t, 1, calls)
}

func TestBridgeSendUnsupportedContent(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	_, err := bridge.Send(context.Background(), "5511999999999", textMessage(""), nil)
	require.ErrorIs(t, err, ErrUnsupportedContent)
	assert.Equal(t, 0, calls)
}

func TestBridgeSendNon2xxIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	_, err := bridge.Send(context.Background(), "5511999999999", textMessage("hello"), nil)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestBridgeSetupReturnsQR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/connections/5511888888888", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"connection": "connecting", "qrDataUrl": "data:image/png;base64,abc"}`))
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	conn, err := bridge.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnecting, conn.Connection)
	assert.Equal(t, "data:image/png;base64,abc", conn.QRDataURL)
}

func TestBridgeSetupNormalizesUnknownState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"connection": "weird"}`))
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	conn, err := bridge.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionClose, conn.Connection)
}

func TestBridgeMarkRead(t *testing.T) {
	var gotBody struct {
		Recipient string             `json:"recipient"`
		Keys      []bridgeMessageKey `json:"keys"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/connections/5511888888888/read-messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bridge := NewBridge(models.ProviderConfig{BaseURL: server.URL}, "5511888888888", testHTTPClient(), testLogger())

	incoming := textMessage("hi")
	incoming.Direction = models.DirectionIncoming
	incoming.SourceID = "IN1"

	err := bridge.MarkRead(context.Background(), "5511999999999", []*models.Message{incoming})
	require.NoError(t, err)
	require.Len(t, gotBody.Keys, 1)
	assert.Equal(t, "IN1", gotBody.Keys[0].ID)
	assert.False(t, gotBody.Keys[0].FromMe)
}
