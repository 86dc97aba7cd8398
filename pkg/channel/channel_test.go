package channel

import (
	"context"
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

func testFacade() *Facade {
	return NewFacade(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), nil, testLogger())
}

func bridgeChannel(baseURL string) *models.Channel {
	return &models.Channel{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		PhoneNumber: "5511888888888",
		Provider:    models.ProviderBridge,
		ProviderConfig: database.JSONB[models.ProviderConfig]{
			Data: models.ProviderConfig{BaseURL: baseURL, APIKey: "key"},
		},
	}
}

func pendingMessage(content string) *models.Message {
	return &models.Message{
		ID:        uuid.New(),
		Direction: models.DirectionOutgoing,
		Status:    models.StatusPending,
		Content:   &content,
	}
}

func TestSendSuccessSetsSourceIDAndSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId": "SENT1"}`))
	}))
	defer server.Close()

	msg := pendingMessage("hello")
	err := testFacade().Send(context.Background(), bridgeChannel(server.URL), "5511999999999", msg, nil)
	require.NoError(t, err)
	assert.Equal(t, "SENT1", msg.SourceID)
	assert.Equal(t, models.StatusSent, msg.Status)
}

func TestSendOversizedAttachmentFailsTerminally(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	msg := pendingMessage("caption")
	attachment := models.Attachment{
		FileType:    models.FileTypeImage,
		DownloadURL: "https://cdn.example.com/big.jpg",
		MimeType:    "image/jpeg",
		SizeBytes:   models.MaxImageBytes + 1,
	}

	err := testFacade().Send(context.Background(), bridgeChannel(server.URL), "5511999999999", msg, []models.Attachment{attachment})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, msg.Status)
	require.NotNil(t, msg.ExternalError)
	assert.Contains(t, *msg.ExternalError, "File too large")
	assert.Equal(t, 0, calls)
}

func TestSendWithoutContentMarksUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	msg := pendingMessage("")
	err := testFacade().Send(context.Background(), bridgeChannel(server.URL), "5511999999999", msg, nil)
	require.NoError(t, err)
	assert.True(t, msg.ContentAttributes.Data.IsUnsupported)
	assert.Equal(t, models.StatusPending, msg.Status)
}

func TestReceivedMessagesIssuesReadReceipts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/connections/5511888888888/read-messages" {
			calls++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	incoming := pendingMessage("hi")
	incoming.Direction = models.DirectionIncoming
	incoming.SourceID = "IN1"

	err := testFacade().ReceivedMessages(context.Background(), bridgeChannel(server.URL), "5511999999999", []*models.Message{incoming})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReceivedMessagesSkippedWhenMarkAsReadDisabled(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	ch := bridgeChannel(server.URL)
	disabled := false
	ch.ProviderConfig.Data.MarkAsRead = &disabled

	incoming := pendingMessage("hi")
	incoming.Direction = models.DirectionIncoming

	err := testFacade().ReceivedMessages(context.Background(), ch, "5511999999999", []*models.Message{incoming})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestReceivedMessagesSkippedForProviderWithoutMarkRead(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	ch := bridgeChannel(server.URL)
	ch.Provider = models.ProviderDefault

	incoming := pendingMessage("hi")
	incoming.Direction = models.DirectionIncoming

	err := testFacade().ReceivedMessages(context.Background(), ch, "5511999999999", []*models.Message{incoming})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestReceivedMessagesIgnoresOutgoing(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	outgoing := pendingMessage("ours")
	err := testFacade().ReceivedMessages(context.Background(), bridgeChannel(server.URL), "5511999999999", []*models.Message{outgoing})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
