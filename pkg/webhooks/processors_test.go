package webhooks_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/webhooks"
)

func bridgeTextPayload(id, jid, pushName, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "message",
		"data": {
			"key": {"id": %q, "remoteJid": %q, "fromMe": false},
			"pushName": %q,
			"messageTimestamp": 1756400000,
			"message": {"conversation": %q}
		}
	}`, id, jid, pushName, text))
}

func TestBridgeProcessorTextMessage(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	payload := bridgeTextPayload("m1", "5511988887777@s.whatsapp.net", "Maria", "hi")
	require.NoError(t, processor.Process(ctx, ch, payload))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.TextContent())

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Maria", contact.Name)
}

func TestBridgeProcessorDuplicateDelivery(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	payload := bridgeTextPayload("m1", "5511988887777@s.whatsapp.net", "Maria", "hi")
	require.NoError(t, processor.Process(ctx, ch, payload))
	require.NoError(t, processor.Process(ctx, ch, payload))

	assert.Equal(t, 1, f.messages.count(), "redelivered webhook must not persist a second message")
}

func TestBridgeProcessorIgnoresGroupAndOwnMessages(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	group := bridgeTextPayload("g1", "12036302+5511@g.us", "Group", "hello all")
	require.NoError(t, processor.Process(ctx, ch, group))

	own := []byte(`{
		"event": "message",
		"data": {
			"key": {"id": "o1", "remoteJid": "5511988887777@s.whatsapp.net", "fromMe": true},
			"message": {"conversation": "my own echo"}
		}
	}`)
	require.NoError(t, processor.Process(ctx, ch, own))

	assert.Equal(t, 0, f.messages.count())
}

func TestBridgeProcessorReaction(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	payload := []byte(`{
		"event": "message",
		"data": {
			"key": {"id": "r1", "remoteJid": "5511988887777@s.whatsapp.net", "fromMe": false},
			"message": {
				"reactionMessage": {
					"key": {"id": "m9", "fromMe": true},
					"text": "❤️"
				}
			}
		}
	}`)
	require.NoError(t, processor.Process(ctx, ch, payload))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "r1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.ContentAttributes.Data.IsReaction)
	assert.Equal(t, "m9", msg.ContentAttributes.Data.InReplyToExternalID)
	assert.True(t, msg.ContentAttributes.Data.InReplyToFromMe)
	assert.Equal(t, "❤️", msg.TextContent())
}

func TestBridgeProcessorStatusVocabulary(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	payload := bridgeTextPayload("m1", "5511988887777@s.whatsapp.net", "Maria", "hi")
	require.NoError(t, processor.Process(ctx, ch, payload))
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, msg.Status)

	status := []byte(`{
		"event": "message.status",
		"data": {"key": {"id": "m1"}, "status": "READ"}
	}`)
	require.NoError(t, processor.Process(ctx, ch, status))
	assert.Equal(t, models.StatusRead, msg.Status)

	// An unknown ack label is logged and dropped, never an error.
	unknown := []byte(`{
		"event": "message.status",
		"data": {"key": {"id": "m1"}, "status": "TELEPATHY_ACK"}
	}`)
	require.NoError(t, processor.Process(ctx, ch, unknown))
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestBridgeProcessorEdit(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	require.NoError(t, processor.Process(ctx, ch, bridgeTextPayload("m1", "5511988887777@s.whatsapp.net", "Maria", "hi")))

	edit := []byte(`{
		"event": "message.updated",
		"data": {
			"key": {"id": "m1", "remoteJid": "5511988887777@s.whatsapp.net"},
			"message": {
				"editedMessage": {
					"message": {"conversation": "hi, fixed the typo"}
				}
			}
		}
	}`)
	require.NoError(t, processor.Process(ctx, ch, edit))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi, fixed the typo", msg.TextContent())
	assert.True(t, msg.ContentAttributes.Data.IsEdited)
}

func TestBridgeProcessorConnectionUpdate(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	connecting := []byte(`{
		"event": "connection.update",
		"data": {"connection": "connecting", "qrDataUrl": "data:image/png;base64,qr"}
	}`)
	require.NoError(t, processor.Process(ctx, ch, connecting))
	assert.Equal(t, models.ConnectionConnecting, ch.ConnectionState())
	assert.Equal(t, "data:image/png;base64,qr", ch.ProviderConnection.Data.QRDataURL)

	open := []byte(`{
		"event": "connection.update",
		"data": {"connection": "open", "me": {"id": "5511999999999:12@s.whatsapp.net"}}
	}`)
	require.NoError(t, processor.Process(ctx, ch, open))
	assert.Equal(t, models.ConnectionOpen, ch.ConnectionState())
}

func TestBridgeProcessorUnknownEvent(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())

	payload := []byte(`{"event": "presence.update", "data": {}}`)
	require.NoError(t, processor.Process(context.Background(), ch, payload))
	assert.Equal(t, 0, f.messages.count())
}

func TestBridgeProcessorMalformedPayload(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderBridge
	f := newFixture(t, ch)
	processor := webhooks.NewBridgeProcessor(f.pipeline, testLogger())

	err := processor.Process(context.Background(), ch, []byte("not json"))
	require.Error(t, err)
}

func TestGatewayProcessorReceivedText(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderGateway
	f := newFixture(t, ch)
	processor := webhooks.NewGatewayProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	payload := []byte(`{
		"type": "ReceivedCallback",
		"messageId": "m1",
		"phone": "5511988887777",
		"fromMe": false,
		"isGroup": false,
		"senderName": "Maria",
		"senderPhoto": "https://cdn.example.com/p.jpg",
		"momment": 1756400000000,
		"text": {"message": "hi"}
	}`)
	require.NoError(t, processor.Process(ctx, ch, payload))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.TextContent())

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact.AvatarURL)
	assert.Equal(t, "https://cdn.example.com/p.jpg", *contact.AvatarURL)
}

func TestGatewayProcessorRejectsGroups(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderGateway
	f := newFixture(t, ch)
	processor := webhooks.NewGatewayProcessor(f.pipeline, testLogger())

	payload := []byte(`{
		"type": "ReceivedCallback",
		"messageId": "g1",
		"phone": "5511988887777",
		"isGroup": true,
		"text": {"message": "hello group"}
	}`)
	require.NoError(t, processor.Process(context.Background(), ch, payload))
	assert.Equal(t, 0, f.messages.count())
}

func TestGatewayProcessorStatusVocabulary(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderGateway
	f := newFixture(t, ch)
	processor := webhooks.NewGatewayProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	received := []byte(`{
		"type": "ReceivedCallback",
		"messageId": "m1",
		"phone": "5511988887777",
		"senderName": "Maria",
		"text": {"message": "hi"}
	}`)
	require.NoError(t, processor.Process(ctx, ch, received))
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)

	status := []byte(`{"type": "MessageStatusCallback", "messageId": "m1", "status": "READ-SELF"}`)
	require.NoError(t, processor.Process(ctx, ch, status))
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestGatewayProcessorConnectionCallbacks(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderGateway
	f := newFixture(t, ch)
	processor := webhooks.NewGatewayProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	connected := []byte(`{"type": "ConnectedCallback", "phone": "5511999999999"}`)
	require.NoError(t, processor.Process(ctx, ch, connected))
	assert.Equal(t, models.ConnectionOpen, ch.ConnectionState())

	disconnected := []byte(`{"type": "DisconnectedCallback", "error": "device offline"}`)
	require.NoError(t, processor.Process(ctx, ch, disconnected))
	assert.Equal(t, models.ConnectionClose, ch.ConnectionState())
	assert.Equal(t, "device offline", ch.ProviderConnection.Data.Error)
}

func TestCloudProcessorBatch(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderCloud
	f := newFixture(t, ch)
	logger := testLogger()
	processor := webhooks.NewCloudProcessor(f.pipeline, nil, logger)
	ctx := context.Background()

	payload := []byte(`{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"contacts": [{"wa_id": "5511988887777", "profile": {"name": "Maria"}}],
					"messages": [
						{"id": "m1", "from": "5511988887777", "timestamp": "1756400000", "type": "text", "text": {"body": "hi"}},
						{"id": "m2", "from": "5511988887777", "timestamp": "1756400001", "type": "text", "text": {"body": "again"}}
					],
					"statuses": [{"id": "m0", "status": "delivered"}]
				}
			}]
		}]
	}`)
	require.NoError(t, processor.Process(ctx, ch, payload))

	assert.Equal(t, 2, f.messages.count())
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.TextContent())

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Maria", contact.Name)
}

func TestCloudProcessorStatusErrors(t *testing.T) {
	ch := defaultChannel()
	ch.Provider = models.ProviderCloud
	f := newFixture(t, ch)
	processor := webhooks.NewCloudProcessor(f.pipeline, nil, testLogger())
	ctx := context.Background()

	seed := []byte(`{
		"entry": [{"changes": [{"field": "messages", "value": {
			"messages": [{"id": "m1", "from": "5511988887777", "type": "text", "text": {"body": "hi"}}]
		}}]}]
	}`)
	require.NoError(t, processor.Process(ctx, ch, seed))
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)

	failed := []byte(`{
		"entry": [{"changes": [{"field": "messages", "value": {
			"statuses": [{"id": "m1", "status": "failed", "errors": [{"title": "Message undeliverable"}]}]
		}}]}]
	}`)
	require.NoError(t, processor.Process(ctx, ch, failed))
	assert.Equal(t, models.StatusFailed, msg.Status)
	require.NotNil(t, msg.ExternalError)
	assert.Equal(t, "Message undeliverable", *msg.ExternalError)
}

func TestDefaultProcessorMessageAndStatus(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	processor := webhooks.NewDefaultProcessor(f.pipeline, testLogger())
	ctx := context.Background()

	message := []byte(`{
		"event": "message",
		"messageId": "m1",
		"from": "5511988887777",
		"name": "Maria",
		"text": "hi",
		"timestamp": 1756400000
	}`)
	require.NoError(t, processor.Process(ctx, ch, message))
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)

	status := []byte(`{"event": "status", "messageId": "m1", "status": "read"}`)
	require.NoError(t, processor.Process(ctx, ch, status))
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestRegistryDispatch(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	logger := testLogger()

	registry := webhooks.NewRegistry(
		webhooks.NewBridgeProcessor(f.pipeline, logger),
		webhooks.NewGatewayProcessor(f.pipeline, logger),
		webhooks.NewDefaultProcessor(f.pipeline, logger),
	)

	p, ok := registry.For(models.ProviderBridge)
	require.True(t, ok)
	assert.Equal(t, models.ProviderBridge, p.Provider())

	_, ok = registry.For(models.ProviderCloud)
	assert.False(t, ok)
}
