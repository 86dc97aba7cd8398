package webhooks_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/aster/pkg/channel"
	"github.com/Ramsey-B/aster/pkg/connection"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/dedup"
	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/media"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/repositories"
	"github.com/Ramsey-B/aster/pkg/webhooks"
)

func testLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// memDedupStore is an in-memory dedup.Store.
type memDedupStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemDedupStore() *memDedupStore {
	return &memDedupStore{keys: make(map[string]bool)}
}

func (s *memDedupStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *memDedupStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *memDedupStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

// memDB satisfies the transactional surface the pipeline touches. Everything
// else panics through the embedded nil interface.
type memDB struct{ database.DB }

func (memDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, memTx{}, nil
}

type memTx struct{ database.Tx }

func (memTx) IsOpen() bool { return true }

func (memTx) Commit(ctx context.Context) error { return nil }

func (memTx) Rollback(ctx context.Context) error { return nil }

// memMessages is an in-memory repositories.MessageRepo.
type memMessages struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func newMemMessages() *memMessages {
	return &memMessages{messages: make(map[string]*models.Message)}
}

func messageKey(channelID uuid.UUID, sourceID string) string {
	return channelID.String() + ":" + sourceID
}

func (m *memMessages) DB() database.DB { return memDB{} }

func (m *memMessages) Create(ctx context.Context, message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := messageKey(message.ChannelID, message.SourceID)
	if _, ok := m.messages[key]; ok {
		return repositories.ErrDuplicateSourceID
	}
	message.ID = uuid.New()
	message.CreatedAt = time.Now().UTC()
	m.messages[key] = message
	return nil
}

func (m *memMessages) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", id)
}

func (m *memMessages) GetBySourceID(ctx context.Context, channelID uuid.UUID, sourceID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[messageKey(channelID, sourceID)], nil
}

func (m *memMessages) ExistsBySourceID(ctx context.Context, channelID uuid.UUID, sourceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.messages[messageKey(channelID, sourceID)]
	return ok, nil
}

func (m *memMessages) UpdateStatus(ctx context.Context, message *models.Message, status models.Status, externalError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	message.Status = status
	message.ExternalError = externalError
	return nil
}

func (m *memMessages) UpdateContent(ctx context.Context, message *models.Message, newContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	message.ContentAttributes.Data.IsEdited = true
	message.ContentAttributes.Data.PreviousContent = message.TextContent()
	message.Content = &newContent
	return nil
}

func (m *memMessages) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// memAttachments is an in-memory repositories.AttachmentRepo.
type memAttachments struct {
	mu          sync.Mutex
	attachments []*models.Attachment
	createErr   error
}

func (m *memAttachments) Create(ctx context.Context, attachment *models.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	attachment.ID = uuid.New()
	m.attachments = append(m.attachments, attachment)
	return nil
}

func (m *memAttachments) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Attachment
	for _, a := range m.attachments {
		if a.MessageID == messageID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// memContacts is an in-memory repositories.ContactRepo.
type memContacts struct {
	mu      sync.Mutex
	byPhone map[string]*models.Contact
	inboxes map[string]*models.ContactInbox
}

func newMemContacts() *memContacts {
	return &memContacts{
		byPhone: make(map[string]*models.Contact),
		inboxes: make(map[string]*models.ContactInbox),
	}
}

func (m *memContacts) GetByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPhone[phoneNumber], nil
}

func (m *memContacts) GetContact(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byPhone {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contact %s not found", id)
}

func (m *memContacts) Upsert(ctx context.Context, contact *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byPhone[contact.PhoneNumber]; ok {
		*contact = *existing
		return nil
	}
	contact.ID = uuid.New()
	m.byPhone[contact.PhoneNumber] = contact
	return nil
}

func (m *memContacts) UpdateName(ctx context.Context, contact *models.Contact, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contact.Name = name
	return nil
}

func (m *memContacts) AttachAvatar(ctx context.Context, contact *models.Contact, avatarURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contact.HasAvatar() {
		return false, nil
	}
	contact.AvatarURL = &avatarURL
	return true, nil
}

func (m *memContacts) UpsertInbox(ctx context.Context, inbox *models.ContactInbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := inbox.ChannelID.String() + ":" + inbox.SourceID
	if existing, ok := m.inboxes[key]; ok {
		*inbox = *existing
		return nil
	}
	inbox.ID = uuid.New()
	m.inboxes[key] = inbox
	return nil
}

func (m *memContacts) GetInbox(ctx context.Context, channelID uuid.UUID, sourceID string) (*models.ContactInbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inboxes[channelID.String()+":"+sourceID], nil
}

// memConversations is an in-memory repositories.ConversationRepo.
type memConversations struct {
	mu      sync.Mutex
	byInbox map[uuid.UUID]*models.Conversation
}

func newMemConversations() *memConversations {
	return &memConversations{byInbox: make(map[uuid.UUID]*models.Conversation)}
}

func (m *memConversations) GetOrCreate(ctx context.Context, channelID, contactInboxID uuid.UUID) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byInbox[contactInboxID]; ok {
		return existing, nil
	}
	conversation := &models.Conversation{
		ID:             uuid.New(),
		ChannelID:      channelID,
		ContactInboxID: contactInboxID,
	}
	m.byInbox[contactInboxID] = conversation
	return conversation, nil
}

func (m *memConversations) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byInbox {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("conversation %s not found", id)
}

// memChannels is an in-memory connection.ChannelStore.
type memChannels struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*models.Channel
}

func newMemChannels(channels ...*models.Channel) *memChannels {
	s := &memChannels{channels: make(map[uuid.UUID]*models.Channel)}
	for _, ch := range channels {
		s.channels[ch.ID] = ch
	}
	return s
}

func (s *memChannels) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s not found", id)
	}
	copied := *ch
	return &copied, nil
}

func (s *memChannels) UpdateConnection(ctx context.Context, channelID uuid.UUID, conn models.ProviderConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s not found", channelID)
	}
	ch.ProviderConnection = database.JSONB[models.ProviderConnection]{Data: conn}
	return nil
}

// fixture bundles the pipeline with its in-memory backends.
type fixture struct {
	pipeline      *webhooks.Pipeline
	messages      *memMessages
	attachments   *memAttachments
	contacts      *memContacts
	conversations *memConversations
	channels      *memChannels
}

func newFixture(t *testing.T, channels ...*models.Channel) *fixture {
	t.Helper()
	logger := testLogger()
	client := httpclient.NewClient(httpclient.DefaultConfig(), logger)

	f := &fixture{
		messages:      newMemMessages(),
		attachments:   &memAttachments{},
		contacts:      newMemContacts(),
		conversations: newMemConversations(),
		channels:      newMemChannels(channels...),
	}

	manager := connection.NewManager(f.channels, nil, logger)
	facade := channel.NewFacade(client, manager, logger)
	guard := dedup.NewGuard(newMemDedupStore(), time.Minute, logger)
	downloader := media.NewDownloader(client, logger, 0)

	f.pipeline = webhooks.NewPipeline(
		guard,
		f.messages,
		f.attachments,
		f.contacts,
		f.conversations,
		downloader,
		facade,
		manager,
		nil,
		logger,
	)
	return f
}

func defaultChannel() *models.Channel {
	return &models.Channel{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		PhoneNumber: "+5511999999999",
		Provider:    models.ProviderDefault,
		ProviderConfig: database.JSONB[models.ProviderConfig]{
			Data: models.ProviderConfig{
				BaseURL:      "http://localhost:1",
				APIKey:       "k",
				WebhookToken: "secret",
			},
		},
	}
}

func textEvent(sourceID string) *webhooks.InboundMessage {
	return &webhooks.InboundMessage{
		SourceID:   sourceID,
		ChatKind:   webhooks.ChatDirect,
		From:       "5511988887777",
		SenderName: "Maria",
		Kind:       webhooks.KindText,
		Text:       "hi",
	}
}

func TestProcessMessagePersistsOnce(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.TextContent())
	assert.Equal(t, models.DirectionIncoming, msg.Direction)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	require.NotNil(t, msg.SenderContactID)

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Maria", contact.Name)

	// A second delivery of the same event is a silent no-op.
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))
	assert.Equal(t, 1, f.messages.count())
}

func TestProcessMessageIgnoresGroupChats(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	ev := textEvent("g1")
	ev.ChatKind = webhooks.ChatGroup
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))
	assert.Equal(t, 0, f.messages.count())

	ev = textEvent("b1")
	ev.ChatKind = webhooks.ChatBroadcast
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))
	assert.Equal(t, 0, f.messages.count())
}

func TestProcessMessageBusinessNameOutranksPushName(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	ev := textEvent("m1")
	ev.BusinessName = "Acme Ltda"
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Acme Ltda", contact.Name)
}

func TestProcessMessageUpgradesPhoneNumberName(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	// First message arrives without a usable name; the contact falls back
	// to the phone number.
	ev := textEvent("m1")
	ev.SenderName = ""
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "551188887777", contact.Name)

	// A later message carrying a push name replaces the placeholder.
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m2")))
	assert.Equal(t, "Maria", contact.Name)
}

func TestProcessMessageKeepsHumanName(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))

	ev := textEvent("m2")
	ev.SenderName = "Someone Else"
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	assert.Equal(t, "Maria", contact.Name, "an established human name is never overwritten")
}

func TestProcessMessageAvatarAttachedOnlyOnce(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	ev := textEvent("m1")
	ev.AvatarURL = "https://cdn.example.com/a1.jpg"
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	contact, err := f.contacts.GetByPhone(ctx, "551188887777")
	require.NoError(t, err)
	require.NotNil(t, contact.AvatarURL)
	assert.Equal(t, "https://cdn.example.com/a1.jpg", *contact.AvatarURL)

	ev = textEvent("m2")
	ev.AvatarURL = "https://cdn.example.com/a2.jpg"
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))
	assert.Equal(t, "https://cdn.example.com/a1.jpg", *contact.AvatarURL)
}

func TestProcessMessageDownloadsMedia(t *testing.T) {
	body := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer server.Close()

	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	ev := textEvent("m1")
	ev.Kind = webhooks.KindImage
	ev.Text = "look"
	ev.MediaURL = server.URL + "/media/1"
	ev.MimeType = "image/jpeg"
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.False(t, msg.ContentAttributes.Data.IsUnsupported)

	attachments, err := f.attachments.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, models.FileTypeImage, attachments[0].FileType)
	assert.Equal(t, "image/jpeg", attachments[0].MimeType)
	assert.Equal(t, int64(len(body)), attachments[0].SizeBytes)
	assert.Equal(t, ev.MediaURL, attachments[0].DownloadURL)
}

func TestProcessMessageMediaFailureDegradesToUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	ev := textEvent("m1")
	ev.Kind = webhooks.KindImage
	ev.Text = ""
	ev.MediaURL = server.URL + "/media/gone"
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.ContentAttributes.Data.IsUnsupported)

	attachments, err := f.attachments.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestProcessMessageMediaWithoutURLIsUnsupported(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	// An upstream media id lookup can fail and leave the event with a media
	// kind but no download URL.
	ev := textEvent("m1")
	ev.Kind = webhooks.KindImage
	ev.Text = ""
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.ContentAttributes.Data.IsUnsupported)

	attachments, err := f.attachments.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestProcessMessageAttachmentFailureFailsProcessing(t *testing.T) {
	body := []byte{0xff, 0xd8, 0xff, 0xe0}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer server.Close()

	ch := defaultChannel()
	f := newFixture(t, ch)
	f.attachments.createErr = fmt.Errorf("attachments table unavailable")

	ev := textEvent("m1")
	ev.Kind = webhooks.KindImage
	ev.MediaURL = server.URL + "/media/1"
	ev.MimeType = "image/jpeg"

	// The provider retries on error; a message row without its attachment
	// must not be committed behind its back.
	err := f.pipeline.ProcessMessage(context.Background(), ch, ev)
	require.Error(t, err)
}

func TestProcessMessageConcurrentDeliveriesPersistOnce(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.pipeline.ProcessMessage(context.Background(), ch, textEvent("m1"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.messages.count())
}

func TestProcessMessageReactionAttributes(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	ev := textEvent("r1")
	ev.Kind = webhooks.KindReaction
	ev.Text = "👍"
	ev.TargetSourceID = "m1"
	ev.TargetFromMe = true
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, ev))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "r1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.ContentAttributes.Data.IsReaction)
	assert.Equal(t, "m1", msg.ContentAttributes.Data.InReplyToExternalID)
	assert.True(t, msg.ContentAttributes.Data.InReplyToFromMe)
	assert.Equal(t, "👍", msg.TextContent())
}

func TestProcessMessageEditRewritesContent(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))

	edit := textEvent("m1")
	edit.Text = "hi, edited"
	edit.IsEdit = true
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, edit))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi, edited", msg.TextContent())
	assert.True(t, msg.ContentAttributes.Data.IsEdited)
	assert.Equal(t, "hi", msg.ContentAttributes.Data.PreviousContent)
	assert.Equal(t, 1, f.messages.count())
}

func TestProcessMessageEditDuplicateDeliveryKeepsOriginal(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))

	edit := textEvent("m1")
	edit.Text = "hi, edited"
	edit.IsEdit = true
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, edit))

	// The provider re-delivers the same edit; applying it again would shift
	// previous_content to the edited body.
	again := textEvent("m1")
	again.Text = "hi, edited"
	again.IsEdit = true
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, again))

	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi, edited", msg.TextContent())
	assert.Equal(t, "hi", msg.ContentAttributes.Data.PreviousContent)
}

func TestProcessMessageEditForUnknownMessageIsDropped(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	edit := textEvent("missing")
	edit.IsEdit = true
	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, edit))
	assert.Equal(t, 0, f.messages.count())
}

func TestProcessStatusLadder(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, msg.Status)

	// Advancing along the ladder applies.
	err = f.pipeline.ProcessStatus(ctx, ch, &webhooks.StatusEvent{SourceID: "m1", Status: models.StatusRead})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msg.Status)

	// A late delivered receipt after read is rejected in place.
	err = f.pipeline.ProcessStatus(ctx, ch, &webhooks.StatusEvent{SourceID: "m1", Status: models.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestProcessStatusFailureRecordsReason(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessMessage(ctx, ch, textEvent("m1")))
	msg, err := f.messages.GetBySourceID(ctx, ch.ID, "m1")
	require.NoError(t, err)

	err = f.pipeline.ProcessStatus(ctx, ch, &webhooks.StatusEvent{
		SourceID: "m1",
		Status:   models.StatusFailed,
		Reason:   "recipient not on whatsapp",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, msg.Status)
	require.NotNil(t, msg.ExternalError)
	assert.Equal(t, "recipient not on whatsapp", *msg.ExternalError)
}

func TestProcessStatusUnknownMessageIsDropped(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)

	err := f.pipeline.ProcessStatus(context.Background(), ch, &webhooks.StatusEvent{
		SourceID: "never-seen",
		Status:   models.StatusRead,
	})
	require.NoError(t, err)
}

func TestProcessConnectionCallbacks(t *testing.T) {
	ch := defaultChannel()
	f := newFixture(t, ch)
	ctx := context.Background()

	err := f.pipeline.ProcessConnection(ctx, ch, &webhooks.ConnectionCallback{
		State:     models.ConnectionConnecting,
		QRDataURL: "data:image/png;base64,abc",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnecting, ch.ConnectionState())
	assert.Equal(t, "data:image/png;base64,abc", ch.ProviderConnection.Data.QRDataURL)

	err = f.pipeline.ProcessConnection(ctx, ch, &webhooks.ConnectionCallback{
		State: models.ConnectionOpen,
		Phone: "5511999999999",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionOpen, ch.ConnectionState())
	assert.Empty(t, ch.ProviderConnection.Data.QRDataURL)

	err = f.pipeline.ProcessConnection(ctx, ch, &webhooks.ConnectionCallback{
		State:  models.ConnectionClose,
		Reason: "logged out",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionClose, ch.ConnectionState())
	assert.Equal(t, "logged out", ch.ProviderConnection.Data.Error)
}

func TestVerifyToken(t *testing.T) {
	ch := defaultChannel()

	assert.NoError(t, webhooks.VerifyToken(ch, "secret"))
	assert.Error(t, webhooks.VerifyToken(ch, "wrong"))
	assert.Error(t, webhooks.VerifyToken(ch, ""))

	// A channel without a stored token rejects everything.
	ch.ProviderConfig.Data.WebhookToken = ""
	assert.Error(t, webhooks.VerifyToken(ch, "secret"))
}
