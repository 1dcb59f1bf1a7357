package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/entity"
	"wabridge/internal/cache"
	"wabridge/internal/remote"
	"wabridge/internal/session"
)

type fakeChat struct {
	calls int
	errs  []error

	managerCalls  int
	managerConvID string
	managerText   string
	managerErr    error
}

func (f *fakeChat) SendClientMessage(_ context.Context, _, _, _, _ string, _ int64) error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

func (f *fakeChat) SendManagerMessage(_ context.Context, conversationID, _, _, _, text string, _ int64) error {
	f.managerCalls++
	f.managerConvID = conversationID
	f.managerText = text
	return f.managerErr
}

type fakeProvider struct {
	textCalls     int
	templateCalls int
	lastText      string
	lastTemplate  string
	err           error
}

func (f *fakeProvider) SendText(_ context.Context, _, text string) error {
	f.textCalls++
	f.lastText = text
	return f.err
}

func (f *fakeProvider) SendTemplate(_ context.Context, _, name, _ string) error {
	f.templateCalls++
	f.lastTemplate = name
	return f.err
}

type fakeTemplates struct {
	byID map[string]*entity.Template
}

func (f *fakeTemplates) TemplateByExternalID(externalID string) (*entity.Template, error) {
	return f.byID[externalID], nil
}

type fakeMessages struct {
	saved []entity.Message
}

func (f *fakeMessages) SaveMessage(msg entity.Message) error {
	f.saved = append(f.saved, msg)
	return nil
}

type fakePublisher struct {
	published []BusPayload
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload []byte) error {
	var p BusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	f.published = append(f.published, p)
	return nil
}

type relayFixture struct {
	relay     *Relay
	chat      *fakeChat
	provider  *fakeProvider
	templates *fakeTemplates
	messages  *fakeMessages
	bus       *fakePublisher
	bindings  *session.Store
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	crm := &fakeCRM{}
	bindings := session.NewStore(cache.NewMemory(), time.Hour)
	resolver := NewResolver(crm, bindings, nil, discardLogger())

	f := &relayFixture{
		chat:      &fakeChat{},
		provider:  &fakeProvider{},
		templates: &fakeTemplates{byID: map[string]*entity.Template{}},
		messages:  &fakeMessages{},
		bus:       &fakePublisher{},
		bindings:  bindings,
	}
	f.relay = New(resolver, f.chat, f.provider, f.templates, f.messages, f.bus, discardLogger())
	return f
}

func TestRelayInbound(t *testing.T) {
	f := newRelayFixture(t)

	result := f.relay.RelayInbound(context.Background(), "89161234567", "89990000001", "hello", 1700000000)
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, "client_89161234567_1700000000", result.MessageID)
	assert.NotEmpty(t, result.ConversationID)

	require.Len(t, f.messages.saved, 1)
	assert.Equal(t, "incoming", f.messages.saved[0].Direction)
	assert.Equal(t, "hello", f.messages.saved[0].Text)

	require.Len(t, f.bus.published, 1)
	assert.Equal(t, result.ConversationID, f.bus.published[0].ConversationID)
	assert.Equal(t, result.MessageID, f.bus.published[0].MessageID)
	assert.Equal(t, int64(1700000000), f.bus.published[0].Timestamp)
}

func TestRelayInboundClientRejectedNoRetry(t *testing.T) {
	f := newRelayFixture(t)
	f.chat.errs = []error{
		remote.FromStatus("send client message", 400),
		remote.FromStatus("send client message", 400),
		remote.FromStatus("send client message", 400),
	}

	result := f.relay.RelayInbound(context.Background(), "89161234567", "89990000001", "hello", 1700000000)
	require.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "client_rejected", result.Reason)
	assert.Equal(t, 1, f.chat.calls, "4xx must not be retried")
	assert.Empty(t, f.messages.saved)
	assert.Empty(t, f.bus.published)
}

func TestRelayInboundRetriesRemoteUnavailable(t *testing.T) {
	f := newRelayFixture(t)
	f.chat.errs = []error{remote.FromStatus("send client message", 503)}

	result := f.relay.RelayInbound(context.Background(), "89161234567", "89990000001", "hello", 1700000000)
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, 2, f.chat.calls, "5xx retries and succeeds on the second attempt")
}

func TestRelayInboundExhaustsRetries(t *testing.T) {
	f := newRelayFixture(t)
	f.chat.errs = []error{
		remote.FromStatus("send client message", 503),
		remote.FromStatus("send client message", 503),
		remote.FromStatus("send client message", 503),
	}

	result := f.relay.RelayInbound(context.Background(), "89161234567", "89990000001", "hello", 1700000000)
	require.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "remote_unavailable", result.Reason)
	assert.Equal(t, retryAttempts, f.chat.calls)
	assert.Empty(t, f.bus.published)
}

func TestRelayOutbound(t *testing.T) {
	f := newRelayFixture(t)

	result := f.relay.RelayOutbound(context.Background(), "89161234567", "reply", "whatsapp:89161234567:89990000001")
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, "reply", f.provider.lastText)

	require.Len(t, f.messages.saved, 1)
	assert.Equal(t, "outgoing", f.messages.saved[0].Direction)

	require.Len(t, f.bus.published, 1)
	assert.Equal(t, "whatsapp:89161234567:89990000001", f.bus.published[0].ConversationID)
}

func TestRelayOutboundWithoutConversationSkipsPublish(t *testing.T) {
	f := newRelayFixture(t)

	result := f.relay.RelayOutbound(context.Background(), "89161234567", "reply", "")
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Len(t, f.messages.saved, 1, "message is still persisted")
	assert.Empty(t, f.bus.published, "no conversation, nothing to fan out")
}

func TestRelayOutboundProviderRejects(t *testing.T) {
	f := newRelayFixture(t)
	f.provider.err = remote.FromStatus("send provider text", 404)

	result := f.relay.RelayOutbound(context.Background(), "89161234567", "reply", "")
	require.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "client_rejected", result.Reason)
	assert.Equal(t, 1, f.provider.textCalls)
	assert.Empty(t, f.messages.saved)
}

func TestRelayNoteMirrorsIntoChat(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t)
	require.NoError(t, f.bindings.SetLastOperator(ctx, "89161234567", "89990000001"))
	require.NoError(t, f.bindings.Put(ctx, "89161234567", "89990000001", "whatsapp:89161234567:89990000001"))

	result := f.relay.RelayNote(ctx, "89161234567", "your order shipped")
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, "your order shipped", f.provider.lastText)

	assert.Equal(t, 1, f.chat.managerCalls, "the note is echoed into the chat thread")
	assert.Equal(t, "whatsapp:89161234567:89990000001", f.chat.managerConvID)
	assert.Equal(t, "your order shipped", f.chat.managerText)

	require.Len(t, f.bus.published, 1)
	assert.Equal(t, "whatsapp:89161234567:89990000001", f.bus.published[0].ConversationID)
}

func TestRelayNoteWithoutBinding(t *testing.T) {
	f := newRelayFixture(t)

	result := f.relay.RelayNote(context.Background(), "89161234567", "hello")
	require.Equal(t, OutcomeSent, result.Outcome, "the customer still gets the message")
	assert.Equal(t, 1, f.provider.textCalls)
	assert.Zero(t, f.chat.managerCalls, "nothing to mirror without a conversation")
	assert.Empty(t, f.bus.published)
}

func TestRelayNoteMirrorFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t)
	require.NoError(t, f.bindings.SetLastOperator(ctx, "89161234567", "89990000001"))
	require.NoError(t, f.bindings.Put(ctx, "89161234567", "89990000001", "whatsapp:89161234567:89990000001"))
	f.chat.managerErr = remote.FromStatus("send manager message", 503)

	result := f.relay.RelayNote(ctx, "89161234567", "hello")
	assert.Equal(t, OutcomeSent, result.Outcome, "a lost mirror never fails a delivered message")
}

func TestRelayNoteProviderFailureSkipsMirror(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t)
	require.NoError(t, f.bindings.SetLastOperator(ctx, "89161234567", "89990000001"))
	require.NoError(t, f.bindings.Put(ctx, "89161234567", "89990000001", "whatsapp:89161234567:89990000001"))
	f.provider.err = remote.FromStatus("send provider text", 404)

	result := f.relay.RelayNote(ctx, "89161234567", "hello")
	require.Equal(t, OutcomeFailed, result.Outcome)
	assert.Zero(t, f.chat.managerCalls, "an undelivered message must not be mirrored")
}

func TestRelayTemplate(t *testing.T) {
	f := newRelayFixture(t)
	f.templates.byID["tpl-1"] = &entity.Template{
		ExternalID: "tpl-1",
		Name:       "order_update",
		Language:   "ru",
	}

	result := f.relay.RelayTemplate(context.Background(), "89161234567", "tpl-1")
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, 1, f.provider.templateCalls)
	assert.Equal(t, "order_update", f.provider.lastTemplate)
}

func TestRelayTemplateUnmappedFails(t *testing.T) {
	f := newRelayFixture(t)

	result := f.relay.RelayTemplate(context.Background(), "89161234567", "unknown")
	require.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, ErrTemplateNotFound.Error(), result.Reason)
	assert.Zero(t, f.provider.templateCalls, "no send without a mapping")
}
