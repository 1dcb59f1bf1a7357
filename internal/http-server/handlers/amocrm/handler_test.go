package amocrm

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/entity"
	"wabridge/internal/cache"
	"wabridge/internal/dedup"
	"wabridge/internal/lib/api/response"
	"wabridge/internal/service/relay"
	"wabridge/internal/service/whatsapp"
)

const testSecret = "channel-secret"

type fakeCore struct {
	calls        int
	noteCalls    int
	lastCustomer string
	lastText     string
	lastConvID   string
	result       relay.Result
}

func (f *fakeCore) RelayOutbound(_ context.Context, customer, text, conversationID string) relay.Result {
	f.calls++
	f.lastCustomer = customer
	f.lastText = text
	f.lastConvID = conversationID
	return f.result
}

func (f *fakeCore) RelayNote(_ context.Context, customer, text string) relay.Result {
	f.noteCalls++
	f.lastCustomer = customer
	f.lastText = text
	return f.result
}

type fakeLeads struct {
	phone string
	err   error
	calls int
}

func (f *fakeLeads) ContactPhoneByLead(_ context.Context, _ int64) (string, error) {
	f.calls++
	return f.phone, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(body []byte) string {
	mac := hmac.New(sha1.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func chatWebhookBody(msgID string) []byte {
	return []byte(`{
		"time": 1700000200,
		"message": {
			"message": {"id": "` + msgID + `", "type": "text", "text": "on our way"},
			"sender": {"ref_id": "amojo-operator"},
			"receiver": {"id": "recv-1", "phone": "79161234567"},
			"conversation": {"id": "conv-internal", "client_id": "whatsapp:89161234567:89990000001"}
		}
	}`)
}

func TestChatWebhook(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent, MessageID: "m1", ConversationID: "whatsapp:89161234567:89990000001"}}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := Webhook(discardLogger(), core, guard, testSecret)

	body := chatWebhookBody("crm-msg-1")
	req := httptest.NewRequest(http.MethodPost, "/amo/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decodeResponse(t, rec).Status)
	assert.Equal(t, 1, core.calls)
	assert.Equal(t, "89161234567", core.lastCustomer, "customer comes from the pair-scoped conversation id")
	assert.Equal(t, "on our way", core.lastText)
	assert.Equal(t, "whatsapp:89161234567:89990000001", core.lastConvID)
}

func TestChatWebhookBadSignature(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent}}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := Webhook(discardLogger(), core, guard, testSecret)

	body := chatWebhookBody("crm-msg-1")
	req := httptest.NewRequest(http.MethodPost, "/amo/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, core.calls, "forged payload must trigger no side effects")
}

func TestChatWebhookDuplicate(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent}}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := Webhook(discardLogger(), core, guard, testSecret)

	body := chatWebhookBody("crm-msg-dup")
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/amo/webhook", strings.NewReader(string(body)))
		req.Header.Set("X-Signature", sign(body))
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, core.calls)
}

func TestChatWebhookNonTextSkipped(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent}}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := Webhook(discardLogger(), core, guard, testSecret)

	body := []byte(`{"time": 1, "message": {"message": {"id": "m", "type": "picture"}, "sender": {"ref_id": "op"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/amo/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, "skipped", decodeResponse(t, rec).Status)
	assert.Zero(t, core.calls)
}

func noteForm(noteType, text, leadID string) string {
	form := url.Values{}
	form.Set("leads[note][0][note][id]", "9001")
	form.Set("leads[note][0][note][note_type]", noteType)
	form.Set("leads[note][0][note][text]", text)
	form.Set("leads[note][0][note][element_id]", leadID)
	return form.Encode()
}

func TestNoteWebhook(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent, MessageID: "m1"}}
	leads := &fakeLeads{phone: "+7 916 123-45-67"}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := NoteWebhook(discardLogger(), core, leads, guard)

	req := httptest.NewRequest(http.MethodPost, "/amo/send-message", strings.NewReader(noteForm("4", "hello from crm", "555")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decodeResponse(t, rec).Status)
	assert.Equal(t, 1, core.noteCalls)
	assert.Zero(t, core.calls, "notes go through the mirroring relay path")
	assert.Equal(t, "89161234567", core.lastCustomer)
	assert.Equal(t, "hello from crm", core.lastText)
}

func TestNoteWebhookWrongNoteType(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent}}
	leads := &fakeLeads{phone: "79161234567"}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := NoteWebhook(discardLogger(), core, leads, guard)

	req := httptest.NewRequest(http.MethodPost, "/amo/send-message", strings.NewReader(noteForm("25", "system note", "555")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decodeResponse(t, rec).Status)
	assert.Zero(t, core.noteCalls, "filtered note must make zero remote calls")
	assert.Zero(t, leads.calls)
}

func TestNoteWebhookUnknownLead(t *testing.T) {
	core := &fakeCore{result: relay.Result{Outcome: relay.OutcomeSent}}
	leads := &fakeLeads{err: errors.New("no contact attached")}
	guard := dedup.NewGuard(cache.NewMemory(), time.Minute)
	handler := NoteWebhook(discardLogger(), core, leads, guard)

	req := httptest.NewRequest(http.MethodPost, "/amo/send-message", strings.NewReader(noteForm("4", "hello", "555")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, core.noteCalls)
}

type fakeTemplateSource struct {
	templates []whatsapp.TemplateInfo
	err       error
}

func (f *fakeTemplateSource) ListTemplates(_ context.Context) ([]whatsapp.TemplateInfo, error) {
	return f.templates, f.err
}

type fakeMirror struct {
	existing map[string]bool
	created  []string
}

func (f *fakeMirror) TemplateExists(_ context.Context, externalID string) (bool, error) {
	return f.existing[externalID], nil
}

func (f *fakeMirror) CreateTemplate(_ context.Context, externalID, _, _ string) (int64, error) {
	f.created = append(f.created, externalID)
	return int64(len(f.created)), nil
}

type fakeTemplateStore struct {
	saved []entity.Template
}

func (f *fakeTemplateStore) UpsertTemplate(tpl entity.Template) error {
	f.saved = append(f.saved, tpl)
	return nil
}

func TestSyncTemplates(t *testing.T) {
	source := &fakeTemplateSource{templates: []whatsapp.TemplateInfo{
		{ID: "tpl-1", Name: "order_update", Language: "ru", Category: "UTILITY", Content: "Order {{1}} updated"},
		{ID: "tpl-2", Name: "greeting", Language: "ru", Category: "MARKETING", Content: "Hi {{1}}"},
	}}
	mirror := &fakeMirror{existing: map[string]bool{"tpl-1": true}}
	store := &fakeTemplateStore{}

	handler := SyncTemplates(discardLogger(), source, mirror, store)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates/sync", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeResponse(t, rec).Status)

	assert.Equal(t, []string{"tpl-2"}, mirror.created, "only missing templates get mirrored")
	require.Len(t, store.saved, 2, "the mapping is upserted for every template")
	assert.Equal(t, "tpl-1", store.saved[0].ExternalID)
}

func TestSyncTemplatesSourceDown(t *testing.T) {
	source := &fakeTemplateSource{err: errors.New("graph api 503")}
	handler := SyncTemplates(discardLogger(), source, &fakeMirror{}, &fakeTemplateStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates/sync", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
