package amocrm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"

	"wabridge/entity"
	"wabridge/internal/lib/api/response"
	"wabridge/internal/lib/phone"
	"wabridge/internal/lib/signature"
	"wabridge/internal/lib/sl"
	"wabridge/internal/service/relay"
	"wabridge/internal/service/whatsapp"
)

// Core is the relay surface the CRM handlers drive.
type Core interface {
	RelayOutbound(ctx context.Context, customer, text, conversationID string) relay.Result
	RelayNote(ctx context.Context, customer, text string) relay.Result
}

// LeadResolver maps a CRM lead to the contact's phone number.
type LeadResolver interface {
	ContactPhoneByLead(ctx context.Context, leadID int64) (string, error)
}

// Deduper claims idempotency markers for inbound events.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ChatWebhook is the signed JSON chat webhook carrying an operator message.
type ChatWebhook struct {
	Time    int64 `json:"time"`
	Message struct {
		Message struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"message"`
		Sender struct {
			RefID string `json:"ref_id"`
		} `json:"sender"`
		Receiver struct {
			ID       string `json:"id"`
			ClientID string `json:"client_id"`
			Phone    string `json:"phone"`
		} `json:"receiver"`
		Conversation struct {
			ID       string `json:"id"`
			ClientID string `json:"client_id"`
		} `json:"conversation"`
	} `json:"message"`
}

// Webhook handles the signed JSON chat webhook: verify the body signature,
// dedup, relay the operator's text to the customer over the provider API.
// A bad signature is a 403 with no side effects.
func Webhook(log *slog.Logger, handler Core, guard Deduper, chatSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("amocrm.webhook"))

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if !signature.Verify(body, chatSecret, r.Header.Get("X-Signature")) {
			logger.Warn("signature mismatch on chat webhook")
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("Signature mismatch"))
			return
		}

		var payload ChatWebhook
		if err := json.Unmarshal(body, &payload); err != nil {
			logger.Error("malformed chat webhook", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Malformed JSON body"))
			return
		}

		msg := payload.Message.Message
		if msg.Type != "text" || msg.Text == "" {
			render.JSON(w, r, response.Skipped("not a text message"))
			return
		}
		if payload.Message.Sender.RefID == "" {
			// echoes of our own client-side events carry no operator ref
			render.JSON(w, r, response.Skipped("not an operator message"))
			return
		}

		conversationID := payload.Message.Conversation.ClientID
		customer := customerFromConversation(conversationID)
		if customer == "" {
			customer = phone.Normalize(payload.Message.Receiver.Phone)
		}
		if customer == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("No customer address in payload"))
			return
		}

		key := msg.ID
		if key == "" {
			key = customer + ":" + strconv.FormatInt(payload.Time, 10)
		}
		first, err := guard.Claim(r.Context(), key)
		if err != nil {
			logger.With(sl.Err(err)).Error("dedup claim")
			render.JSON(w, r, response.Failed("dedup unavailable"))
			return
		}
		if !first {
			render.JSON(w, r, response.Skipped("duplicate event"))
			return
		}

		result := handler.RelayOutbound(r.Context(), customer, msg.Text, conversationID)
		if result.Outcome == relay.OutcomeFailed {
			_ = guard.Release(r.Context(), key)
		}
		logger.Info("operator message relayed",
			slog.String("customer", customer),
			slog.String("outcome", string(result.Outcome)),
		)
		render.JSON(w, r, outcomeResponse(result))
	}
}

// customerFromConversation extracts the customer phone from a pair-scoped
// conversation id of the form "whatsapp:{customer}:{operator}".
func customerFromConversation(conversationID string) string {
	parts := strings.Split(conversationID, ":")
	if len(parts) < 2 || parts[0] != "whatsapp" {
		return ""
	}
	return phone.Normalize(parts[1])
}

// NoteWebhook handles the form-urlencoded note webhook. Only lead notes with
// note_type "4" are operator messages; everything else is a skip, not an
// error.
func NoteWebhook(log *slog.Logger, handler Core, leads LeadResolver, guard Deduper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("amocrm.note_webhook"))

		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Empty request body"))
			return
		}
		defer r.Body.Close()

		form, err := url.ParseQuery(string(body))
		if err != nil {
			logger.Error("malformed note form", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Malformed form body"))
			return
		}

		noteType := form.Get("leads[note][0][note][note_type]")
		if noteType != "4" {
			logger.Debug("skipping note", slog.String("note_type", noteType))
			render.JSON(w, r, response.Skipped("not an operator note"))
			return
		}

		text := form.Get("leads[note][0][note][text]")
		leadIDRaw := form.Get("leads[note][0][note][element_id]")
		noteID := form.Get("leads[note][0][note][id]")
		if text == "" || leadIDRaw == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Missing text or lead id"))
			return
		}
		leadID, err := strconv.ParseInt(leadIDRaw, 10, 64)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid lead id"))
			return
		}

		key := "note:" + noteID
		if noteID == "" {
			key = "note:" + leadIDRaw + ":" + strconv.FormatInt(time.Now().Unix(), 10)
		}
		first, err := guard.Claim(r.Context(), key)
		if err != nil {
			logger.With(sl.Err(err)).Error("dedup claim")
			render.JSON(w, r, response.Failed("dedup unavailable"))
			return
		}
		if !first {
			render.JSON(w, r, response.Skipped("duplicate event"))
			return
		}

		customer, err := leads.ContactPhoneByLead(r.Context(), leadID)
		if err != nil {
			logger.With(sl.Err(err)).Error("resolve lead phone", slog.Int64("lead_id", leadID))
			_ = guard.Release(r.Context(), key)
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Contact phone not found"))
			return
		}

		result := handler.RelayNote(r.Context(), phone.Normalize(customer), text)
		if result.Outcome == relay.OutcomeFailed {
			_ = guard.Release(r.Context(), key)
		}
		logger.Info("note relayed",
			slog.Int64("lead_id", leadID),
			slog.String("outcome", string(result.Outcome)),
		)
		render.JSON(w, r, outcomeResponse(result))
	}
}

// TemplateSource lists provider-approved templates.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]whatsapp.TemplateInfo, error)
}

// TemplateMirror creates missing CRM-side template mirrors.
type TemplateMirror interface {
	TemplateExists(ctx context.Context, externalID string) (bool, error)
	CreateTemplate(ctx context.Context, externalID, name, content string) (int64, error)
}

// TemplateStore persists the provider→CRM template mapping.
type TemplateStore interface {
	UpsertTemplate(tpl entity.Template) error
}

// SyncTemplates performs the one-way sync: pull approved provider templates,
// mirror the missing ones CRM-side, upsert the mapping.
func SyncTemplates(log *slog.Logger, source TemplateSource, mirror TemplateMirror, store TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("amocrm.template_sync"))

		templates, err := source.ListTemplates(r.Context())
		if err != nil {
			logger.With(sl.Err(err)).Error("fetch provider templates")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to fetch templates"))
			return
		}

		synced := 0
		for _, tpl := range templates {
			exists, err := mirror.TemplateExists(r.Context(), tpl.ID)
			if err != nil {
				logger.With(sl.Err(err)).Error("check template", slog.String("external_id", tpl.ID))
				continue
			}
			if !exists {
				if _, err := mirror.CreateTemplate(r.Context(), tpl.ID, tpl.Name, tpl.Content); err != nil {
					logger.With(sl.Err(err)).Error("mirror template", slog.String("external_id", tpl.ID))
					continue
				}
			}
			if store != nil {
				err := store.UpsertTemplate(entity.Template{
					ExternalID: tpl.ID,
					Name:       tpl.Name,
					Language:   tpl.Language,
					Category:   tpl.Category,
					Content:    tpl.Content,
					SyncedAt:   time.Now().UTC(),
				})
				if err != nil {
					logger.With(sl.Err(err)).Error("persist template", slog.String("external_id", tpl.ID))
					continue
				}
			}
			synced++
		}

		logger.Info("template sync finished",
			slog.Int("total", len(templates)),
			slog.Int("synced", synced),
		)
		render.JSON(w, r, response.Ok(map[string]int{"total": len(templates), "synced": synced}))
	}
}

func outcomeResponse(result relay.Result) response.Response {
	switch result.Outcome {
	case relay.OutcomeSent:
		return response.Sent(map[string]string{
			"conversation_id": result.ConversationID,
			"message_id":      result.MessageID,
		})
	case relay.OutcomeSkipped:
		return response.Skipped(result.Reason)
	default:
		return response.Failed(result.Reason)
	}
}
