package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"wabridge/internal/lib/api/response"
	"wabridge/internal/lib/phone"
	"wabridge/internal/lib/sl"
	"wabridge/internal/service/relay"
)

// Core is the relay surface the WhatsApp handlers drive.
type Core interface {
	RelayInbound(ctx context.Context, customer, operator, text string, timestamp int64) relay.Result
	RelayOutbound(ctx context.Context, customer, text, conversationID string) relay.Result
	RelayTemplate(ctx context.Context, customer, externalID string) relay.Result
}

// Deduper claims idempotency markers for inbound events.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// StatusSink records delivery-receipt status transitions.
type StatusSink interface {
	UpdateMessageStatus(messageID, status string) error
}

// WebhookPayload is the Cloud API webhook envelope for message and status
// events.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []WebhookMessage `json:"messages"`
				Statuses []WebhookStatus  `json:"statuses"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

// WebhookMessage is one inbound customer message inside a webhook batch.
type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// WebhookStatus is one delivery receipt inside a webhook batch.
type WebhookStatus struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// WebhookVerify handles the GET challenge-response used once per provider
// setup: echo the challenge when the verify token matches, 403 otherwise.
func WebhookVerify(log *slog.Logger, verifyToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("hub.mode")
		token := r.URL.Query().Get("hub.verify_token")
		challenge := r.URL.Query().Get("hub.challenge")

		if mode == "subscribe" && token == verifyToken && challenge != "" {
			log.With(sl.Module("whatsapp.webhook")).Info("webhook verified")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(challenge))
			return
		}

		log.With(sl.Module("whatsapp.webhook")).Warn("webhook verification failed",
			slog.String("mode", mode),
			slog.Bool("token_match", token == verifyToken),
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// Webhook handles inbound Cloud API events. Message events are deduped,
// relayed into the CRM chat and published to the bus; status events advance
// the stored message status. The endpoint fast-acks: relay outcomes travel
// in the response body, never in the HTTP status.
func Webhook(log *slog.Logger, handler Core, guard Deduper, statuses StatusSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("whatsapp.webhook"))

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		var payload WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			logger.Error("malformed webhook payload", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Malformed JSON body"))
			return
		}

		if payload.Object != "whatsapp_business_account" {
			render.JSON(w, r, response.Skipped("not a whatsapp event"))
			return
		}

		result := processPayload(r.Context(), logger, handler, guard, statuses, payload)
		render.JSON(w, r, result)
	}
}

// messageResult is the per-message outcome reported for batched deliveries.
type messageResult struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

func processPayload(ctx context.Context, logger *slog.Logger, handler Core, guard Deduper, statuses StatusSink, payload WebhookPayload) response.Response {
	var results []messageResult
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			operator := phone.Normalize(value.Metadata.DisplayPhoneNumber)

			// every message in the batch is relayed and deduped on its own
			// id; one bad message must not drop its neighbors
			for _, msg := range value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				results = append(results, processMessage(ctx, logger, handler, guard, operator, msg))
			}

			for _, st := range value.Statuses {
				logger.Info("delivery receipt",
					slog.String("message_id", st.ID),
					slog.String("recipient", phone.Normalize(st.RecipientID)),
					slog.String("status", st.Status),
				)
				if statuses != nil && st.ID != "" {
					if err := statuses.UpdateMessageStatus(st.ID, st.Status); err != nil {
						logger.With(sl.Err(err)).Error("update message status")
					}
				}
			}
		}
	}

	switch len(results) {
	case 0:
		return response.Ok("processed")
	case 1:
		return singleResponse(results[0])
	default:
		return response.Ok(results)
	}
}

func processMessage(ctx context.Context, logger *slog.Logger, handler Core, guard Deduper, operator string, msg WebhookMessage) messageResult {
	customer := phone.Normalize(msg.From)
	ts := parseTimestamp(msg.Timestamp)

	key := msg.ID
	if key == "" {
		key = fmt.Sprintf("%s:%d", customer, ts)
	}
	first, err := guard.Claim(ctx, key)
	if err != nil {
		logger.With(sl.Err(err)).Error("dedup claim")
		return messageResult{MessageID: msg.ID, Status: "failed", Reason: "dedup unavailable"}
	}
	if !first {
		logger.Debug("duplicate event", slog.String("key", key))
		return messageResult{MessageID: msg.ID, Status: "skipped", Reason: "duplicate event"}
	}

	result := handler.RelayInbound(ctx, customer, operator, msg.Text.Body, ts)
	if result.Outcome == relay.OutcomeFailed {
		// release the marker so upstream redelivery can retry
		_ = guard.Release(ctx, key)
		return messageResult{MessageID: msg.ID, Status: "failed", Reason: result.Reason}
	}
	return messageResult{
		MessageID:      result.MessageID,
		ConversationID: result.ConversationID,
		Status:         "sent",
	}
}

func singleResponse(r messageResult) response.Response {
	switch r.Status {
	case "sent":
		return response.Sent(map[string]string{
			"conversation_id": r.ConversationID,
			"message_id":      r.MessageID,
		})
	case "skipped":
		return response.Skipped(r.Reason)
	default:
		return response.Failed(r.Reason)
	}
}

func parseTimestamp(raw string) int64 {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// SendRequest is an operator free-form send.
type SendRequest struct {
	WaID string `json:"wa_id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// Send posts a free-form message to the customer over the provider API.
func Send(log *slog.Logger, handler Core) http.HandlerFunc {
	validate := validator.New()
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("whatsapp.send"))

		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		customer := phone.Normalize(req.WaID)
		result := handler.RelayOutbound(r.Context(), customer, req.Text, "")
		logger.Info("outbound send",
			slog.String("customer", customer),
			slog.String("outcome", string(result.Outcome)),
		)
		render.JSON(w, r, outcomeResponse(result))
	}
}

// SendTemplateRequest is a templated send; the template must be synced.
type SendTemplateRequest struct {
	WaID       string `json:"wa_id" validate:"required"`
	TemplateID string `json:"template_id" validate:"required"`
}

// SendTemplate posts a pre-approved templated message.
func SendTemplate(log *slog.Logger, handler Core) http.HandlerFunc {
	validate := validator.New()
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(sl.Module("whatsapp.send_template"))

		var req SendTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		result := handler.RelayTemplate(r.Context(), phone.Normalize(req.WaID), req.TemplateID)
		logger.Info("template send",
			slog.String("template_id", req.TemplateID),
			slog.String("outcome", string(result.Outcome)),
		)
		render.JSON(w, r, outcomeResponse(result))
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
