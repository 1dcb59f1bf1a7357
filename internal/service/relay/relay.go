// Package relay forwards messages between the messaging provider and the CRM
// chat, classifying remote failures and fanning delivered messages out to the
// event bus.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"wabridge/entity"
	"wabridge/internal/lib/sl"
	"wabridge/internal/remote"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// ChatSender posts messages into the CRM chat thread.
type ChatSender interface {
	SendClientMessage(ctx context.Context, conversationID, customerPhone, operatorPhone, text string, timestamp int64) error
	SendManagerMessage(ctx context.Context, conversationID, messageID, customerID, customerName, text string, timestamp int64) error
}

// ProviderSender posts messages to the messaging provider.
type ProviderSender interface {
	SendText(ctx context.Context, waID, text string) error
	SendTemplate(ctx context.Context, waID, name, language string) error
}

// TemplateRepository resolves stored provider→CRM template mappings.
type TemplateRepository interface {
	TemplateByExternalID(externalID string) (*entity.Template, error)
}

// MessageSink durably records relayed messages.
type MessageSink interface {
	SaveMessage(msg entity.Message) error
}

// Publisher fans a delivered message out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, payload []byte) error
}

// Relay signs and sends outbound messages to either platform. It does not
// dedup; callers claim events before invoking it.
type Relay struct {
	resolver  *Resolver
	chat      ChatSender
	provider  ProviderSender
	templates TemplateRepository
	messages  MessageSink
	bus       Publisher
	log       *slog.Logger
}

func New(resolver *Resolver, chat ChatSender, provider ProviderSender, templates TemplateRepository, messages MessageSink, bus Publisher, logger *slog.Logger) *Relay {
	return &Relay{
		resolver:  resolver,
		chat:      chat,
		provider:  provider,
		templates: templates,
		messages:  messages,
		bus:       bus,
		log:       logger.With(sl.Module("relay")),
	}
}

// BusPayload is the JSON shape published for every relayed message.
type BusPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Sender         string `json:"sender"`
	Direction      string `json:"direction"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
}

// RelayInbound forwards a customer message into the CRM chat and publishes
// it for live subscribers.
func (r *Relay) RelayInbound(ctx context.Context, customer, operator, text string, timestamp int64) Result {
	conversationID, err := r.resolver.Resolve(ctx, customer, operator)
	if err != nil {
		r.log.With(sl.Err(err)).Error("resolve conversation",
			slog.String("customer", customer),
			slog.String("operator", operator),
		)
		return failed(classify(err))
	}

	send := func(ctx context.Context) error {
		return r.chat.SendClientMessage(ctx, conversationID, customer, operator, text, timestamp)
	}
	if err := r.withRetry(ctx, "send client message", send); err != nil {
		return failed(classify(err))
	}

	messageID := fmt.Sprintf("client_%s_%d", customer, timestamp)
	r.persist(entity.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		Sender:         customer,
		Direction:      "incoming",
		Text:           text,
		Status:         entity.StatusSent,
		Timestamp:      time.Unix(timestamp, 0).UTC(),
		CreatedAt:      time.Now().UTC(),
	})

	r.publish(ctx, BusPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Sender:         customer,
		Direction:      "incoming",
		Text:           text,
		Timestamp:      timestamp,
	})

	return sent(conversationID, messageID)
}

// RelayOutbound sends an operator message to the customer over the provider
// API. conversationID may be empty when the operator writes outside a bound
// thread; the message is still delivered and published under the synthetic
// pair-less id.
func (r *Relay) RelayOutbound(ctx context.Context, customer, text, conversationID string) Result {
	send := func(ctx context.Context) error {
		return r.provider.SendText(ctx, customer, text)
	}
	if err := r.withRetry(ctx, "send provider text", send); err != nil {
		return failed(classify(err))
	}

	now := time.Now().UTC()
	messageID := uuid.NewString()
	r.persist(entity.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		Sender:         "operator",
		Direction:      "outgoing",
		Text:           text,
		Status:         entity.StatusSent,
		Timestamp:      now,
		CreatedAt:      now,
	})

	if conversationID != "" {
		r.publish(ctx, BusPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			Sender:         "operator",
			Direction:      "outgoing",
			Text:           text,
			Timestamp:      now.Unix(),
		})
	}

	return sent(conversationID, messageID)
}

// RelayNote forwards an operator's lead note to the customer. Unlike chat
// webhook messages the note never passed through the chat thread, so after a
// successful send it is mirrored there under the bound conversation, keeping
// the CRM timeline complete. A customer without a live binding still gets the
// message; only the mirror is skipped.
func (r *Relay) RelayNote(ctx context.Context, customer, text string) Result {
	conversationID, found, err := r.resolver.Lookup(ctx, customer)
	if err != nil {
		r.log.With(sl.Err(err)).Error("lookup binding", slog.String("customer", customer))
		found = false
	}

	result := r.RelayOutbound(ctx, customer, text, conversationID)
	if result.Outcome != OutcomeSent || !found {
		return result
	}

	receiver := strings.TrimPrefix(conversationID, "whatsapp:")
	err = r.chat.SendManagerMessage(ctx, conversationID, result.MessageID, receiver, customer, text, time.Now().Unix())
	if err != nil {
		// the customer already has the message; a lost mirror is log-worthy
		// but not a relay failure
		r.log.With(sl.Err(err)).Error("mirror manager message",
			slog.String("conversation_id", conversationID),
		)
	}
	return result
}

// RelayTemplate sends a pre-approved templated message. The template must
// have a stored mapping; an unmapped id is a failure, not a no-op.
func (r *Relay) RelayTemplate(ctx context.Context, customer, externalID string) Result {
	if r.templates == nil {
		return failed("template store unavailable")
	}
	tpl, err := r.templates.TemplateByExternalID(externalID)
	if err != nil {
		r.log.With(sl.Err(err)).Error("load template", slog.String("external_id", externalID))
		return failed("template lookup failed")
	}
	if tpl == nil {
		return failed(ErrTemplateNotFound.Error())
	}

	send := func(ctx context.Context) error {
		return r.provider.SendTemplate(ctx, customer, tpl.Name, tpl.Language)
	}
	if err := r.withRetry(ctx, "send provider template", send); err != nil {
		return failed(classify(err))
	}

	return sent("", uuid.NewString())
}

// withRetry runs the call, retrying RemoteUnavailable failures with doubling
// delays. ClientRejected returns immediately.
func (r *Relay) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = call(ctx)
		if err == nil {
			return nil
		}
		if !remote.IsRetryable(err) {
			return err
		}
		r.log.With(sl.Err(err)).Warn("retryable remote failure",
			slog.String("op", op),
			slog.Int("attempt", attempt),
		)
		if attempt == retryAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func (r *Relay) persist(msg entity.Message) {
	if r.messages == nil {
		return
	}
	if err := r.messages.SaveMessage(msg); err != nil {
		r.log.With(sl.Err(err)).Error("persist message", slog.String("message_id", msg.MessageID))
	}
}

func (r *Relay) publish(ctx context.Context, payload BusPayload) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.With(sl.Err(err)).Error("marshal bus payload")
		return
	}
	if err := r.bus.Publish(ctx, payload.ConversationID, data); err != nil {
		// fire and forget: fan-out loss never fails the relay
		r.log.With(sl.Err(err)).Error("publish to bus", slog.String("conversation_id", payload.ConversationID))
	}
}

func classify(err error) string {
	var re *remote.Error
	if errors.As(err, &re) {
		return re.Kind.String()
	}
	return err.Error()
}
