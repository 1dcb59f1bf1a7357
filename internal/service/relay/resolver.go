package relay

import (
	"context"
	"log/slog"
	"time"

	"wabridge/entity"
	"wabridge/internal/lib/sl"
	"wabridge/internal/session"
)

// CRMClient is the slice of the amoCRM client the resolver needs.
type CRMClient interface {
	CreateOrGetContact(ctx context.Context, phone string) (int64, error)
	CreateLead(ctx context.Context, contactID int64, source string) (int64, error)
	CreateChat(ctx context.Context, customerPhone, operatorPhone string) (string, error)
}

// ConversationSink durably records conversation identity decisions.
type ConversationSink interface {
	UpsertConversation(conv entity.Conversation) error
}

// Resolver decides whether an inbound event reuses the cached conversation
// or creates a new one. It moves one (customer, operator) pair through
// NoBinding → BoundSameOperator, or detects an operator handoff and opens a
// fresh conversation under the new pair key while the old binding stays
// independently resolvable until its TTL lapses.
type Resolver struct {
	crm      CRMClient
	bindings *session.Store
	sink     ConversationSink
	log      *slog.Logger
}

func NewResolver(crm CRMClient, bindings *session.Store, sink ConversationSink, logger *slog.Logger) *Resolver {
	return &Resolver{
		crm:      crm,
		bindings: bindings,
		sink:     sink,
		log:      logger.With(sl.Module("relay.resolver")),
	}
}

// Lookup returns the live binding for the customer's current operator. Unlike
// Resolve it creates nothing on a miss.
func (r *Resolver) Lookup(ctx context.Context, customer string) (string, bool, error) {
	operator, found, err := r.bindings.GetLastOperator(ctx, customer)
	if err != nil || !found {
		return "", false, err
	}
	return r.bindings.Get(ctx, customer, operator)
}

// Resolve returns the conversation id for the pair, creating contact, lead
// and conversation on a miss or handoff. On failure no binding is written and
// the error propagates; the caller must not mark the event relayed.
func (r *Resolver) Resolve(ctx context.Context, customer, operator string) (string, error) {
	lastOperator, _, err := r.bindings.GetLastOperator(ctx, customer)
	if err != nil {
		return "", err
	}

	conversationID, found, err := r.bindings.Get(ctx, customer, operator)
	if err != nil {
		return "", err
	}
	if found && lastOperator == operator {
		return conversationID, nil
	}

	if found {
		// Pair binding exists but the last-operator record moved on and
		// came back; the pair key is still the source of truth.
		if err := r.bindings.SetLastOperator(ctx, customer, operator); err != nil {
			return "", err
		}
		return conversationID, nil
	}

	if lastOperator != "" && lastOperator != operator {
		r.log.Info("operator handoff, opening new conversation",
			slog.String("customer", customer),
			slog.String("was", lastOperator),
			slog.String("now", operator),
		)
	}

	contactID, err := r.crm.CreateOrGetContact(ctx, customer)
	if err != nil {
		return "", err
	}
	leadID, err := r.crm.CreateLead(ctx, contactID, "WhatsApp")
	if err != nil {
		return "", err
	}

	// Create speculatively, then attempt a conditional binding write. Two
	// near-simultaneous first contacts race here; the loser adopts the
	// winner's conversation and abandons its own (the chat API has no
	// delete).
	conversationID, err = r.crm.CreateChat(ctx, customer, operator)
	if err != nil {
		return "", err
	}

	won, err := r.bindings.PutIfAbsent(ctx, customer, operator, conversationID)
	if err != nil {
		return "", err
	}
	if !won {
		winner, found, err := r.bindings.Get(ctx, customer, operator)
		if err != nil {
			return "", err
		}
		if found {
			r.log.Warn("binding race detected, adopting winner",
				slog.String("customer", customer),
				slog.String("operator", operator),
				slog.String("abandoned", conversationID),
				slog.String("adopted", winner),
			)
			conversationID = winner
		}
	}

	if err := r.bindings.SetLastOperator(ctx, customer, operator); err != nil {
		return "", err
	}

	if r.sink != nil {
		conv := entity.Conversation{
			ConversationID: conversationID,
			CustomerPhone:  customer,
			OperatorPhone:  operator,
			ContactID:      contactID,
			LeadID:         leadID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := r.sink.UpsertConversation(conv); err != nil {
			// durable store is an append sink; losing the upsert does not
			// invalidate the resolved identity
			r.log.With(sl.Err(err)).Error("persist conversation")
		}
	}

	return conversationID, nil
}
