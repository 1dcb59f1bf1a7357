package relay

import "errors"

// Outcome of a relay attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what happened to one relayed message.
type Result struct {
	Outcome        Outcome
	Reason         string
	ConversationID string
	MessageID      string
}

func sent(conversationID, messageID string) Result {
	return Result{Outcome: OutcomeSent, ConversationID: conversationID, MessageID: messageID}
}

func failed(reason string) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason}
}

// ErrTemplateNotFound marks a templated send whose template id has no stored
// mapping. A hard failure, not a silent no-op.
var ErrTemplateNotFound = errors.New("template mapping not found")
