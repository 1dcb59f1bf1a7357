package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message statuses as reported by the Cloud API delivery receipts.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message represents a single relayed message. Content is immutable after
// creation; delivery receipts may only advance the status field.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MessageID      string             `json:"message_id" bson:"message_id"`
	ConversationID string             `json:"conversation_id" bson:"conversation_id"`
	Sender         string             `json:"sender" bson:"sender"`
	Direction      string             `json:"direction" bson:"direction"` // "incoming" | "outgoing"
	Text           string             `json:"text" bson:"text"`
	Status         string             `json:"status" bson:"status"`
	Timestamp      time.Time          `json:"timestamp" bson:"timestamp"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
}
