package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation correlates one customer with one operator in a CRM chat
// thread. At most one active conversation exists per phone pair; a change of
// operator creates a new conversation instead of mutating the old one.
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID string             `json:"conversation_id" bson:"conversation_id"`
	CustomerPhone  string             `json:"customer_phone" bson:"customer_phone"`
	OperatorPhone  string             `json:"operator_phone" bson:"operator_phone"`
	ContactID      int64              `json:"contact_id" bson:"contact_id"`
	LeadID         int64              `json:"lead_id" bson:"lead_id"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
}
