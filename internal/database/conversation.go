package repository

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wabridge/entity"
)

// UpsertConversation writes the conversation keyed by its phone pair,
// keeping at most one record per (customer, operator).
func (m *MongoDB) UpsertConversation(conv entity.Conversation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)
	filter := bson.D{
		{Key: "customer_phone", Value: conv.CustomerPhone},
		{Key: "operator_phone", Value: conv.OperatorPhone},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "conversation_id", Value: conv.ConversationID},
		{Key: "customer_phone", Value: conv.CustomerPhone},
		{Key: "operator_phone", Value: conv.OperatorPhone},
		{Key: "contact_id", Value: conv.ContactID},
		{Key: "lead_id", Value: conv.LeadID},
		{Key: "created_at", Value: conv.CreatedAt},
	}}}

	_, err = collection.UpdateOne(m.ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert conversation: %w", err)
	}
	return nil
}

// ConversationByPair loads the durable conversation record for a pair.
func (m *MongoDB) ConversationByPair(customerPhone, operatorPhone string) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)
	filter := bson.D{
		{Key: "customer_phone", Value: customerPhone},
		{Key: "operator_phone", Value: operatorPhone},
	}

	var conv entity.Conversation
	err = collection.FindOne(m.ctx, filter).Decode(&conv)
	if err != nil {
		return nil, m.findError(err)
	}
	return &conv, nil
}
