package repository

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"wabridge/entity"
)

func (m *MongoDB) SaveMessage(message entity.Message) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	_, err = collection.InsertOne(m.ctx, message)
	if err != nil {
		return fmt.Errorf("mongodb insert message: %w", err)
	}
	return nil
}

// UpdateMessageStatus advances the delivery status of a message. Content is
// never touched; only the status field moves.
func (m *MongoDB) UpdateMessageStatus(messageID, status string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	filter := bson.D{{Key: "message_id", Value: messageID}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: status}}}}

	_, err = collection.UpdateOne(m.ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongodb update message status: %w", err)
	}
	return nil
}
