package repository

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wabridge/entity"
)

func (m *MongoDB) UpsertTemplate(tpl entity.Template) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(templatesCollection)
	filter := bson.D{{Key: "external_id", Value: tpl.ExternalID}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "external_id", Value: tpl.ExternalID},
		{Key: "name", Value: tpl.Name},
		{Key: "language", Value: tpl.Language},
		{Key: "category", Value: tpl.Category},
		{Key: "content", Value: tpl.Content},
		{Key: "synced_at", Value: tpl.SyncedAt},
	}}}

	_, err = collection.UpdateOne(m.ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert template: %w", err)
	}
	return nil
}

func (m *MongoDB) TemplateByExternalID(externalID string) (*entity.Template, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(templatesCollection)
	filter := bson.D{{Key: "external_id", Value: externalID}}

	var tpl entity.Template
	err = collection.FindOne(m.ctx, filter).Decode(&tpl)
	if err != nil {
		if m.findError(err) == nil {
			return nil, nil
		}
		return nil, m.findError(err)
	}
	return &tpl, nil
}
