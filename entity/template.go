package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Template maps a provider-approved message template to its CRM-side mirror.
// Created by the one-way sync endpoint, read-mostly afterwards.
type Template struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ExternalID string             `json:"external_id" bson:"external_id"`
	Name       string             `json:"name" bson:"name"`
	Language   string             `json:"language" bson:"language"`
	Category   string             `json:"category,omitempty" bson:"category,omitempty"`
	Content    string             `json:"content,omitempty" bson:"content,omitempty"`
	SyncedAt   time.Time          `json:"synced_at" bson:"synced_at"`
}
