package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names shared by the services and the index bootstrap.
const (
	UsersCollection          = "users"
	ListingsCollection       = "listings"
	PlansCollection          = "plans"
	ConversationsCollection  = "conversations"
	MessagesCollection       = "messages"
	EmailTemplatesCollection = "email_templates"
)

var indexes = map[string][]mongo.IndexModel{
	UsersCollection: {
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	PlansCollection: {
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	ListingsCollection: {
		{Keys: bson.D{{Key: "seller", Value: 1}}},
		{Keys: bson.D{{Key: "buyer", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "department", Value: 1}}},
	},
	// One conversation per unordered user pair and listing. A missing
	// listing is stored as null, which is a key of its own.
	ConversationsCollection: {
		{Keys: bson.D{{Key: "pair_key", Value: 1}, {Key: "listing", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}},
	},
	MessagesCollection: {
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "conversation", Value: 1}}},
	},
	EmailTemplatesCollection: {
		{Keys: bson.D{{Key: "template_id", Value: 1}, {Key: "locale", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
}

// EnsureIndexes creates every index the services rely on. It is idempotent.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	for collection, models := range indexes {
		if _, err := database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
