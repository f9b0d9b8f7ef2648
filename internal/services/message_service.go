package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

// IMessageService is the append-only message log.
type IMessageService interface {
	Append(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, userID, otherUserID primitive.ObjectID, listingID *primitive.ObjectID) ([]models.Message, error)
}

type messageService struct {
	db *mongo.Database
}

func NewMessageService(db *mongo.Database) IMessageService {
	return &messageService{db: db}
}

// Append stores msg, stamping the id and, when unset, the creation time.
func (s *messageService) Append(ctx context.Context, msg *models.Message) error {
	msg.GenIDIfEmpty()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(db.MessagesCollection).InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message from %s to %s: %w", msg.Sender.Hex(), msg.Receiver.Hex(), err)
	}
	return nil
}

// pairQuery matches messages in either direction between a and b, optionally
// restricted to one listing.
func pairQuery(a, b primitive.ObjectID, listingID *primitive.ObjectID) bson.M {
	q := bson.M{"$or": bson.A{
		bson.M{"sender": a, "receiver": b},
		bson.M{"sender": b, "receiver": a},
	}}
	if listingID != nil {
		q["listing"] = *listingID
	}
	return q
}

// GetMessages returns the history between two users, oldest first. The view
// is pairwise, so seed messages and messages written before conversations
// existed are included.
func (s *messageService) GetMessages(ctx context.Context, userID, otherUserID primitive.ObjectID, listingID *primitive.ObjectID) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(db.MessagesCollection).Find(ctx, pairQuery(userID, otherUserID, listingID), opts)
	if err != nil {
		return nil, fmt.Errorf("error finding messages between %s and %s: %w", userID.Hex(), otherUserID.Hex(), err)
	}
	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("error decoding messages: %w", err)
	}
	return messages, nil
}
