package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is an append-only entry in a pairwise message log.
type Message struct {
	Base         `bson:",inline"`
	Sender       primitive.ObjectID  `bson:"sender" json:"sender"`
	Receiver     primitive.ObjectID  `bson:"receiver" json:"receiver"`
	Content      string              `bson:"content" json:"content"`
	Listing      *primitive.ObjectID `bson:"listing" json:"listing"`
	Conversation *primitive.ObjectID `bson:"conversation,omitempty" json:"conversation,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"createdAt"`
}
