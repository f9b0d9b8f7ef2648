package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversationStatus is the state of a conversation.
type ConversationStatus string

const (
	ConversationPending  ConversationStatus = "pending"
	ConversationAccepted ConversationStatus = "accepted"
	ConversationBlocked  ConversationStatus = "blocked"
)

// Conversation gates messaging between two users about an optional listing.
type Conversation struct {
	Base          `bson:",inline"`
	PairKey       string               `bson:"pair_key" json:"-"`
	Participants  []primitive.ObjectID `bson:"participants" json:"participants"`
	Listing       *primitive.ObjectID  `bson:"listing" json:"listing"`
	Status        ConversationStatus   `bson:"status" json:"status"`
	InitiatedBy   primitive.ObjectID   `bson:"initiated_by" json:"initiatedBy"`
	LastMessageAt time.Time            `bson:"last_message_at" json:"lastMessageAt"`
	CreatedAt     time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time            `bson:"updated_at" json:"updatedAt"`
}

// HasParticipant reports whether id is one of the two participants.
func (c *Conversation) HasParticipant(id primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Other returns the participant that is not id.
func (c *Conversation) Other(id primitive.ObjectID) primitive.ObjectID {
	for _, p := range c.Participants {
		if p != id {
			return p
		}
	}
	return primitive.NilObjectID
}

// PairKey returns the canonical key of an unordered user pair along with the
// pair in canonical order.
func PairKey(a, b primitive.ObjectID) (string, []primitive.ObjectID) {
	ha, hb := a.Hex(), b.Hex()
	if hb < ha {
		a, b = b, a
		ha, hb = hb, ha
	}
	return ha + ":" + hb, []primitive.ObjectID{a, b}
}
