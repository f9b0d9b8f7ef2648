package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Base is embedded inline by every top-level document.
type Base struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
}

func NewBase() Base {
	return Base{ID: primitive.NewObjectID()}
}
