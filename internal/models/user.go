package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a registered student.
type User struct {
	Base               `bson:",inline"`
	Name               string     `bson:"name" json:"name"`
	Email              string     `bson:"email" json:"email"`
	PasswordHash       string     `bson:"password" json:"-"`
	College            string     `bson:"college" json:"college"`
	StudentIDImage     string     `bson:"student_id_image,omitempty" json:"studentIdImage,omitempty"`
	IsVerified         bool       `bson:"is_verified" json:"isVerified"`
	IsAdmin            bool       `bson:"is_admin" json:"isAdmin"`
	AverageRating      float64    `bson:"average_rating" json:"averageRating"`
	NumReviews         int        `bson:"num_reviews" json:"numReviews"`
	Plan               string     `bson:"plan" json:"plan"`
	ListingsThisPeriod int        `bson:"listings_this_period" json:"listingsThisPeriod"`
	PlanExpiresAt      *time.Time `bson:"plan_expires_at" json:"planExpiresAt"`
	CreatedAt          time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `bson:"updated_at" json:"updatedAt"`
}

// UserSummary is the public projection of a user embedded in other responses.
type UserSummary struct {
	ID      primitive.ObjectID `bson:"_id" json:"id"`
	Name    string             `bson:"name" json:"name"`
	Email   string             `bson:"email" json:"email"`
	College string             `bson:"college,omitempty" json:"college,omitempty"`
}
