package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Review is embedded in a listing; one per reviewer.
type Review struct {
	Reviewer  primitive.ObjectID `bson:"reviewer" json:"reviewer"`
	Rating    int                `bson:"rating" json:"rating"`
	Comment   string             `bson:"comment" json:"comment"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}

const (
	MinRating = 1
	MaxRating = 5
)

// Listing is an item offered for sale by a seller.
type Listing struct {
	Base        `bson:",inline"`
	Title       string              `bson:"title" json:"title"`
	Description string              `bson:"description" json:"description"`
	Category    string              `bson:"category" json:"category"`
	Price       float64             `bson:"price" json:"price"`
	Image       string              `bson:"image" json:"image"`
	Department  string              `bson:"department" json:"department"`
	Seller      primitive.ObjectID  `bson:"seller" json:"seller"`
	IsSold      bool                `bson:"is_sold" json:"isSold"`
	Buyer       *primitive.ObjectID `bson:"buyer" json:"buyer"`
	Reviews     []Review            `bson:"reviews" json:"reviews"`
	SellerInfo  *UserSummary        `bson:"seller_info,omitempty" json:"sellerInfo,omitempty"`
	CreatedAt   time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updatedAt"`
}

// ListingInput carries the writable fields of a listing. Nil pointers are
// left untouched on update.
type ListingInput struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	Price       *float64 `json:"price"`
	Image       *string  `json:"image"`
	Department  *string  `json:"department"`
}

// ListingFilter narrows ListListings. Empty fields impose no constraint.
type ListingFilter struct {
	Category   string
	Department string
	Search     string
	Seller     *primitive.ObjectID
	Buyer      *primitive.ObjectID
}
