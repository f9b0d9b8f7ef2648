package models

import "time"

// DefaultPlanName is the plan every user starts on and falls back to.
const DefaultPlanName = "free"

// Plan is a subscription tier. A nil ListingLimit means unbounded and a nil
// DurationDays means the plan never expires.
type Plan struct {
	Base         `bson:",inline"`
	Name         string  `bson:"name" json:"name"`
	ListingLimit *int    `bson:"listing_limit" json:"listingLimit"`
	Price        float64 `bson:"price" json:"price"`
	DurationDays *int    `bson:"duration_days" json:"durationDays"`
}

// PlanInfo is the quota snapshot reported for a user.
type PlanInfo struct {
	Plan          string     `json:"plan"`
	Used          int        `json:"used"`
	Limit         *int       `json:"limit"`
	Expired       bool       `json:"expired"`
	PlanExpiresAt *time.Time `json:"planExpiresAt"`
}
