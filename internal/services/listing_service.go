package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

var (
	ErrListingNotFound = apperrors.NotFound("listing not found")
	ErrNotListingOwner = apperrors.PermissionDenied("only the seller can modify this listing")
	ErrAlreadyReviewed = apperrors.PreconditionFailed("you have already reviewed this listing")
	ErrListingSold     = apperrors.PreconditionFailed("listing is already sold")
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID      primitive.ObjectID
	IsAdmin bool
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID primitive.ObjectID, input models.ListingInput) (*models.Listing, error)
	ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error)
	FindListingByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID primitive.ObjectID, actor Actor, patch models.ListingInput) (*models.Listing, error)
	DeleteListing(ctx context.Context, listingID primitive.ObjectID, actor Actor) error
	MarkSold(ctx context.Context, listingID, actorID primitive.ObjectID, buyerID *primitive.ObjectID) (*models.Listing, error)
	Purchase(ctx context.Context, listingID, buyerID primitive.ObjectID) (*models.Listing, error)
	AddReview(ctx context.Context, listingID, reviewerID primitive.ObjectID, rating int, comment string) (*models.Review, error)
	ListReviews(ctx context.Context, listingID primitive.ObjectID) ([]models.Review, error)
	Categories(ctx context.Context) ([]string, error)
	Departments(ctx context.Context) ([]string, error)
	Purchases(ctx context.Context, buyerID primitive.ObjectID) ([]models.Listing, error)
	SetListingImage(ctx context.Context, listingID primitive.ObjectID, imageKey string) error
}

type listingService struct {
	db    *mongo.Database
	cfg   *config.Config
	plans IPlanService
}

// NewListingService creates a new ListingService. Creation is gated by the
// plan service's quota.
func NewListingService(db *mongo.Database, cfg *config.Config, plans IPlanService) IListingService {
	return &listingService{db: db, cfg: cfg, plans: plans}
}

// normalizePrice rounds to cents and rejects negative or non-finite values.
func normalizePrice(p float64) (float64, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return 0, apperrors.Validation("price must be a non-negative number")
	}
	return decimal.NewFromFloat(p).Round(2).InexactFloat64(), nil
}

func requiredText(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	t := strings.TrimSpace(*v)
	return t, t != ""
}

func optionalText(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// CreateListing reserves a quota slot for the seller and stores the listing.
// The slot is given back if the insert fails.
func (s *listingService) CreateListing(ctx context.Context, sellerID primitive.ObjectID, input models.ListingInput) (*models.Listing, error) {
	title, okTitle := requiredText(input.Title)
	description, okDesc := requiredText(input.Description)
	category, okCat := requiredText(input.Category)
	if !okTitle || !okDesc || !okCat || input.Price == nil {
		return nil, apperrors.Validation("title, description, category and price are required")
	}
	price, err := normalizePrice(*input.Price)
	if err != nil {
		return nil, err
	}

	if err := s.plans.ReserveListingSlot(ctx, sellerID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		Base:        models.NewBase(),
		Title:       title,
		Description: description,
		Category:    category,
		Price:       price,
		Image:       optionalText(input.Image),
		Department:  optionalText(input.Department),
		Seller:      sellerID,
		IsSold:      false,
		Buyer:       nil,
		Reviews:     []models.Review{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.db.Collection(db.ListingsCollection).InsertOne(ctx, listing); err != nil {
		if relErr := s.plans.ReleaseListingSlot(context.WithoutCancel(ctx), sellerID); relErr != nil {
			log.Printf("ERROR releasing listing slot for user %s: %v", sellerID.Hex(), relErr)
		}
		return nil, fmt.Errorf("failed to insert listing for user %s: %w", sellerID.Hex(), err)
	}

	return listing, nil
}

// listingQuery turns a filter into a Mongo query. Keys are ANDed; search
// matches title or description case-insensitively as a literal substring.
func listingQuery(f models.ListingFilter) bson.M {
	q := bson.M{}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.Department != "" {
		q["department"] = f.Department
	}
	if f.Seller != nil {
		q["seller"] = *f.Seller
	}
	if f.Buyer != nil {
		q["buyer"] = *f.Buyer
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		q["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"description": re},
		}
	}
	return q
}

// findListings runs match through a pipeline that attaches the seller's
// public summary, newest first.
func (s *listingService) findListings(ctx context.Context, match bson.M, limit int64) ([]models.Listing, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         db.UsersCollection,
			"localField":   "seller",
			"foreignField": "_id",
			"as":           "seller_info",
		}}},
		bson.D{{Key: "$unwind", Value: bson.M{"path": "$seller_info", "preserveNullAndEmptyArrays": true}}},
		bson.D{{Key: "$project", Value: bson.M{
			"seller_info.password":             0,
			"seller_info.plan":                 0,
			"seller_info.listings_this_period": 0,
			"seller_info.plan_expires_at":      0,
		}}},
	)

	cursor, err := s.db.Collection(db.ListingsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error querying listings: %w", err)
	}
	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("error decoding listings: %w", err)
	}
	return listings, nil
}

func (s *listingService) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	return s.findListings(ctx, listingQuery(filter), 0)
}

func (s *listingService) FindListingByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	listings, err := s.findListings(ctx, bson.M{"_id": listingID}, 1)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, ErrListingNotFound
	}
	return &listings[0], nil
}

// loadListing fetches the stored document without the seller lookup.
func (s *listingService) loadListing(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(db.ListingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.Hex(), err)
	}
	return &listing, nil
}

func canModify(listing *models.Listing, actor Actor) bool {
	return actor.IsAdmin || listing.Seller == actor.ID
}

// listingPatch converts the non-nil fields of patch into a $set document.
func listingPatch(patch models.ListingInput) (bson.M, error) {
	set := bson.M{}
	for field, v := range map[string]*string{"title": patch.Title, "description": patch.Description, "category": patch.Category} {
		if v == nil {
			continue
		}
		t, ok := requiredText(v)
		if !ok {
			return nil, apperrors.Validation(field + " must not be empty")
		}
		set[field] = t
	}
	if patch.Image != nil {
		set["image"] = optionalText(patch.Image)
	}
	if patch.Department != nil {
		set["department"] = optionalText(patch.Department)
	}
	if patch.Price != nil {
		price, err := normalizePrice(*patch.Price)
		if err != nil {
			return nil, err
		}
		set["price"] = price
	}
	if len(set) == 0 {
		return nil, apperrors.Validation("no updatable fields supplied")
	}
	return set, nil
}

// UpdateListing patches the writable fields of a listing. Only the seller or
// an admin may do so.
func (s *listingService) UpdateListing(ctx context.Context, listingID primitive.ObjectID, actor Actor, patch models.ListingInput) (*models.Listing, error) {
	set, err := listingPatch(patch)
	if err != nil {
		return nil, err
	}
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !canModify(listing, actor) {
		return nil, ErrNotListingOwner
	}

	set["updated_at"] = time.Now().UTC()
	var updated models.Listing
	err = s.db.Collection(db.ListingsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": listingID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID.Hex(), err)
	}
	return &updated, nil
}

// DeleteListing removes a listing permanently. The seller's quota counter is
// not refunded.
func (s *listingService) DeleteListing(ctx context.Context, listingID primitive.ObjectID, actor Actor) error {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return err
	}
	if !canModify(listing, actor) {
		return ErrNotListingOwner
	}

	res, err := s.db.Collection(db.ListingsCollection).DeleteOne(ctx, bson.M{"_id": listingID})
	if err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", listingID.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return ErrListingNotFound
	}
	return nil
}

// MarkSold closes a listing. Only the seller may do so; buyerID is optional.
func (s *listingService) MarkSold(ctx context.Context, listingID, actorID primitive.ObjectID, buyerID *primitive.ObjectID) (*models.Listing, error) {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller != actorID {
		return nil, apperrors.PermissionDenied("only the seller can mark this listing as sold")
	}
	if buyerID != nil && *buyerID == actorID {
		return nil, apperrors.Validation("seller cannot be the buyer")
	}

	var updated models.Listing
	err = s.db.Collection(db.ListingsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": listingID, "seller": actorID},
		bson.M{"$set": bson.M{"is_sold": true, "buyer": buyerID, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to mark listing %s sold: %w", listingID.Hex(), err)
	}
	return &updated, nil
}

// Purchase records buyerID as the buyer of an unsold listing.
func (s *listingService) Purchase(ctx context.Context, listingID, buyerID primitive.ObjectID) (*models.Listing, error) {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller == buyerID {
		return nil, apperrors.PermissionDenied("you cannot purchase your own listing")
	}

	var updated models.Listing
	err = s.db.Collection(db.ListingsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": listingID, "is_sold": false},
		bson.M{"$set": bson.M{"is_sold": true, "buyer": buyerID, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingSold
		}
		return nil, fmt.Errorf("failed to purchase listing %s: %w", listingID.Hex(), err)
	}
	return &updated, nil
}

// AddReview appends a review. The one-review-per-reviewer rule is part of
// the update filter, so two concurrent reviews by the same user cannot both
// land.
func (s *listingService) AddReview(ctx context.Context, listingID, reviewerID primitive.ObjectID, rating int, comment string) (*models.Review, error) {
	if rating < models.MinRating || rating > models.MaxRating {
		return nil, apperrors.Validation(fmt.Sprintf("rating must be between %d and %d", models.MinRating, models.MaxRating))
	}
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller == reviewerID {
		return nil, apperrors.PermissionDenied("you cannot review your own listing")
	}

	review := models.Review{
		Reviewer:  reviewerID,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.Collection(db.ListingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "reviews.reviewer": bson.M{"$ne": reviewerID}},
		bson.M{"$push": bson.M{"reviews": review}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add review to listing %s: %w", listingID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		// Either the listing vanished or the reviewer already has a review.
		if _, err := s.loadListing(ctx, listingID); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyReviewed
	}

	if err := s.refreshSellerRating(ctx, listing.Seller); err != nil {
		log.Printf("Warning: failed to refresh rating of seller %s: %v", listing.Seller.Hex(), err)
	}
	return &review, nil
}

// refreshSellerRating recomputes the seller's aggregate from every review on
// every listing they own.
func (s *listingService) refreshSellerRating(ctx context.Context, sellerID primitive.ObjectID) error {
	cursor, err := s.db.Collection(db.ListingsCollection).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"seller": sellerID}}},
		{{Key: "$unwind", Value: "$reviews"}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"avg": bson.M{"$avg": "$reviews.rating"},
			"n":   bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return err
	}
	var rows []struct {
		Avg float64 `bson:"avg"`
		N   int     `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return err
	}
	avg, n := 0.0, 0
	if len(rows) > 0 {
		avg = decimal.NewFromFloat(rows[0].Avg).Round(2).InexactFloat64()
		n = rows[0].N
	}
	_, err = s.db.Collection(db.UsersCollection).UpdateOne(ctx,
		bson.M{"_id": sellerID},
		bson.M{"$set": bson.M{"average_rating": avg, "num_reviews": n}},
	)
	return err
}

func (s *listingService) ListReviews(ctx context.Context, listingID primitive.ObjectID) ([]models.Review, error) {
	listing, err := s.loadListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Reviews == nil {
		return []models.Review{}, nil
	}
	return listing.Reviews, nil
}

// cleanDistinct keeps the non-empty strings of a Distinct result, sorted.
func cleanDistinct(values []interface{}) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		str = strings.TrimSpace(str)
		if str == "" {
			continue
		}
		if _, dup := seen[str]; dup {
			continue
		}
		seen[str] = struct{}{}
		out = append(out, str)
	}
	sort.Strings(out)
	return out
}

func (s *listingService) distinct(ctx context.Context, field string) ([]string, error) {
	values, err := s.db.Collection(db.ListingsCollection).Distinct(ctx, field,
		bson.M{field: bson.M{"$nin": bson.A{nil, ""}}})
	if err != nil {
		return nil, fmt.Errorf("error listing distinct %s: %w", field, err)
	}
	return cleanDistinct(values), nil
}

func (s *listingService) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "category")
}

func (s *listingService) Departments(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "department")
}

func (s *listingService) Purchases(ctx context.Context, buyerID primitive.ObjectID) ([]models.Listing, error) {
	return s.findListings(ctx, bson.M{"buyer": buyerID}, 0)
}

// SetListingImage points the listing at a processed image object.
func (s *listingService) SetListingImage(ctx context.Context, listingID primitive.ObjectID, imageKey string) error {
	res, err := s.db.Collection(db.ListingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{"$set": bson.M{"image": imageKey, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set image of listing %s: %w", listingID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrListingNotFound
	}
	return nil
}
