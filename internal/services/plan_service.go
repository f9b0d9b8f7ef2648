package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/cache"
	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

var (
	ErrPlanNotFound        = apperrors.NotFound("plan not found")
	ErrListingLimitReached = apperrors.PreconditionFailed("listing limit reached")
)

const planCatalogCacheKey = "plans:catalog"

// IPlanService tracks how many listings a user has created against the
// limit of their plan.
type IPlanService interface {
	GetUserPlanInfo(ctx context.Context, userID primitive.ObjectID) (*models.PlanInfo, error)
	ReserveListingSlot(ctx context.Context, userID primitive.ObjectID) error
	ReleaseListingSlot(ctx context.Context, userID primitive.ObjectID) error
	SubscribePlan(ctx context.Context, userID primitive.ObjectID, planName string) (*models.PlanInfo, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	SeedPlans(ctx context.Context) error
}

type planService struct {
	db    *mongo.Database
	cfg   *config.Config
	cache *cache.JSONCache
}

// NewPlanService creates a plan service. catalogCache may be nil.
func NewPlanService(db *mongo.Database, cfg *config.Config, catalogCache *cache.JSONCache) IPlanService {
	return &planService{db: db, cfg: cfg, cache: catalogCache}
}

func intPtr(v int) *int { return &v }

// planExpired reports whether a paid plan's period has ended.
func planExpired(user *models.User, now time.Time) bool {
	return user.Plan != models.DefaultPlanName && user.PlanExpiresAt != nil && user.PlanExpiresAt.Before(now)
}

// quotaReached reports whether used listings exhaust limit. A nil limit is
// unbounded.
func quotaReached(used int, limit *int) bool {
	return limit != nil && used >= *limit
}

// freePlan is the default plan. It is never persisted; its limit comes from
// configuration.
func (s *planService) freePlan() models.Plan {
	return models.Plan{Name: models.DefaultPlanName, ListingLimit: intPtr(s.cfg.FreeTierListings)}
}

func (s *planService) findUser(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

func (s *planService) findPlan(ctx context.Context, name string) (*models.Plan, error) {
	if name == models.DefaultPlanName {
		free := s.freePlan()
		return &free, nil
	}
	var plan models.Plan
	err := s.db.Collection(db.PlansCollection).FindOne(ctx, bson.M{"name": name}).Decode(&plan)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("error finding plan %q: %w", name, err)
	}
	return &plan, nil
}

// resolve loads the user and the limit that applies right now. An expired
// paid plan is downgraded to the default plan and persisted before the limit
// is computed.
func (s *planService) resolve(ctx context.Context, userID primitive.ObjectID) (*models.User, *int, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	if planExpired(user, time.Now().UTC()) {
		if err := s.deactivate(ctx, user); err != nil {
			return nil, nil, err
		}
	}

	plan, err := s.findPlan(ctx, user.Plan)
	if err != nil {
		if !errors.Is(err, ErrPlanNotFound) {
			return nil, nil, err
		}
		log.Printf("Warning: user %s is on unknown plan %q, applying free tier", userID.Hex(), user.Plan)
		free := s.freePlan()
		plan = &free
	}
	return user, plan.ListingLimit, nil
}

func (s *planService) deactivate(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	// Guard on the plan name so a concurrent renewal is not undone.
	_, err := s.db.Collection(db.UsersCollection).UpdateOne(ctx,
		bson.M{"_id": user.ID, "plan": user.Plan, "plan_expires_at": user.PlanExpiresAt},
		bson.M{"$set": bson.M{
			"plan":                 models.DefaultPlanName,
			"listings_this_period": 0,
			"plan_expires_at":      nil,
			"updated_at":           now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate expired plan for user %s: %w", user.ID.Hex(), err)
	}
	log.Printf("Plan %q of user %s expired, reverted to %s", user.Plan, user.ID.Hex(), models.DefaultPlanName)
	user.Plan = models.DefaultPlanName
	user.ListingsThisPeriod = 0
	user.PlanExpiresAt = nil
	return nil
}

func (s *planService) GetUserPlanInfo(ctx context.Context, userID primitive.ObjectID) (*models.PlanInfo, error) {
	user, limit, err := s.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.PlanInfo{
		Plan:          user.Plan,
		Used:          user.ListingsThisPeriod,
		Limit:         limit,
		Expired:       quotaReached(user.ListingsThisPeriod, limit),
		PlanExpiresAt: user.PlanExpiresAt,
	}, nil
}

// ReserveListingSlot consumes one listing of the user's quota. The check and
// the increment are a single conditional update, so concurrent creations can
// never push the counter past the limit.
func (s *planService) ReserveListingSlot(ctx context.Context, userID primitive.ObjectID) error {
	_, limit, err := s.resolve(ctx, userID)
	if err != nil {
		return err
	}

	filter := bson.M{"_id": userID}
	if limit != nil {
		filter["listings_this_period"] = bson.M{"$lt": *limit}
	}
	res, err := s.db.Collection(db.UsersCollection).UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"listings_this_period": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to reserve listing slot for user %s: %w", userID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrListingLimitReached
	}
	return nil
}

// ReleaseListingSlot gives back a slot taken by ReserveListingSlot when the
// listing could not be stored.
func (s *planService) ReleaseListingSlot(ctx context.Context, userID primitive.ObjectID) error {
	_, err := s.db.Collection(db.UsersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "listings_this_period": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"listings_this_period": -1}},
	)
	if err != nil {
		return fmt.Errorf("failed to release listing slot for user %s: %w", userID.Hex(), err)
	}
	return nil
}

// SubscribePlan moves the user onto planName, starting a fresh period.
// No payment is verified. The default plan is not in the catalog and cannot
// be subscribed to; users only return to it when a paid plan expires.
func (s *planService) SubscribePlan(ctx context.Context, userID primitive.ObjectID, planName string) (*models.PlanInfo, error) {
	if planName == "" {
		return nil, apperrors.Validation("plan name is required")
	}
	if planName == models.DefaultPlanName {
		return nil, ErrPlanNotFound
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return nil, err
	}
	plan, err := s.findPlan(ctx, planName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if plan.DurationDays != nil {
		t := now.AddDate(0, 0, *plan.DurationDays)
		expiresAt = &t
	}

	res, err := s.db.Collection(db.UsersCollection).UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"plan":                 plan.Name,
		"listings_this_period": 0,
		"plan_expires_at":      expiresAt,
		"updated_at":           now,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe user %s to plan %q: %w", userID.Hex(), planName, err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrUserNotFound
	}

	return &models.PlanInfo{
		Plan:          plan.Name,
		Used:          0,
		Limit:         plan.ListingLimit,
		Expired:       quotaReached(0, plan.ListingLimit),
		PlanExpiresAt: expiresAt,
	}, nil
}

// ListPlans returns the free plan followed by the stored catalog, by price.
func (s *planService) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if s.cache.Get(ctx, planCatalogCacheKey, &plans) {
		return plans, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "price", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := s.db.Collection(db.PlansCollection).Find(ctx, bson.M{"name": bson.M{"$ne": models.DefaultPlanName}}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing plans: %w", err)
	}
	var stored []models.Plan
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("error decoding plans: %w", err)
	}

	plans = append([]models.Plan{s.freePlan()}, stored...)
	s.cache.Set(ctx, planCatalogCacheKey, plans, s.cfg.GetCacheTTL)
	return plans, nil
}

// referencePlans is the catalog installed by SeedPlans.
var referencePlans = []models.Plan{
	{Name: "pro", ListingLimit: intPtr(20), Price: 49, DurationDays: intPtr(30)},
	{Name: "premium", ListingLimit: nil, Price: 99, DurationDays: intPtr(30)},
}

// SeedPlans upserts the reference catalog by name.
func (s *planService) SeedPlans(ctx context.Context) error {
	coll := s.db.Collection(db.PlansCollection)
	for _, p := range referencePlans {
		_, err := coll.UpdateOne(ctx,
			bson.M{"name": p.Name},
			bson.M{"$set": bson.M{
				"listing_limit": p.ListingLimit,
				"price":         p.Price,
				"duration_days": p.DurationDays,
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to seed plan %q: %w", p.Name, err)
		}
	}
	s.cache.Delete(ctx, planCatalogCacheKey)
	return nil
}
