package services

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

func TestListingQuery(t *testing.T) {
	seller := primitive.NewObjectID()

	assert.Equal(t, bson.M{}, listingQuery(models.ListingFilter{}))

	q := listingQuery(models.ListingFilter{Category: "Books", Department: "CS", Seller: &seller, Search: "c++ (intro)"})
	assert.Equal(t, "Books", q["category"])
	assert.Equal(t, "CS", q["department"])
	assert.Equal(t, seller, q["seller"])

	or, ok := q["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 2)
	re := or[0].(bson.M)["title"].(primitive.Regex)
	assert.Equal(t, `c\+\+ \(intro\)`, re.Pattern)
	assert.Equal(t, "i", re.Options)
}

func TestCleanDistinct(t *testing.T) {
	got := cleanDistinct([]interface{}{"Physics", nil, "", "  ", "Art", 42, "Physics"})
	assert.Equal(t, []string{"Art", "Physics"}, got)
	assert.Empty(t, cleanDistinct(nil))
}

func TestNormalizePrice(t *testing.T) {
	p, err := normalizePrice(10.005)
	require.NoError(t, err)
	assert.Equal(t, 10.01, p)

	p, err = normalizePrice(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := normalizePrice(bad)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))
	}
}

func TestListingPatch(t *testing.T) {
	set, err := listingPatch(models.ListingInput{Title: strPtr(" New "), Department: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"title": "New", "department": ""}, set)

	_, err = listingPatch(models.ListingInput{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	_, err = listingPatch(models.ListingInput{Category: strPtr("   ")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))
}

func TestListingService_CreateIsQuotaGated(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_quota")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")

	for i := 0; i < 3; i++ {
		l, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Calculus textbook"))
		require.NoError(t, err)
		assert.False(t, l.IsSold)
		assert.Nil(t, l.Buyer)
		assert.Empty(t, l.Reviews)
	}

	_, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("One too many"))
	assert.ErrorIs(t, err, ErrListingLimitReached)

	count, err := database.Collection(db.ListingsCollection).CountDocuments(ctx, bson.M{"seller": seller.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	info, err := svc.plans.GetUserPlanInfo(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Used)
}

func TestListingService_CreateUnlocksAfterUpgrade(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_upgrade")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, svc.plans.SeedPlans(ctx))
	seller := createTestUser(t, database, "upgrader")

	for i := 0; i < 3; i++ {
		_, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Lab coat"))
		require.NoError(t, err)
	}
	_, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Graphing calculator"))
	require.ErrorIs(t, err, ErrListingLimitReached)

	_, err = svc.plans.SubscribePlan(ctx, seller.ID, "premium")
	require.NoError(t, err)

	created, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Graphing calculator"))
	require.NoError(t, err)
	assert.Equal(t, "Graphing calculator", created.Title)

	info, err := svc.plans.GetUserPlanInfo(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, "premium", info.Plan)
	assert.Equal(t, 1, info.Used)
}

// cancelAfterReserve reserves with a live context, then cancels the caller's
// context so the listing insert that follows fails.
type cancelAfterReserve struct {
	IPlanService
	cancel context.CancelFunc
}

func (p *cancelAfterReserve) ReserveListingSlot(ctx context.Context, userID primitive.ObjectID) error {
	err := p.IPlanService.ReserveListingSlot(context.WithoutCancel(ctx), userID)
	p.cancel()
	return err
}

func TestListingService_CreateReleasesSlotWhenInsertFails(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_rollback")
	cfg := testConfig()
	plans := NewPlanService(database, cfg, nil)
	seller := createTestUser(t, database, "rollback")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listings := NewListingService(database, cfg, &cancelAfterReserve{IPlanService: plans, cancel: cancel})

	_, err := listings.CreateListing(ctx, seller.ID, newListingInput("Never stored"))
	require.Error(t, err)

	bg := context.Background()
	count, err := database.Collection(db.ListingsCollection).CountDocuments(bg, bson.M{"seller": seller.ID})
	require.NoError(t, err)
	assert.Zero(t, count)

	info, err := plans.GetUserPlanInfo(bg, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Used)
}

func TestListingService_CreateValidation(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_validation")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")

	in := newListingInput("Lamp")
	in.Title = strPtr("  ")
	_, err := svc.listings.CreateListing(ctx, seller.ID, in)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	in = newListingInput("Lamp")
	in.Price = floatPtr(-3)
	_, err = svc.listings.CreateListing(ctx, seller.ID, in)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	_, err = svc.listings.CreateListing(ctx, primitive.NewObjectID(), newListingInput("Lamp"))
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Refused requests do not consume quota.
	info, err := svc.plans.GetUserPlanInfo(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Used)
}

func TestListingService_ListFilters(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_filters")
	cfg := testConfig()
	cfg.FreeTierListings = 10
	svc := newTestServices(database, cfg, nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")

	a := newListingInput("Organic Chemistry Notes")
	a.Category = strPtr("Notes")
	a.Department = strPtr("Chemistry")
	_, err := svc.listings.CreateListing(ctx, seller.ID, a)
	require.NoError(t, err)

	b := newListingInput("Desk lamp")
	b.Description = strPtr("Bright LED, good for chemistry late nights")
	b.Category = strPtr("Furniture")
	b.Department = strPtr("")
	_, err = svc.listings.CreateListing(ctx, seller.ID, b)
	require.NoError(t, err)

	all, err := svc.listings.ListListings(ctx, models.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Desk lamp", all[0].Title, "newest first")
	require.NotNil(t, all[0].SellerInfo)
	assert.Equal(t, "seller", all[0].SellerInfo.Name)

	found, err := svc.listings.ListListings(ctx, models.ListingFilter{Search: "CHEMISTRY"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = svc.listings.ListListings(ctx, models.ListingFilter{Search: "chemistry", Category: "Notes"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Organic Chemistry Notes", found[0].Title)

	found, err = svc.listings.ListListings(ctx, models.ListingFilter{Search: ".*"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestListingService_CategoriesAndDepartments(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_distinct")
	cfg := testConfig()
	cfg.FreeTierListings = 10
	svc := newTestServices(database, cfg, nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")

	in := newListingInput("Notes")
	in.Department = strPtr("")
	_, err := svc.listings.CreateListing(ctx, seller.ID, in)
	require.NoError(t, err)
	_, err = svc.listings.CreateListing(ctx, seller.ID, newListingInput("Textbook"))
	require.NoError(t, err)

	// Rows written by older clients may carry null values.
	_, err = database.Collection(db.ListingsCollection).InsertOne(ctx, bson.M{
		"title": "legacy", "category": nil, "department": nil, "seller": seller.ID,
	})
	require.NoError(t, err)

	cats, err := svc.listings.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Books"}, cats)

	deps, err := svc.listings.Departments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Physics"}, deps)
}

func TestListingService_UpdateAndDeleteRequireOwner(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_owner")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")
	stranger := createTestUser(t, database, "stranger")

	l, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Bike"))
	require.NoError(t, err)

	_, err = svc.listings.UpdateListing(ctx, l.ID, Actor{ID: stranger.ID}, models.ListingInput{Title: strPtr("Mine now")})
	assert.ErrorIs(t, err, ErrNotListingOwner)

	updated, err := svc.listings.UpdateListing(ctx, l.ID, Actor{ID: seller.ID}, models.ListingInput{Price: floatPtr(99.999)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.Price)
	assert.Equal(t, "Bike", updated.Title)

	updated, err = svc.listings.UpdateListing(ctx, l.ID, Actor{ID: stranger.ID, IsAdmin: true}, models.ListingInput{Title: strPtr("Road bike")})
	require.NoError(t, err)
	assert.Equal(t, "Road bike", updated.Title)

	assert.ErrorIs(t, svc.listings.DeleteListing(ctx, l.ID, Actor{ID: stranger.ID}), ErrNotListingOwner)
	require.NoError(t, svc.listings.DeleteListing(ctx, l.ID, Actor{ID: seller.ID}))

	_, err = svc.listings.FindListingByID(ctx, l.ID)
	assert.ErrorIs(t, err, ErrListingNotFound)
	assert.ErrorIs(t, svc.listings.DeleteListing(ctx, l.ID, Actor{ID: seller.ID}), ErrListingNotFound)
}

func TestListingService_MarkSold(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_mark_sold")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")
	buyer := createTestUser(t, database, "buyer")

	l, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Guitar"))
	require.NoError(t, err)

	_, err = svc.listings.MarkSold(ctx, l.ID, buyer.ID, &buyer.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))
	unchanged, err := svc.listings.FindListingByID(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, unchanged.IsSold)

	sold, err := svc.listings.MarkSold(ctx, l.ID, seller.ID, &buyer.ID)
	require.NoError(t, err)
	assert.True(t, sold.IsSold)
	require.NotNil(t, sold.Buyer)
	assert.Equal(t, buyer.ID, *sold.Buyer)

	purchases, err := svc.listings.Purchases(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, l.ID, purchases[0].ID)

	_, err = svc.listings.MarkSold(ctx, primitive.NewObjectID(), seller.ID, nil)
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestListingService_Purchase(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_purchase")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")
	buyer := createTestUser(t, database, "buyer")
	late := createTestUser(t, database, "late")

	l, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Monitor"))
	require.NoError(t, err)

	_, err = svc.listings.Purchase(ctx, l.ID, seller.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))

	bought, err := svc.listings.Purchase(ctx, l.ID, buyer.ID)
	require.NoError(t, err)
	assert.True(t, bought.IsSold)
	assert.Equal(t, buyer.ID, *bought.Buyer)

	_, err = svc.listings.Purchase(ctx, l.ID, late.ID)
	assert.ErrorIs(t, err, ErrListingSold)
}

func TestListingService_Reviews(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_reviews")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")
	r1 := createTestUser(t, database, "reviewer1")
	r2 := createTestUser(t, database, "reviewer2")

	l, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Calculator"))
	require.NoError(t, err)

	_, err = svc.listings.AddReview(ctx, l.ID, r1.ID, 6, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))
	_, err = svc.listings.AddReview(ctx, l.ID, seller.ID, 5, "great")
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))

	_, err = svc.listings.AddReview(ctx, l.ID, r1.ID, 5, "works")
	require.NoError(t, err)
	_, err = svc.listings.AddReview(ctx, l.ID, r1.ID, 1, "changed my mind")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
	_, err = svc.listings.AddReview(ctx, l.ID, r2.ID, 4, "")
	require.NoError(t, err)

	reviews, err := svc.listings.ListReviews(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, 5, reviews[0].Rating)

	sellerDoc, err := svc.users.FindByID(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sellerDoc.NumReviews)
	assert.Equal(t, 4.5, sellerDoc.AverageRating)

	_, err = svc.listings.AddReview(ctx, primitive.NewObjectID(), r1.ID, 3, "")
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestListingService_SetListingImage(t *testing.T) {
	database := setupTestDB(t, "testdb_listing_image")
	svc := newTestServices(database, testConfig(), nil)
	ctx := context.Background()
	seller := createTestUser(t, database, "seller")

	l, err := svc.listings.CreateListing(ctx, seller.ID, newListingInput("Chair"))
	require.NoError(t, err)

	require.NoError(t, svc.listings.SetListingImage(ctx, l.ID, "listings/x.jpg"))
	got, err := svc.listings.FindListingByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "listings/x.jpg", got.Image)

	assert.ErrorIs(t, svc.listings.SetListingImage(ctx, primitive.NewObjectID(), "k"), ErrListingNotFound)
}
