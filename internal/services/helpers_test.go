package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
	"campusconnect/marketplace/internal/utils"
)

var allCollections = []string{
	db.UsersCollection,
	db.ListingsCollection,
	db.PlansCollection,
	db.ConversationsCollection,
	db.MessagesCollection,
	db.EmailTemplatesCollection,
}

func setupTestDB(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, allCollections...)
}

func testConfig() *config.Config {
	return &config.Config{
		FreeTierListings: 3,
		JwtSecret:        "test-secret",
		JwtTTL:           time.Hour,
		GetCacheTTL:      time.Minute,
		AppName:          "Campus Connect",
	}
}

func createTestUser(t *testing.T, database *mongo.Database, name string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	user := &models.User{
		Base:      models.NewBase(),
		Name:      name,
		Email:     name + "-" + primitive.NewObjectID().Hex() + "@campus.test",
		College:   "Test College",
		Plan:      models.DefaultPlanName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := database.Collection(db.UsersCollection).InsertOne(context.Background(), user)
	require.NoError(t, err)
	return user
}

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }

func newListingInput(title string) models.ListingInput {
	return models.ListingInput{
		Title:       strPtr(title),
		Description: strPtr("Barely used"),
		Category:    strPtr("Books"),
		Price:       floatPtr(12.5),
		Department:  strPtr("Physics"),
	}
}

type testServices struct {
	users         IUserService
	plans         IPlanService
	listings      IListingService
	messages      IMessageService
	conversations IConversationService
}

func newTestServices(database *mongo.Database, cfg *config.Config, notifier Notifier) *testServices {
	users := NewUserService(database, cfg)
	plans := NewPlanService(database, cfg, nil)
	listings := NewListingService(database, cfg, plans)
	messages := NewMessageService(database)
	return &testServices{
		users:         users,
		plans:         plans,
		listings:      listings,
		messages:      messages,
		conversations: NewConversationService(database, users, listings, messages, notifier),
	}
}
