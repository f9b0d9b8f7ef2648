package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/models"
	"campusconnect/marketplace/internal/services"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, input services.RegisterInput) (*models.User, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*models.User), args.Error(2)
}

func (m *MockUserService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, input services.ProfileInput) (*models.User, error) {
	args := m.Called(ctx, userID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) ListUsers(ctx context.Context, excludeID primitive.ObjectID) ([]models.UserSummary, error) {
	args := m.Called(ctx, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserSummary), args.Error(1)
}

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) listing(args mock.Arguments) (*models.Listing, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) listings(args mock.Arguments) ([]models.Listing, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) stringList(args mock.Arguments) ([]string, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockListingService) CreateListing(ctx context.Context, sellerID primitive.ObjectID, input models.ListingInput) (*models.Listing, error) {
	return m.listing(m.Called(ctx, sellerID, input))
}

func (m *MockListingService) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	return m.listings(m.Called(ctx, filter))
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID))
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID primitive.ObjectID, actor services.Actor, patch models.ListingInput) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID, actor, patch))
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID primitive.ObjectID, actor services.Actor) error {
	return m.Called(ctx, listingID, actor).Error(0)
}

func (m *MockListingService) MarkSold(ctx context.Context, listingID, actorID primitive.ObjectID, buyerID *primitive.ObjectID) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID, actorID, buyerID))
}

func (m *MockListingService) Purchase(ctx context.Context, listingID, buyerID primitive.ObjectID) (*models.Listing, error) {
	return m.listing(m.Called(ctx, listingID, buyerID))
}

func (m *MockListingService) AddReview(ctx context.Context, listingID, reviewerID primitive.ObjectID, rating int, comment string) (*models.Review, error) {
	args := m.Called(ctx, listingID, reviewerID, rating, comment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Review), args.Error(1)
}

func (m *MockListingService) ListReviews(ctx context.Context, listingID primitive.ObjectID) ([]models.Review, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Review), args.Error(1)
}

func (m *MockListingService) Categories(ctx context.Context) ([]string, error) {
	return m.stringList(m.Called(ctx))
}

func (m *MockListingService) Departments(ctx context.Context) ([]string, error) {
	return m.stringList(m.Called(ctx))
}

func (m *MockListingService) Purchases(ctx context.Context, buyerID primitive.ObjectID) ([]models.Listing, error) {
	return m.listings(m.Called(ctx, buyerID))
}

func (m *MockListingService) SetListingImage(ctx context.Context, listingID primitive.ObjectID, imageKey string) error {
	return m.Called(ctx, listingID, imageKey).Error(0)
}

// MockPlanService
type MockPlanService struct {
	mock.Mock
}

func (m *MockPlanService) planInfo(args mock.Arguments) (*models.PlanInfo, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlanInfo), args.Error(1)
}

func (m *MockPlanService) GetUserPlanInfo(ctx context.Context, userID primitive.ObjectID) (*models.PlanInfo, error) {
	return m.planInfo(m.Called(ctx, userID))
}

func (m *MockPlanService) ReserveListingSlot(ctx context.Context, userID primitive.ObjectID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockPlanService) ReleaseListingSlot(ctx context.Context, userID primitive.ObjectID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockPlanService) SubscribePlan(ctx context.Context, userID primitive.ObjectID, planName string) (*models.PlanInfo, error) {
	return m.planInfo(m.Called(ctx, userID, planName))
}

func (m *MockPlanService) ListPlans(ctx context.Context) ([]models.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Plan), args.Error(1)
}

func (m *MockPlanService) SeedPlans(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockConversationService
type MockConversationService struct {
	mock.Mock
}

func (m *MockConversationService) conversation(args mock.Arguments) (*models.Conversation, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationService) Initiate(ctx context.Context, initiatorID, receiverID primitive.ObjectID, listingID *primitive.ObjectID) (*models.Conversation, *models.Message, error) {
	args := m.Called(ctx, initiatorID, receiverID, listingID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Conversation), args.Get(1).(*models.Message), args.Error(2)
}

func (m *MockConversationService) Accept(ctx context.Context, conversationID, actorID primitive.ObjectID) (*models.Conversation, error) {
	return m.conversation(m.Called(ctx, conversationID, actorID))
}

func (m *MockConversationService) SendMessage(ctx context.Context, senderID primitive.ObjectID, target services.MessageTarget, content string, listingID *primitive.ObjectID) (*models.Message, error) {
	args := m.Called(ctx, senderID, target, content, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockConversationService) ListConversations(ctx context.Context, userID primitive.ObjectID) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockConversationService) FindConversation(ctx context.Context, conversationID, actorID primitive.ObjectID) (*models.Conversation, error) {
	return m.conversation(m.Called(ctx, conversationID, actorID))
}

// MockMessageService
type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Append(ctx context.Context, msg *models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMessageService) GetMessages(ctx context.Context, userID, otherUserID primitive.ObjectID, listingID *primitive.ObjectID) ([]models.Message, error) {
	args := m.Called(ctx, userID, otherUserID, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// MockStorage
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GeneratePresignedPutURL(ctx context.Context, userID, listingID primitive.ObjectID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, userID, listingID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockStorage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func (m *MockStorage) PublicURL(key string) string {
	return m.Called(key).String(0)
}

// MockImageQueue
type MockImageQueue struct {
	mock.Mock
}

func (m *MockImageQueue) EnqueueImageProcessing(ctx context.Context, listingID primitive.ObjectID, key string) error {
	return m.Called(ctx, listingID, key).Error(0)
}
