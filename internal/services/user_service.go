package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/auth"
	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

var (
	ErrUserNotFound       = apperrors.NotFound("user not found")
	ErrUserExists         = apperrors.PreconditionFailed("user already exists")
	ErrInvalidCredentials = apperrors.Unauthenticated("invalid credentials")
)

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	College        string `json:"college"`
	StudentIDImage string `json:"studentIdImage"`
}

// ProfileInput carries the editable profile fields. Nil fields are left
// untouched.
type ProfileInput struct {
	Name           *string `json:"name"`
	College        *string `json:"college"`
	StudentIDImage *string `json:"studentIdImage"`
}

// IUserService defines the interface for user-related operations.
type IUserService interface {
	Register(ctx context.Context, input RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, input ProfileInput) (*models.User, error)
	ListUsers(ctx context.Context, excludeID primitive.ObjectID) ([]models.UserSummary, error)
}

type userService struct {
	db  *mongo.Database
	cfg *config.Config
}

func NewUserService(db *mongo.Database, cfg *config.Config) IUserService {
	return &userService{db: db, cfg: cfg}
}

// Register creates a user on the default plan. Emails are unique and
// compared case-insensitively.
func (s *userService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.College = strings.TrimSpace(input.College)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if input.Name == "" || email == "" || input.Password == "" || input.College == "" {
		return nil, apperrors.Validation("name, email, password and college are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.Validation("invalid email address")
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		Base:           models.NewBase(),
		Name:           input.Name,
		Email:          email,
		PasswordHash:   hash,
		College:        input.College,
		StudentIDImage: input.StudentIDImage,
		Plan:           models.DefaultPlanName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := s.db.Collection(db.UsersCollection).InsertOne(ctx, user); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to insert user %s: %w", email, err)
	}
	return user, nil
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *userService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, apperrors.Validation("email and password are required")
	}

	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("error finding user by email: %w", err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, s.cfg.JwtSecret, s.cfg.JwtTTL)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// UpdateProfile edits the caller's own profile. Plan and quota fields are
// owned by the plan service and never written here.
func (s *userService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, input ProfileInput) (*models.User, error) {
	set := bson.M{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.Validation("name cannot be empty")
		}
		set["name"] = name
	}
	if input.College != nil {
		college := strings.TrimSpace(*input.College)
		if college == "" {
			return nil, apperrors.Validation("college cannot be empty")
		}
		set["college"] = college
	}
	if input.StudentIDImage != nil {
		set["student_id_image"] = strings.TrimSpace(*input.StudentIDImage)
	}
	if len(set) == 0 {
		return s.FindByID(ctx, userID)
	}
	set["updated_at"] = time.Now().UTC()

	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update profile of %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// ListUsers returns the public summary of every user except excludeID,
// ordered by name. It backs the contact picker of the messaging page.
func (s *userService) ListUsers(ctx context.Context, excludeID primitive.ObjectID) ([]models.UserSummary, error) {
	opts := options.Find().
		SetProjection(bson.M{"name": 1, "email": 1, "college": 1}).
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(db.UsersCollection).Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	summaries := []models.UserSummary{}
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("error decoding users: %w", err)
	}
	return summaries, nil
}
