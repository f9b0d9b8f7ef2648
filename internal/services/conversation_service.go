package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

var (
	ErrConversationNotFound    = apperrors.NotFound("conversation not found")
	ErrNotParticipant          = apperrors.PermissionDenied("you are not a participant of this conversation")
	ErrConversationNotAccepted = apperrors.PreconditionFailed("conversation has not been accepted yet")
	ErrSelfAccept              = apperrors.PermissionDenied("only the receiver can accept a chat request")
)

// notifyTimeout bounds how long Initiate waits on the notifier.
const notifyTimeout = 2 * time.Second

// ChatRequestNotice tells a receiver that someone wants to chat.
type ChatRequestNotice struct {
	ConversationID primitive.ObjectID
	ReceiverEmail  string
	ReceiverName   string
	InitiatorName  string
	ListingTitle   string
}

// Notifier delivers chat request notices. Delivery is best effort.
type Notifier interface {
	NotifyChatRequest(ctx context.Context, notice ChatRequestNotice) error
}

// MessageTarget identifies the conversation a message goes to: directly by
// id, or by the receiver (with the listing) from which the key is derived.
type MessageTarget struct {
	ConversationID *primitive.ObjectID
	ReceiverID     *primitive.ObjectID
}

// IConversationService gates messaging behind a request/accept handshake.
type IConversationService interface {
	Initiate(ctx context.Context, initiatorID, receiverID primitive.ObjectID, listingID *primitive.ObjectID) (*models.Conversation, *models.Message, error)
	Accept(ctx context.Context, conversationID, actorID primitive.ObjectID) (*models.Conversation, error)
	SendMessage(ctx context.Context, senderID primitive.ObjectID, target MessageTarget, content string, listingID *primitive.ObjectID) (*models.Message, error)
	ListConversations(ctx context.Context, userID primitive.ObjectID) ([]models.Conversation, error)
	FindConversation(ctx context.Context, conversationID, actorID primitive.ObjectID) (*models.Conversation, error)
}

type conversationService struct {
	db       *mongo.Database
	users    IUserService
	listings IListingService
	messages IMessageService
	notifier Notifier
}

// NewConversationService wires the state machine. notifier may be nil.
func NewConversationService(db *mongo.Database, users IUserService, listings IListingService, messages IMessageService, notifier Notifier) IConversationService {
	return &conversationService{db: db, users: users, listings: listings, messages: messages, notifier: notifier}
}

func seedContent(listing *models.Listing) string {
	if listing == nil {
		return "Hi! I'd like to chat with you."
	}
	return fmt.Sprintf("Hi! I'm interested in your listing %q. Is it still available?", listing.Title)
}

// Initiate finds or creates the conversation for the unordered pair and
// listing, then appends the seed message. An existing conversation keeps its
// status. Creation is a single upsert against a unique index, so concurrent
// initiations converge on one document.
func (s *conversationService) Initiate(ctx context.Context, initiatorID, receiverID primitive.ObjectID, listingID *primitive.ObjectID) (*models.Conversation, *models.Message, error) {
	if initiatorID == receiverID {
		return nil, nil, apperrors.Validation("you cannot start a conversation with yourself")
	}

	initiator, err := s.users.FindByID(ctx, initiatorID)
	if err != nil {
		return nil, nil, err
	}
	receiver, err := s.users.FindByID(ctx, receiverID)
	if err != nil {
		return nil, nil, err
	}
	var listing *models.Listing
	if listingID != nil {
		if listing, err = s.listings.FindListingByID(ctx, *listingID); err != nil {
			return nil, nil, err
		}
	}

	key, pair := models.PairKey(initiatorID, receiverID)
	now := time.Now().UTC()
	newID := primitive.NewObjectID()
	var conv models.Conversation
	upsert := func() error {
		return s.db.Collection(db.ConversationsCollection).FindOneAndUpdate(ctx,
			bson.M{"pair_key": key, "listing": listingID},
			bson.M{
				"$setOnInsert": bson.M{
					"_id":          newID,
					"participants": pair,
					"status":       models.ConversationPending,
					"initiated_by": initiatorID,
					"created_at":   now,
				},
				"$set": bson.M{"last_message_at": now, "updated_at": now},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&conv)
	}
	if err := db.WithRetries(upsert, db.DefaultMaxRetries, db.IsMongoDuplicateKeyError); err != nil {
		return nil, nil, fmt.Errorf("failed to upsert conversation %s: %w", key, err)
	}

	convID := conv.ID
	seed := &models.Message{
		Sender:       initiatorID,
		Receiver:     receiverID,
		Content:      seedContent(listing),
		Listing:      listingID,
		Conversation: &convID,
		CreatedAt:    now,
	}
	if err := s.messages.Append(ctx, seed); err != nil {
		// A conversation created by this call must not outlive its seed.
		if conv.ID == newID {
			_, delErr := s.db.Collection(db.ConversationsCollection).DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": newID})
			if delErr != nil {
				log.Printf("ERROR removing conversation %s after failed seed: %v", newID.Hex(), delErr)
			}
		}
		return nil, nil, err
	}

	s.notify(ctx, &conv, initiator, receiver, listing)
	return &conv, seed, nil
}

// notify never fails the caller; delivery problems are only logged.
func (s *conversationService) notify(ctx context.Context, conv *models.Conversation, initiator, receiver *models.User, listing *models.Listing) {
	if s.notifier == nil {
		return
	}
	notice := ChatRequestNotice{
		ConversationID: conv.ID,
		ReceiverEmail:  receiver.Email,
		ReceiverName:   receiver.Name,
		InitiatorName:  initiator.Name,
	}
	if listing != nil {
		notice.ListingTitle = listing.Title
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyChatRequest(nctx, notice); err != nil {
		log.Printf("Warning: chat request notification for conversation %s failed: %v", conv.ID.Hex(), err)
	}
}

func (s *conversationService) load(ctx context.Context, conversationID primitive.ObjectID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Collection(db.ConversationsCollection).FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("error finding conversation %s: %w", conversationID.Hex(), err)
	}
	return &conv, nil
}

// Accept moves a conversation to accepted. Only the participant who did not
// initiate it may accept; repeating the call is harmless.
func (s *conversationService) Accept(ctx context.Context, conversationID, actorID primitive.ObjectID) (*models.Conversation, error) {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actorID) {
		return nil, ErrNotParticipant
	}
	if conv.InitiatedBy == actorID {
		return nil, ErrSelfAccept
	}

	var updated models.Conversation
	err = s.db.Collection(db.ConversationsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"status": models.ConversationAccepted, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to accept conversation %s: %w", conversationID.Hex(), err)
	}
	return &updated, nil
}

// resolve finds the conversation a message is addressed to.
func (s *conversationService) resolve(ctx context.Context, senderID primitive.ObjectID, target MessageTarget, listingID *primitive.ObjectID) (*models.Conversation, error) {
	if target.ConversationID != nil {
		return s.load(ctx, *target.ConversationID)
	}
	if target.ReceiverID == nil {
		return nil, apperrors.Validation("conversation id or receiver id is required")
	}

	key, _ := models.PairKey(senderID, *target.ReceiverID)
	var conv models.Conversation
	err := s.db.Collection(db.ConversationsCollection).FindOne(ctx, bson.M{"pair_key": key, "listing": listingID}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("error finding conversation %s: %w", key, err)
	}
	return &conv, nil
}

// SendMessage appends a message to an accepted conversation.
func (s *conversationService) SendMessage(ctx context.Context, senderID primitive.ObjectID, target MessageTarget, content string, listingID *primitive.ObjectID) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.Validation("message content is required")
	}

	conv, err := s.resolve(ctx, senderID, target, listingID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	if conv.Status != models.ConversationAccepted {
		return nil, ErrConversationNotAccepted
	}

	receiverID := conv.Other(senderID)
	if target.ReceiverID != nil && *target.ReceiverID != receiverID {
		return nil, apperrors.Validation("receiver is not the other participant of this conversation")
	}

	now := time.Now().UTC()
	convID := conv.ID
	msg := &models.Message{
		Sender:       senderID,
		Receiver:     receiverID,
		Content:      content,
		Listing:      conv.Listing,
		Conversation: &convID,
		CreatedAt:    now,
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, err
	}

	_, err = s.db.Collection(db.ConversationsCollection).UpdateOne(ctx,
		bson.M{"_id": conv.ID},
		bson.M{"$set": bson.M{"last_message_at": now, "updated_at": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh conversation %s: %w", conv.ID.Hex(), err)
	}
	return msg, nil
}

// ListConversations returns the user's conversations, most recently active
// first.
func (s *conversationService) ListConversations(ctx context.Context, userID primitive.ObjectID) ([]models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.db.Collection(db.ConversationsCollection).Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations of %s: %w", userID.Hex(), err)
	}
	convs := []models.Conversation{}
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("error decoding conversations: %w", err)
	}
	return convs, nil
}

func (s *conversationService) FindConversation(ctx context.Context, conversationID, actorID primitive.ObjectID) (*models.Conversation, error) {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actorID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}
