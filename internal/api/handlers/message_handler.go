package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/services"
)

// MessageHandler serves the /api/messages routes.
type MessageHandler struct {
	conversationService services.IConversationService
	messageService      services.IMessageService
	timeout             time.Duration
}

func NewMessageHandler(conversationService services.IConversationService, messageService services.IMessageService, timeout time.Duration) *MessageHandler {
	return &MessageHandler{
		conversationService: conversationService,
		messageService:      messageService,
		timeout:             timeout,
	}
}

type initiateRequest struct {
	ReceiverID string `json:"receiverId"`
	ListingID  string `json:"listingId"`
}

// Initiate handles POST /api/messages/initiate
func (h *MessageHandler) Initiate(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}
	receiverID, err := parseObjectID(req.ReceiverID, "receiverId")
	if err != nil {
		respondError(c, err)
		return
	}
	listingID, err := parseOptionalObjectID(req.ListingID, "listingId")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	conv, seed, err := h.conversationService.Initiate(ctx, actor.ID, receiverID, listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "message": seed})
}

// Accept handles POST /api/messages/conversations/:id/accept
func (h *MessageHandler) Accept(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	conv, err := h.conversationService.Accept(ctx, id, actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListConversations handles GET /api/messages/conversations
func (h *MessageHandler) ListConversations(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	convs, err := h.conversationService.ListConversations(ctx, actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
	ListingID      string `json:"listingId"`
	Content        string `json:"content"`
}

// SendMessage handles POST /api/messages
func (h *MessageHandler) SendMessage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	var target services.MessageTarget
	var err error
	if target.ConversationID, err = parseOptionalObjectID(req.ConversationID, "conversationId"); err != nil {
		respondError(c, err)
		return
	}
	if target.ReceiverID, err = parseOptionalObjectID(req.ReceiverID, "receiverId"); err != nil {
		respondError(c, err)
		return
	}
	listingID, err := parseOptionalObjectID(req.ListingID, "listingId")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	msg, err := h.conversationService.SendMessage(ctx, actor.ID, target, req.Content, listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetMessages handles GET /api/messages?userId&listingId: the history between
// the caller and userId.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	otherID, err := parseObjectID(c.Query("userId"), "userId")
	if err != nil {
		respondError(c, err)
		return
	}
	listingID, err := parseOptionalObjectID(c.Query("listingId"), "listingId")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	msgs, err := h.messageService.GetMessages(ctx, actor.ID, otherID, listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
