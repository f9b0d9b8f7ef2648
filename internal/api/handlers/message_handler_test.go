package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/api/handlers"
	"campusconnect/marketplace/internal/models"
	"campusconnect/marketplace/internal/services"
)

func newMessageRouter(actor services.Actor, convs *MockConversationService, msgs *MockMessageService) *gin.Engine {
	h := handlers.NewMessageHandler(convs, msgs, 0)
	r := newEngine(actor)
	g := r.Group("/api/messages")
	g.POST("", h.SendMessage)
	g.GET("", h.GetMessages)
	g.POST("/initiate", h.Initiate)
	g.GET("/conversations", h.ListConversations)
	g.POST("/conversations/:id/accept", h.Accept)
	return r
}

func TestMessageHandler_Initiate(t *testing.T) {
	actor := newActor()
	convs := new(MockConversationService)
	r := newMessageRouter(actor, convs, new(MockMessageService))

	receiver := primitive.NewObjectID()
	listing := primitive.NewObjectID()
	conv := &models.Conversation{Base: models.NewBase(), Status: models.ConversationPending, InitiatedBy: actor.ID}
	seed := &models.Message{Base: models.NewBase(), Sender: actor.ID, Receiver: receiver, Content: "Hi!"}
	convs.On("Initiate", mock.Anything, actor.ID, receiver, &listing).Return(conv, seed, nil)

	w := doJSON(r, http.MethodPost, "/api/messages/initiate", map[string]string{"receiverId": receiver.Hex(), "listingId": listing.Hex()})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
	assert.Contains(t, w.Body.String(), "Hi!")
	convs.AssertExpectations(t)
}

func TestMessageHandler_Initiate_Validation(t *testing.T) {
	actor := newActor()
	convs := new(MockConversationService)
	r := newMessageRouter(actor, convs, new(MockMessageService))

	w := doJSON(r, http.MethodPost, "/api/messages/initiate", map[string]string{"receiverId": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(w).Code)
	convs.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageHandler_Accept(t *testing.T) {
	actor := newActor()
	convs := new(MockConversationService)
	r := newMessageRouter(actor, convs, new(MockMessageService))

	id := primitive.NewObjectID()
	convs.On("Accept", mock.Anything, id, actor.ID).Return(&models.Conversation{Base: models.Base{ID: id}, Status: models.ConversationAccepted}, nil)
	other := primitive.NewObjectID()
	convs.On("Accept", mock.Anything, other, actor.ID).Return(nil, services.ErrSelfAccept)

	w := doJSON(r, http.MethodPost, "/api/messages/conversations/"+id.Hex()+"/accept", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"accepted"`)

	w = doJSON(r, http.MethodPost, "/api/messages/conversations/"+other.Hex()+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMessageHandler_SendMessage(t *testing.T) {
	actor := newActor()
	convs := new(MockConversationService)
	r := newMessageRouter(actor, convs, new(MockMessageService))

	convID := primitive.NewObjectID()
	target := services.MessageTarget{ConversationID: &convID}
	convs.On("SendMessage", mock.Anything, actor.ID, target, "Still available?", (*primitive.ObjectID)(nil)).
		Return(&models.Message{Base: models.NewBase(), Content: "Still available?"}, nil)

	w := doJSON(r, http.MethodPost, "/api/messages", map[string]string{"conversationId": convID.Hex(), "content": "Still available?"})
	assert.Equal(t, http.StatusCreated, w.Code)
	convs.AssertExpectations(t)
}

func TestMessageHandler_SendMessage_Pending(t *testing.T) {
	actor := newActor()
	convs := new(MockConversationService)
	r := newMessageRouter(actor, convs, new(MockMessageService))

	receiver := primitive.NewObjectID()
	target := services.MessageTarget{ReceiverID: &receiver}
	convs.On("SendMessage", mock.Anything, actor.ID, target, "hello", (*primitive.ObjectID)(nil)).Return(nil, services.ErrConversationNotAccepted)

	w := doJSON(r, http.MethodPost, "/api/messages", map[string]string{"receiverId": receiver.Hex(), "content": "hello"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "FAILED_PRECONDITION", decodeError(w).Code)
}

func TestMessageHandler_ListConversations(t *testing.T) {
	actor := newActor()
	convs := new(MockConversationService)
	r := newMessageRouter(actor, convs, new(MockMessageService))
	convs.On("ListConversations", mock.Anything, actor.ID).Return([]models.Conversation{}, nil)

	w := doJSON(r, http.MethodGet, "/api/messages/conversations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestMessageHandler_GetMessages(t *testing.T) {
	actor := newActor()
	msgs := new(MockMessageService)
	r := newMessageRouter(actor, new(MockConversationService), msgs)

	other := primitive.NewObjectID()
	listing := primitive.NewObjectID()
	msgs.On("GetMessages", mock.Anything, actor.ID, other, &listing).Return([]models.Message{{Content: "seed"}, {Content: "follow-up"}}, nil)

	w := doJSON(r, http.MethodGet, "/api/messages?userId="+other.Hex()+"&listingId="+listing.Hex(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "follow-up")

	w = doJSON(r, http.MethodGet, "/api/messages", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	msgs.AssertExpectations(t)
}

func TestMessageHandler_RequiresAuth(t *testing.T) {
	r := newMessageRouter(services.Actor{}, new(MockConversationService), new(MockMessageService))
	w := doJSON(r, http.MethodGet, "/api/messages/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
