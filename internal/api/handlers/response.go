package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/api/middleware"
	"campusconnect/marketplace/internal/services"
)

// respondError writes err as {"error", "code"}. Errors outside the taxonomy
// are logged and reported as internal.
func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeInternal {
		log.Printf("ERROR %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(apperrors.HTTPStatus(code), gin.H{"error": apperrors.PublicMessage(err), "code": code})
}

// requestContext bounds store calls made on behalf of the request.
func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func parseObjectID(value, field string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, apperrors.Validation("invalid " + field)
	}
	return id, nil
}

// parseOptionalObjectID treats an empty value as absent.
func parseOptionalObjectID(value, field string) (*primitive.ObjectID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := parseObjectID(value, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func pathID(c *gin.Context) (primitive.ObjectID, error) {
	return parseObjectID(c.Param("id"), "id")
}

// mustActor returns the authenticated caller or responds 401.
func mustActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		respondError(c, apperrors.Unauthenticated("authentication required"))
		return services.Actor{}, false
	}
	return actor, true
}
