package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/auth"
	"campusconnect/marketplace/internal/services"
)

const (
	// ContextKeyUserID holds the key for the authenticated user's ObjectID in Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyIsAdmin holds the key for admin status in Gin context.
	ContextKeyIsAdmin = "isAdmin"
)

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": apperrors.CodeUnauthenticated})
}

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthenticated(c, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortUnauthenticated(c, "Authorization header format must be Bearer {token}")
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			abortUnauthenticated(c, fmt.Sprintf("Invalid or expired token: %v", err))
			return
		}
		userID, err := claims.ObjectID()
		if err != nil {
			abortUnauthenticated(c, "Invalid token subject")
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyIsAdmin, claims.IsAdmin)

		c.Next()
	}
}

// AdminMiddleware creates a Gin middleware to check for admin privileges.
// Assumes AuthMiddleware runs first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required", "code": apperrors.CodePermissionDenied})
			return
		}
		c.Next()
	}
}

// CurrentActor returns the caller set by AuthMiddleware.
func CurrentActor(c *gin.Context) (services.Actor, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return services.Actor{}, false
	}
	id, ok := v.(primitive.ObjectID)
	if !ok || id.IsZero() {
		return services.Actor{}, false
	}
	return services.Actor{ID: id, IsAdmin: c.GetBool(ContextKeyIsAdmin)}, true
}
