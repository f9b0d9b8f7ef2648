package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/services"
)

// AuthHandler serves registration and login.
type AuthHandler struct {
	userService services.IUserService
	timeout     time.Duration
}

func NewAuthHandler(userService services.IUserService, timeout time.Duration) *AuthHandler {
	return &AuthHandler{userService: userService, timeout: timeout}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var input services.RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.userService.Register(ctx, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	token, user, err := h.userService.Login(ctx, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}
