package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/services"
)

// UserHandler serves the /api/users routes.
type UserHandler struct {
	userService services.IUserService
	planService services.IPlanService
	timeout     time.Duration
}

func NewUserHandler(userService services.IUserService, planService services.IPlanService, timeout time.Duration) *UserHandler {
	return &UserHandler{userService: userService, planService: planService, timeout: timeout}
}

// Profile handles GET /api/users/profile
func (h *UserHandler) Profile(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.userService.FindByID(ctx, actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile handles PUT /api/users/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var input services.ProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	user, err := h.userService.UpdateProfile(ctx, actor.ID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListUsers handles GET /api/users/all: everyone the caller could message.
func (h *UserHandler) ListUsers(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	users, err := h.userService.ListUsers(ctx, actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// PlanInfo handles GET /api/users/:id/plan-info. Admin only; the route is
// gated by AdminMiddleware.
func (h *UserHandler) PlanInfo(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	info, err := h.planService.GetUserPlanInfo(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
