package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/apperrors"
	"campusconnect/marketplace/internal/models"
	"campusconnect/marketplace/internal/services"
	"campusconnect/marketplace/internal/storage"
)

// ImageQueue schedules background processing of uploaded listing images.
type ImageQueue interface {
	EnqueueImageProcessing(ctx context.Context, listingID primitive.ObjectID, key string) error
}

// ListingHandler serves the /api/listings routes, plan routes included.
type ListingHandler struct {
	listingService services.IListingService
	planService    services.IPlanService
	storage        storage.IS3Storage
	images         ImageQueue
	timeout        time.Duration
}

// NewListingHandler creates a ListingHandler. store and images may be nil,
// in which case image uploads are refused.
func NewListingHandler(listingService services.IListingService, planService services.IPlanService, store storage.IS3Storage, images ImageQueue, timeout time.Duration) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		planService:    planService,
		storage:        store,
		images:         images,
		timeout:        timeout,
	}
}

var errUploadsDisabled = apperrors.PreconditionFailed("image uploads are not configured")

// CreateListing handles POST /api/listings
func (h *ListingHandler) CreateListing(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var input models.ListingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listing, err := h.listingService.CreateListing(ctx, actor.ID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// ListListings handles GET /api/listings?category&department&search&seller&buyer
func (h *ListingHandler) ListListings(c *gin.Context) {
	seller, err := parseOptionalObjectID(c.Query("seller"), "seller")
	if err != nil {
		respondError(c, err)
		return
	}
	buyer, err := parseOptionalObjectID(c.Query("buyer"), "buyer")
	if err != nil {
		respondError(c, err)
		return
	}
	filter := models.ListingFilter{
		Category:   strings.TrimSpace(c.Query("category")),
		Department: strings.TrimSpace(c.Query("department")),
		Search:     strings.TrimSpace(c.Query("search")),
		Seller:     seller,
		Buyer:      buyer,
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listings, err := h.listingService.ListListings(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

// GetListing handles GET /api/listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listing, err := h.listingService.FindListingByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// UpdateListing handles PUT /api/listings/:id
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var patch models.ListingInput
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listing, err := h.listingService.UpdateListing(ctx, id, actor, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// DeleteListing handles DELETE /api/listings/:id
func (h *ListingHandler) DeleteListing(c *gin.Context) {
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

	if err := h.listingService.DeleteListing(ctx, id, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Listing removed"})
}

type markSoldRequest struct {
	BuyerID string `json:"buyerId"`
}

// MarkSold handles PUT /api/listings/:id/sold. The body is optional.
func (h *ListingHandler) MarkSold(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req markSoldRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.Validation("invalid request body"))
			return
		}
	}
	buyerID, err := parseOptionalObjectID(req.BuyerID, "buyerId")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listing, err := h.listingService.MarkSold(ctx, id, actor.ID, buyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Purchase handles POST /api/listings/:id/purchase
func (h *ListingHandler) Purchase(c *gin.Context) {
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

	listing, err := h.listingService.Purchase(ctx, id, actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// AddReview handles POST /api/listings/:id/reviews
func (h *ListingHandler) AddReview(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("rating must be an integer between 1 and 5"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	review, err := h.listingService.AddReview(ctx, id, actor.ID, req.Rating, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

// ListReviews handles GET /api/listings/:id/reviews
func (h *ListingHandler) ListReviews(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	reviews, err := h.listingService.ListReviews(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviews)
}

// Categories handles GET /api/listings/categories
func (h *ListingHandler) Categories(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	values, err := h.listingService.Categories(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

// Departments handles GET /api/listings/departments
func (h *ListingHandler) Departments(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	values, err := h.listingService.Departments(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

// Purchases handles GET /api/listings/purchases?userId
func (h *ListingHandler) Purchases(c *gin.Context) {
	userID, err := parseObjectID(c.Query("userId"), "userId")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listings, err := h.listingService.Purchases(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

// UserPlanInfo handles GET /api/listings/user-plan-info?userId. Only the
// caller's own quota is reported here; administrators read other users'
// through GET /api/users/:id/plan-info.
func (h *ListingHandler) UserPlanInfo(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	userID := actor.ID
	if q := c.Query("userId"); q != "" {
		id, err := parseObjectID(q, "userId")
		if err != nil {
			respondError(c, err)
			return
		}
		if id != actor.ID {
			respondError(c, apperrors.PermissionDenied("you can only view your own plan"))
			return
		}
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	info, err := h.planService.GetUserPlanInfo(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListPlans handles GET /api/listings/plans
func (h *ListingHandler) ListPlans(c *gin.Context) {
	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	plans, err := h.planService.ListPlans(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

type subscribeRequest struct {
	Plan string `json:"plan"`
}

// SubscribePlan handles POST /api/listings/subscribe-plan
func (h *ListingHandler) SubscribePlan(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	info, err := h.planService.SubscribePlan(ctx, actor.ID, strings.TrimSpace(req.Plan))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type uploadURLRequest struct {
	ListingID   string `json:"listingId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// ownedListing loads a listing the actor may modify.
func (h *ListingHandler) ownedListing(ctx context.Context, listingID primitive.ObjectID, actor services.Actor) (*models.Listing, error) {
	listing, err := h.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller != actor.ID && !actor.IsAdmin {
		return nil, services.ErrNotListingOwner
	}
	return listing, nil
}

// UploadURL handles POST /api/listings/upload-url
func (h *ListingHandler) UploadURL(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if h.storage == nil {
		respondError(c, errUploadsDisabled)
		return
	}
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}
	listingID, err := parseObjectID(req.ListingID, "listingId")
	if err != nil {
		respondError(c, err)
		return
	}
	if !storage.AllowedImageTypes[req.ContentType] {
		respondError(c, apperrors.Validation("unsupported image type"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listing, err := h.ownedListing(ctx, listingID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	url, key, err := h.storage.GeneratePresignedPutURL(ctx, listing.Seller, listingID, req.Filename, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploadUrl": url, "key": key})
}

type attachImageRequest struct {
	Key string `json:"key"`
}

// AttachImage handles POST /api/listings/:id/image. The key must come from an
// upload URL issued to the caller for this listing.
func (h *ListingHandler) AttachImage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if h.images == nil {
		respondError(c, errUploadsDisabled)
		return
	}
	id, err := pathID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req attachImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	ctx, cancel := requestContext(c, h.timeout)
	defer cancel()

	listing, err := h.ownedListing(ctx, id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	if !strings.HasPrefix(req.Key, storage.UploadPrefix(listing.Seller, id)) || strings.Contains(req.Key, "..") {
		respondError(c, apperrors.Validation("invalid image key"))
		return
	}
	if err := h.images.EnqueueImageProcessing(ctx, id, req.Key); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Image processing queued"})
}
