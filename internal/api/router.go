package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"campusconnect/marketplace/internal/api/handlers"
	"campusconnect/marketplace/internal/api/middleware"
	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/email"
	"campusconnect/marketplace/internal/services"
	"campusconnect/marketplace/internal/storage"
)

// Services are the dependencies of the public API. Storage and Images may be
// nil when image uploads are not configured.
type Services struct {
	Users         services.IUserService
	Listings      services.IListingService
	Plans         services.IPlanService
	Conversations services.IConversationService
	Messages      services.IMessageService
	Storage       storage.IS3Storage
	Images        handlers.ImageQueue
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.CORSMiddleware(cfg.FrontendURL))
	r.Use(rateLimiter.Limit())

	authHandler := handlers.NewAuthHandler(svc.Users, cfg.RequestTimeout)
	userHandler := handlers.NewUserHandler(svc.Users, svc.Plans, cfg.RequestTimeout)
	listingHandler := handlers.NewListingHandler(svc.Listings, svc.Plans, svc.Storage, svc.Images, cfg.RequestTimeout)
	messageHandler := handlers.NewMessageHandler(svc.Conversations, svc.Messages, cfg.RequestTimeout)
	requireAuth := middleware.AuthMiddleware(cfg.JwtSecret)

	api := r.Group("/api")
	{
		api.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authGroup := api.Group("/auth")
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)

		users := api.Group("/users")
		users.Use(requireAuth)
		users.GET("/profile", userHandler.Profile)
		users.PUT("/profile", userHandler.UpdateProfile)
		users.GET("/all", userHandler.ListUsers)
		users.GET("/:id/plan-info", middleware.AdminMiddleware(), userHandler.PlanInfo)

		listings := api.Group("/listings")
		// Public
		listings.GET("", listingHandler.ListListings)
		listings.GET("/categories", listingHandler.Categories)
		listings.GET("/departments", listingHandler.Departments)
		listings.GET("/purchases", listingHandler.Purchases)
		listings.GET("/plans", listingHandler.ListPlans)
		listings.GET("/:id", listingHandler.GetListing)
		listings.GET("/:id/reviews", listingHandler.ListReviews)
		// Authenticated
		listings.POST("", requireAuth, listingHandler.CreateListing)
		listings.GET("/user-plan-info", requireAuth, listingHandler.UserPlanInfo)
		listings.POST("/subscribe-plan", requireAuth, listingHandler.SubscribePlan)
		listings.POST("/upload-url", requireAuth, listingHandler.UploadURL)
		listings.PUT("/:id", requireAuth, listingHandler.UpdateListing)
		listings.DELETE("/:id", requireAuth, listingHandler.DeleteListing)
		listings.PUT("/:id/sold", requireAuth, listingHandler.MarkSold)
		listings.POST("/:id/purchase", requireAuth, listingHandler.Purchase)
		listings.POST("/:id/image", requireAuth, listingHandler.AttachImage)
		listings.POST("/:id/reviews", requireAuth, listingHandler.AddReview)

		messages := api.Group("/messages")
		messages.Use(requireAuth)
		messages.POST("/initiate", messageHandler.Initiate)
		messages.GET("/conversations", messageHandler.ListConversations)
		messages.POST("/conversations/:id/accept", messageHandler.Accept)
		messages.POST("", messageHandler.SendMessage)
		messages.GET("", messageHandler.GetMessages)
	}

	return r
}

// SetupServiceRouter configures the internal service API used by operators
// and end-to-end tests. rdb may be nil, in which case getTestEmail fails.
func SetupServiceRouter(rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			getTestEmail(c, rdb, req.Arguments)
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// getTestEmail polls Redis briefly for the mock email of a kind sent to an
// address. Arguments: [kind, email].
func getTestEmail(c *gin.Context, rdb *redis.Client, arguments json.RawMessage) {
	var args []string
	if err := json.Unmarshal(arguments, &args); err != nil || len(args) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
		return
	}
	if rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Redis is not available"})
		return
	}
	redisKey := email.MockEmailKey(args[1], args[0])

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var data string
	var err error
	for i := 0; i < 10; i++ {
		data, err = rdb.GetDel(ctx, redisKey).Result()
		if err == nil {
			break
		}
		if !errors.Is(err, redis.Nil) {
			log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
		return
	}

	var mock email.MockEmail
	if err := json.Unmarshal([]byte(data), &mock); err != nil {
		log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": mock})
}
