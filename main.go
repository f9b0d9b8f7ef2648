package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"campusconnect/marketplace/internal/api"
	"campusconnect/marketplace/internal/cache"
	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/email"
	"campusconnect/marketplace/internal/services"
	"campusconnect/marketplace/internal/storage"
	"campusconnect/marketplace/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (email tasks), 'img' (image processing), 'all' (default), 'seed' (install plans and templates, then exit)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.EnsureIndexes(ctx, mongoDb)
	cancel()
	if err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	planService := services.NewPlanService(mongoDb, cfg, cache.NewJSONCache(redisClient))
	emailTemplateService := services.NewEmailTemplateService(mongoDb)

	if cfg.RunMode == "seed" {
		if err := seed(planService, emailTemplateService); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Println("Seed data installed.")
		return
	}

	var s3Storage storage.IS3Storage
	if cfg.AwsS3Bucket != "" {
		s3Storage, err = storage.NewS3Storage(context.Background(), cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
	} else {
		log.Println("AWS_S3_BUCKET not set, image uploads disabled.")
	}

	taskClient := tasks.NewClient(redisClient)
	defer func() {
		if err := taskClient.Close(); err != nil {
			log.Printf("Error closing task client: %v", err)
		}
	}()
	dispatcher := tasks.NewDispatcher(taskClient, cfg)

	userService := services.NewUserService(mongoDb, cfg)
	listingService := services.NewListingService(mongoDb, cfg, planService)
	messageService := services.NewMessageService(mongoDb)
	conversationService := services.NewConversationService(mongoDb, userService, listingService, messageService, dispatcher)

	taskProcessor := tasks.NewTaskProcessor(cfg, newEmailSender(cfg, redisClient), emailTemplateService, s3Storage, listingService)

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(redisClient, shutdownChan),
	}
	serve(&wg, "Service API", serviceSrv)

	var mainApiSrv *http.Server
	var taskSrv *asynq.Server

	log.Printf("Starting application in '%s' mode...", cfg.RunMode)

	apiMode := func() {
		svc := api.Services{
			Users:         userService,
			Listings:      listingService,
			Plans:         planService,
			Conversations: conversationService,
			Messages:      messageService,
		}
		if s3Storage != nil {
			svc.Storage = s3Storage
			svc.Images = dispatcher
		}
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: api.SetupRouter(cfg, svc),
		}
		serve(&wg, "Main API", mainApiSrv)
	}

	workerMode := func(images, background bool) {
		if images && s3Storage == nil {
			log.Println("Image worker requested without S3 storage, skipping image handler.")
			images = false
		}
		srv, mux := tasks.NewServer(redisClient, taskProcessor, images, background)
		if srv == nil {
			return
		}
		if err := srv.Start(mux); err != nil {
			log.Fatalf("Task server error: %v", err)
		}
		taskSrv = srv
		log.Println("Task server started.")
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		workerMode(false, true)
	case "img":
		workerMode(true, false)
	case "all":
		apiMode()
		workerMode(true, true)
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal: %s. Shutting down gracefully...", sig)
	case <-shutdownChan:
		log.Println("Shutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	log.Println("Server gracefully stopped")
}

func serve(wg *sync.WaitGroup, name string, srv *http.Server) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("%s listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("%s ListenAndServe error: %v", name, err)
		}
		log.Printf("%s server stopped.", name)
	}()
}

// newEmailSender builds the sender used by the email worker: Redis when
// services are mocked, SMTP (or logging) otherwise, plus an optional file log.
func newEmailSender(cfg *config.Config, rdb *redis.Client) email.Sender {
	var primary email.Sender
	if cfg.MockServices {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primary = email.NewRedisSender(rdb)
	} else {
		primary = email.NewSMTPSender(cfg)
	}

	composite := email.NewCompositeEmailSender(primary)
	if cfg.LogEmailsPath != "" {
		fileSender, err := email.NewFileEmailSender(cfg.LogEmailsPath)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", cfg.LogEmailsPath, err)
		} else {
			composite.AddSender(fileSender)
			log.Printf("Logging emails to %s", cfg.LogEmailsPath)
		}
	}
	return composite
}

func seed(plans services.IPlanService, templates services.IEmailTemplateService) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := plans.SeedPlans(ctx); err != nil {
		return err
	}
	if err := templates.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed email templates: %w", err)
	}
	return nil
}
