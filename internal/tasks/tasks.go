package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // decoders for image.Decode
	"image/jpeg"
	_ "image/png"
	"log"
	"strings"
	"text/template"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/email"
	"campusconnect/marketplace/internal/models"
	"campusconnect/marketplace/internal/storage"
)

const (
	TypeEmailDelivery = "email:deliver"
	TypeImageProcess  = "image:process"

	QueueDefault = "default"
	QueueImages  = "images"
)

// RedisOpt derives asynq connection options from an existing Redis client.
func RedisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(RedisOpt(rdb))
}

// TemplateSource resolves email templates.
type TemplateSource interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

// ListingImageSetter attaches a processed image to a listing.
type ListingImageSetter interface {
	SetListingImage(ctx context.Context, listingID primitive.ObjectID, imageKey string) error
}

// TaskProcessor holds the dependencies of the task handlers.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
	templates   TemplateSource
	storage     storage.IS3Storage
	listings    ListingImageSetter
}

func NewTaskProcessor(cfg *config.Config, emailSender email.Sender, templates TemplateSource, store storage.IS3Storage, listings ListingImageSetter) *TaskProcessor {
	return &TaskProcessor{
		cfg:         cfg,
		emailSender: emailSender,
		templates:   templates,
		storage:     store,
		listings:    listings,
	}
}

// NewServer builds the worker server and its mux. Email handlers are
// registered for background workers, image handlers for image workers.
// Returns nil when neither is requested.
func NewServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	if !isBgWorker && !isImageWorker {
		return nil, nil
	}

	queues := map[string]int{}
	mux := asynq.NewServeMux()
	if isBgWorker {
		queues[QueueDefault] = 3
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		log.Println("Registered email delivery task handler.")
	}
	if isImageWorker {
		queues[QueueImages] = 5
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		log.Println("Registered image processing task handler.")
	}

	srv := asynq.NewServer(RedisOpt(rdb), asynq.Config{
		Queues: queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("ERROR task %s failed: %v (payload: %s)", task.Type(), err, task.Payload())
		}),
	})
	return srv, mux
}

// --- Email delivery ---

// EmailTaskPayload is the payload of TypeEmailDelivery.
type EmailTaskPayload struct {
	To         string            `json:"to"`
	TemplateID string            `json:"template_id"`
	Locale     string            `json:"locale,omitempty"`
	Data       map[string]string `json:"data"`
}

func render(name, src string, data map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("email task has no recipient: %w", asynq.SkipRetry)
	}

	tmpl, err := p.templates.GetTemplate(ctx, payload.TemplateID, payload.Locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", payload.TemplateID, payload.Locale, err)
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	subject, err := render("subject", tmpl.Subject, payload.Data)
	if err != nil {
		return fmt.Errorf("failed to render subject of %s: %v: %w", payload.TemplateID, err, asynq.SkipRetry)
	}
	body, err := render("body", tmpl.Body, payload.Data)
	if err != nil {
		return fmt.Errorf("failed to render body of %s: %v: %w", payload.TemplateID, err, asynq.SkipRetry)
	}

	to := []string{payload.To}
	err = p.emailSender.Send(ctx, email.Message{
		To:      to,
		Subject: subject,
		Kind:    payload.TemplateID,
		Raw:     email.BuildRaw(p.cfg.SmtpFromAddress, to, subject, body, time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", payload.TemplateID, err)
	}
	return nil
}

// --- Image processing ---

// ImageTaskPayload is the payload of TypeImageProcess.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

// HandleImageProcessTask downloads an uploaded image, shrinks it to the
// configured bounds, stores it back and attaches it to the listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}
	listingID, err := primitive.ObjectIDFromHex(payload.ListingID)
	if err != nil {
		return fmt.Errorf("invalid listing ID %q in payload: %w", payload.ListingID, asynq.SkipRetry)
	}

	data, contentType, err := p.storage.GetObject(ctx, payload.S3Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("s3 object %s not found: %w", payload.S3Key, asynq.SkipRetry)
		}
		return err
	}

	maxSizeBytes := p.cfg.ImageMaxSizeMB * 1024 * 1024
	if len(data) > maxSizeBytes {
		return fmt.Errorf("image %s exceeds max size (%d > %d bytes): %w", payload.S3Key, len(data), maxSizeBytes, asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image %s: %w", payload.S3Key, asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		log.Printf("Resized %s image %s from %dx%d to %dx%d", format, payload.S3Key,
			img.Bounds().Dx(), img.Bounds().Dy(), resized.Bounds().Dx(), resized.Bounds().Dy())
		data = buf.Bytes()
		contentType = "image/jpeg"

		if err := p.storage.PutObject(ctx, payload.S3Key, data, contentType); err != nil {
			return err
		}
	}

	if err := p.listings.SetListingImage(ctx, listingID, p.storage.PublicURL(payload.S3Key)); err != nil {
		return fmt.Errorf("failed to update listing %s with processed image: %w", payload.ListingID, err)
	}
	log.Printf("Image task processed: key=%s listing=%s type=%s", payload.S3Key, payload.ListingID, contentType)
	return nil
}
