package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/config"
	"campusconnect/marketplace/internal/services"
)

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher turns domain events into background tasks.
type Dispatcher struct {
	client Enqueuer
	cfg    *config.Config
}

func NewDispatcher(client Enqueuer, cfg *config.Config) *Dispatcher {
	return &Dispatcher{client: client, cfg: cfg}
}

var _ services.Notifier = (*Dispatcher)(nil)

// NotifyChatRequest queues the new chat request email for the receiver.
func (d *Dispatcher) NotifyChatRequest(ctx context.Context, notice services.ChatRequestNotice) error {
	if notice.ReceiverEmail == "" {
		return fmt.Errorf("receiver of conversation %s has no email", notice.ConversationID.Hex())
	}
	payload, err := json.Marshal(EmailTaskPayload{
		To:         notice.ReceiverEmail,
		TemplateID: services.TemplateNewChatRequest,
		Locale:     services.DefaultLocale,
		Data: map[string]string{
			"AppName":       d.cfg.AppName,
			"ReceiverName":  notice.ReceiverName,
			"InitiatorName": notice.InitiatorName,
			"ListingTitle":  notice.ListingTitle,
			"MessagesURL":   strings.TrimRight(d.cfg.FrontendURL, "/") + "/messages",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(TypeEmailDelivery, payload), asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("failed to enqueue chat request email: %w", err)
	}
	log.Printf("Enqueued chat request email task %s for conversation %s", info.ID, notice.ConversationID.Hex())
	return nil
}

// EnqueueImageProcessing queues the resize of an uploaded listing image.
func (d *Dispatcher) EnqueueImageProcessing(ctx context.Context, listingID primitive.ObjectID, key string) error {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: key, ListingID: listingID.Hex()})
	if err != nil {
		return fmt.Errorf("failed to marshal image payload: %w", err)
	}
	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(TypeImageProcess, payload), asynq.Queue(QueueImages), asynq.MaxRetry(3))
	if err != nil {
		return fmt.Errorf("failed to enqueue image task for %s: %w", key, err)
	}
	log.Printf("Enqueued image processing task %s for listing %s", info.ID, listingID.Hex())
	return nil
}
