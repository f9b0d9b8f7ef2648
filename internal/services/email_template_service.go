package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusconnect/marketplace/internal/db"
	"campusconnect/marketplace/internal/models"
)

const (
	TemplateNewChatRequest = "new_chat_request"
	DefaultLocale          = "en-US"
)

// Built-in templates, used when the DB has no override.
var defaultEmailTemplates = map[string]models.EmailTemplate{
	TemplateNewChatRequest: {
		TemplateID: TemplateNewChatRequest,
		Locale:     DefaultLocale,
		Subject:    "New message request on {{.AppName}}",
		Body: "Hi {{.ReceiverName}},\n\n" +
			"{{.InitiatorName}} just texted you on {{.AppName}}{{if .ListingTitle}} about \"{{.ListingTitle}}\"{{end}}.\n" +
			"Open your messages to view and accept the chat request: {{.MessagesURL}}\n",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, template *models.EmailTemplate) error
	SeedDefaults(ctx context.Context) error
}

type emailTemplateService struct {
	db *mongo.Database
}

func NewEmailTemplateService(db *mongo.Database) IEmailTemplateService {
	return &emailTemplateService{db: db}
}

// GetTemplate looks up templateID for locale in the DB and falls back to the
// built-in template.
func (s *emailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	var template models.EmailTemplate
	err := s.db.Collection(db.EmailTemplatesCollection).FindOne(ctx, bson.M{
		"template_id": templateID,
		"locale":      locale,
	}).Decode(&template)
	if err == nil {
		return &template, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}
	if def, ok := defaultEmailTemplates[templateID]; ok {
		return &def, nil
	}
	return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
}

// SaveTemplate upserts a template by id and locale.
func (s *emailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	_, err := s.db.Collection(db.EmailTemplatesCollection).UpdateOne(ctx,
		bson.M{"template_id": template.TemplateID, "locale": template.Locale},
		bson.M{"$set": bson.M{"subject": template.Subject, "body": template.Body}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error saving template %s: %w", template.TemplateID, err)
	}
	return nil
}

// SeedDefaults writes the built-in templates so they can be edited in place.
// Existing rows are overwritten.
func (s *emailTemplateService) SeedDefaults(ctx context.Context) error {
	for _, t := range defaultEmailTemplates {
		t := t
		if err := s.SaveTemplate(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}
