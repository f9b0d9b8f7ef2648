package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const mockEmailTTL = 5 * time.Minute

// MockEmailKey is where RedisSender keeps the latest email of a kind sent to
// an address.
func MockEmailKey(to, kind string) string {
	return fmt.Sprintf("mockemail:%s:%s", strings.ToLower(to), kind)
}

// MockEmail is the JSON document RedisSender stores.
type MockEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Kind    string `json:"kind"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

// RedisSender stores emails in Redis so end-to-end tests can read them back
// through the service API.
type RedisSender struct {
	client *redis.Client
}

func NewRedisSender(client *redis.Client) Sender {
	return &RedisSender{client: client}
}

func (s *RedisSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients")
	}
	data, err := json.Marshal(MockEmail{
		To:      strings.Join(msg.To, ", "),
		Subject: msg.Subject,
		Kind:    msg.Kind,
		Body:    string(msg.Raw),
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := MockEmailKey(msg.To[0], msg.Kind)
	if err := s.client.Set(ctx, key, data, mockEmailTTL).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}
	log.Printf("Mock email stored in Redis key '%s'", key)
	return nil
}
