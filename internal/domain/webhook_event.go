package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusDispatched WebhookEventStatus = "dispatched"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is the raw, signature-verified delivery as received. The same
// provider event delivered twice shares an IdempotencyKey.
type WebhookEvent struct {
	ID             uuid.UUID
	IdempotencyKey string
	EventType      string
	Reference      string
	Payload        json.RawMessage
	Status         WebhookEventStatus
	Attempts       int
	LastAttempt    *time.Time
	CreatedAt      time.Time
}
