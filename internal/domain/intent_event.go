package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IntentEventType string

const (
	IntentEventInitiated IntentEventType = "initiated"
	IntentEventPending   IntentEventType = "pending"
	IntentEventVerified  IntentEventType = "verified"
	IntentEventCredited  IntentEventType = "credited"
	IntentEventFailed    IntentEventType = "failed"
)

// Source names the entry point that drove a reconciliation.
type Source string

const (
	SourceInitiate  Source = "initiate"
	SourceWebhook   Source = "webhook"
	SourcePoll      Source = "poll"
	SourceFallback  Source = "fallback"
	SourceProcessor Source = "processor"
)

type IntentEvent struct {
	ID        uuid.UUID
	Reference string
	EventType IntentEventType
	Actor     Source
	Payload   json.RawMessage
	CreatedAt time.Time
}
