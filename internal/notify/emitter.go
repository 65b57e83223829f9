// Package notify tells the outside world about applied credits. Delivery is
// best effort: nothing here can undo or delay a credit.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
)

const TopicWalletCredited = "wallet.credited"

type CreditEvent struct {
	Reference  string    `json:"reference"`
	UserID     uuid.UUID `json:"user_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Balance    int64     `json:"balance"`
	Source     string    `json:"source"`
	CreditedAt time.Time `json:"credited_at"`
}

type Emitter struct {
	publisher message.Publisher
}

func NewEmitter(publisher message.Publisher) *Emitter {
	return &Emitter{publisher: publisher}
}

// CreditApplied publishes ev on TopicWalletCredited. The message UUID is the
// payment reference so downstream consumers can drop repeats.
func (e *Emitter) CreditApplied(ctx context.Context, ev CreditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("CreditApplied: marshal: %w", err)
	}

	msg := message.NewMessage(ev.Reference, payload)
	msg.Metadata.Set("reference", ev.Reference)
	msg.Metadata.Set("source", ev.Source)
	msg.SetContext(ctx)

	if err := e.publisher.Publish(TopicWalletCredited, msg); err != nil {
		metrics.NotificationsSent.WithLabelValues("publish", "error").Inc()
		return fmt.Errorf("CreditApplied: publish: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues("publish", "ok").Inc()
	return nil
}
