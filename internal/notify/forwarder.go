package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
)

// Forwarder drains TopicWalletCredited and POSTs each event to a webhook
// sink. With no URL configured it only logs. Messages are always acked: a
// sink that stays down loses notifications, never credits.
type Forwarder struct {
	subscriber message.Subscriber
	url        string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewForwarder(subscriber message.Subscriber, url string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		subscriber: subscriber,
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		attempts:   3,
		backoff:    500 * time.Millisecond,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (f *Forwarder) Run(ctx context.Context) error {
	messages, err := f.subscriber.Subscribe(ctx, TopicWalletCredited)
	if err != nil {
		return fmt.Errorf("Run: subscribe: %w", err)
	}

	f.logger.Info("notification forwarder started", "sink", f.url)
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("notification forwarder stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				f.logger.Info("notification forwarder stopped", "reason", "subscription closed")
				return nil
			}
			f.handle(ctx, msg)
			msg.Ack()
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, msg *message.Message) {
	var ev CreditEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		f.logger.Error("dropping malformed credit notification", "message_uuid", msg.UUID, "error", err)
		metrics.NotificationsSent.WithLabelValues("forward", "malformed").Inc()
		return
	}

	log := f.logger.With("reference", ev.Reference, "user_id", ev.UserID)
	if f.url == "" {
		log.Info("wallet credited", "amount", ev.Amount, "balance", ev.Balance, "source", ev.Source)
		metrics.NotificationsSent.WithLabelValues("forward", "logged").Inc()
		return
	}

	var err error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err = f.send(ctx, msg.UUID, msg.Payload); err == nil {
			log.Info("credit notification delivered", "attempt", attempt)
			metrics.NotificationsSent.WithLabelValues("forward", "ok").Inc()
			return
		}
		log.Warn("credit notification attempt failed", "attempt", attempt, "error", err)
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff * time.Duration(attempt)):
		}
	}

	log.Error("credit notification dropped", "attempts", f.attempts, "error", err)
	metrics.NotificationsSent.WithLabelValues("forward", "dropped").Inc()
}

func (f *Forwarder) send(ctx context.Context, id string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", id)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("sink returned status %d", resp.StatusCode)
}
