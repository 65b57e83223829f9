package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/gateway"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
	"github.com/josh-kwaku/wallet-reconciler/internal/repository"
)

const maxWebhookBody = 1 << 20

type webhookEventRepository interface {
	Record(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	UpdateStatus(ctx context.Context, q repository.Querier, id uuid.UUID, status domain.WebhookEventStatus) error
}

type webhookReconciler interface {
	Reconcile(ctx context.Context, reference string, source domain.Source) (domain.ReconcileResult, error)
}

type WebhookHandler struct {
	webhooks webhookEventRepository
	engine   webhookReconciler
	secret   string
}

func NewWebhookHandler(webhooks webhookEventRepository, engine webhookReconciler, secret string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, engine: engine, secret: secret}
}

// ReceivePaystackWebhook acknowledges every correctly signed delivery with a
// 200, whatever happens afterwards. Deliveries that could not be reconciled
// stay pending in the event log for the processor to retry.
func (h *WebhookHandler) ReceivePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !gateway.VerifySignature(body, r.Header.Get(gateway.SignatureHeader), h.secret) {
		log.Warn("webhook signature verification failed")
		metrics.WebhookDeliveries.WithLabelValues("invalid_signature").Inc()
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		log.Warn("unparseable webhook ignored", "error", err)
		metrics.WebhookDeliveries.WithLabelValues("ignored").Inc()
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if ev.Type != gateway.EventChargeSuccess {
		log.Info("webhook event type ignored", "event", ev.Type, "reference", ev.Transaction.Reference)
		metrics.WebhookDeliveries.WithLabelValues("ignored").Inc()
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ref := ev.Transaction.Reference
	ctx, log := logging.WithAttrs(r.Context(), "reference", ref)

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		IdempotencyKey: ev.Type + ":" + ref,
		EventType:      ev.Type,
		Reference:      ref,
		Payload:        body,
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	recorded, err := h.webhooks.Record(ctx, event)
	if err != nil {
		// Reconcile anyway; the provider will redeliver if we fail here too.
		log.Error("failed to store webhook event", "error", err)
	} else if !recorded {
		log.Info("duplicate webhook received")
		metrics.WebhookDeliveries.WithLabelValues("duplicate").Inc()
	}

	result, err := h.engine.Reconcile(ctx, ref, domain.SourceWebhook)
	if err != nil {
		log.Warn("webhook reconcile failed", "error", err)
		// The stale sweep still picks up a refused intent, so the event
		// itself is not retried.
		if recorded && (errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrGatewayRejected)) {
			h.settle(ctx, event.ID, domain.WebhookEventStatusFailed)
		}
		metrics.WebhookDeliveries.WithLabelValues("deferred").Inc()
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}

	if recorded {
		h.settle(ctx, event.ID, domain.WebhookEventStatusDispatched)
		metrics.WebhookDeliveries.WithLabelValues("processed").Inc()
	}

	log.Info("webhook reconciled", "outcome", result.Outcome)
	RespondSuccess(w, http.StatusOK, map[string]string{
		"status":  "processed",
		"outcome": string(result.Outcome),
	})
}

func (h *WebhookHandler) settle(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus) {
	if err := h.webhooks.UpdateStatus(ctx, nil, id, status); err != nil {
		logging.FromContext(ctx).Error("failed to update webhook event status", "error", err, "status", status)
	}
}
