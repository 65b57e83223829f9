package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
	"github.com/josh-kwaku/wallet-reconciler/internal/repository"
)

// maxWebhookAttempts bounds retries of one stored delivery. The stale-intent
// sweep still covers the reference after the event is given up on.
const maxWebhookAttempts = 10

type webhookEventStore interface {
	ClaimPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.WebhookEvent, error)
	UpdateStatus(ctx context.Context, q repository.Querier, id uuid.UUID, status domain.WebhookEventStatus) error
}

type openIntentLister interface {
	ListOpenIntents(ctx context.Context, since, before time.Time, limit int) ([]domain.PaymentIntent, error)
}

type idempotencyPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, reference string, source domain.Source) (domain.ReconcileResult, error)
}

type ProcessorConfig struct {
	Interval  time.Duration
	BatchSize int
	// Open intents between StaleAge and MaxAge old are re-verified. Older ones
	// are treated as abandoned and left alone.
	StaleAge time.Duration
	MaxAge   time.Duration
}

// Processor is the safety net behind the webhook. Each tick it retries stored
// deliveries whose inline reconcile failed, then re-checks open intents the
// gateway never told us about. It takes no locks of its own; running several
// instances is safe because reconcile is idempotent.
type Processor struct {
	db         *sql.DB
	webhooks   webhookEventStore
	intents    openIntentLister
	cache      idempotencyPurger
	reconciler reconciler
	logger     *slog.Logger
	cfg        ProcessorConfig
	now        func() time.Time
}

func NewProcessor(
	db *sql.DB,
	webhooks webhookEventStore,
	intents openIntentLister,
	cache idempotencyPurger,
	r reconciler,
	logger *slog.Logger,
	cfg ProcessorConfig,
) *Processor {
	return &Processor{
		db:         db,
		webhooks:   webhooks,
		intents:    intents,
		cache:      cache,
		reconciler: r,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("processor started",
		"interval", p.cfg.Interval,
		"batch_size", p.cfg.BatchSize,
		"stale_age", p.cfg.StaleAge,
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("processor stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single tick. Errors are logged, never returned: the next
// tick will try again.
func (p *Processor) RunOnce(ctx context.Context) {
	ctx = logging.WithLogger(ctx, p.logger)

	if err := p.retryWebhooks(ctx); err != nil {
		p.logger.Error("webhook retry pass failed", "error", err)
	}
	if err := p.sweepStale(ctx); err != nil {
		p.logger.Error("stale intent sweep failed", "error", err)
	}
	if p.cache != nil {
		if n, err := p.cache.PurgeExpired(ctx); err != nil {
			p.logger.Error("idempotency purge failed", "error", err)
		} else if n > 0 {
			p.logger.Debug("purged expired idempotency entries", "count", n)
		}
	}
}

func (p *Processor) retryWebhooks(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retryWebhooks: begin tx: %w", err)
	}
	defer tx.Rollback()

	events, err := p.webhooks.ClaimPending(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("retryWebhooks: %w", err)
	}

	for _, event := range events {
		status := p.processEvent(ctx, event)
		if err := p.webhooks.UpdateStatus(ctx, tx, event.ID, status); err != nil {
			return fmt.Errorf("retryWebhooks: %w", err)
		}
		metrics.ProcessorSweeps.WithLabelValues("webhook", string(status)).Inc()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("retryWebhooks: commit: %w", err)
	}
	return nil
}

// processEvent returns the status the stored delivery should move to.
func (p *Processor) processEvent(ctx context.Context, event domain.WebhookEvent) domain.WebhookEventStatus {
	log := p.logger.With("webhook_event_id", event.ID, "reference", event.Reference, "attempts", event.Attempts)

	if event.Reference == "" {
		log.Error("stored webhook has no reference")
		return domain.WebhookEventStatusFailed
	}

	res, err := p.reconciler.Reconcile(ctx, event.Reference, domain.SourceProcessor)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("webhook for unknown reference")
			return domain.WebhookEventStatusFailed
		}
		if errors.Is(err, domain.ErrGatewayRejected) {
			log.Error("gateway refused webhook verification", "error", err)
			return domain.WebhookEventStatusFailed
		}
		if event.Attempts+1 >= maxWebhookAttempts {
			log.Error("giving up on webhook event", "error", err)
			return domain.WebhookEventStatusFailed
		}
		log.Warn("webhook retry failed, will try again", "error", err)
		return domain.WebhookEventStatusPending
	}

	log.Info("webhook event reconciled", "outcome", res.Outcome)
	return domain.WebhookEventStatusDispatched
}

func (p *Processor) sweepStale(ctx context.Context) error {
	now := p.now()
	intents, err := p.intents.ListOpenIntents(ctx, now.Add(-p.cfg.MaxAge), now.Add(-p.cfg.StaleAge), p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("sweepStale: %w", err)
	}

	for _, intent := range intents {
		res, err := p.reconciler.Reconcile(ctx, intent.Reference, domain.SourceProcessor)
		if err != nil {
			metrics.ProcessorSweeps.WithLabelValues("intent", "error").Inc()
			p.logger.Warn("stale intent reconcile failed", "reference", intent.Reference, "error", err)
			if errors.Is(err, domain.ErrGatewayUnavailable) {
				// the rest of the batch would fail the same way
				return nil
			}
			continue
		}
		metrics.ProcessorSweeps.WithLabelValues("intent", string(res.Outcome)).Inc()
		if res.Outcome != domain.OutcomePending {
			p.logger.Info("stale intent settled", "reference", intent.Reference, "outcome", res.Outcome)
		}
	}
	return nil
}
