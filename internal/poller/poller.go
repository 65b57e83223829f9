// Package poller drives a client's wait for a payment to settle: a bounded
// number of read-only status checks, then one manual fallback reconcile.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

type State string

const (
	StatePolling   State = "polling"
	StateSettled   State = "settled"
	StateFallback  State = "fallback"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

type statusSource interface {
	Status(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	Fallback(ctx context.Context, reference string) (domain.ReconcileResult, error)
}

// Outcome is where a run stopped. Intent is the last snapshot seen; Result is
// set only when the fallback ran.
type Outcome struct {
	State    State
	Attempts int
	Intent   *domain.PaymentIntent
	Result   *domain.ReconcileResult
}

// Settled reports whether the wallet ended up holding the funds.
func (o Outcome) Settled() bool {
	if o.Result != nil {
		return o.Result.Settled()
	}
	return o.Intent != nil && o.Intent.Status == domain.IntentStatusCredited
}

type Poller struct {
	source      statusSource
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State, attempts int)
}

func New(source statusSource, maxAttempts int, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		source:      source,
		maxAttempts: max(maxAttempts, 1),
		interval:    interval,
		logger:      logger,
	}
}

// Run polls reference until its intent is terminal or the attempt budget is
// spent, then falls back to a manual reconcile. Status errors other than an
// unknown reference use up an attempt but do not end the run.
func (p *Poller) Run(ctx context.Context, reference string) (Outcome, error) {
	out := Outcome{State: StatePolling}
	log := p.logger.With("reference", reference)

	for out.Attempts < p.maxAttempts {
		if out.Attempts > 0 {
			select {
			case <-ctx.Done():
				return p.cancel(out), ctx.Err()
			case <-time.After(p.interval):
			}
		}
		out.Attempts++

		intent, err := p.source.Status(ctx, reference)
		switch {
		case ctx.Err() != nil:
			return p.cancel(out), ctx.Err()
		case errors.Is(err, domain.ErrNotFound):
			return out, fmt.Errorf("Run: %w", err)
		case err != nil:
			log.Warn("status check failed", "attempt", out.Attempts, "error", err)
			continue
		}

		out.Intent = intent
		log.Debug("status checked", "attempt", out.Attempts, "status", intent.Status)
		if intent.Status.IsTerminal() {
			p.move(&out, StateSettled)
			return out, nil
		}
	}

	p.move(&out, StateFallback)
	log.Info("attempt budget spent, running fallback reconcile", "attempts", out.Attempts)

	res, err := p.source.Fallback(ctx, reference)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(out), ctx.Err()
		}
		return out, fmt.Errorf("Run: fallback: %w", err)
	}

	out.Result = &res
	p.move(&out, StateDone)
	return out, nil
}

func (p *Poller) cancel(out Outcome) Outcome {
	p.move(&out, StateCancelled)
	return out
}

func (p *Poller) move(out *Outcome, to State) {
	from := out.State
	out.State = to
	if p.OnTransition != nil {
		p.OnTransition(from, to, out.Attempts)
	}
}
