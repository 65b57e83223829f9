// Package reconcile decides whether a payment reference credits a wallet.
// Every entry point (webhook, status polling, manual fallback, the background
// processor) goes through Engine.Reconcile, and the store's conditional
// insert guarantees at most one credit per reference whatever the call order.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/gateway"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
	"github.com/josh-kwaku/wallet-reconciler/internal/notify"
	"github.com/josh-kwaku/wallet-reconciler/internal/repository"
)

type ledgerStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CreateIntent(ctx context.Context, intent *domain.PaymentIntent, actor domain.Source) error
	SetAuthorizationURL(ctx context.Context, reference, url string) error
	GetStatus(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	GetLedgerEntry(ctx context.Context, reference string) (*domain.LedgerEntry, error)
	MarkPending(ctx context.Context, reference string, actor domain.Source) (bool, error)
	MarkVerified(ctx context.Context, reference string, actor domain.Source) (bool, error)
	MarkFailed(ctx context.Context, reference string, reason domain.FailureReason, actor domain.Source) (bool, error)
	CreditOnce(ctx context.Context, entry *domain.LedgerEntry, actor domain.Source) (repository.CreditResult, error)
}

type gatewayClient interface {
	CreateTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.Authorization, error)
	VerifyTransaction(ctx context.Context, reference string) (*gateway.Transaction, error)
}

type notifier interface {
	CreditApplied(ctx context.Context, ev notify.CreditEvent) error
}

type Engine struct {
	store          ledgerStore
	gateway        gatewayClient
	notifier       notifier
	policy         domain.FundingPolicy
	gatewayTimeout time.Duration
}

// NewEngine takes the funding policy by value; later config changes do not
// leak into a running engine. notifier may be nil.
func NewEngine(store ledgerStore, gw gatewayClient, n notifier, policy domain.FundingPolicy, gatewayTimeout time.Duration) *Engine {
	return &Engine{
		store:          store,
		gateway:        gw,
		notifier:       n,
		policy:         policy,
		gatewayTimeout: gatewayTimeout,
	}
}

func NewReference() string {
	return "fund_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Initiate records a funding intent for userID and opens the matching remote
// transaction. The returned intent carries the authorization URL the customer
// must visit. metadata is stored and forwarded; user attribution keys in it
// are overwritten.
func (e *Engine) Initiate(ctx context.Context, userID uuid.UUID, amount int64, metadata map[string]any) (*domain.PaymentIntent, error) {
	if amount < e.policy.MinAmount {
		metrics.IntentsInitiated.WithLabelValues("invalid_amount").Inc()
		return nil, fmt.Errorf("Initiate: %d < %d: %w", amount, e.policy.MinAmount, domain.ErrInvalidAmount)
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Initiate: %w", domain.ErrUserNotFound)
		}
		return nil, fmt.Errorf("Initiate: %w", err)
	}
	if user.Status != domain.UserStatusActive {
		return nil, fmt.Errorf("Initiate: %w", domain.ErrUserInactive)
	}

	extra := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if k == "user_id" || k == "userId" {
			continue
		}
		extra[k] = v
	}
	var rawMeta json.RawMessage
	if len(extra) > 0 {
		if rawMeta, err = json.Marshal(extra); err != nil {
			return nil, fmt.Errorf("Initiate: metadata: %w", domain.ErrInvalidRequest)
		}
	}

	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		Reference: NewReference(),
		UserID:    userID,
		Amount:    amount,
		Currency:  e.policy.Currency,
		Status:    domain.IntentStatusInitiated,
		Metadata:  rawMeta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, log := logging.WithAttrs(ctx, "reference", intent.Reference)

	if err := e.store.CreateIntent(ctx, intent, domain.SourceInitiate); err != nil {
		return nil, fmt.Errorf("Initiate: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	auth, err := e.gateway.CreateTransaction(gctx, gateway.InitializeRequest{
		Reference: intent.Reference,
		Email:     user.Email,
		Amount:    amount,
		Currency:  intent.Currency,
		UserID:    userID,
		Extra:     extra,
	})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("Initiate: %w", err)
		}
		log.Warn("gateway initialization failed", "error", err)
		metrics.IntentsInitiated.WithLabelValues("gateway_error").Inc()
		if _, markErr := e.store.MarkFailed(ctx, intent.Reference, domain.ReasonInitFailed, domain.SourceInitiate); markErr != nil {
			log.Error("failed to mark intent failed", "error", markErr)
		}
		return nil, fmt.Errorf("Initiate: %w: %w", classifyGatewayErr(err), err)
	}

	if err := e.store.SetAuthorizationURL(ctx, intent.Reference, auth.AuthorizationURL); err != nil {
		return nil, fmt.Errorf("Initiate: %w", err)
	}
	intent.AuthorizationURL = &auth.AuthorizationURL

	metrics.IntentsInitiated.WithLabelValues("ok").Inc()
	log.Info("payment intent initiated", "user_id", userID, "amount", amount, "currency", intent.Currency)
	return intent, nil
}

// Status returns the last stored state of reference. It never calls the
// gateway, so polling clients can hit it as often as they like.
func (e *Engine) Status(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	intent, err := e.store.GetStatus(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}
	return intent, nil
}

// Reconcile confirms reference with the gateway and applies the credit if it
// has not been applied yet. Expected outcomes come back as a result value;
// the error is reserved for an unknown reference (ErrNotFound), gateway
// trouble (ErrGatewayUnavailable, retryable; ErrGatewayRejected, not) and
// storage failures.
func (e *Engine) Reconcile(ctx context.Context, reference string, source domain.Source) (domain.ReconcileResult, error) {
	ctx, log := logging.WithAttrs(ctx, "reference", reference, "source", source)

	res, err := e.reconcile(ctx, reference, source)
	if err != nil {
		kind := "storage"
		switch {
		case errors.Is(err, domain.ErrGatewayUnavailable):
			kind = "gateway_unavailable"
		case errors.Is(err, domain.ErrGatewayRejected):
			kind = "gateway_rejected"
		case errors.Is(err, context.Canceled):
			kind = "cancelled"
		case errors.Is(err, domain.ErrNotFound):
			kind = "not_found"
		}
		metrics.RecordReconcileError(string(source), kind)
		return domain.ReconcileResult{}, fmt.Errorf("Reconcile: %w", err)
	}

	metrics.RecordReconcile(string(source), string(res.Outcome))
	log.Debug("reconcile finished", "outcome", res.Outcome)
	return res, nil
}

func (e *Engine) reconcile(ctx context.Context, reference string, source domain.Source) (domain.ReconcileResult, error) {
	log := logging.FromContext(ctx)

	intent, err := e.store.GetStatus(ctx, reference)
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	entry, err := e.store.GetLedgerEntry(ctx, reference)
	switch {
	case err == nil:
		return domain.AlreadyCredited(reference, entry.Amount), nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ReconcileResult{}, err
	}

	if intent.Status == domain.IntentStatusFailed {
		return failedResult(intent), nil
	}

	gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	tx, err := e.gateway.VerifyTransaction(gctx, reference)
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrTransactionNotFound) {
			return e.pending(ctx, reference, source)
		}
		if ctx.Err() != nil {
			return domain.ReconcileResult{}, err
		}
		if kind := classifyGatewayErr(err); kind != domain.ErrGatewayUnavailable {
			log.Error("gateway refused verification", "error", err)
			return domain.ReconcileResult{}, fmt.Errorf("%w: %w", kind, err)
		}
		log.Warn("gateway verify failed", "error", err)
		if _, markErr := e.store.MarkPending(ctx, reference, source); markErr != nil {
			log.Error("failed to mark intent pending", "error", markErr)
		}
		return domain.ReconcileResult{}, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}

	switch tx.Status {
	case gateway.StatusPending:
		return e.pending(ctx, reference, source)
	case gateway.StatusFailed:
		log.Info("gateway declined payment", "gateway_status", tx.RawStatus)
		return e.fail(ctx, intent, domain.ReasonGatewayDeclined, source)
	}

	if reason, ok := e.review(intent, tx); !ok {
		log.Error("confirmed payment held for manual review",
			"reason", reason,
			"intent_user_id", intent.UserID,
			"intent_amount", intent.Amount,
			"gateway_has_user_id", tx.HasUserID,
			"gateway_user_id", tx.UserID,
			"gateway_amount", tx.Amount,
			"gateway_currency", tx.Currency,
		)
		metrics.ReviewFlags.WithLabelValues(string(reason)).Inc()
		return e.fail(ctx, intent, reason, source)
	}

	if _, err := e.store.MarkVerified(ctx, reference, source); err != nil {
		return domain.ReconcileResult{}, err
	}

	return e.credit(ctx, intent, source)
}

// classifyGatewayErr maps a gateway error onto the domain. Only transport
// trouble is worth retrying; refusals and malformed answers are not.
func classifyGatewayErr(err error) error {
	if errors.Is(err, gateway.ErrUnavailable) {
		return domain.ErrGatewayUnavailable
	}
	return domain.ErrGatewayRejected
}

// review checks a gateway-confirmed transaction against the stored intent.
// The intent's amount is what gets credited; the gateway's only has to agree.
func (e *Engine) review(intent *domain.PaymentIntent, tx *gateway.Transaction) (domain.FailureReason, bool) {
	switch {
	case !tx.HasUserID:
		return domain.ReasonMetadataMissing, false
	case tx.UserID != intent.UserID:
		return domain.ReasonMetadataMismatch, false
	case tx.AmountErr != nil, tx.Amount != intent.Amount:
		return domain.ReasonAmountMismatch, false
	case tx.Currency != "" && !strings.EqualFold(tx.Currency, intent.Currency):
		return domain.ReasonAmountMismatch, false
	}
	return "", true
}

func (e *Engine) credit(ctx context.Context, intent *domain.PaymentIntent, source domain.Source) (domain.ReconcileResult, error) {
	log := logging.FromContext(ctx)

	entry := &domain.LedgerEntry{
		ID:        uuid.New(),
		Reference: intent.Reference,
		UserID:    intent.UserID,
		Amount:    intent.Amount,
		AppliedAt: time.Now().UTC(),
	}

	res, err := e.store.CreditOnce(ctx, entry, source)
	if err != nil {
		if errors.Is(err, domain.ErrIntentTerminal) {
			return e.current(ctx, intent.Reference)
		}
		return domain.ReconcileResult{}, err
	}
	if !res.Inserted {
		log.Info("credit already applied by a concurrent call")
		return domain.AlreadyCredited(intent.Reference, intent.Amount), nil
	}

	log.Info("wallet credited", "user_id", intent.UserID, "amount", intent.Amount, "balance", res.Balance)
	metrics.CreditedAmount.Add(float64(intent.Amount))
	e.emit(ctx, intent, entry, res.Balance, source)

	return domain.Credited(intent.Reference, intent.Amount), nil
}

func (e *Engine) emit(ctx context.Context, intent *domain.PaymentIntent, entry *domain.LedgerEntry, balance int64, source domain.Source) {
	if e.notifier == nil {
		return
	}
	err := e.notifier.CreditApplied(ctx, notify.CreditEvent{
		Reference:  intent.Reference,
		UserID:     intent.UserID,
		Amount:     entry.Amount,
		Currency:   intent.Currency,
		Balance:    balance,
		Source:     string(source),
		CreditedAt: entry.AppliedAt,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("credit notification failed", "error", err)
	}
}

func (e *Engine) pending(ctx context.Context, reference string, source domain.Source) (domain.ReconcileResult, error) {
	if _, err := e.store.MarkPending(ctx, reference, source); err != nil {
		return domain.ReconcileResult{}, err
	}
	return domain.Pending(reference), nil
}

func (e *Engine) fail(ctx context.Context, intent *domain.PaymentIntent, reason domain.FailureReason, source domain.Source) (domain.ReconcileResult, error) {
	moved, err := e.store.MarkFailed(ctx, intent.Reference, reason, source)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if !moved {
		return e.current(ctx, intent.Reference)
	}
	return domain.Failed(intent.Reference, reason), nil
}

// current re-reads the stored state after a transition lost to another caller.
func (e *Engine) current(ctx context.Context, reference string) (domain.ReconcileResult, error) {
	entry, err := e.store.GetLedgerEntry(ctx, reference)
	if err == nil {
		return domain.AlreadyCredited(reference, entry.Amount), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ReconcileResult{}, err
	}

	intent, err := e.store.GetStatus(ctx, reference)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if intent.Status == domain.IntentStatusFailed {
		return failedResult(intent), nil
	}
	return domain.Pending(reference), nil
}

func failedResult(intent *domain.PaymentIntent) domain.ReconcileResult {
	reason := domain.ReasonGatewayDeclined
	if intent.FailureReason != nil {
		reason = *intent.FailureReason
	}
	return domain.Failed(intent.Reference, reason)
}
