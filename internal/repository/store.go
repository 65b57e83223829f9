package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

// CreditResult reports what a CreditOnce call did. Inserted is true only for
// the single caller whose ledger row landed; Balance is the post-credit
// balance in that case and zero otherwise.
type CreditResult struct {
	Inserted bool
	Balance  int64
}

// LedgerStore groups the intent, ledger and wallet tables behind the atomic
// operations reconciliation relies on. Every call runs under the store timeout.
type LedgerStore struct {
	db      *sql.DB
	users   *UserRepository
	intents *IntentRepository
	events  *IntentEventRepository
	ledger  *LedgerRepository
	wallets *WalletRepository
	timeout time.Duration
}

func NewLedgerStore(db *sql.DB, timeout time.Duration) *LedgerStore {
	return &LedgerStore{
		db:      db,
		users:   NewUserRepository(db),
		intents: NewIntentRepository(db),
		events:  NewIntentEventRepository(db),
		ledger:  NewLedgerRepository(db),
		wallets: NewWalletRepository(db),
		timeout: timeout,
	}
}

func (s *LedgerStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *LedgerStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.users.GetByID(ctx, id)
}

// CreateIntent stores a new Initiated intent together with its first audit event.
func (s *LedgerStore) CreateIntent(ctx context.Context, intent *domain.PaymentIntent, actor domain.Source) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateIntent: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.intents.Create(ctx, tx, intent); err != nil {
		return fmt.Errorf("CreateIntent: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{"amount": intent.Amount, "currency": intent.Currency})
	if err := s.appendEvent(ctx, tx, intent.Reference, domain.IntentEventInitiated, actor, payload); err != nil {
		return fmt.Errorf("CreateIntent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("CreateIntent: commit: %w", err)
	}
	return nil
}

func (s *LedgerStore) SetAuthorizationURL(ctx context.Context, reference, url string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.intents.SetAuthorizationURL(ctx, reference, url)
}

// GetStatus is the read path for polling. It never touches the gateway.
func (s *LedgerStore) GetStatus(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.intents.GetByReference(ctx, reference)
}

func (s *LedgerStore) GetLedgerEntry(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.ledger.GetByReference(ctx, reference)
}

func (s *LedgerStore) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.wallets.GetBalance(ctx, userID)
}

// ListEntries pages through userID's credits, newest first.
func (s *LedgerStore) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.ledger.GetByUserID(ctx, userID, limit, offset)
}

func (s *LedgerStore) History(ctx context.Context, reference string) ([]domain.IntentEvent, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.events.GetByReference(ctx, reference)
}

func (s *LedgerStore) ListOpenIntents(ctx context.Context, since, before time.Time, limit int) ([]domain.PaymentIntent, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.intents.ListOpen(ctx, since, before, limit)
}

func (s *LedgerStore) MarkPending(ctx context.Context, reference string, actor domain.Source) (bool, error) {
	moved, err := s.transition(ctx, reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated},
		domain.IntentStatusPending, nil, domain.IntentEventPending, actor)
	if err != nil {
		return false, fmt.Errorf("MarkPending: %w", err)
	}
	return moved, nil
}

func (s *LedgerStore) MarkVerified(ctx context.Context, reference string, actor domain.Source) (bool, error) {
	moved, err := s.transition(ctx, reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated, domain.IntentStatusPending},
		domain.IntentStatusVerified, nil, domain.IntentEventVerified, actor)
	if err != nil {
		return false, fmt.Errorf("MarkVerified: %w", err)
	}
	return moved, nil
}

// MarkFailed is refused once the intent is Verified: a confirmed payment is
// either credited or left for review, never failed after the fact.
func (s *LedgerStore) MarkFailed(ctx context.Context, reference string, reason domain.FailureReason, actor domain.Source) (bool, error) {
	moved, err := s.transition(ctx, reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated, domain.IntentStatusPending},
		domain.IntentStatusFailed, &reason, domain.IntentEventFailed, actor)
	if err != nil {
		return false, fmt.Errorf("MarkFailed: %w", err)
	}
	return moved, nil
}

func (s *LedgerStore) transition(
	ctx context.Context,
	reference string,
	from []domain.IntentStatus,
	to domain.IntentStatus,
	reason *domain.FailureReason,
	eventType domain.IntentEventType,
	actor domain.Source,
) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback()

	moved, err := s.intents.Transition(ctx, tx, reference, from, to, reason)
	if err != nil {
		return false, fmt.Errorf("transition: %w", err)
	}
	if !moved {
		return false, nil
	}

	var payload json.RawMessage
	if reason != nil {
		payload, _ = json.Marshal(map[string]string{"reason": string(*reason)})
	}
	if err := s.appendEvent(ctx, tx, reference, eventType, actor, payload); err != nil {
		return false, fmt.Errorf("transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("transition: commit: %w", err)
	}
	return true, nil
}

// CreditOnce applies entry in a single transaction: insert the ledger row if
// none exists for its reference, add the amount to the wallet, and mark the
// intent Credited. Losing the insert race is not an error; the result simply
// reports Inserted=false and nothing else is written. An intent that turned
// terminal in the meantime rolls the whole credit back with ErrIntentTerminal.
func (s *LedgerStore) CreditOnce(ctx context.Context, entry *domain.LedgerEntry, actor domain.Source) (CreditResult, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CreditResult{}, fmt.Errorf("CreditOnce: begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := s.ledger.TryInsert(ctx, tx, entry)
	if err != nil {
		return CreditResult{}, fmt.Errorf("CreditOnce: %w", err)
	}
	if !inserted {
		return CreditResult{}, nil
	}

	balance, err := s.wallets.IncrementBalance(ctx, tx, entry.UserID, entry.Amount)
	if err != nil {
		return CreditResult{}, fmt.Errorf("CreditOnce: %w", err)
	}

	moved, err := s.intents.Transition(ctx, tx, entry.Reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated, domain.IntentStatusPending, domain.IntentStatusVerified},
		domain.IntentStatusCredited, nil)
	if err != nil {
		return CreditResult{}, fmt.Errorf("CreditOnce: %w", err)
	}
	if !moved {
		return CreditResult{}, fmt.Errorf("CreditOnce: %w", domain.ErrIntentTerminal)
	}

	payload, _ := json.Marshal(map[string]any{"amount": entry.Amount, "balance": balance})
	if err := s.appendEvent(ctx, tx, entry.Reference, domain.IntentEventCredited, actor, payload); err != nil {
		return CreditResult{}, fmt.Errorf("CreditOnce: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CreditResult{}, fmt.Errorf("CreditOnce: commit: %w", err)
	}
	return CreditResult{Inserted: true, Balance: balance}, nil
}

func (s *LedgerStore) appendEvent(ctx context.Context, tx *sql.Tx, reference string, eventType domain.IntentEventType, actor domain.Source, payload json.RawMessage) error {
	return s.events.Create(ctx, tx, &domain.IntentEvent{
		ID:        uuid.New(),
		Reference: reference,
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

// Ping backs the readiness probe.
func (s *LedgerStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("Ping: %w", err)
	}
	return nil
}

