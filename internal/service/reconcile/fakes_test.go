package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/gateway"
	"github.com/josh-kwaku/wallet-reconciler/internal/notify"
	"github.com/josh-kwaku/wallet-reconciler/internal/repository"
)

// memStore mimics the Postgres store: one mutex stands in for the unique
// index and the transaction around CreditOnce.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*domain.User
	intents  map[string]*domain.PaymentIntent
	ledger   map[string]*domain.LedgerEntry
	balances map[uuid.UUID]int64
	events   []domain.IntentEvent
	creditFn func() error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]*domain.User),
		intents:  make(map[string]*domain.PaymentIntent),
		ledger:   make(map[string]*domain.LedgerEntry),
		balances: make(map[uuid.UUID]int64),
	}
}

func (s *memStore) addUser(status domain.UserStatus) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &domain.User{ID: uuid.New(), Email: "user@test.com", Name: "User", Status: status}
	s.users[u.ID] = u
	return u
}

func (s *memStore) addIntent(ref string, userID uuid.UUID, amount int64, status domain.IntentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[ref] = &domain.PaymentIntent{
		Reference: ref, UserID: userID, Amount: amount, Currency: "NGN", Status: status,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
}

func (s *memStore) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) CreateIntent(_ context.Context, intent *domain.PaymentIntent, actor domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	cp := *intent
	s.intents[intent.Reference] = &cp
	s.events = append(s.events, domain.IntentEvent{Reference: intent.Reference, EventType: domain.IntentEventInitiated, Actor: actor})
	return nil
}

func (s *memStore) SetAuthorizationURL(_ context.Context, reference, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.intents[reference]
	if !ok {
		return domain.ErrNotFound
	}
	p.AuthorizationURL = &url
	return nil
}

func (s *memStore) GetStatus(_ context.Context, reference string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.intents[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetLedgerEntry(_ context.Context, reference string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ledger[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) transition(reference string, from []domain.IntentStatus, to domain.IntentStatus, reason *domain.FailureReason, actor domain.Source) bool {
	p, ok := s.intents[reference]
	if !ok {
		return false
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			if reason != nil {
				p.FailureReason = reason
			}
			s.events = append(s.events, domain.IntentEvent{Reference: reference, EventType: domain.IntentEventType(to), Actor: actor})
			return true
		}
	}
	return false
}

func (s *memStore) MarkPending(_ context.Context, reference string, actor domain.Source) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(reference, []domain.IntentStatus{domain.IntentStatusInitiated}, domain.IntentStatusPending, nil, actor), nil
}

func (s *memStore) MarkVerified(_ context.Context, reference string, actor domain.Source) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated, domain.IntentStatusPending},
		domain.IntentStatusVerified, nil, actor), nil
}

func (s *memStore) MarkFailed(_ context.Context, reference string, reason domain.FailureReason, actor domain.Source) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated, domain.IntentStatusPending},
		domain.IntentStatusFailed, &reason, actor), nil
}

func (s *memStore) CreditOnce(_ context.Context, entry *domain.LedgerEntry, actor domain.Source) (repository.CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creditFn != nil {
		if err := s.creditFn(); err != nil {
			return repository.CreditResult{}, err
		}
	}
	if _, ok := s.ledger[entry.Reference]; ok {
		return repository.CreditResult{}, nil
	}
	if !s.transition(entry.Reference,
		[]domain.IntentStatus{domain.IntentStatusInitiated, domain.IntentStatusPending, domain.IntentStatusVerified},
		domain.IntentStatusCredited, nil, actor) {
		return repository.CreditResult{}, domain.ErrIntentTerminal
	}
	cp := *entry
	s.ledger[entry.Reference] = &cp
	s.balances[entry.UserID] += entry.Amount
	return repository.CreditResult{Inserted: true, Balance: s.balances[entry.UserID]}, nil
}

func (s *memStore) balance(userID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) ledgerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

func (s *memStore) status(ref string) domain.IntentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intents[ref].Status
}

type fakeGateway struct {
	mu          sync.Mutex
	tx          map[string]*gateway.Transaction
	verifyErr   error
	initErr     error
	verifyCalls int
	lastInit    gateway.InitializeRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tx: make(map[string]*gateway.Transaction)}
}

func (g *fakeGateway) set(ref string, tx *gateway.Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tx.Reference = ref
	g.tx[ref] = tx
}

func (g *fakeGateway) setVerifyErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyErr = err
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

func (g *fakeGateway) CreateTransaction(_ context.Context, req gateway.InitializeRequest) (*gateway.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastInit = req
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.Authorization{
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "code",
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*gateway.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	tx, ok := g.tx[reference]
	if !ok {
		return nil, gateway.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func success(userID uuid.UUID, amount int64) *gateway.Transaction {
	return &gateway.Transaction{
		Status: gateway.StatusSuccess, RawStatus: "success",
		Amount: amount, Currency: "NGN", UserID: userID, HasUserID: true,
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.CreditEvent
	err    error
}

func (n *recordingNotifier) CreditApplied(_ context.Context, ev notify.CreditEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
