package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/gateway"
)

var testPolicy = domain.FundingPolicy{MinAmount: 100, Currency: "NGN"}

type harness struct {
	store    *memStore
	gw       *fakeGateway
	notifier *recordingNotifier
	engine   *Engine
	user     *domain.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		gw:       newFakeGateway(),
		notifier: &recordingNotifier{},
	}
	h.engine = NewEngine(h.store, h.gw, h.notifier, testPolicy, time.Second)
	h.user = h.store.addUser(domain.UserStatusActive)
	return h
}

func TestInitiate(t *testing.T) {
	h := newHarness(t)

	intent, err := h.engine.Initiate(context.Background(), h.user.ID, 500, map[string]any{
		"campaign": "launch",
		"user_id":  "someone-else",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^fund_[0-9a-f]{32}$`, intent.Reference)
	assert.Equal(t, domain.IntentStatusInitiated, intent.Status)
	assert.Equal(t, int64(500), intent.Amount)
	assert.Equal(t, "NGN", intent.Currency)
	require.NotNil(t, intent.AuthorizationURL)
	assert.Equal(t, "https://checkout.test/"+intent.Reference, *intent.AuthorizationURL)

	assert.Equal(t, h.user.ID, h.gw.lastInit.UserID)
	assert.Equal(t, h.user.Email, h.gw.lastInit.Email)
	assert.Equal(t, "launch", h.gw.lastInit.Extra["campaign"])
	assert.NotContains(t, h.gw.lastInit.Extra, "user_id")

	stored, err := h.store.GetStatus(context.Background(), intent.Reference)
	require.NoError(t, err)
	require.NotNil(t, stored.AuthorizationURL)
	assert.JSONEq(t, `{"campaign":"launch"}`, string(stored.Metadata))
}

func TestInitiate_Rejections(t *testing.T) {
	h := newHarness(t)
	suspended := h.store.addUser(domain.UserStatusSuspended)

	tests := []struct {
		name    string
		userID  uuid.UUID
		amount  int64
		wantErr error
	}{
		{"below minimum", h.user.ID, 99, domain.ErrInvalidAmount},
		{"zero", h.user.ID, 0, domain.ErrInvalidAmount},
		{"negative", h.user.ID, -500, domain.ErrInvalidAmount},
		{"unknown user", uuid.New(), 500, domain.ErrUserNotFound},
		{"suspended user", suspended.ID, 500, domain.ErrUserInactive},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Initiate(context.Background(), tc.userID, tc.amount, nil)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Empty(t, h.store.intents)
}

func TestInitiate_GatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.gw.initErr = fmt.Errorf("boom: %w", gateway.ErrUnavailable)

	_, err := h.engine.Initiate(context.Background(), h.user.ID, 500, nil)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	require.Len(t, h.store.intents, 1)
	for ref, intent := range h.store.intents {
		assert.Equal(t, domain.IntentStatusFailed, intent.Status)
		require.NotNil(t, intent.FailureReason)
		assert.Equal(t, domain.ReasonInitFailed, *intent.FailureReason)

		res, err := h.engine.Reconcile(context.Background(), ref, domain.SourceFallback)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeFailed, res.Outcome)
		assert.Zero(t, h.gw.calls(), "failed intents are not re-verified")
	}
}

func TestReconcile_CreditsOnceThenAlreadyCredited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIntent("fund_1", h.user.ID, 500, domain.IntentStatusInitiated)
	h.gw.set("fund_1", success(h.user.ID, 500))

	res, err := h.engine.Reconcile(ctx, "fund_1", domain.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, domain.Credited("fund_1", 500), res)

	for _, src := range []domain.Source{domain.SourceWebhook, domain.SourcePoll, domain.SourceFallback} {
		res, err = h.engine.Reconcile(ctx, "fund_1", src)
		require.NoError(t, err)
		assert.Equal(t, domain.AlreadyCredited("fund_1", 500), res)
		assert.True(t, res.Settled())
	}

	assert.Equal(t, int64(500), h.store.balance(h.user.ID))
	assert.Equal(t, 1, h.store.ledgerCount())
	assert.Equal(t, domain.IntentStatusCredited, h.store.status("fund_1"))
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, h.gw.calls(), "credited references never reach the gateway again")
}

func TestReconcile_ConcurrentCallersCreditExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.store.addIntent("fund_race", h.user.ID, 500, domain.IntentStatusPending)
	h.gw.set("fund_race", success(h.user.ID, 500))

	const n = 50
	sources := []domain.Source{domain.SourceWebhook, domain.SourcePoll, domain.SourceFallback, domain.SourceProcessor}
	results := make([]domain.ReconcileResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.engine.Reconcile(context.Background(), "fund_race", sources[i%len(sources)])
		}(i)
	}
	close(start)
	wg.Wait()

	credited, already := 0, 0
	for i := range n {
		require.NoError(t, errs[i])
		switch results[i].Outcome {
		case domain.OutcomeCredited:
			credited++
		case domain.OutcomeAlreadyCredited:
			already++
		default:
			t.Fatalf("unexpected outcome %s", results[i].Outcome)
		}
		assert.Equal(t, int64(500), results[i].Amount)
	}

	assert.Equal(t, 1, credited)
	assert.Equal(t, n-1, already)
	assert.Equal(t, int64(500), h.store.balance(h.user.ID))
	assert.Equal(t, 1, h.store.ledgerCount())
	assert.Equal(t, 1, h.notifier.count())
}

func TestReconcile_PendingThenSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIntent("fund_p", h.user.ID, 700, domain.IntentStatusInitiated)

	res, err := h.engine.Reconcile(ctx, "fund_p", domain.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, domain.Pending("fund_p"), res, "unknown to gateway yet")
	assert.Equal(t, domain.IntentStatusPending, h.store.status("fund_p"))

	h.gw.set("fund_p", &gateway.Transaction{Status: gateway.StatusPending, RawStatus: "ongoing"})
	for range 3 {
		res, err = h.engine.Reconcile(ctx, "fund_p", domain.SourcePoll)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomePending, res.Outcome)
	}
	assert.Zero(t, h.store.ledgerCount())
	assert.Zero(t, h.store.balance(h.user.ID))

	h.gw.set("fund_p", success(h.user.ID, 700))
	res, err = h.engine.Reconcile(ctx, "fund_p", domain.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, domain.Credited("fund_p", 700), res)
	assert.Equal(t, 1, h.store.ledgerCount())
}

func TestReconcile_NoCreditWithoutConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIntent("fund_d", h.user.ID, 500, domain.IntentStatusPending)
	h.gw.set("fund_d", &gateway.Transaction{Status: gateway.StatusFailed, RawStatus: "failed", Amount: 500, UserID: h.user.ID, HasUserID: true})

	for range 5 {
		res, err := h.engine.Reconcile(ctx, "fund_d", domain.SourcePoll)
		require.NoError(t, err)
		assert.Equal(t, domain.Failed("fund_d", domain.ReasonGatewayDeclined), res)
		assert.NoError(t, res.Err())
	}

	assert.Zero(t, h.store.ledgerCount())
	assert.Zero(t, h.store.balance(h.user.ID))
	assert.Equal(t, 1, h.gw.calls(), "terminal failure is answered from the store")
}

func TestReconcile_ReviewConditions(t *testing.T) {
	other := uuid.New()

	tests := []struct {
		name       string
		tx         func(user uuid.UUID) *gateway.Transaction
		wantReason domain.FailureReason
		wantErr    error
	}{
		{
			name: "metadata missing",
			tx: func(user uuid.UUID) *gateway.Transaction {
				tx := success(user, 500)
				tx.HasUserID, tx.UserID = false, uuid.Nil
				return tx
			},
			wantReason: domain.ReasonMetadataMissing,
			wantErr:    domain.ErrMetadataMissing,
		},
		{
			name:       "metadata names another user",
			tx:         func(uuid.UUID) *gateway.Transaction { return success(other, 500) },
			wantReason: domain.ReasonMetadataMismatch,
			wantErr:    domain.ErrMetadataMissing,
		},
		{
			name:       "amount differs",
			tx:         func(user uuid.UUID) *gateway.Transaction { return success(user, 5000) },
			wantReason: domain.ReasonAmountMismatch,
			wantErr:    domain.ErrAmountMismatch,
		},
		{
			name: "fractional amount",
			tx: func(user uuid.UUID) *gateway.Transaction {
				tx := success(user, 0)
				tx.AmountErr = gateway.ErrFractionalAmount
				return tx
			},
			wantReason: domain.ReasonAmountMismatch,
			wantErr:    domain.ErrAmountMismatch,
		},
		{
			name: "currency differs",
			tx: func(user uuid.UUID) *gateway.Transaction {
				tx := success(user, 500)
				tx.Currency = "USD"
				return tx
			},
			wantReason: domain.ReasonAmountMismatch,
			wantErr:    domain.ErrAmountMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.store.addIntent("fund_r", h.user.ID, 500, domain.IntentStatusPending)
			h.gw.set("fund_r", tc.tx(h.user.ID))

			res, err := h.engine.Reconcile(ctx, "fund_r", domain.SourceWebhook)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeFailed, res.Outcome)
			assert.Equal(t, tc.wantReason, res.Reason)
			assert.ErrorIs(t, res.Err(), tc.wantErr)

			res, err = h.engine.Reconcile(ctx, "fund_r", domain.SourceFallback)
			require.NoError(t, err)
			assert.Equal(t, tc.wantReason, res.Reason, "reason survives replays")

			assert.Zero(t, h.store.ledgerCount())
			assert.Zero(t, h.store.balance(h.user.ID))
			assert.Zero(t, h.store.balance(other))
			assert.Zero(t, h.notifier.count())
		})
	}
}

func TestReconcile_GatewayUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIntent("fund_u", h.user.ID, 500, domain.IntentStatusInitiated)
	h.gw.setVerifyErr(fmt.Errorf("dial: %w", gateway.ErrUnavailable))

	_, err := h.engine.Reconcile(ctx, "fund_u", domain.SourceFallback)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, domain.IntentStatusPending, h.store.status("fund_u"))
	assert.Zero(t, h.store.ledgerCount())

	h.gw.setVerifyErr(nil)
	h.gw.set("fund_u", success(h.user.ID, 500))
	res, err := h.engine.Reconcile(ctx, "fund_u", domain.SourceFallback)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, res.Outcome)
}

func TestReconcile_GatewayRejectedLeavesIntentAlone(t *testing.T) {
	tests := []struct {
		name      string
		verifyErr error
	}{
		{"provider refused", fmt.Errorf("invalid key: %w", gateway.ErrRejected)},
		{"unreadable answer", errors.New("VerifyTransaction: decode data: unexpected end of JSON input")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.addIntent("fund_x", h.user.ID, 500, domain.IntentStatusInitiated)
			h.gw.setVerifyErr(tc.verifyErr)

			_, err := h.engine.Reconcile(context.Background(), "fund_x", domain.SourcePoll)
			require.ErrorIs(t, err, domain.ErrGatewayRejected)
			assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
			assert.Equal(t, domain.IntentStatusInitiated, h.store.status("fund_x"))
			assert.Zero(t, h.store.ledgerCount())
		})
	}
}

func TestReconcile_CallerCancelled(t *testing.T) {
	h := newHarness(t)
	h.store.addIntent("fund_c", h.user.ID, 500, domain.IntentStatusInitiated)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.gw.setVerifyErr(fmt.Errorf("send: %w", context.Canceled))

	_, err := h.engine.Reconcile(ctx, "fund_c", domain.SourcePoll)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.NotErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, domain.IntentStatusInitiated, h.store.status("fund_c"))
}

func TestInitiate_GatewayRejected(t *testing.T) {
	h := newHarness(t)
	h.gw.initErr = fmt.Errorf("status 401: %w", gateway.ErrRejected)

	_, err := h.engine.Initiate(context.Background(), h.user.ID, 500, nil)
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)

	require.Len(t, h.store.intents, 1)
	for _, intent := range h.store.intents {
		assert.Equal(t, domain.IntentStatusFailed, intent.Status)
		require.NotNil(t, intent.FailureReason)
		assert.Equal(t, domain.ReasonInitFailed, *intent.FailureReason)
	}
}

func TestReconcile_UnknownReference(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Reconcile(context.Background(), "fund_missing", domain.SourcePoll)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, h.gw.calls())
}

func TestReconcile_StorageFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.store.addIntent("fund_s", h.user.ID, 500, domain.IntentStatusPending)
	h.gw.set("fund_s", success(h.user.ID, 500))
	storeErr := errors.New("connection reset")
	h.store.creditFn = func() error { return storeErr }

	_, err := h.engine.Reconcile(context.Background(), "fund_s", domain.SourceWebhook)
	require.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Zero(t, h.store.ledgerCount())

	h.store.creditFn = nil
	res, err := h.engine.Reconcile(context.Background(), "fund_s", domain.SourceProcessor)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, res.Outcome, "verified intent is credited on retry")
}

func TestReconcile_NotificationFailureKeepsCredit(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("bus down")
	h.store.addIntent("fund_n", h.user.ID, 500, domain.IntentStatusPending)
	h.gw.set("fund_n", success(h.user.ID, 500))

	res, err := h.engine.Reconcile(context.Background(), "fund_n", domain.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, res.Outcome)
	assert.Equal(t, int64(500), h.store.balance(h.user.ID))

	require.Equal(t, 1, h.notifier.count())
	ev := h.notifier.events[0]
	assert.Equal(t, "fund_n", ev.Reference)
	assert.Equal(t, int64(500), ev.Balance)
	assert.Equal(t, "webhook", ev.Source)
}

func TestReconcile_CreditedAmountIsIntentAmount(t *testing.T) {
	h := newHarness(t)
	h.store.addIntent("fund_a", h.user.ID, 1200, domain.IntentStatusPending)
	h.gw.set("fund_a", success(h.user.ID, 1200))

	res, err := h.engine.Reconcile(context.Background(), "fund_a", domain.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), res.Amount)

	entry, err := h.store.GetLedgerEntry(context.Background(), "fund_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), entry.Amount)
	assert.Equal(t, h.user.ID, entry.UserID)
}

func TestStatus_IsReadOnly(t *testing.T) {
	h := newHarness(t)
	h.store.addIntent("fund_st", h.user.ID, 500, domain.IntentStatusPending)
	h.gw.set("fund_st", success(h.user.ID, 500))

	for range 10 {
		intent, err := h.engine.Status(context.Background(), "fund_st")
		require.NoError(t, err)
		assert.Equal(t, domain.IntentStatusPending, intent.Status)
	}
	assert.Zero(t, h.gw.calls())
	assert.Zero(t, h.store.ledgerCount())

	_, err := h.engine.Status(context.Background(), "fund_nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
