package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/repository"
	"github.com/josh-kwaku/wallet-reconciler/internal/testutil"
)

func newEntry(ref string, userID uuid.UUID, amount int64) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:        uuid.New(),
		Reference: ref,
		UserID:    userID,
		Amount:    amount,
		AppliedAt: time.Now().UTC(),
	}
}

func TestLedgerStore_CreditOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "ada@test.com", "Ada")
	testutil.SeedIntent(t, db, "fund_once", user.ID, 500, domain.IntentStatusPending)

	res, err := store.CreditOnce(ctx, newEntry("fund_once", user.ID, 500), domain.SourceWebhook)
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, int64(500), res.Balance)

	res, err = store.CreditOnce(ctx, newEntry("fund_once", user.ID, 500), domain.SourcePoll)
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, "fund_once"))
	assert.Equal(t, int64(500), testutil.BalanceOf(t, db, user.ID))
	assert.Equal(t, domain.IntentStatusCredited, testutil.IntentStatusOf(t, db, "fund_once"))

	intent, err := store.GetStatus(ctx, "fund_once")
	require.NoError(t, err)
	require.NotNil(t, intent.CreditedAt)

	history, err := store.History(ctx, "fund_once")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.IntentEventCredited, history[0].EventType)
	assert.Equal(t, domain.SourceWebhook, history[0].Actor)
}

func TestLedgerStore_CreditOnce_Concurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "race@test.com", "Race")
	testutil.SeedIntent(t, db, "fund_race", user.ID, 700, domain.IntentStatusPending)

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		errs     []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.CreditOnce(ctx, newEntry("fund_race", user.ID, 700), domain.SourcePoll)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Inserted {
				inserted++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, "fund_race"))
	assert.Equal(t, int64(700), testutil.BalanceOf(t, db, user.ID))
}

func TestLedgerStore_CreditOnce_FailedIntentRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "failed@test.com", "Failed")
	testutil.SeedIntent(t, db, "fund_failed", user.ID, 300, domain.IntentStatusFailed)

	_, err := store.CreditOnce(ctx, newEntry("fund_failed", user.ID, 300), domain.SourceFallback)
	require.ErrorIs(t, err, domain.ErrIntentTerminal)

	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, "fund_failed"))
	assert.Equal(t, int64(0), testutil.BalanceOf(t, db, user.ID))
}

func TestLedgerStore_BalanceAccumulates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "sum@test.com", "Sum")
	testutil.SeedIntent(t, db, "fund_a", user.ID, 100, domain.IntentStatusInitiated)
	testutil.SeedIntent(t, db, "fund_b", user.ID, 250, domain.IntentStatusVerified)

	_, err := store.CreditOnce(ctx, newEntry("fund_a", user.ID, 100), domain.SourceWebhook)
	require.NoError(t, err)
	res, err := store.CreditOnce(ctx, newEntry("fund_b", user.ID, 250), domain.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, int64(350), res.Balance)

	wb, err := store.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), wb.Balance)

	entries, total, err := store.ListEntries(ctx, user.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	assert.Equal(t, wb.Balance, sum)
}

func TestLedgerStore_Transitions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "fsm@test.com", "Fsm")
	testutil.SeedIntent(t, db, "fund_fsm", user.ID, 200, domain.IntentStatusInitiated)

	moved, err := store.MarkPending(ctx, "fund_fsm", domain.SourcePoll)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.MarkPending(ctx, "fund_fsm", domain.SourcePoll)
	require.NoError(t, err)
	assert.False(t, moved, "pending is only entered from initiated")

	moved, err = store.MarkFailed(ctx, "fund_fsm", domain.ReasonGatewayDeclined, domain.SourceWebhook)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.MarkVerified(ctx, "fund_fsm", domain.SourceFallback)
	require.NoError(t, err)
	assert.False(t, moved, "failed is terminal")

	intent, err := store.GetStatus(ctx, "fund_fsm")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusFailed, intent.Status)
	require.NotNil(t, intent.FailureReason)
	assert.Equal(t, domain.ReasonGatewayDeclined, *intent.FailureReason)

	history, err := store.History(ctx, "fund_fsm")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.IntentEventPending, history[0].EventType)
	assert.Equal(t, domain.IntentEventFailed, history[1].EventType)
}

func TestLedgerStore_CreateIntent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "create@test.com", "Create")
	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		Reference: "fund_create",
		UserID:    user.ID,
		Amount:    1000,
		Currency:  "NGN",
		Status:    domain.IntentStatusInitiated,
		Metadata:  []byte(`{"campaign":"launch"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateIntent(ctx, intent, domain.SourceInitiate))

	err := store.CreateIntent(ctx, intent, domain.SourceInitiate)
	require.ErrorIs(t, err, domain.ErrDuplicateReference)

	require.NoError(t, store.SetAuthorizationURL(ctx, "fund_create", "https://checkout.test/abc"))

	got, err := store.GetStatus(ctx, "fund_create")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Amount)
	require.NotNil(t, got.AuthorizationURL)
	assert.Equal(t, "https://checkout.test/abc", *got.AuthorizationURL)
	assert.JSONEq(t, `{"campaign":"launch"}`, string(got.Metadata))

	_, err = store.GetStatus(ctx, "fund_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetLedgerEntry(ctx, "fund_create")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerStore_ListOpenIntents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := repository.NewLedgerStore(db, 5*time.Second)

	user := testutil.SeedUser(t, db, "open@test.com", "Open")
	testutil.SeedIntent(t, db, "fund_old", user.ID, 100, domain.IntentStatusPending)
	testutil.SeedIntent(t, db, "fund_new", user.ID, 100, domain.IntentStatusInitiated)
	testutil.SeedIntent(t, db, "fund_done", user.ID, 100, domain.IntentStatusCredited)
	testutil.AgeIntent(t, db, "fund_old", 10*time.Minute)
	testutil.AgeIntent(t, db, "fund_done", 10*time.Minute)
	testutil.SeedIntent(t, db, "fund_ancient", user.ID, 100, domain.IntentStatusPending)
	testutil.AgeIntent(t, db, "fund_ancient", 48*time.Hour)

	now := time.Now()
	open, err := store.ListOpenIntents(ctx, now.Add(-24*time.Hour), now.Add(-2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "fund_old", open[0].Reference)
}

func TestWebhookEventRepository_RecordAndClaim(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewWebhookEventRepository(db)

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		IdempotencyKey: "charge.success:fund_hook",
		EventType:      "charge.success",
		Reference:      "fund_hook",
		Payload:        []byte(`{"event":"charge.success"}`),
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	recorded, err := repo.Record(ctx, event)
	require.NoError(t, err)
	assert.True(t, recorded)

	dup := *event
	dup.ID = uuid.New()
	recorded, err = repo.Record(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, recorded)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	claimed, err := repo.ClaimPending(ctx, tx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "fund_hook", claimed[0].Reference)
	require.NoError(t, repo.UpdateStatus(ctx, tx, claimed[0].ID, domain.WebhookEventStatusDispatched))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	claimed, err = repo.ClaimPending(ctx, tx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	require.NoError(t, tx.Rollback())

	err = repo.UpdateStatus(ctx, nil, uuid.New(), domain.WebhookEventStatusFailed)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdempotencyRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewIdempotencyRepository(db)
	userID := uuid.New()

	cached, err := repo.Get(ctx, "key-1", userID)
	require.NoError(t, err)
	assert.Nil(t, cached)

	now := time.Now().UTC()
	require.NoError(t, repo.Put(ctx, &repository.CachedResponse{
		Key: "key-1", UserID: userID, RequestHash: "h1", StatusCode: 200,
		ResponseBody: []byte(`{"ok":true}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, repo.Put(ctx, &repository.CachedResponse{
		Key: "key-1", UserID: userID, RequestHash: "h2", StatusCode: 500,
		ResponseBody: []byte(`{}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, repo.Put(ctx, &repository.CachedResponse{
		Key: "key-old", UserID: userID, RequestHash: "h3", StatusCode: 200,
		ResponseBody: []byte(`{}`), CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	cached, err = repo.Get(ctx, "key-1", userID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "h1", cached.RequestHash)
	assert.Equal(t, 200, cached.StatusCode)

	other, err := repo.Get(ctx, "key-1", uuid.New())
	require.NoError(t, err)
	assert.Nil(t, other)

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
