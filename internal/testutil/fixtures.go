package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

func SeedUser(t *testing.T, db *sql.DB, email, name string) *domain.User {
	t.Helper()
	return SeedUserWithStatus(t, db, email, name, domain.UserStatusActive)
}

func SeedUserWithStatus(t *testing.T, db *sql.DB, email, name string, status domain.UserStatus) *domain.User {
	t.Helper()

	u := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO users (id, email, name, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.Status, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

// SeedIntent inserts an intent directly, bypassing the engine.
func SeedIntent(t *testing.T, db *sql.DB, reference string, userID uuid.UUID, amount int64, status domain.IntentStatus) *domain.PaymentIntent {
	t.Helper()

	now := time.Now().UTC()
	p := &domain.PaymentIntent{
		Reference: reference,
		UserID:    userID,
		Amount:    amount,
		Currency:  "NGN",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.Exec(
		`INSERT INTO payment_intents (reference, user_id, amount, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.Reference, p.UserID, p.Amount, p.Currency, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed intent %s: %v", reference, err)
	}
	return p
}

// AgeIntent moves created_at into the past so sweeps pick the intent up.
func AgeIntent(t *testing.T, db *sql.DB, reference string, age time.Duration) {
	t.Helper()

	_, err := db.Exec(
		`UPDATE payment_intents SET created_at = now() - make_interval(secs => $1) WHERE reference = $2`,
		age.Seconds(), reference,
	)
	if err != nil {
		t.Fatalf("age intent %s: %v", reference, err)
	}
}

func BalanceOf(t *testing.T, db *sql.DB, userID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT COALESCE((SELECT balance FROM wallet_balances WHERE user_id = $1), 0)`, userID).Scan(&balance)
	if err != nil {
		t.Fatalf("balance of %s: %v", userID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, reference string) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE reference = $1`, reference).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for %s: %v", reference, err)
	}
	return count
}

func IntentStatusOf(t *testing.T, db *sql.DB, reference string) domain.IntentStatus {
	t.Helper()

	var status domain.IntentStatus
	err := db.QueryRow(`SELECT status FROM payment_intents WHERE reference = $1`, reference).Scan(&status)
	if err != nil {
		t.Fatalf("status of %s: %v", reference, err)
	}
	return status
}
