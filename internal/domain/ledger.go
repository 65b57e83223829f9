package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is append-only. Reference is unique across the table, which is
// what makes a credit happen at most once.
type LedgerEntry struct {
	ID        uuid.UUID
	Reference string
	UserID    uuid.UUID
	Amount    int64
	AppliedAt time.Time
}

type WalletBalance struct {
	UserID    uuid.UUID
	Balance   int64
	UpdatedAt time.Time
}
