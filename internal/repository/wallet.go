package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// IncrementBalance adds amount to the user's balance, creating the row on
// first credit, and returns the new balance. The single UPSERT takes the row
// lock, so concurrent credits to one user never lose an update.
func (r *WalletRepository) IncrementBalance(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO wallet_balances (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallet_balances.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance`,
		userID, amount,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("IncrementBalance: %w", err)
	}
	return balance, nil
}

// GetBalance returns a zero balance for users that were never credited.
func (r *WalletRepository) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error) {
	wb := domain.WalletBalance{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM wallet_balances WHERE user_id = $1`, userID,
	).Scan(&wb.Balance, &wb.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &wb, nil
		}
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return &wb, nil
}
