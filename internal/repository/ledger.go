package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

const ledgerColumns = `id, reference, user_id, amount, applied_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// TryInsert appends the entry unless one already exists for its reference.
// It returns true only for the caller whose row landed. Concurrent inserts of
// the same reference serialize on the unique index, so exactly one wins.
func (r *LedgerRepository) TryInsert(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, reference, user_id, amount, applied_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT ledger_entries_reference_key DO NOTHING`,
		entry.ID, entry.Reference, entry.UserID, entry.Amount, entry.AppliedAt,
	)
	if err != nil {
		return false, fmt.Errorf("TryInsert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("TryInsert: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *LedgerRepository) GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE reference = $1`, reference,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByUserID: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE user_id = $1 ORDER BY applied_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByUserID: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("GetByUserID: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("GetByUserID: rows: %w", err)
	}
	return entries, total, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := s.Scan(&e.ID, &e.Reference, &e.UserID, &e.Amount, &e.AppliedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
