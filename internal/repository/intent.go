package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

const intentColumns = `reference, user_id, amount, currency, status, failure_reason,
	authorization_url, metadata, created_at, updated_at, credited_at`

type IntentRepository struct {
	db *sql.DB
}

func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

func (r *IntentRepository) Create(ctx context.Context, q Querier, intent *domain.PaymentIntent) error {
	var metadata any
	if len(intent.Metadata) > 0 {
		metadata = []byte(intent.Metadata)
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO payment_intents (
			reference, user_id, amount, currency, status, failure_reason,
			authorization_url, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		intent.Reference, intent.UserID, intent.Amount, intent.Currency, intent.Status,
		intent.FailureReason, intent.AuthorizationURL, metadata,
		intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *IntentRepository) GetByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE reference = $1`, reference,
	)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return intent, nil
}

// Transition moves the intent to `to` only if its current status is one of
// `from`. It reports whether the row changed; false means another caller got
// there first or the intent is already terminal.
func (r *IntentRepository) Transition(
	ctx context.Context,
	q Querier,
	reference string,
	from []domain.IntentStatus,
	to domain.IntentStatus,
	reason *domain.FailureReason,
) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	res, err := q.ExecContext(ctx,
		`UPDATE payment_intents
		SET status = $1,
			failure_reason = COALESCE($2, failure_reason),
			credited_at = CASE WHEN $1 = 'credited' THEN now() ELSE credited_at END,
			updated_at = now()
		WHERE reference = $3 AND status = ANY($4)`,
		to, reason, reference, pq.Array(fromStrs),
	)
	if err != nil {
		return false, fmt.Errorf("Transition: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Transition: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *IntentRepository) SetAuthorizationURL(ctx context.Context, reference, url string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET authorization_url = $1, updated_at = now() WHERE reference = $2`,
		url, reference,
	)
	if err != nil {
		return fmt.Errorf("SetAuthorizationURL: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetAuthorizationURL: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("SetAuthorizationURL: %w", domain.ErrNotFound)
	}
	return nil
}

// ListOpen returns non-terminal intents created in [since, before), oldest first.
func (r *IntentRepository) ListOpen(ctx context.Context, since, before time.Time, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		WHERE status IN ('initiated', 'pending', 'verified') AND created_at >= $1 AND created_at < $2
		ORDER BY created_at LIMIT $3`,
		since, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListOpen: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListOpen: scan: %w", err)
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListOpen: rows: %w", err)
	}
	return intents, nil
}

func scanIntent(s scanner) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	var reason *string
	var metadata []byte

	err := s.Scan(
		&p.Reference, &p.UserID, &p.Amount, &p.Currency, &p.Status, &reason,
		&p.AuthorizationURL, &metadata, &p.CreatedAt, &p.UpdatedAt, &p.CreditedAt,
	)
	if err != nil {
		return nil, err
	}

	if reason != nil {
		fr := domain.FailureReason(*reason)
		p.FailureReason = &fr
	}
	if metadata != nil {
		p.Metadata = metadata
	}
	return &p, nil
}
