package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

type IntentEventRepository struct {
	db *sql.DB
}

func NewIntentEventRepository(db *sql.DB) *IntentEventRepository {
	return &IntentEventRepository{db: db}
}

func (r *IntentEventRepository) Create(ctx context.Context, q Querier, event *domain.IntentEvent) error {
	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO payment_intent_events (id, reference, event_type, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Reference, event.EventType, event.Actor, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *IntentEventRepository) GetByReference(ctx context.Context, reference string) ([]domain.IntentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, reference, event_type, actor, payload, created_at
		FROM payment_intent_events WHERE reference = $1 ORDER BY created_at, id`, reference,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	defer rows.Close()

	var events []domain.IntentEvent
	for rows.Next() {
		var e domain.IntentEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Reference, &e.EventType, &e.Actor, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("GetByReference: scan: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByReference: rows: %w", err)
	}
	return events, nil
}
