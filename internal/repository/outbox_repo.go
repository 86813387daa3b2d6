package repository

import (
	"context"

	"commonwealth/internal/domain"
)

// OutboxRepository es la frontera append-only hacia los consumidores asincronos.
type OutboxRepository interface {
	Append(ctx context.Context, events ...domain.OutboxEvent) error
	ClaimBatch(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkRelayed(ctx context.Context, ids []int64) error
}

type PgOutboxRepository struct {
	db DBTX
}

func NewPgOutboxRepository(db DBTX) *PgOutboxRepository {
	return &PgOutboxRepository{db: db}
}

func (r *PgOutboxRepository) Append(ctx context.Context, events ...domain.OutboxEvent) error {
	const query = `
		INSERT INTO outbox (event_name, event_payload, relayed, created_at)
		VALUES ($1, $2, false, now())
	`
	for _, ev := range events {
		if _, err := r.db.Exec(ctx, query, ev.Name, []byte(ev.Payload)); err != nil {
			return err
		}
	}
	return nil
}

// ClaimBatch bloquea eventos pendientes; debe llamarse dentro de una transaccion.
func (r *PgOutboxRepository) ClaimBatch(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT event_id, event_name, event_payload, relayed, created_at
		FROM outbox
		WHERE relayed = false
		ORDER BY event_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Name, &payload, &ev.Relayed, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *PgOutboxRepository) MarkRelayed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE outbox SET relayed = true, updated_at = now() WHERE event_id = ANY($1)`
	_, err := r.db.Exec(ctx, query, ids)
	return err
}
