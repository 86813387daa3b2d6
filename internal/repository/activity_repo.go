package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"commonwealth/internal/domain"
)

// ActivityRepository calcula el agregado del feed global.
type ActivityRepository interface {
	GlobalActivity(ctx context.Context, limit int) ([]domain.ActivityItem, error)
}

type PgActivityRepository struct {
	pool *pgxpool.Pool
}

func NewPgActivityRepository(pool *pgxpool.Pool) *PgActivityRepository {
	return &PgActivityRepository{pool: pool}
}

func (r *PgActivityRepository) GlobalActivity(ctx context.Context, limit int) ([]domain.ActivityItem, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		WITH recent AS (
			SELECT 'thread' AS kind, T.id, T.id AS thread_id, T.community_id, T.title, T.body, T.address_id, T.created_at
			FROM threads T
			WHERE T.deleted_at IS NULL
			UNION ALL
			SELECT 'comment' AS kind, C.id, C.thread_id, T.community_id, T.title, C.body, C.address_id, C.created_at
			FROM comments C
			JOIN threads T ON T.id = C.thread_id
			WHERE C.deleted_at IS NULL AND T.deleted_at IS NULL
		)
		SELECT R.kind, R.id, R.thread_id, R.community_id, R.title, COALESCE(R.body, ''), A.address, COALESCE(P.name, ''), R.created_at
		FROM recent R
		JOIN addresses A ON A.id = R.address_id
		LEFT JOIN profiles P ON P.user_id = A.user_id
		ORDER BY R.created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ActivityItem, 0, limit)
	for rows.Next() {
		var it domain.ActivityItem
		if err := rows.Scan(
			&it.Kind,
			&it.ID,
			&it.ThreadID,
			&it.CommunityID,
			&it.Title,
			&it.Body,
			&it.AuthorAddress,
			&it.AuthorName,
			&it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
