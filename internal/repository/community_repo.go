package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"commonwealth/internal/domain"
)

type CommunityRepository interface {
	GetByID(ctx context.Context, id string) (domain.Community, error)
}

type PgCommunityRepository struct {
	db DBTX
}

func NewPgCommunityRepository(db DBTX) *PgCommunityRepository {
	return &PgCommunityRepository{db: db}
}

func (r *PgCommunityRepository) GetByID(ctx context.Context, id string) (domain.Community, error) {
	const query = `
		SELECT C.id, C.name, C.base, C.bech32_prefix, N.eth_chain_id
		FROM communities C
		LEFT JOIN chain_nodes N ON N.id = C.chain_node_id
		WHERE C.id = $1
	`
	var c domain.Community
	var base string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&base,
		&c.Bech32Prefix,
		&c.EthChainID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Community{}, err
	}
	c.Base = domain.ChainBase(base)
	return c, err
}
