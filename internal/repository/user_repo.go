package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"commonwealth/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
	FindByAddress(ctx context.Context, address string) (*domain.User, error)
	FindByHex(ctx context.Context, hex string) (*domain.User, error)
	FindByMagicAddress(ctx context.Context, address string) (*domain.User, error)
	FindByEmailWithGhosts(ctx context.Context, email string) (*domain.User, []domain.Address, error)
	UpdateTier(ctx context.Context, id int64, tier domain.Tier) error
}

// PgUserRepository implementa UserRepository usando pgx.
type PgUserRepository struct {
	db DBTX
}

func NewPgUserRepository(db DBTX) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `U.id, U.email, U.email_verified, U.referred_by_address, U.external_id, U.tier, U.selected_community_id, U.created_at, U.updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	const query = `
		INSERT INTO users (email, email_verified, referred_by_address, external_id, tier, selected_community_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Email,
		user.EmailVerified,
		user.ReferredByAddress,
		user.ExternalID,
		int(user.Tier),
		user.SelectedCommunityID,
		user.CreatedAt,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (r *PgUserRepository) GetByID(ctx context.Context, id int64) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users U WHERE U.id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	return u, err
}

func (r *PgUserRepository) FindByAddress(ctx context.Context, address string) (*domain.User, error) {
	const query = `
		WITH user_ids AS (
			SELECT DISTINCT user_id FROM addresses
			WHERE user_id IS NOT NULL AND address = $1
		)
		SELECT ` + userColumns + ` FROM users U WHERE U.id IN (SELECT user_id FROM user_ids)
	`
	return r.findOne(ctx, query, address)
}

func (r *PgUserRepository) FindByHex(ctx context.Context, hex string) (*domain.User, error) {
	const query = `
		WITH user_ids AS (
			SELECT DISTINCT user_id FROM addresses
			WHERE user_id IS NOT NULL AND hex = $1
		)
		SELECT ` + userColumns + ` FROM users U WHERE U.id IN (SELECT user_id FROM user_ids)
	`
	return r.findOne(ctx, query, hex)
}

func (r *PgUserRepository) FindByMagicAddress(ctx context.Context, address string) (*domain.User, error) {
	const query = `
		SELECT DISTINCT ` + userColumns + `
		FROM users U
		JOIN addresses A ON A.user_id = U.id
		WHERE A.wallet_id = $1 AND A.address = $2 AND A.verified IS NOT NULL
	`
	return r.findOne(ctx, query, string(domain.WalletMagic), address)
}

// FindByEmailWithGhosts solo devuelve usuarios que todavia tienen direcciones fantasma.
func (r *PgUserRepository) FindByEmailWithGhosts(ctx context.Context, email string) (*domain.User, []domain.Address, error) {
	const userQuery = `
		SELECT ` + userColumns + `
		FROM users U
		WHERE U.email = $1
		  AND EXISTS (SELECT 1 FROM addresses A WHERE A.user_id = U.id AND A.ghost_address = true)
	`
	user, err := r.findOne(ctx, userQuery, email)
	if err != nil || user == nil {
		return nil, nil, err
	}

	const ghostQuery = `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = $1 AND ghost_address = true ORDER BY id`
	rows, err := r.db.Query(ctx, ghostQuery, user.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	ghosts, err := scanAddresses(rows)
	if err != nil {
		return nil, nil, err
	}
	return user, ghosts, nil
}

func (r *PgUserRepository) UpdateTier(ctx context.Context, id int64, tier domain.Tier) error {
	const query = `UPDATE users SET tier = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, int(tier))
	return err
}

func (r *PgUserRepository) findOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(users) > 1 {
		return nil, ErrMultipleOwners
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var tier int
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailVerified,
		&u.ReferredByAddress,
		&u.ExternalID,
		&tier,
		&u.SelectedCommunityID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	u.Tier = domain.Tier(tier)
	return u, err
}
