package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"commonwealth/internal/domain"
)

type SsoTokenRepository interface {
	Create(ctx context.Context, token domain.SsoToken) (domain.SsoToken, error)
	FindByIssuerAndAddress(ctx context.Context, issuer, address string) (*domain.SsoToken, *domain.Address, error)
	UpdateIssuedAt(ctx context.Context, id int64, issuedAt int64, updatedAt time.Time) error
}

type PgSsoTokenRepository struct {
	db DBTX
}

func NewPgSsoTokenRepository(db DBTX) *PgSsoTokenRepository {
	return &PgSsoTokenRepository{db: db}
}

func (r *PgSsoTokenRepository) Create(ctx context.Context, token domain.SsoToken) (domain.SsoToken, error) {
	const query = `
		INSERT INTO sso_tokens (issuer, issued_at, address_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		token.Issuer,
		token.IssuedAt,
		token.AddressID,
		token.CreatedAt,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return domain.SsoToken{}, err
	}
	return token, nil
}

// FindByIssuerAndAddress devuelve el token del emisor cuya direccion ancla coincide.
func (r *PgSsoTokenRepository) FindByIssuerAndAddress(ctx context.Context, issuer, address string) (*domain.SsoToken, *domain.Address, error) {
	const query = `
		SELECT T.id, T.issuer, T.issued_at, T.address_id, T.created_at, T.updated_at,
		       A.id, A.address, A.community_id, A.user_id, A.wallet_id, A.hex, A.verification_token,
		       A.verification_token_expires, A.verified, A.last_active, A.role, A.ghost_address,
		       A.is_banned, A.block_info, A.oauth_provider, A.oauth_email, A.oauth_email_verified,
		       A.oauth_username, A.oauth_phone_number, A.created_at, A.updated_at
		FROM sso_tokens T
		JOIN addresses A ON A.id = T.address_id
		WHERE T.issuer = $1 AND A.address = $2
		LIMIT 1
	`
	row := r.db.QueryRow(ctx, query, issuer, address)

	var t domain.SsoToken
	var a domain.Address
	var wallet, provider *string
	err := row.Scan(
		&t.ID, &t.Issuer, &t.IssuedAt, &t.AddressID, &t.CreatedAt, &t.UpdatedAt,
		&a.ID, &a.Address, &a.CommunityID, &a.UserID, &wallet, &a.Hex, &a.VerificationToken,
		&a.VerificationTokenExpires, &a.Verified, &a.LastActive, &a.Role, &a.GhostAddress,
		&a.IsBanned, &a.BlockInfo, &provider, &a.OAuthEmail, &a.OAuthEmailVerified,
		&a.OAuthUsername, &a.OAuthPhoneNumber, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if wallet != nil {
		a.WalletID = domain.WalletID(*wallet)
	}
	if provider != nil {
		p := domain.SsoSource(*provider)
		a.OAuthProvider = &p
	}
	return &t, &a, nil
}

func (r *PgSsoTokenRepository) UpdateIssuedAt(ctx context.Context, id int64, issuedAt int64, updatedAt time.Time) error {
	const query = `UPDATE sso_tokens SET issued_at = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, issuedAt, updatedAt)
	return err
}
