package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"commonwealth/internal/domain"
)

// AddressRepository define el contrato de persistencia para direcciones.
type AddressRepository interface {
	Create(ctx context.Context, address domain.Address) (domain.Address, error)
	Update(ctx context.Context, address domain.Address) error
	ListByCommunityAndAddress(ctx context.Context, communityID, address string) ([]domain.Address, error)
	ExistsByVerificationToken(ctx context.Context, token string) (bool, error)
	ReassignByAddress(ctx context.Context, address string, userID int64) (int64, error)
	ReassignByHex(ctx context.Context, hex string, userID int64) (int64, error)
	ReassignWallet(ctx context.Context, fromUserID, toUserID int64, wallet domain.WalletID, token string) ([]domain.Address, error)
	UpdateOAuth(ctx context.Context, address string, userID int64, info domain.OAuthInfo) error
	HasOtherWallet(ctx context.Context, userID int64, wallet domain.WalletID, excludeID int64) (bool, error)
	HasOtherSsoProvider(ctx context.Context, userID int64, provider domain.SsoSource, excludeID int64) (bool, error)
	CountByAddress(ctx context.Context, address string) (int64, error)
	ReplaceGhost(ctx context.Context, ghostID, replacementID int64) error
}

type PgAddressRepository struct {
	db DBTX
}

func NewPgAddressRepository(db DBTX) *PgAddressRepository {
	return &PgAddressRepository{db: db}
}

const addressColumns = `id, address, community_id, user_id, wallet_id, hex, verification_token, verification_token_expires, verified, last_active, role, ghost_address, is_banned, block_info, oauth_provider, oauth_email, oauth_email_verified, oauth_username, oauth_phone_number, created_at, updated_at`

func (r *PgAddressRepository) Create(ctx context.Context, a domain.Address) (domain.Address, error) {
	const query = `
		INSERT INTO addresses (
			address, community_id, user_id, wallet_id, hex, verification_token, verification_token_expires,
			verified, last_active, role, ghost_address, is_banned, block_info,
			oauth_provider, oauth_email, oauth_email_verified, oauth_username, oauth_phone_number,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now(), now())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		a.Address,
		a.CommunityID,
		a.UserID,
		nullableWallet(a.WalletID),
		a.Hex,
		a.VerificationToken,
		a.VerificationTokenExpires,
		a.Verified,
		a.LastActive,
		a.Role,
		a.GhostAddress,
		a.IsBanned,
		a.BlockInfo,
		ssoToText(a.OAuthProvider),
		a.OAuthEmail,
		a.OAuthEmailVerified,
		a.OAuthUsername,
		a.OAuthPhoneNumber,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Address{}, fmt.Errorf("%w: %s/%s", ErrDuplicateAddress, a.CommunityID, a.Address)
	}
	if err != nil {
		return domain.Address{}, err
	}
	return a, nil
}

func (r *PgAddressRepository) Update(ctx context.Context, a domain.Address) error {
	const query = `
		UPDATE addresses SET
			user_id = $2,
			wallet_id = $3,
			hex = $4,
			verification_token = $5,
			verification_token_expires = $6,
			verified = $7,
			last_active = $8,
			oauth_provider = $9,
			oauth_email = $10,
			oauth_email_verified = $11,
			oauth_username = $12,
			oauth_phone_number = $13,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		a.ID,
		a.UserID,
		nullableWallet(a.WalletID),
		a.Hex,
		a.VerificationToken,
		a.VerificationTokenExpires,
		a.Verified,
		a.LastActive,
		ssoToText(a.OAuthProvider),
		a.OAuthEmail,
		a.OAuthEmailVerified,
		a.OAuthUsername,
		a.OAuthPhoneNumber,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgAddressRepository) ListByCommunityAndAddress(ctx context.Context, communityID, address string) ([]domain.Address, error) {
	const query = `SELECT ` + addressColumns + ` FROM addresses WHERE community_id = $1 AND address = $2 ORDER BY id`
	rows, err := r.db.Query(ctx, query, communityID, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddresses(rows)
}

func (r *PgAddressRepository) ExistsByVerificationToken(ctx context.Context, token string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM addresses WHERE verification_token = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, token).Scan(&exists)
	return exists, err
}

func (r *PgAddressRepository) ReassignByAddress(ctx context.Context, address string, userID int64) (int64, error) {
	const query = `UPDATE addresses SET user_id = $2, updated_at = now() WHERE address = $1`
	tag, err := r.db.Exec(ctx, query, address, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgAddressRepository) ReassignByHex(ctx context.Context, hex string, userID int64) (int64, error) {
	const query = `UPDATE addresses SET user_id = $2, updated_at = now() WHERE hex = $1`
	tag, err := r.db.Exec(ctx, query, hex, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReassignWallet mueve todas las direcciones de un wallet entre usuarios y devuelve las filas movidas.
func (r *PgAddressRepository) ReassignWallet(ctx context.Context, fromUserID, toUserID int64, wallet domain.WalletID, token string) ([]domain.Address, error) {
	const query = `
		UPDATE addresses SET user_id = $2, verification_token = $4, updated_at = now()
		WHERE user_id = $1 AND wallet_id = $3
		RETURNING ` + addressColumns
	rows, err := r.db.Query(ctx, query, fromUserID, toUserID, string(wallet), token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddresses(rows)
}

func (r *PgAddressRepository) UpdateOAuth(ctx context.Context, address string, userID int64, info domain.OAuthInfo) error {
	const query = `
		UPDATE addresses SET
			oauth_provider = $3,
			oauth_email = $4,
			oauth_email_verified = $5,
			oauth_username = $6,
			oauth_phone_number = $7,
			updated_at = now()
		WHERE address = $1 AND user_id = $2
	`
	_, err := r.db.Exec(ctx, query,
		address,
		userID,
		ssoToText(info.Provider),
		info.Email,
		info.EmailVerified,
		info.Username,
		info.PhoneNumber,
	)
	return err
}

func (r *PgAddressRepository) HasOtherWallet(ctx context.Context, userID int64, wallet domain.WalletID, excludeID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM addresses WHERE user_id = $1 AND wallet_id = $2 AND id <> $3)`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, string(wallet), excludeID).Scan(&exists)
	return exists, err
}

func (r *PgAddressRepository) HasOtherSsoProvider(ctx context.Context, userID int64, provider domain.SsoSource, excludeID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM addresses WHERE user_id = $1 AND oauth_provider = $2 AND id <> $3)`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, string(provider), excludeID).Scan(&exists)
	return exists, err
}

func (r *PgAddressRepository) CountByAddress(ctx context.Context, address string) (int64, error) {
	const query = `SELECT count(*) FROM addresses WHERE address = $1`
	var n int64
	err := r.db.QueryRow(ctx, query, address).Scan(&n)
	return n, err
}

// ReplaceGhost reasigna el contenido de una direccion fantasma a su reemplazo y la elimina.
func (r *PgAddressRepository) ReplaceGhost(ctx context.Context, ghostID, replacementID int64) error {
	for _, table := range []string{"collaborations", "comments", "reactions", "threads", "memberships"} {
		query := `UPDATE ` + table + ` SET address_id = $1 WHERE address_id = $2`
		if _, err := r.db.Exec(ctx, query, replacementID, ghostID); err != nil {
			return err
		}
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM sso_tokens WHERE address_id = $1`, ghostID); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM addresses WHERE id = $1`, ghostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanAddresses(rows pgx.Rows) ([]domain.Address, error) {
	var out []domain.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAddress(row rowScanner) (domain.Address, error) {
	var a domain.Address
	var wallet, provider *string
	err := row.Scan(
		&a.ID,
		&a.Address,
		&a.CommunityID,
		&a.UserID,
		&wallet,
		&a.Hex,
		&a.VerificationToken,
		&a.VerificationTokenExpires,
		&a.Verified,
		&a.LastActive,
		&a.Role,
		&a.GhostAddress,
		&a.IsBanned,
		&a.BlockInfo,
		&provider,
		&a.OAuthEmail,
		&a.OAuthEmailVerified,
		&a.OAuthUsername,
		&a.OAuthPhoneNumber,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Address{}, err
	}
	if wallet != nil {
		a.WalletID = domain.WalletID(*wallet)
	}
	if provider != nil {
		p := domain.SsoSource(*provider)
		a.OAuthProvider = &p
	}
	return a, nil
}

func nullableWallet(w domain.WalletID) *string {
	if w == "" {
		return nil
	}
	s := string(w)
	return &s
}

func ssoToText(p *domain.SsoSource) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}
