package service

import (
	"context"
	"time"

	"commonwealth/internal/domain"
	"commonwealth/internal/repository"
)

// VerificationData es el token que se rota en cada verificacion exitosa.
type VerificationData struct {
	Token   string
	Expires *time.Time
}

type AddressUpsertInput struct {
	CommunityID  string
	Address      string
	UserID       int64
	WalletID     domain.WalletID
	Hex          *string
	BlockInfo    *string
	Verification VerificationData
	OAuth        *domain.OAuthInfo
	Now          time.Time
}

type AddressUpsertResult struct {
	Address         domain.Address
	Created         bool
	Transferred     bool
	PreviousOwnerID *int64
}

// upsertAddress localiza la fila (comunidad, direccion) entre candidates o la crea.
// Si la fila existe con otro dueño se transfiere; los candidatos deben compartir un unico dueño.
func upsertAddress(ctx context.Context, addresses repository.AddressRepository, candidates []domain.Address, in AddressUpsertInput) (AddressUpsertResult, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var matches []domain.Address
	for _, c := range candidates {
		if c.CommunityID == in.CommunityID && c.Address == in.Address {
			matches = append(matches, c)
		}
	}

	if len(matches) == 0 {
		userID := in.UserID
		a := domain.Address{
			Address:                  in.Address,
			CommunityID:              in.CommunityID,
			UserID:                   &userID,
			WalletID:                 in.WalletID,
			Hex:                      in.Hex,
			VerificationToken:        in.Verification.Token,
			VerificationTokenExpires: in.Verification.Expires,
			Verified:                 &now,
			LastActive:               &now,
			Role:                     domain.RoleMember,
			BlockInfo:                in.BlockInfo,
		}
		if in.OAuth != nil {
			in.OAuth.Apply(&a)
		}
		created, err := addresses.Create(ctx, a)
		if err != nil {
			return AddressUpsertResult{}, err
		}
		return AddressUpsertResult{Address: created, Created: true}, nil
	}

	owner := matches[0].UserID
	for _, m := range matches[1:] {
		if !sameOwner(owner, m.UserID) {
			return AddressUpsertResult{}, ErrMixedOwnership
		}
	}

	a := matches[0]
	res := AddressUpsertResult{}
	if !a.OwnedBy(in.UserID) {
		res.Transferred = owner != nil
		res.PreviousOwnerID = owner
		userID := in.UserID
		a.UserID = &userID
	}

	a.WalletID = in.WalletID
	if in.Hex != nil {
		a.Hex = in.Hex
	}
	a.LastActive = &now
	a.Verified = &now
	a.VerificationToken = in.Verification.Token
	a.VerificationTokenExpires = in.Verification.Expires
	if in.OAuth != nil && in.OAuth.DiffersFrom(a) {
		in.OAuth.Apply(&a)
	}

	if err := addresses.Update(ctx, a); err != nil {
		return AddressUpsertResult{}, err
	}
	res.Address = a
	return res, nil
}

func sameOwner(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
