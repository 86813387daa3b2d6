package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"commonwealth/internal/domain"
	"commonwealth/internal/repository"
)

func TestUpsertAddress(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	google := domain.SsoGoogle
	email := "ada@example.com"

	t.Run("creates a member row when nothing matches", func(t *testing.T) {
		db := newMemDB()
		store := db.Store()
		res, err := upsertAddress(context.Background(), store.Addresses(), nil, AddressUpsertInput{
			CommunityID:  "ethereum",
			Address:      "0xabc",
			UserID:       7,
			WalletID:     domain.WalletMagic,
			Verification: VerificationData{Token: "tid"},
			OAuth:        &domain.OAuthInfo{Provider: &google, Email: &email},
			Now:          now,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if !res.Created || res.Transferred {
			t.Fatalf("expected created row, got %+v", res)
		}
		a := res.Address
		if a.Role != domain.RoleMember || !a.OwnedBy(7) || a.Verified == nil || !a.Verified.Equal(now) || a.LastActive == nil {
			t.Fatalf("unexpected created address: %+v", a)
		}
		if a.OAuthProvider == nil || *a.OAuthProvider != google || a.OAuthEmail == nil {
			t.Fatalf("expected oauth fields applied")
		}
	})

	t.Run("transfers a row owned by someone else", func(t *testing.T) {
		db := newMemDB()
		existing := db.addAddress(domain.Address{Address: "0xabc", CommunityID: "ethereum", UserID: ptr(int64(3)), WalletID: domain.WalletMetamask})
		res, err := upsertAddress(context.Background(), db.Store().Addresses(), []domain.Address{existing}, AddressUpsertInput{
			CommunityID:  "ethereum",
			Address:      "0xabc",
			UserID:       7,
			WalletID:     domain.WalletMagic,
			Verification: VerificationData{Token: "tid-2"},
			Now:          now,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if res.Created || !res.Transferred || res.PreviousOwnerID == nil || *res.PreviousOwnerID != 3 {
			t.Fatalf("expected transfer from user 3, got %+v", res)
		}
		stored := db.state.addresses[existing.ID]
		if !stored.OwnedBy(7) || stored.WalletID != domain.WalletMagic || stored.VerificationToken != "tid-2" {
			t.Fatalf("unexpected stored row: %+v", stored)
		}
	})

	t.Run("claiming an ownerless row is not a transfer", func(t *testing.T) {
		db := newMemDB()
		existing := db.addAddress(domain.Address{Address: "0xabc", CommunityID: "ethereum"})
		res, err := upsertAddress(context.Background(), db.Store().Addresses(), []domain.Address{existing}, AddressUpsertInput{
			CommunityID: "ethereum",
			Address:     "0xabc",
			UserID:      7,
			Now:         now,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if res.Transferred || res.Created || !res.Address.OwnedBy(7) {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("mixed owners violate the invariant", func(t *testing.T) {
		db := newMemDB()
		a := db.addAddress(domain.Address{Address: "0xabc", CommunityID: "ethereum", UserID: ptr(int64(1))})
		b := db.addAddress(domain.Address{Address: "0xabc", CommunityID: "ethereum", UserID: ptr(int64(2))})
		_, err := upsertAddress(context.Background(), db.Store().Addresses(), []domain.Address{a, b}, AddressUpsertInput{
			CommunityID: "ethereum",
			Address:     "0xabc",
			UserID:      1,
			Now:         now,
		})
		if !errors.Is(err, ErrMixedOwnership) || !errors.Is(err, ErrInvariantViolation) {
			t.Fatalf("expected mixed ownership, got %v", err)
		}
	})

	t.Run("racing insert surfaces the duplicate key", func(t *testing.T) {
		db := newMemDB()
		db.addAddress(domain.Address{Address: "0xabc", CommunityID: "ethereum", UserID: ptr(int64(3))})
		// candidates leidos antes de que la otra transaccion confirmara su insert
		_, err := upsertAddress(context.Background(), db.Store().Addresses(), nil, AddressUpsertInput{
			CommunityID: "ethereum",
			Address:     "0xabc",
			UserID:      7,
			Now:         now,
		})
		if !errors.Is(err, repository.ErrDuplicateAddress) {
			t.Fatalf("expected duplicate address, got %v", err)
		}
		if got := db.addressesOf(7); len(got) != 0 {
			t.Fatalf("no row should be created for the loser, got %+v", got)
		}
	})
}
