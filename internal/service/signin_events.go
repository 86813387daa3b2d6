package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"commonwealth/internal/chain"
	"commonwealth/internal/domain"
	"commonwealth/internal/repository"
)

// SignInOutcome resume el resultado de resolver identidad y direccion.
type SignInOutcome struct {
	User            domain.User
	NewUser         bool
	Address         domain.Address
	NewAddress      bool
	Transferred     bool
	PreviousOwner   *domain.User
	NewWallet       bool
	NewSsoProvider  bool
	ReferrerAddress *string
	Balance         decimal.Decimal
}

// BuildSignInEvents es funcion pura del resultado. El orden es fijo:
// CommunityJoined, WalletLinked, SSOLinked, UserCreated, AddressOwnershipTransferred.
func BuildSignInEvents(o SignInOutcome, now time.Time) ([]domain.OutboxEvent, error) {
	type namedPayload struct {
		name    string
		payload any
	}
	var pending []namedPayload

	if o.NewAddress {
		pending = append(pending, namedPayload{domain.EventCommunityJoined, domain.CommunityJoined{
			CommunityID:     o.Address.CommunityID,
			UserID:          o.User.ID,
			OAuthProvider:   o.Address.OAuthProvider,
			ReferrerAddress: o.ReferrerAddress,
			CreatedAt:       now,
		}})
	}
	if o.NewWallet {
		pending = append(pending, namedPayload{domain.EventWalletLinked, domain.WalletLinked{
			UserID:      o.User.ID,
			NewUser:     o.NewUser,
			WalletID:    o.Address.WalletID,
			CommunityID: o.Address.CommunityID,
			Balance:     o.Balance.String(),
			CreatedAt:   now,
		}})
	}
	if o.NewSsoProvider && o.Address.OAuthProvider != nil {
		pending = append(pending, namedPayload{domain.EventSSOLinked, domain.SSOLinked{
			UserID:        o.User.ID,
			NewUser:       o.NewUser,
			OAuthProvider: *o.Address.OAuthProvider,
			CommunityID:   o.Address.CommunityID,
			CreatedAt:     now,
		}})
	}
	if o.NewUser {
		pending = append(pending, namedPayload{domain.EventUserCreated, domain.UserCreated{
			CommunityID:     o.Address.CommunityID,
			Address:         o.Address.Address,
			UserID:          o.User.ID,
			ReferrerAddress: o.ReferrerAddress,
			CreatedAt:       now,
		}})
	}
	if o.Transferred && o.PreviousOwner != nil {
		pending = append(pending, namedPayload{domain.EventAddressOwnershipTransferred, transferPayload(o.Address, o.User.ID, *o.PreviousOwner, now)})
	}

	events := make([]domain.OutboxEvent, 0, len(pending))
	for _, p := range pending {
		ev, err := domain.NewOutboxEvent(p.name, p.payload)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func transferPayload(a domain.Address, newUserID int64, previous domain.User, now time.Time) domain.AddressOwnershipTransferred {
	return domain.AddressOwnershipTransferred{
		CommunityID:  a.CommunityID,
		Address:      a.Address,
		UserID:       newUserID,
		OldUserID:    previous.ID,
		OldUserEmail: previous.Email,
		CreatedAt:    now,
	}
}

// eventEmitter completa el resultado con lo que requiere consultar el store y lo agrega al outbox.
type eventEmitter struct {
	balances chain.BalanceProvider
	logger   *zap.Logger
}

func newEventEmitter(balances chain.BalanceProvider, logger *zap.Logger) *eventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventEmitter{balances: balances, logger: logger}
}

// emit detecta wallet/proveedor nuevos para el usuario y agrega los eventos en la misma transaccion.
func (e *eventEmitter) emit(ctx context.Context, store repository.Store, community *domain.Community, o SignInOutcome, now time.Time) error {
	linked := o.NewAddress || o.Transferred
	if linked && o.Address.WalletID != "" {
		other, err := store.Addresses().HasOtherWallet(ctx, o.User.ID, o.Address.WalletID, o.Address.ID)
		if err != nil {
			return err
		}
		o.NewWallet = !other
	}
	if linked && o.Address.OAuthProvider != nil {
		other, err := store.Addresses().HasOtherSsoProvider(ctx, o.User.ID, *o.Address.OAuthProvider, o.Address.ID)
		if err != nil {
			return err
		}
		o.NewSsoProvider = !other
	}
	if o.NewWallet {
		o.Balance = e.nativeBalance(ctx, community, o.Address.Address)
	}

	events, err := BuildSignInEvents(o, now)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	return store.Outbox().Append(ctx, events...)
}

// nativeBalance nunca falla: cualquier error equivale a balance cero.
func (e *eventEmitter) nativeBalance(ctx context.Context, community *domain.Community, address string) decimal.Decimal {
	if e.balances == nil || community == nil || community.EthChainID == nil || !chain.IsEVMAddress(address) {
		return decimal.Zero
	}
	wei, err := e.balances.NativeBalance(ctx, *community.EthChainID, address)
	if err != nil {
		e.logger.Warn("native balance lookup failed",
			zap.String("address", address),
			zap.Int64("eth_chain_id", *community.EthChainID),
			zap.Error(err),
		)
		return decimal.Zero
	}
	return wei
}
