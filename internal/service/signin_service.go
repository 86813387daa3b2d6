package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"commonwealth/internal/chain"
	"commonwealth/internal/domain"
	"commonwealth/internal/repository"
)

type SignInInput struct {
	CommunityID     string
	Address         string
	WalletID        domain.WalletID
	Signature       string
	Message         string
	ReferrerAddress *string
	BlockInfo       *string
	SignedInUserID  *int64
}

type SignInResult struct {
	User            domain.User
	NewUser         bool
	Address         domain.Address
	NewAddress      bool
	AddressCount    int64
	TransferredUser bool
}

// SignInService resuelve el inicio de sesion con firma de wallet.
type SignInService struct {
	db         repository.Database
	balances   chain.BalanceProvider
	challenges ChallengeStore
	minBalance decimal.Decimal
	tokenTTL   time.Duration
	events     *eventEmitter
	logger     *zap.Logger
	now        func() time.Time
	newToken   func() string
}

// NewSignInService recibe el umbral de balance en ETH para subir a SocialVerified. Sin challenges
// usa un store en memoria.
func NewSignInService(logger *zap.Logger, db repository.Database, balances chain.BalanceProvider, challenges ChallengeStore, minBalanceETH decimal.Decimal, tokenTTL time.Duration) *SignInService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenTTL <= 0 {
		tokenTTL = 10 * time.Minute
	}
	if challenges == nil {
		challenges = NewMemoryChallengeStore()
	}
	return &SignInService{
		db:         db,
		balances:   balances,
		challenges: challenges,
		minBalance: chain.EtherToWei(minBalanceETH),
		tokenTTL:   tokenTTL,
		events:     newEventEmitter(balances, logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newToken:   uuid.NewString,
	}
}

// Challenge emite el mensaje a firmar para (community, address). Vence a los tokenTTL.
func (s *SignInService) Challenge(ctx context.Context, communityID, address string) (SignInChallenge, error) {
	community, err := s.community(ctx, communityID)
	if err != nil {
		return SignInChallenge{}, err
	}
	address, _, err = resolveWalletAddress(community, strings.TrimSpace(address))
	if err != nil {
		return SignInChallenge{}, err
	}

	now := s.now()
	nonce := s.newToken()
	ch := SignInChallenge{
		Nonce:     nonce,
		Message:   challengeMessage(community.ID, address, nonce, now),
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.challenges.Save(ctx, nonce, ch.Message, s.tokenTTL); err != nil {
		return SignInChallenge{}, err
	}
	return ch, nil
}

func (s *SignInService) SignIn(ctx context.Context, in SignInInput) (SignInResult, error) {
	in.Address = strings.TrimSpace(in.Address)
	if in.Address == "" || in.CommunityID == "" {
		return SignInResult{}, ErrInvalidAddress
	}
	if !in.WalletID.Valid() {
		return SignInResult{}, ErrInvalidWallet
	}

	community, err := s.community(ctx, in.CommunityID)
	if err != nil {
		return SignInResult{}, err
	}
	address, hex, err := resolveWalletAddress(community, in.Address)
	if err != nil {
		return SignInResult{}, err
	}
	in.Address = address
	if err := verifyWalletSignature(community, in); err != nil {
		s.logger.Info("wallet signature rejected",
			zap.String("address", in.Address),
			zap.String("community_id", community.ID),
			zap.Error(err),
		)
		return SignInResult{}, ErrInvalidSignature
	}
	nonce, err := s.consumeChallenge(ctx, in)
	if err != nil {
		return SignInResult{}, err
	}

	var signedIn *domain.User
	if in.SignedInUserID != nil {
		u, err := s.db.Store().Users().GetByID(ctx, *in.SignedInUserID)
		if errors.Is(err, pgx.ErrNoRows) {
			return SignInResult{}, ErrLoginNotVerified
		}
		if err != nil {
			return SignInResult{}, fmt.Errorf("get signed-in user: %w", err)
		}
		signedIn = &u
	}

	now := s.now()
	expires := now.Add(s.tokenTTL)
	verification := VerificationData{Token: nonce, Expires: &expires}

	var result SignInResult
	err = s.db.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		var found *domain.User
		var err error
		if hex != nil {
			found, err = store.Users().FindByHex(ctx, *hex)
		} else {
			found, err = store.Users().FindByAddress(ctx, in.Address)
		}
		if errors.Is(err, repository.ErrMultipleOwners) {
			return ErrMultipleOwners
		}
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}

		tier := s.walletTier(ctx, in.Address, found, community)
		if signedIn != nil {
			if err := bumpAndSave(ctx, store, signedIn, tier); err != nil {
				return err
			}
		} else if found != nil {
			if err := bumpAndSave(ctx, store, found, tier); err != nil {
				return err
			}
		}

		var user domain.User
		newUser := false
		switch {
		case found != nil && (signedIn == nil || found.ID != signedIn.ID):
			user = *found
		case signedIn != nil:
			user = *signedIn
		default:
			created, err := store.Users().Create(ctx, domain.User{
				ReferredByAddress: in.ReferrerAddress,
				Tier:              tier,
				CreatedAt:         now,
			})
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			if err := store.Profiles().Create(ctx, domain.Profile{UserID: created.ID, CreatedAt: now}); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
			user, newUser = created, true
		}
		if user.IsBanned() {
			return ErrUserBanned
		}

		transferred := false
		var previous *domain.User
		if signedIn != nil && !newUser && signedIn.ID != user.ID {
			var n int64
			if hex != nil {
				n, err = store.Addresses().ReassignByHex(ctx, *hex, signedIn.ID)
			} else {
				n, err = store.Addresses().ReassignByAddress(ctx, in.Address, signedIn.ID)
			}
			if err != nil {
				return fmt.Errorf("transfer addresses: %w", err)
			}
			s.logger.Info("addresses transferred",
				zap.String("address", in.Address),
				zap.Int64("from_user_id", user.ID),
				zap.Int64("to_user_id", signedIn.ID),
				zap.Int64("rows", n),
			)
			previous = &user
			transferred = true
		}
		owner := user
		if signedIn != nil {
			owner = *signedIn
		}

		candidates, err := store.Addresses().ListByCommunityAndAddress(ctx, in.CommunityID, in.Address)
		if err != nil {
			return fmt.Errorf("list addresses: %w", err)
		}
		up, err := upsertAddress(ctx, store.Addresses(), candidates, AddressUpsertInput{
			CommunityID:  in.CommunityID,
			Address:      in.Address,
			UserID:       owner.ID,
			WalletID:     in.WalletID,
			Hex:          hex,
			BlockInfo:    in.BlockInfo,
			Verification: verification,
			Now:          now,
		})
		if err != nil {
			return err
		}
		if up.Transferred && previous == nil {
			prev, err := store.Users().GetByID(ctx, *up.PreviousOwnerID)
			if err != nil {
				return fmt.Errorf("get previous owner: %w", err)
			}
			previous = &prev
			transferred = true
		}

		if err := s.events.emit(ctx, store, &community, SignInOutcome{
			User:            owner,
			NewUser:         newUser,
			Address:         up.Address,
			NewAddress:      up.Created,
			Transferred:     transferred,
			PreviousOwner:   previous,
			ReferrerAddress: in.ReferrerAddress,
		}, now); err != nil {
			return fmt.Errorf("emit sign-in events: %w", err)
		}

		count, err := store.Addresses().CountByAddress(ctx, in.Address)
		if err != nil {
			return fmt.Errorf("count addresses: %w", err)
		}

		result = SignInResult{
			User:            owner,
			NewUser:         newUser,
			Address:         up.Address,
			NewAddress:      up.Created,
			AddressCount:    count,
			TransferredUser: transferred,
		}
		return nil
	})
	if err != nil {
		return SignInResult{}, err
	}
	return result, nil
}

func (s *SignInService) community(ctx context.Context, id string) (domain.Community, error) {
	community, err := s.db.Store().Communities().GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Community{}, ErrCommunityNotFound
	}
	if err != nil {
		return domain.Community{}, fmt.Errorf("get community: %w", err)
	}
	return community, nil
}

// resolveWalletAddress normaliza la direccion segun la base de la comunidad; cosmos ademas
// devuelve el hex compartido entre prefijos.
func resolveWalletAddress(community domain.Community, address string) (string, *string, error) {
	switch community.Base {
	case domain.ChainBaseEthereum:
		normalized, err := chain.NormalizeEVM(address)
		if err != nil {
			return "", nil, ErrInvalidAddress
		}
		return normalized, nil, nil
	case domain.ChainBaseCosmos:
		h, err := chain.CosmosHex(address)
		if err != nil {
			return "", nil, ErrInvalidAddress
		}
		return address, &h, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, community.Base)
	}
}

// verifyWalletSignature: EVM usa personal_sign; cosmos usa ADR-036 salvo wallets ethsecp256k1.
func verifyWalletSignature(community domain.Community, in SignInInput) error {
	if in.Signature == "" || in.Message == "" {
		return chain.ErrInvalidSignature
	}
	switch community.Base {
	case domain.ChainBaseEthereum:
		return chain.VerifyPersonalSignature(in.Address, []byte(in.Message), in.Signature)
	case domain.ChainBaseCosmos:
		if in.WalletID == domain.WalletKeplrEthereum {
			return chain.VerifyCosmosEVMSignature(in.Address, []byte(in.Message), in.Signature)
		}
		return chain.VerifyADR036Signature(in.Address, []byte(in.Message), in.Signature)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, community.Base)
	}
}

// consumeChallenge exige que el mensaje firmado sea un challenge emitido y no usado. Devuelve el nonce,
// que pasa a ser el verification token de la direccion.
func (s *SignInService) consumeChallenge(ctx context.Context, in SignInInput) (string, error) {
	nonce := challengeField(in.Message, challengeNonce)
	if nonce == "" {
		s.logger.Warn("signed message carries no challenge", zap.String("address", in.Address))
		return "", ErrReplayAttack
	}
	issued, err := s.challenges.Consume(ctx, nonce)
	if errors.Is(err, ErrChallengeUnknown) {
		s.logger.Warn("replay attack detected: challenge unknown or already used",
			zap.String("address", in.Address),
			zap.String("nonce", nonce),
		)
		return "", ErrReplayAttack
	}
	if err != nil {
		return "", err
	}
	if issued != in.Message ||
		challengeField(issued, challengeAddress) != in.Address ||
		challengeField(issued, challengeCommunity) != in.CommunityID {
		s.logger.Warn("replay attack detected: challenge issued for another sign-in",
			zap.String("address", in.Address),
			zap.String("community_id", in.CommunityID),
		)
		return "", ErrReplayAttack
	}
	used, err := s.db.Store().Addresses().ExistsByVerificationToken(ctx, nonce)
	if err != nil {
		return "", fmt.Errorf("check verification token: %w", err)
	}
	if used {
		s.logger.Warn("replay attack detected: challenge nonce already verified", zap.String("address", in.Address))
		return "", ErrReplayAttack
	}
	return nonce, nil
}

// walletTier aplica el minimo de balance nativo a usuarios por debajo de SocialVerified.
func (s *SignInService) walletTier(ctx context.Context, address string, found *domain.User, community domain.Community) domain.Tier {
	tier := domain.TierNewlyVerifiedWallet
	if found != nil {
		tier = found.Tier
	}
	if tier >= domain.TierSocialVerified || tier == domain.TierBannedUser {
		return tier
	}
	if community.EthChainID == nil || s.balances == nil {
		return tier
	}
	wei, err := s.balances.NativeBalance(ctx, *community.EthChainID, address)
	if err != nil {
		s.logger.Warn("native balance lookup failed", zap.String("address", address), zap.Error(err))
		return tier
	}
	if s.minBalance.IsPositive() && wei.GreaterThanOrEqual(s.minBalance) {
		return domain.TierSocialVerified
	}
	return tier
}

func bumpAndSave(ctx context.Context, store repository.Store, user *domain.User, next domain.Tier) error {
	tier, changed := domain.BumpTier(user.Tier, next)
	if !changed {
		return nil
	}
	if err := store.Users().UpdateTier(ctx, user.ID, tier); err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	user.Tier = tier
	return nil
}
