package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"commonwealth/internal/chain"
	"commonwealth/internal/domain"
	"commonwealth/internal/magic"
	"commonwealth/internal/oauth"
	"commonwealth/internal/repository"
)

// LoginCase identifica la rama que resolvio el inicio de sesion SSO.
type LoginCase int

const (
	LoginSameUser LoginCase = iota
	LoginMerge
	LoginExisting
	LoginAddToUser
	LoginNewUser
)

func (c LoginCase) String() string {
	switch c {
	case LoginSameUser:
		return "same_user"
	case LoginMerge:
		return "merge"
	case LoginExisting:
		return "login"
	case LoginAddToUser:
		return "add_to_user"
	case LoginNewUser:
		return "new_user"
	default:
		return "unknown"
	}
}

// UserInfoVerifier normaliza la identidad del proveedor declarado.
type UserInfoVerifier interface {
	Verify(ctx context.Context, req oauth.Request) (oauth.VerifiedUserInfo, error)
}

type SsoLoginInput struct {
	Token           magic.DIDToken
	CommunityID     string
	MagicAddress    string
	WalletSsoSource domain.SsoSource
	AccessToken     string
	Username        *string
	AvatarURL       *string
	ReferrerAddress *string
	LoggedInUserID  *int64
}

type SsoLoginResult struct {
	User    domain.User
	NewUser bool
	Case    LoginCase
}

type generatedAddress struct {
	Address     string
	CommunityID string
	Hex         *string
}

// ssoContext es el estado compartido por todas las ramas de una resolucion.
type ssoContext struct {
	in          SsoLoginInput
	community   *domain.Community
	communities map[string]*domain.Community
	metadata    magic.UserMetadata
	info        domain.OAuthInfo
	verified    oauth.VerifiedUserInfo
	generated   []generatedAddress
	existing    *domain.User
	ghosts      []domain.Address
	loggedIn    *domain.User
	now         time.Time
}

// SsoLoginService reconcilia una credencial del broker SSO con usuarios y direcciones.
type SsoLoginService struct {
	db               repository.Database
	metadata         magic.MetadataClient
	verifier         UserInfoVerifier
	events           *eventEmitter
	defaultCommunity string
	logger           *zap.Logger
	now              func() time.Time
}

func NewSsoLoginService(logger *zap.Logger, db repository.Database, metadata magic.MetadataClient, verifier UserInfoVerifier, balances chain.BalanceProvider, defaultCommunity string) *SsoLoginService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCommunity == "" {
		defaultCommunity = "ethereum"
	}
	return &SsoLoginService{
		db:               db,
		metadata:         metadata,
		verifier:         verifier,
		events:           newEventEmitter(balances, logger),
		defaultCommunity: defaultCommunity,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *SsoLoginService) Login(ctx context.Context, in SsoLoginInput) (SsoLoginResult, error) {
	tid := in.Token.Claim.TID
	publicAddress := in.Token.PublicAddress()

	// El mismo tid puede cubrir dos direcciones (eth + cosmos); basta una para rechazarlo.
	used, err := s.db.Store().Addresses().ExistsByVerificationToken(ctx, tid)
	if err != nil {
		return SsoLoginResult{}, fmt.Errorf("check token reuse: %w", err)
	}
	if used {
		s.logger.Warn("replay attack detected", zap.String("address", publicAddress), zap.String("reason", "verification token reused"))
		return SsoLoginResult{}, ErrReplayAttack
	}

	lc := &ssoContext{in: in, now: s.now()}

	if in.CommunityID != "" && in.CommunityID != domain.AllCommunities {
		c, err := s.db.Store().Communities().GetByID(ctx, in.CommunityID)
		if errors.Is(err, pgx.ErrNoRows) {
			return SsoLoginResult{}, ErrCommunityNotFound
		}
		if err != nil {
			return SsoLoginResult{}, fmt.Errorf("get community: %w", err)
		}
		lc.community = &c
	}

	if in.LoggedInUserID != nil {
		u, err := s.db.Store().Users().GetByID(ctx, *in.LoggedInUserID)
		if err != nil {
			return SsoLoginResult{}, ErrLoginNotVerified
		}
		lc.loggedIn = &u
	}

	isCosmos := lc.community != nil && lc.community.Base == domain.ChainBaseCosmos
	walletType := magic.WalletTypeETH
	if isCosmos {
		walletType = magic.WalletTypeCosmos
	}
	lc.metadata, err = s.metadata.UserMetadata(ctx, in.Token.Issuer(), walletType)
	if err != nil {
		return SsoLoginResult{}, fmt.Errorf("fetch sso metadata: %w", err)
	}

	lc.generated = []generatedAddress{{Address: publicAddress, CommunityID: s.defaultCommunity}}
	if lc.community != nil && lc.community.ID != s.defaultCommunity {
		if extra, err := s.communityAddress(lc); err != nil {
			s.logger.Warn("could not set up client-side magic address",
				zap.String("magic_address", in.MagicAddress),
				zap.String("community_id", lc.community.ID),
				zap.Error(err),
			)
		} else if extra != nil {
			lc.generated = append(lc.generated, *extra)
		}
	}

	lc.verified, err = s.verifier.Verify(ctx, oauth.Request{
		Source:      in.WalletSsoSource,
		AccessToken: in.AccessToken,
		Metadata:    lc.metadata,
	})
	if err != nil {
		s.logger.Error("failed to fetch verified sso user info", zap.String("issuer", in.Token.Issuer()), zap.Error(err))
		return SsoLoginResult{}, ErrCouldNotVerifyUser
	}
	lc.info = lc.verified.OAuthInfo()

	var result SsoLoginResult
	err = s.db.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		if err := s.resolveExisting(ctx, store, lc); err != nil {
			return err
		}
		if lc.loggedIn != nil && lc.loggedIn.IsBanned() {
			return ErrUserBanned
		}
		if lc.existing != nil && lc.existing.IsBanned() {
			return ErrUserBanned
		}

		var (
			user    domain.User
			newUser bool
			err     error
		)
		switch {
		case lc.loggedIn != nil && lc.existing != nil && lc.loggedIn.ID == lc.existing.ID:
			result.Case = LoginSameUser
			user, err = s.loginSameUser(ctx, store, lc)
		case lc.loggedIn != nil && lc.existing != nil:
			result.Case = LoginMerge
			user, err = s.mergeLogins(ctx, store, lc)
		case lc.existing != nil:
			result.Case = LoginExisting
			user, err = s.loginExisting(ctx, store, lc)
		case lc.loggedIn != nil:
			result.Case = LoginAddToUser
			user, err = s.addToUser(ctx, store, lc)
		default:
			result.Case = LoginNewUser
			user, err = s.createNewUser(ctx, store, lc)
			newUser = true
		}
		if err != nil {
			return err
		}
		if user.IsBanned() {
			return ErrUserBanned
		}
		result.User = user
		result.NewUser = newUser
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrReplayAttack) && !errors.Is(err, ErrUserBanned) {
			s.logger.Error("failed to sign in user", zap.String("issuer", in.Token.Issuer()), zap.Error(err))
		}
		return SsoLoginResult{}, err
	}

	s.logger.Info("sso login resolved",
		zap.String("case", result.Case.String()),
		zap.Int64("user_id", result.User.ID),
		zap.Bool("new_user", result.NewUser),
	)
	return result, nil
}

// communityAddress arma la direccion especifica de la comunidad seleccionada.
func (s *SsoLoginService) communityAddress(lc *ssoContext) (*generatedAddress, error) {
	switch lc.community.Base {
	case domain.ChainBaseCosmos:
		cosmos, ok := lc.metadata.WalletAddress(magic.WalletTypeCosmos)
		if !ok || lc.in.MagicAddress != cosmos {
			return nil, errors.New("magic address does not match metadata cosmos address")
		}
		hex, err := chain.CosmosHex(cosmos)
		if err != nil {
			return nil, err
		}
		return &generatedAddress{Address: cosmos, CommunityID: lc.community.ID, Hex: &hex}, nil
	case domain.ChainBaseEthereum:
		normalized, err := chain.NormalizeEVM(lc.in.MagicAddress)
		if err != nil {
			return nil, err
		}
		return &generatedAddress{Address: normalized, CommunityID: lc.community.ID}, nil
	default:
		s.logger.Warn("cannot create magic account on community, ignoring", zap.String("community_id", lc.community.ID))
		return nil, nil
	}
}

// resolveExisting busca al usuario por la direccion canonica y, solo via email, por direcciones fantasma.
func (s *SsoLoginService) resolveExisting(ctx context.Context, store repository.Store, lc *ssoContext) error {
	canonical := lc.in.Token.PublicAddress()
	existing, err := store.Users().FindByMagicAddress(ctx, canonical)
	if errors.Is(err, repository.ErrMultipleOwners) {
		return ErrMultipleOwners
	}
	if err != nil {
		return fmt.Errorf("find user by canonical address: %w", err)
	}
	lc.existing = existing
	if existing != nil {
		return nil
	}

	provider := lc.metadata.OAuthProvider
	emailPath := provider == nil || *provider == "" || *provider == string(domain.SsoEmail)
	if !emailPath || lc.metadata.Email == nil || *lc.metadata.Email == "" {
		return nil
	}
	user, ghosts, err := store.Users().FindByEmailWithGhosts(ctx, *lc.metadata.Email)
	if errors.Is(err, repository.ErrMultipleOwners) {
		return ErrMultipleOwners
	}
	if err != nil {
		return fmt.Errorf("find user by email: %w", err)
	}
	if user == nil {
		return nil
	}
	lc.existing = user
	lc.ghosts = ghosts
	for _, g := range ghosts {
		if !hasCommunity(lc.generated, g.CommunityID) {
			lc.generated = append(lc.generated, generatedAddress{Address: canonical, CommunityID: g.CommunityID})
		}
	}
	return nil
}

func (s *SsoLoginService) loginSameUser(ctx context.Context, store repository.Store, lc *ssoContext) (domain.User, error) {
	user := *lc.loggedIn
	linked, err := s.linkAddresses(ctx, store, lc, &user, false)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.canonicalAddress(linked); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// mergeLogins valida el login del usuario existente y mueve sus direcciones del broker al usuario logueado.
// El usuario existente queda sin direcciones pero no se elimina.
func (s *SsoLoginService) mergeLogins(ctx context.Context, store repository.Store, lc *ssoContext) (domain.User, error) {
	existing, err := s.loginExisting(ctx, store, lc)
	if err != nil {
		return domain.User{}, err
	}
	loggedIn := *lc.loggedIn

	moved, err := store.Addresses().ReassignWallet(ctx, existing.ID, loggedIn.ID, domain.WalletMagic, lc.in.Token.Claim.TID)
	if err != nil {
		return domain.User{}, fmt.Errorf("merge addresses: %w", err)
	}

	events := make([]domain.OutboxEvent, 0, len(moved))
	for _, a := range moved {
		ev, err := domain.NewOutboxEvent(domain.EventAddressOwnershipTransferred, transferPayload(a, loggedIn.ID, existing, lc.now))
		if err != nil {
			return domain.User{}, err
		}
		events = append(events, ev)
	}
	if len(events) > 0 {
		if err := store.Outbox().Append(ctx, events...); err != nil {
			return domain.User{}, fmt.Errorf("append transfer events: %w", err)
		}
	}
	s.logger.Info("merged sso identity",
		zap.Int64("from_user_id", existing.ID),
		zap.Int64("to_user_id", loggedIn.ID),
		zap.Int("addresses", len(moved)),
	)
	return loggedIn, nil
}

// loginExisting aplica la proteccion de replay del ledger de tokens SSO.
func (s *SsoLoginService) loginExisting(ctx context.Context, store repository.Store, lc *ssoContext) (domain.User, error) {
	user := *lc.existing
	claim := lc.in.Token.Claim

	token, anchor, err := store.SsoTokens().FindByIssuerAndAddress(ctx, lc.in.Token.Issuer(), lc.in.Token.PublicAddress())
	if err != nil {
		return domain.User{}, fmt.Errorf("find sso token: %w", err)
	}

	if token != nil {
		if claim.IAT <= token.IssuedAt {
			s.logger.Warn("replay attack detected",
				zap.String("address", lc.in.Token.PublicAddress()),
				zap.Int64("iat", claim.IAT),
				zap.Int64("stored_iat", token.IssuedAt),
			)
			return domain.User{}, ErrReplayAttack
		}
		if err := store.SsoTokens().UpdateIssuedAt(ctx, token.ID, claim.IAT, lc.now); err != nil {
			return domain.User{}, fmt.Errorf("update sso token: %w", err)
		}
		if err := bumpSocialTier(ctx, store, &user, lc.info); err != nil {
			return domain.User{}, err
		}
		if lc.info.DiffersFrom(*anchor) && anchor.UserID != nil {
			if err := store.Addresses().UpdateOAuth(ctx, anchor.Address, *anchor.UserID, lc.info); err != nil {
				return domain.User{}, fmt.Errorf("update oauth info: %w", err)
			}
		}
		return user, nil
	}

	linked, err := s.linkAddresses(ctx, store, lc, &user, false)
	if err != nil {
		return domain.User{}, err
	}
	canonical, err := s.canonicalAddress(linked)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := store.SsoTokens().Create(ctx, domain.SsoToken{
		Issuer:    lc.in.Token.Issuer(),
		IssuedAt:  claim.IAT,
		AddressID: canonical.ID,
		CreatedAt: lc.now,
	}); err != nil {
		return domain.User{}, fmt.Errorf("create sso token: %w", err)
	}

	if err := s.replaceGhosts(ctx, store, lc.ghosts, linked); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("created sso token", zap.Int64("user_id", user.ID))
	return user, nil
}

func (s *SsoLoginService) addToUser(ctx context.Context, store repository.Store, lc *ssoContext) (domain.User, error) {
	user := *lc.loggedIn
	linked, err := s.linkAddresses(ctx, store, lc, &user, false)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.anchorToken(ctx, store, lc, linked); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *SsoLoginService) createNewUser(ctx context.Context, store repository.Store, lc *ssoContext) (domain.User, error) {
	issuer := lc.in.Token.Issuer()
	user, err := store.Users().Create(ctx, domain.User{
		Email:             lc.metadata.Email,
		EmailVerified:     lc.metadata.Email != nil && *lc.metadata.Email != "",
		ReferredByAddress: lc.in.ReferrerAddress,
		ExternalID:        &issuer,
		Tier:              domain.TierSocialVerified,
		CreatedAt:         lc.now,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if err := store.Profiles().Create(ctx, domain.Profile{
		UserID:    user.ID,
		Name:      lc.in.Username,
		AvatarURL: lc.in.AvatarURL,
		CreatedAt: lc.now,
	}); err != nil {
		return domain.User{}, fmt.Errorf("create profile: %w", err)
	}

	linked, err := s.linkAddresses(ctx, store, lc, &user, true)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.anchorToken(ctx, store, lc, linked); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *SsoLoginService) anchorToken(ctx context.Context, store repository.Store, lc *ssoContext, linked []domain.Address) error {
	canonical, err := s.canonicalAddress(linked)
	if err != nil {
		return err
	}
	_, err = store.SsoTokens().Create(ctx, domain.SsoToken{
		Issuer:    lc.in.Token.Issuer(),
		IssuedAt:  lc.in.Token.Claim.IAT,
		AddressID: canonical.ID,
		CreatedAt: lc.now,
	})
	if err != nil {
		return fmt.Errorf("create sso token: %w", err)
	}
	return nil
}

// linkAddresses crea o localiza cada direccion generada sobre user y emite los eventos de sign-in.
func (s *SsoLoginService) linkAddresses(ctx context.Context, store repository.Store, lc *ssoContext, user *domain.User, isNewUser bool) ([]domain.Address, error) {
	if err := bumpSocialTier(ctx, store, user, lc.info); err != nil {
		return nil, err
	}

	info := lc.info
	linked := make([]domain.Address, 0, len(lc.generated))
	for _, g := range lc.generated {
		candidates, err := store.Addresses().ListByCommunityAndAddress(ctx, g.CommunityID, g.Address)
		if err != nil {
			return nil, fmt.Errorf("list addresses: %w", err)
		}
		up, err := upsertAddress(ctx, store.Addresses(), candidates, AddressUpsertInput{
			CommunityID:  g.CommunityID,
			Address:      g.Address,
			UserID:       user.ID,
			WalletID:     domain.WalletMagic,
			Hex:          g.Hex,
			Verification: VerificationData{Token: lc.in.Token.Claim.TID},
			OAuth:        &info,
			Now:          lc.now,
		})
		if err != nil {
			return nil, err
		}

		var previous *domain.User
		if up.Transferred {
			prev, err := store.Users().GetByID(ctx, *up.PreviousOwnerID)
			if err != nil {
				return nil, fmt.Errorf("get previous owner: %w", err)
			}
			previous = &prev
			s.logger.Warn("address transferred during sso login",
				zap.String("address", g.Address),
				zap.String("community_id", g.CommunityID),
				zap.Int64("from_user_id", prev.ID),
				zap.Int64("to_user_id", user.ID),
			)
		}

		if up.Created || up.Transferred {
			community, err := s.communityFor(ctx, store, lc, g.CommunityID)
			if err != nil {
				return nil, err
			}
			if err := s.events.emit(ctx, store, community, SignInOutcome{
				User:            *user,
				NewUser:         isNewUser,
				Address:         up.Address,
				NewAddress:      up.Created,
				Transferred:     up.Transferred,
				PreviousOwner:   previous,
				ReferrerAddress: lc.in.ReferrerAddress,
			}, lc.now); err != nil {
				return nil, fmt.Errorf("emit sign-in events: %w", err)
			}
		}
		linked = append(linked, up.Address)
	}
	return linked, nil
}

// communityFor devuelve la comunidad de una direccion generada; el balance se consulta en su cadena.
func (s *SsoLoginService) communityFor(ctx context.Context, store repository.Store, lc *ssoContext, id string) (*domain.Community, error) {
	if lc.community != nil && lc.community.ID == id {
		return lc.community, nil
	}
	if c, ok := lc.communities[id]; ok {
		return c, nil
	}
	var found *domain.Community
	c, err := store.Communities().GetByID(ctx, id)
	switch {
	case err == nil:
		found = &c
	case errors.Is(err, pgx.ErrNoRows):
		s.logger.Warn("community of generated address not found", zap.String("community_id", id))
	default:
		return nil, fmt.Errorf("get community: %w", err)
	}
	if lc.communities == nil {
		lc.communities = make(map[string]*domain.Community)
	}
	lc.communities[id] = found
	return found, nil
}

// canonicalAddress devuelve la direccion de la comunidad por defecto; su ausencia es un error de programacion.
func (s *SsoLoginService) canonicalAddress(addresses []domain.Address) (domain.Address, error) {
	for _, a := range addresses {
		if a.CommunityID == s.defaultCommunity {
			return a, nil
		}
	}
	return domain.Address{}, ErrCanonicalAddressMissing
}

// replaceGhosts mueve el contenido de cada direccion fantasma a su reemplazo y la elimina.
func (s *SsoLoginService) replaceGhosts(ctx context.Context, store repository.Store, ghosts, linked []domain.Address) error {
	for _, ghost := range ghosts {
		var replacement *domain.Address
		for i := range linked {
			if !linked[i].GhostAddress && linked[i].CommunityID == ghost.CommunityID && linked[i].ID != ghost.ID {
				replacement = &linked[i]
				break
			}
		}
		if replacement == nil {
			continue
		}
		if err := store.Addresses().ReplaceGhost(ctx, ghost.ID, replacement.ID); err != nil {
			return fmt.Errorf("replace ghost address %d: %w", ghost.ID, err)
		}
		s.logger.Info("ghost address replaced",
			zap.Int64("ghost_id", ghost.ID),
			zap.Int64("replacement_id", replacement.ID),
			zap.String("community_id", ghost.CommunityID),
		)
	}
	return nil
}

// bumpSocialTier sube a SocialVerified salvo que el proveedor informe un email no verificado.
func bumpSocialTier(ctx context.Context, store repository.Store, user *domain.User, info domain.OAuthInfo) error {
	if info.Email != nil && (info.EmailVerified == nil || !*info.EmailVerified) {
		return nil
	}
	return bumpAndSave(ctx, store, user, domain.TierSocialVerified)
}

func hasCommunity(generated []generatedAddress, communityID string) bool {
	for _, g := range generated {
		if g.CommunityID == communityID {
			return true
		}
	}
	return false
}
