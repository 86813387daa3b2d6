package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"commonwealth/internal/domain"
	"commonwealth/internal/magic"
	"commonwealth/internal/service"
)

// WalletAuthenticator resuelve inicios de sesion con firma de wallet.
type WalletAuthenticator interface {
	Challenge(ctx context.Context, communityID, address string) (service.SignInChallenge, error)
	SignIn(ctx context.Context, in service.SignInInput) (service.SignInResult, error)
}

// SsoAuthenticator resuelve inicios de sesion del broker SSO.
type SsoAuthenticator interface {
	Login(ctx context.Context, in service.SsoLoginInput) (service.SsoLoginResult, error)
}

// AuthHandler mantiene dependencias para endpoints de autenticacion.
type AuthHandler struct {
	logger        *zap.Logger
	wallets       WalletAuthenticator
	sso           SsoAuthenticator
	jwtServ       *service.JWTService
	limiter       service.SignInRateLimiter
	magicClientID string
	now           func() time.Time
}

// NewAuthHandler recibe el client id del broker; los DID tokens con otro aud se rechazan.
func NewAuthHandler(logger *zap.Logger, wallets WalletAuthenticator, sso SsoAuthenticator, jwtServ *service.JWTService, limiter service.SignInRateLimiter, magicClientID string) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		logger:        logger,
		wallets:       wallets,
		sso:           sso,
		jwtServ:       jwtServ,
		limiter:       limiter,
		magicClientID: magicClientID,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Challenge maneja POST /auth/challenge: devuelve el mensaje que la wallet debe firmar.
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req struct {
		CommunityID string `json:"community_id" binding:"required"`
		Address     string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid challenge request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !h.allow(strings.ToLower(req.Address)) {
		writeError(c, h.logger, "challenge", service.ErrRateLimited)
		return
	}

	ch, err := h.wallets.Challenge(c.Request.Context(), req.CommunityID, req.Address)
	if err != nil {
		writeError(c, h.logger, "challenge", err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// SignIn maneja POST /auth/signin.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req struct {
		CommunityID     string  `json:"community_id" binding:"required"`
		Address         string  `json:"address" binding:"required"`
		WalletID        string  `json:"wallet_id" binding:"required"`
		Signature       string  `json:"signature"`
		Message         string  `json:"message"`
		ReferrerAddress *string `json:"referrer_address"`
		BlockInfo       *string `json:"block_info"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signin request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !h.allow(strings.ToLower(req.Address)) {
		writeError(c, h.logger, "signin", service.ErrRateLimited)
		return
	}

	res, err := h.wallets.SignIn(c.Request.Context(), service.SignInInput{
		CommunityID:     req.CommunityID,
		Address:         req.Address,
		WalletID:        domain.WalletID(req.WalletID),
		Signature:       req.Signature,
		Message:         req.Message,
		ReferrerAddress: req.ReferrerAddress,
		BlockInfo:       req.BlockInfo,
		SignedInUserID:  signedInUserID(c),
	})
	if err != nil {
		writeError(c, h.logger, "signin", err)
		return
	}

	tokens, err := h.issueTokens(res.User)
	if err != nil {
		h.logger.Error("jwt issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":             res.User,
		"address":          res.Address,
		"new_user":         res.NewUser,
		"new_address":      res.NewAddress,
		"address_count":    res.AddressCount,
		"transferred_user": res.TransferredUser,
		"tokens":           tokens,
	})
}

// Sso maneja POST /auth/sso.
func (h *AuthHandler) Sso(c *gin.Context) {
	var req struct {
		DIDToken        string  `json:"did_token" binding:"required"`
		CommunityID     string  `json:"community_id"`
		MagicAddress    string  `json:"magic_address"`
		WalletSsoSource string  `json:"wallet_sso_source" binding:"required"`
		AccessToken     string  `json:"access_token"`
		Username        *string `json:"username"`
		AvatarURL       *string `json:"avatar_url"`
		ReferrerAddress *string `json:"referrer_address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid sso request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, err := magic.ParseDIDToken(req.DIDToken)
	if err != nil {
		h.logger.Warn("malformed did token", zap.Error(err))
		writeError(c, h.logger, "sso", err)
		return
	}
	if err := token.Validate(h.now(), h.magicClientID); err != nil {
		h.logger.Info("did token rejected", zap.String("issuer", token.Issuer()), zap.Error(err))
		writeError(c, h.logger, "sso", err)
		return
	}
	if !h.allow(token.Issuer()) {
		writeError(c, h.logger, "sso", service.ErrRateLimited)
		return
	}

	res, err := h.sso.Login(c.Request.Context(), service.SsoLoginInput{
		Token:           token,
		CommunityID:     req.CommunityID,
		MagicAddress:    req.MagicAddress,
		WalletSsoSource: domain.SsoSource(req.WalletSsoSource),
		AccessToken:     req.AccessToken,
		Username:        req.Username,
		AvatarURL:       req.AvatarURL,
		ReferrerAddress: req.ReferrerAddress,
		LoggedInUserID:  signedInUserID(c),
	})
	if err != nil {
		writeError(c, h.logger, "sso login", err)
		return
	}

	tokens, err := h.issueTokens(res.User)
	if err != nil {
		h.logger.Error("jwt issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":     res.User,
		"new_user": res.NewUser,
		"case":     res.Case.String(),
		"tokens":   tokens,
	})
}

// RefreshToken maneja POST /auth/refresh.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if h.jwtServ == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
		return
	}
	tokens, err := h.jwtServ.RefreshPair(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid logout request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if h.jwtServ == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
		return
	}
	_ = h.jwtServ.RevokeRefresh(req.RefreshToken)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) allow(key string) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(key)
}

func (h *AuthHandler) issueTokens(user domain.User) (service.TokenPair, error) {
	if h.jwtServ == nil {
		return service.TokenPair{}, errors.New("jwt not configured")
	}
	return h.jwtServ.GeneratePair(user)
}
