package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"commonwealth/internal/magic"
	"commonwealth/internal/repository"
	"commonwealth/internal/service"
)

// statusFor traduce errores de dominio a status HTTP; lo desconocido es 500.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrCommunityNotFound):
		return http.StatusNotFound, "community not found"
	case errors.Is(err, service.ErrUserBanned):
		return http.StatusForbidden, "user is banned"
	case errors.Is(err, service.ErrReplayAttack):
		return http.StatusUnauthorized, "replay attack detected"
	case errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, magic.ErrSignatureMismatch):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, magic.ErrTokenExpired),
		errors.Is(err, magic.ErrTokenNotYetValid):
		return http.StatusUnauthorized, "token expired or not yet valid"
	case errors.Is(err, magic.ErrAudienceMismatch):
		return http.StatusUnauthorized, "token issued for another application"
	case errors.Is(err, service.ErrLoginNotVerified):
		return http.StatusUnauthorized, "could not verify login"
	case errors.Is(err, service.ErrCouldNotVerifyUser):
		return http.StatusUnauthorized, "could not verify user"
	case errors.Is(err, repository.ErrDuplicateAddress):
		return http.StatusConflict, "address already exists"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrInvalidWallet),
		errors.Is(err, service.ErrUnsupportedChain),
		errors.Is(err, magic.ErrMalformedToken):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}
