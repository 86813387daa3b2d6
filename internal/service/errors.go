package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvariantViolation = errors.New("invariant violation")

	ErrCanonicalAddressMissing = fmt.Errorf("%w: could not find canonical address", ErrInvariantViolation)
	ErrMixedOwnership          = fmt.Errorf("%w: candidate addresses have mixed owners", ErrInvariantViolation)
	ErrMultipleOwners          = fmt.Errorf("%w: identity resolves to multiple users", ErrInvariantViolation)

	ErrReplayAttack       = errors.New("replay attack detected")
	ErrCommunityNotFound  = errors.New("community does not exist")
	ErrUserBanned         = errors.New("user is banned")
	ErrLoginNotVerified   = errors.New("could not verify login")
	ErrCouldNotVerifyUser = errors.New("could not verify user")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidWallet      = errors.New("invalid wallet id")
	ErrRateLimited        = errors.New("too many sign-in attempts")
	ErrUnsupportedChain   = errors.New("wallet sign-in not supported for chain base")
)
