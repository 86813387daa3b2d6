package oauth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleVerifier consulta el endpoint UserInfo descubierto por OIDC con el access token.
type GoogleVerifier struct {
	provider *oidc.Provider
}

func NewGoogleVerifier(ctx context.Context, issuer string) (*GoogleVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &GoogleVerifier{provider: provider}, nil
}

func (v *GoogleVerifier) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	if req.AccessToken == "" {
		return VerifiedUserInfo{}, ErrMissingAccessToken
	}
	ui, err := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: req.AccessToken}))
	if err != nil {
		return VerifiedUserInfo{}, fmt.Errorf("userinfo: %w", err)
	}
	if ui.Email == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{Email: strPtr(ui.Email), EmailVerified: ui.EmailVerified}, nil
}

// AppleVerifier valida el id_token de Sign in with Apple.
type AppleVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewAppleVerifier(ctx context.Context, issuer, clientID string) (*AppleVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &AppleVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewAppleVerifierWith permite inyectar un IDTokenVerifier ya construido.
func NewAppleVerifierWith(verifier *oidc.IDTokenVerifier) *AppleVerifier {
	return &AppleVerifier{verifier: verifier}
}

func (v *AppleVerifier) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	if req.AccessToken == "" {
		return VerifiedUserInfo{}, ErrMissingAccessToken
	}
	idToken, err := v.verifier.Verify(ctx, req.AccessToken)
	if err != nil {
		return VerifiedUserInfo{}, fmt.Errorf("verify id token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified any    `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return VerifiedUserInfo{}, fmt.Errorf("extract claims: %w", err)
	}
	if claims.Email == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{Email: strPtr(claims.Email), EmailVerified: truthy(claims.EmailVerified)}, nil
}

// Apple envia email_verified como bool o como string.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}
