package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"commonwealth/internal/domain"
	"commonwealth/internal/magic"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	ErrMissingAccessToken  = errors.New("missing provider access token")
	ErrIncompleteIdentity  = errors.New("provider returned no usable identity")
)

// VerifiedUserInfo es la identidad normalizada que devuelve cada proveedor.
type VerifiedUserInfo struct {
	Provider      domain.SsoSource
	Email         *string
	EmailVerified bool
	PhoneNumber   *string
	Username      *string
}

// OAuthInfo proyecta la identidad verificada sobre los campos oauth_* de una direccion.
// email_verified solo se informa cuando hay email.
func (v VerifiedUserInfo) OAuthInfo() domain.OAuthInfo {
	provider := v.Provider
	info := domain.OAuthInfo{
		Provider:    &provider,
		Email:       nonEmpty(v.Email),
		Username:    nonEmpty(v.Username),
		PhoneNumber: nonEmpty(v.PhoneNumber),
	}
	if info.Email != nil {
		verified := v.EmailVerified
		info.EmailVerified = &verified
	}
	return info
}

// Request agrupa lo que recibe un verificador.
type Request struct {
	Source      domain.SsoSource
	AccessToken string
	Metadata    magic.UserMetadata
}

type Verifier interface {
	Verify(ctx context.Context, req Request) (VerifiedUserInfo, error)
}

// VerifierFunc adapta una funcion a Verifier.
type VerifierFunc func(ctx context.Context, req Request) (VerifiedUserInfo, error)

func (f VerifierFunc) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	return f(ctx, req)
}

// Registry despacha la verificacion segun el proveedor declarado.
type Registry struct {
	verifiers map[domain.SsoSource]Verifier
}

func NewRegistry() *Registry {
	r := &Registry{verifiers: make(map[domain.SsoSource]Verifier)}
	r.Register(domain.SsoEmail, VerifierFunc(verifyEmail))
	r.Register(domain.SsoSMS, VerifierFunc(verifySMS))
	return r
}

func (r *Registry) Register(source domain.SsoSource, v Verifier) {
	r.verifiers[source] = v
}

func (r *Registry) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	v, ok := r.verifiers[req.Source]
	if !ok {
		return VerifiedUserInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, req.Source)
	}
	info, err := v.Verify(ctx, req)
	if err != nil {
		return VerifiedUserInfo{}, err
	}
	info.Provider = req.Source
	return info, nil
}

func verifyEmail(_ context.Context, req Request) (VerifiedUserInfo, error) {
	if req.Metadata.Email == nil || *req.Metadata.Email == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{Email: req.Metadata.Email, EmailVerified: true}, nil
}

func verifySMS(_ context.Context, req Request) (VerifiedUserInfo, error) {
	if req.Metadata.PhoneNumber == nil || *req.Metadata.PhoneNumber == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{PhoneNumber: req.Metadata.PhoneNumber}, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// apiClient es el cliente comun para las APIs REST de los proveedores.
type apiClient struct {
	client *http.Client
}

func newAPIClient() apiClient {
	return apiClient{client: &http.Client{Timeout: 10 * time.Second}}
}

func (c apiClient) getJSON(ctx context.Context, url, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider http error: status=%d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func trimBase(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}
