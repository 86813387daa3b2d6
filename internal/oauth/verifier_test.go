package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"commonwealth/internal/domain"
	"commonwealth/internal/magic"
)

func strp(s string) *string { return &s }

func TestRegistryUnsupportedProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Verify(context.Background(), Request{Source: domain.SsoSource("myspace")})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestRegistryEmailAndSMSFromMetadata(t *testing.T) {
	r := NewRegistry()

	info, err := r.Verify(context.Background(), Request{
		Source:   domain.SsoEmail,
		Metadata: magic.UserMetadata{Email: strp("a@b.co")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Provider != domain.SsoEmail || info.Email == nil || *info.Email != "a@b.co" || !info.EmailVerified {
		t.Fatalf("unexpected info %+v", info)
	}

	info, err = r.Verify(context.Background(), Request{
		Source:   domain.SsoSMS,
		Metadata: magic.UserMetadata{PhoneNumber: strp("+15550001")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PhoneNumber == nil || *info.PhoneNumber != "+15550001" {
		t.Fatalf("unexpected phone %+v", info.PhoneNumber)
	}

	if _, err := r.Verify(context.Background(), Request{Source: domain.SsoSMS}); !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("expected ErrIncompleteIdentity, got %v", err)
	}
}

func TestOAuthInfoOmitsEmailVerifiedWithoutEmail(t *testing.T) {
	info := VerifiedUserInfo{Provider: domain.SsoTwitter, Username: strp("alice"), EmailVerified: true}.OAuthInfo()
	if info.EmailVerified != nil {
		t.Fatalf("expected nil email_verified without email")
	}
	if info.Provider == nil || *info.Provider != domain.SsoTwitter {
		t.Fatalf("unexpected provider")
	}
}

func TestDiscordVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"username":"alice","email":"alice@example.com","verified":true}`))
	}))
	defer srv.Close()

	r := NewRegistry()
	r.Register(domain.SsoDiscord, NewDiscordVerifier(srv.URL))

	info, err := r.Verify(context.Background(), Request{Source: domain.SsoDiscord, AccessToken: "tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *info.Username != "alice" || *info.Email != "alice@example.com" || !info.EmailVerified {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := r.Verify(context.Background(), Request{Source: domain.SsoDiscord, AccessToken: "bad"}); err == nil {
		t.Fatalf("expected error for rejected token")
	}
	if _, err := r.Verify(context.Background(), Request{Source: domain.SsoDiscord}); !errors.Is(err, ErrMissingAccessToken) {
		t.Fatalf("expected ErrMissingAccessToken, got %v", err)
	}
}

func TestGitHubVerifierWithoutEmailScope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	info, err := NewGitHubVerifier(srv.URL).Verify(context.Background(), Request{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *info.Username != "octocat" || info.Email != nil {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestFarcasterVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fid") != "3" {
			t.Fatalf("unexpected fid %s", r.URL.Query().Get("fid"))
		}
		_, _ = w.Write([]byte(`{"result":{"user":{"username":"dwr"}}}`))
	}))
	defer srv.Close()

	info, err := NewFarcasterVerifier(srv.URL).Verify(context.Background(), Request{AccessToken: "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *info.Username != "dwr" {
		t.Fatalf("unexpected username %s", *info.Username)
	}
}

func TestGoogleVerifierUserInfo(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/auth",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"1","email":"g@example.com","email_verified":true}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	v, err := NewGoogleVerifier(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected provider error: %v", err)
	}
	info, err := v.Verify(context.Background(), Request{AccessToken: "access"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *info.Email != "g@example.com" || !info.EmailVerified {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestAppleVerifierIDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	const issuer = "https://appleid.apple.com"
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := NewAppleVerifierWith(oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: "app.commonwealth"}))

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            issuer,
		"aud":            "app.commonwealth",
		"sub":            "001",
		"email":          "apple@example.com",
		"email_verified": "true",
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	info, err := v.Verify(context.Background(), Request{AccessToken: signed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *info.Email != "apple@example.com" || !info.EmailVerified {
		t.Fatalf("unexpected info %+v", info)
	}

	wrongAud := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": issuer, "aud": "someone.else", "sub": "001", "email": "x@y.z",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, _ = wrongAud.SignedString(key)
	if _, err := v.Verify(context.Background(), Request{AccessToken: signed}); err == nil {
		t.Fatalf("expected audience mismatch error")
	}
}
