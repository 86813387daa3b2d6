package magic

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"commonwealth/internal/chain"
)

var (
	ErrMalformedToken    = errors.New("malformed did token")
	ErrTokenExpired      = errors.New("did token expired")
	ErrTokenNotYetValid  = errors.New("did token used before nbf")
	ErrSignatureMismatch = errors.New("did token signature does not match issuer")
	ErrAudienceMismatch  = errors.New("did token audience does not match client id")
)

const (
	issuerPrefix = "did:ethr:"
	nbfLeeway    = 5 * time.Minute
)

// Claim es el cuerpo firmado de un DID token.
type Claim struct {
	IAT int64  `json:"iat"`
	EXT int64  `json:"ext"`
	ISS string `json:"iss"`
	SUB string `json:"sub"`
	AUD string `json:"aud"`
	NBF int64  `json:"nbf"`
	TID string `json:"tid"`
	ADD string `json:"add"`
}

// DIDToken es el token decodificado: la prueba (firma personal_sign) y el claim crudo.
type DIDToken struct {
	Proof    string
	RawClaim string
	Claim    Claim
}

// ParseDIDToken decodifica base64(JSON [proof, claim]).
func ParseDIDToken(raw string) (DIDToken, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimSpace(raw))
		if err != nil {
			return DIDToken{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	var parts []string
	if err := json.Unmarshal(decoded, &parts); err != nil || len(parts) != 2 {
		return DIDToken{}, ErrMalformedToken
	}

	var claim Claim
	if err := json.Unmarshal([]byte(parts[1]), &claim); err != nil {
		return DIDToken{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claim.TID == "" || !strings.HasPrefix(claim.ISS, issuerPrefix) {
		return DIDToken{}, ErrMalformedToken
	}
	if !common.IsHexAddress(strings.TrimPrefix(claim.ISS, issuerPrefix)) {
		return DIDToken{}, ErrMalformedToken
	}

	return DIDToken{Proof: parts[0], RawClaim: parts[1], Claim: claim}, nil
}

// Issuer devuelve el DID del emisor (did:ethr:0x...).
func (t DIDToken) Issuer() string {
	return t.Claim.ISS
}

// PublicAddress es la direccion canonica del usuario, derivada del issuer.
func (t DIDToken) PublicAddress() string {
	return common.HexToAddress(strings.TrimPrefix(t.Claim.ISS, issuerPrefix)).Hex()
}

// Validate verifica la firma del claim, su ventana temporal y que fue emitido para clientID.
// Un clientID vacio rechaza todo token.
func (t DIDToken) Validate(now time.Time, clientID string) error {
	signer, err := chain.RecoverPersonalSigner([]byte(t.RawClaim), t.Proof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if signer.Hex() != t.PublicAddress() {
		return ErrSignatureMismatch
	}
	if now.Unix() > t.Claim.EXT {
		return ErrTokenExpired
	}
	if now.Add(nbfLeeway).Unix() < t.Claim.NBF {
		return ErrTokenNotYetValid
	}
	if clientID == "" || t.Claim.AUD != clientID {
		return fmt.Errorf("%w: %q", ErrAudienceMismatch, t.Claim.AUD)
	}
	return nil
}
