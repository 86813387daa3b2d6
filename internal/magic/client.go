package magic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WalletType selecciona la wallet multi-cadena cuya direccion devuelve la metadata.
type WalletType string

const (
	WalletTypeETH    WalletType = "ETH"
	WalletTypeCosmos WalletType = "COSMOS"
)

var ErrMetadataUnavailable = errors.New("magic metadata unavailable")

// Wallet es una direccion secundaria asociada al issuer.
type Wallet struct {
	Network       string     `json:"network"`
	PublicAddress string     `json:"public_address"`
	WalletType    WalletType `json:"wallet_type"`
}

// UserMetadata es la vista administrativa del usuario en el broker.
type UserMetadata struct {
	Issuer        string   `json:"issuer"`
	PublicAddress string   `json:"public_address"`
	Email         *string  `json:"email"`
	OAuthProvider *string  `json:"oauth_provider"`
	PhoneNumber   *string  `json:"phone_number"`
	Username      *string  `json:"username"`
	Wallets       []Wallet `json:"wallets"`
}

// WalletAddress devuelve la direccion del tipo pedido, si existe.
func (m UserMetadata) WalletAddress(wt WalletType) (string, bool) {
	for _, w := range m.Wallets {
		if w.WalletType == wt && w.PublicAddress != "" {
			return w.PublicAddress, true
		}
	}
	return "", false
}

// MetadataClient abstrae la API admin del broker.
type MetadataClient interface {
	UserMetadata(ctx context.Context, issuer string, walletType WalletType) (UserMetadata, error)
}

// HTTPClient implementa MetadataClient contra la API admin.
type HTTPClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewHTTPClient(baseURL, secretKey string) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.magic.link"
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) UserMetadata(ctx context.Context, issuer string, walletType WalletType) (UserMetadata, error) {
	q := url.Values{}
	q.Set("issuer", issuer)
	q.Set("wallet_type", string(walletType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/admin/auth/user/get?"+q.Encode(), nil)
	if err != nil {
		return UserMetadata{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Magic-Secret-Key", c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return UserMetadata{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UserMetadata{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return UserMetadata{}, fmt.Errorf("%w: status=%d", ErrMetadataUnavailable, resp.StatusCode)
	}

	var envelope struct {
		Data      UserMetadata `json:"data"`
		ErrorCode string       `json:"error_code"`
		Message   string       `json:"message"`
		Status    string       `json:"status"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return UserMetadata{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if envelope.Status != "" && envelope.Status != "ok" {
		return UserMetadata{}, fmt.Errorf("%w: %s %s", ErrMetadataUnavailable, envelope.ErrorCode, envelope.Message)
	}
	return envelope.Data, nil
}
