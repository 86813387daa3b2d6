package domain

import "time"

type WalletID string

const (
	WalletMagic         WalletID = "magic"
	WalletMetamask      WalletID = "metamask"
	WalletConnect       WalletID = "walletconnect"
	WalletCoinbase      WalletID = "coinbase"
	WalletKeplr         WalletID = "keplr"
	WalletLeap          WalletID = "leap"
	WalletCosmStation   WalletID = "cosm-station"
	WalletKeplrEthereum WalletID = "keplr-ethereum"
	WalletPhantom       WalletID = "phantom"
	WalletPolkadot      WalletID = "polkadot"
	WalletNear          WalletID = "near"
)

var knownWallets = map[WalletID]struct{}{
	WalletMagic: {}, WalletMetamask: {}, WalletConnect: {}, WalletCoinbase: {},
	WalletKeplr: {}, WalletLeap: {}, WalletCosmStation: {}, WalletKeplrEthereum: {},
	WalletPhantom: {}, WalletPolkadot: {}, WalletNear: {},
}

func (w WalletID) Valid() bool {
	_, ok := knownWallets[w]
	return ok
}

// SsoSource identifica el proveedor OAuth/SSO detras de una direccion.
type SsoSource string

const (
	SsoGoogle    SsoSource = "google"
	SsoGithub    SsoSource = "github"
	SsoDiscord   SsoSource = "discord"
	SsoTwitter   SsoSource = "twitter"
	SsoApple     SsoSource = "apple"
	SsoEmail     SsoSource = "email"
	SsoSMS       SsoSource = "SMS"
	SsoFarcaster SsoSource = "farcaster"
	SsoUnknown   SsoSource = "unknown"
)

const RoleMember = "member"

// Address vincula una direccion de cadena a un usuario dentro de una comunidad.
type Address struct {
	ID                       int64      `json:"id"`
	Address                  string     `json:"address"`
	CommunityID              string     `json:"community_id"`
	UserID                   *int64     `json:"user_id,omitempty"`
	WalletID                 WalletID   `json:"wallet_id,omitempty"`
	Hex                      *string    `json:"hex,omitempty"`
	VerificationToken        string     `json:"-"`
	VerificationTokenExpires *time.Time `json:"-"`
	Verified                 *time.Time `json:"verified,omitempty"`
	LastActive               *time.Time `json:"last_active,omitempty"`
	Role                     string     `json:"role"`
	GhostAddress             bool       `json:"ghost_address"`
	IsBanned                 bool       `json:"is_banned"`
	BlockInfo                *string    `json:"block_info,omitempty"`
	OAuthProvider            *SsoSource `json:"oauth_provider,omitempty"`
	OAuthEmail               *string    `json:"oauth_email,omitempty"`
	OAuthEmailVerified       *bool      `json:"oauth_email_verified,omitempty"`
	OAuthUsername            *string    `json:"oauth_username,omitempty"`
	OAuthPhoneNumber         *string    `json:"oauth_phone_number,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// OwnedBy indica si la direccion pertenece al usuario dado.
func (a Address) OwnedBy(userID int64) bool {
	return a.UserID != nil && *a.UserID == userID
}

// OAuthInfo agrupa los campos OAuth que se copian a cada direccion.
type OAuthInfo struct {
	Provider      *SsoSource
	Email         *string
	EmailVerified *bool
	Username      *string
	PhoneNumber   *string
}

// DiffersFrom indica si algun campo informado no coincide con lo guardado en la direccion.
func (o OAuthInfo) DiffersFrom(a Address) bool {
	if o.Provider != nil && !eqPtr(a.OAuthProvider, o.Provider) {
		return true
	}
	if o.Email != nil && !eqPtr(a.OAuthEmail, o.Email) {
		return true
	}
	if o.Username != nil && !eqPtr(a.OAuthUsername, o.Username) {
		return true
	}
	if o.PhoneNumber != nil && !eqPtr(a.OAuthPhoneNumber, o.PhoneNumber) {
		return true
	}
	if o.EmailVerified != nil && !eqPtr(a.OAuthEmailVerified, o.EmailVerified) {
		return true
	}
	return false
}

// Apply copia la informacion OAuth sobre la direccion.
func (o OAuthInfo) Apply(a *Address) {
	a.OAuthProvider = o.Provider
	a.OAuthEmail = o.Email
	a.OAuthEmailVerified = o.EmailVerified
	a.OAuthUsername = o.Username
	a.OAuthPhoneNumber = o.PhoneNumber
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SsoToken ancla la sesion del proveedor SSO a la direccion canonica de un usuario.
type SsoToken struct {
	ID        int64     `json:"id"`
	Issuer    string    `json:"issuer"`
	IssuedAt  int64     `json:"issued_at"`
	AddressID int64     `json:"address_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
