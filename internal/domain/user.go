package domain

import "time"

// Tier clasifica el nivel de confianza de un usuario.
type Tier int

const (
	TierBannedUser Tier = iota
	TierIncompleteUser
	TierNewlyVerifiedWallet
	TierVerifiedWallet
	TierSocialVerified
	TierChainVerified
	TierManuallyVerified
)

func (t Tier) String() string {
	switch t {
	case TierBannedUser:
		return "banned"
	case TierIncompleteUser:
		return "incomplete"
	case TierNewlyVerifiedWallet:
		return "newly_verified_wallet"
	case TierVerifiedWallet:
		return "verified_wallet"
	case TierSocialVerified:
		return "social_verified"
	case TierChainVerified:
		return "chain_verified"
	case TierManuallyVerified:
		return "manually_verified"
	default:
		return "unknown"
	}
}

// BumpTier devuelve el tier resultante de subir old a next. Nunca baja un tier
// y un usuario baneado sigue baneado.
func BumpTier(old, next Tier) (Tier, bool) {
	if old == TierBannedUser {
		return old, false
	}
	if next > old {
		return next, true
	}
	return old, false
}

type User struct {
	ID                  int64     `json:"id"`
	Email               *string   `json:"email,omitempty"`
	EmailVerified       bool      `json:"email_verified"`
	ReferredByAddress   *string   `json:"referred_by_address,omitempty"`
	ExternalID          *string   `json:"-"`
	Tier                Tier      `json:"tier"`
	SelectedCommunityID *string   `json:"selected_community_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (u User) IsBanned() bool {
	return u.Tier == TierBannedUser
}

// EmailOrEmpty facilita armar payloads donde el email es opcional.
func (u User) EmailOrEmpty() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// Profile es el shell de nombre visible creado junto con cada usuario nuevo.
type Profile struct {
	UserID    int64     `json:"user_id"`
	Name      *string   `json:"name,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
