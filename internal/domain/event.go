package domain

import (
	"encoding/json"
	"time"
)

// Nombres de eventos publicados en el outbox.
const (
	EventCommunityJoined             = "CommunityJoined"
	EventWalletLinked                = "WalletLinked"
	EventSSOLinked                   = "SSOLinked"
	EventUserCreated                 = "UserCreated"
	EventAddressOwnershipTransferred = "AddressOwnershipTransferred"
)

// OutboxEvent es el registro inmutable que consume el relay.
type OutboxEvent struct {
	ID        int64           `json:"event_id"`
	Name      string          `json:"event_name"`
	Payload   json.RawMessage `json:"event_payload"`
	Relayed   bool            `json:"relayed"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewOutboxEvent serializa el payload con el nombre dado.
func NewOutboxEvent(name string, payload any) (OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{Name: name, Payload: raw}, nil
}

type CommunityJoined struct {
	CommunityID     string     `json:"community_id"`
	UserID          int64      `json:"user_id"`
	OAuthProvider   *SsoSource `json:"oauth_provider,omitempty"`
	ReferrerAddress *string    `json:"referrer_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type WalletLinked struct {
	UserID      int64     `json:"user_id"`
	NewUser     bool      `json:"new_user"`
	WalletID    WalletID  `json:"wallet_id"`
	CommunityID string    `json:"community_id"`
	Balance     string    `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

type SSOLinked struct {
	UserID        int64     `json:"user_id"`
	NewUser       bool      `json:"new_user"`
	OAuthProvider SsoSource `json:"oauth_provider"`
	CommunityID   string    `json:"community_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type UserCreated struct {
	CommunityID     string    `json:"community_id"`
	Address         string    `json:"address"`
	UserID          int64     `json:"user_id"`
	ReferrerAddress *string   `json:"referrer_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type AddressOwnershipTransferred struct {
	CommunityID  string    `json:"community_id"`
	Address      string    `json:"address"`
	UserID       int64     `json:"user_id"`
	OldUserID    int64     `json:"old_user_id"`
	OldUserEmail *string   `json:"old_user_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
