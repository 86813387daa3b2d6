package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrChallengeUnknown = errors.New("sign-in challenge unknown, expired or already used")

const (
	challengeTitle     = "Sign in to Commonwealth"
	challengeCommunity = "Community: "
	challengeAddress   = "Address: "
	challengeNonce     = "Nonce: "
)

// SignInChallenge es el mensaje que la wallet debe firmar; cada nonce sirve una sola vez.
type SignInChallenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

func challengeMessage(communityID, address, nonce string, issued time.Time) string {
	return strings.Join([]string{
		challengeTitle,
		"",
		challengeCommunity + communityID,
		challengeAddress + address,
		challengeNonce + nonce,
		"Issued At: " + issued.UTC().Format(time.RFC3339),
	}, "\n")
}

// challengeField devuelve el valor de la primera linea "<prefix><valor>" del mensaje; "" si no esta.
func challengeField(message, prefix string) string {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

// ChallengeStore guarda el mensaje emitido por nonce. Consume lo devuelve y lo elimina
// de forma atomica.
type ChallengeStore interface {
	Save(ctx context.Context, nonce, message string, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (string, error)
}

type challengeEntry struct {
	message string
	expires time.Time
}

type memoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	now     func() time.Time
}

func NewMemoryChallengeStore() ChallengeStore {
	return &memoryChallengeStore{
		entries: make(map[string]challengeEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryChallengeStore) Save(_ context.Context, nonce, message string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[nonce] = challengeEntry{message: message, expires: now.Add(ttl)}
	return nil
}

func (s *memoryChallengeStore) Consume(_ context.Context, nonce string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[nonce]
	if !ok {
		return "", ErrChallengeUnknown
	}
	delete(s.entries, nonce)
	if s.now().After(entry.expires) {
		return "", ErrChallengeUnknown
	}
	return entry.message, nil
}

type redisChallengeClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

type redisChallengeStore struct {
	client  redisChallengeClient
	prefix  string
	timeout time.Duration
}

func NewRedisChallengeStore(client *redis.Client) ChallengeStore {
	if client == nil {
		return nil
	}
	return &redisChallengeStore{
		client:  client,
		prefix:  "cw:signin-challenge:",
		timeout: 500 * time.Millisecond,
	}
}

func (s *redisChallengeStore) Save(ctx context.Context, nonce, message string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+nonce, message, ttl).Err(); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *redisChallengeStore) Consume(ctx context.Context, nonce string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	message, err := s.client.GetDel(ctx, s.prefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrChallengeUnknown
	}
	if err != nil {
		return "", fmt.Errorf("consume challenge: %w", err)
	}
	return message, nil
}
