package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/redis/go-redis/v9"
)

// CredentialTTL bounds how long a persisted credential is kept
const CredentialTTL = 30 * 24 * time.Hour

// CredentialStore persists the signed-in credential between runs
type CredentialStore interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	Clear(ctx context.Context) error
}

// MemoryCredentialStore keeps the credential for the life of the process
type MemoryCredentialStore struct {
	mu   sync.Mutex
	cred *models.Credential
}

// NewMemoryCredentialStore creates an empty in-process store
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load(_ context.Context) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cred
	s.cred = &c
	return nil
}

func (s *MemoryCredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

// RedisCredentialStore keeps the credential as JSON under a per-profile key
type RedisCredentialStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCredentialStore creates a store for the named profile
func NewRedisCredentialStore(client *redis.Client, profile string) *RedisCredentialStore {
	return &RedisCredentialStore{
		client: client,
		key:    "healthctl:credential:" + profile,
		ttl:    CredentialTTL,
	}
}

func (s *RedisCredentialStore) Load(ctx context.Context) (*models.Credential, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	var cred models.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &cred, nil
}

func (s *RedisCredentialStore) Save(ctx context.Context, cred *models.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
