package identity

import (
	"context"
	"testing"

	"github.com/benvon/wellness-tracker/internal/models"
)

func TestMemoryCredentialStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryCredentialStore()

	got, err := s.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("Load() on empty store = %v, %v", got, err)
	}

	cred := &models.Credential{User: models.User{ID: "uid-1"}, IDToken: "a"}
	if err := s.Save(ctx, cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cred.IDToken = "mutated"

	got, _ = s.Load(ctx)
	if got == nil || got.IDToken != "a" {
		t.Fatalf("Load() = %+v, want stored copy", got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got, _ := s.Load(ctx); got != nil {
		t.Errorf("Load() after Clear = %+v", got)
	}
}

func TestRedisCredentialStoreKey(t *testing.T) {
	t.Parallel()

	s := NewRedisCredentialStore(nil, "work")
	if s.key != "healthctl:credential:work" {
		t.Errorf("key = %q", s.key)
	}
	if s.ttl != CredentialTTL {
		t.Errorf("ttl = %v, want %v", s.ttl, CredentialTTL)
	}
}
