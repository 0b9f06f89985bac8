// Package identity talks to the identity provider: password sign-in,
// account creation, profile updates, password reset codes and the
// provider's own session-change notifications.
package identity

import (
	"context"

	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
)

// Event is a provider-side session change. User is nil when signed out.
// Seq increases with every change a Sequencer emits; zero means unsequenced.
type Event struct {
	User *models.User
	Seq  uint64
}

// SignedIn reports whether the event carries a user
func (e Event) SignedIn() bool {
	return e.User != nil
}

// Provider is the identity provider contract
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*models.Credential, error)
	CreateAccount(ctx context.Context, email, password string) (*models.Credential, error)
	UpdateProfile(ctx context.Context, cred *models.Credential, displayName string) error
	SignOut(ctx context.Context) error
	// WatchSession delivers session changes in the order the provider emits them.
	WatchSession() *notify.Subscription[Event]
	SendResetLink(ctx context.Context, email, returnURL string) error
	// ValidateResetToken returns the email the reset code was issued for.
	ValidateResetToken(ctx context.Context, token string) (string, error)
	ConsumeResetToken(ctx context.Context, token, newPassword string) error
}

// Restorer is implemented by providers that persist credentials across
// process restarts. Restore emits the first session event.
type Restorer interface {
	Restore(ctx context.Context) error
}

// Sequencer is implemented by providers that number their session events.
// SessionSeq returns the Seq of the latest event emitted.
type Sequencer interface {
	SessionSeq() uint64
}

// TokenVerifier validates an ID token before it is trusted
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*models.IDTokenClaims, error)
}
