package models

import (
	"time"
)

// SessionStatus is the authentication status of the running client
type SessionStatus string

const (
	// SessionUnknown is the status before the provider reported anything
	SessionUnknown SessionStatus = "unknown"
	// SessionAuthenticated means a user is signed in
	SessionAuthenticated SessionStatus = "authenticated"
	// SessionAnonymous means nobody is signed in
	SessionAnonymous SessionStatus = "anonymous"
)

// Session is the process-local projection of the provider's auth state.
// User is set only when Status is SessionAuthenticated.
type Session struct {
	Status SessionStatus `json:"status"`
	User   *User         `json:"user,omitempty"`
}

// UnknownSession returns the initial session value
func UnknownSession() Session {
	return Session{Status: SessionUnknown}
}

// AnonymousSession returns a signed-out session
func AnonymousSession() Session {
	return Session{Status: SessionAnonymous}
}

// AuthenticatedSession returns a session for the given user
func AuthenticatedSession(user User) Session {
	return Session{Status: SessionAuthenticated, User: &user}
}

// IsAuthenticated reports whether a user is signed in
func (s Session) IsAuthenticated() bool {
	return s.Status == SessionAuthenticated && s.User != nil
}

// UserID returns the signed-in user's id or "" when anonymous
func (s Session) UserID() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.User.ID
}

// Credential is the opaque credential issued by the identity provider.
type Credential struct {
	User         User      `json:"user"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the ID token is past its expiry
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}
