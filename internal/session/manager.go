// Package session owns the client's authentication state. It wraps the
// identity provider's sign-in, sign-up and sign-out calls and relays the
// provider's own session changes to subscribers in receipt order.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/identity"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
	"github.com/benvon/wellness-tracker/internal/validation"
	"go.uber.org/zap"
)

// Signup stages that can fail after the account exists
const (
	StageDisplayName     = "display_name"
	StageProfileDocument = "profile_document"
)

// SignupResult is the two-phase outcome of Signup. When AccountCreated is
// true the session is authenticated even if ProfilePersisted is false.
type SignupResult struct {
	Session          models.Session
	AccountCreated   bool
	ProfilePersisted bool
	// Warning is a *errs.ProfileWarning when a post-creation step failed
	Warning error
}

// Manager holds the single Session of the running client
type Manager struct {
	provider identity.Provider
	users    docstore.UserStore
	logger   *zap.Logger
	hub      *notify.Hub[models.Session]

	mu      sync.Mutex
	current models.Session
	watch   *notify.Subscription[identity.Event]
	relayed chan struct{}
}

// NewManager creates a manager in the Unknown state
func NewManager(provider identity.Provider, users docstore.UserStore, log *zap.Logger) *Manager {
	return &Manager{
		provider: provider,
		users:    users,
		logger:   logger.OrNop(log),
		hub:      notify.NewHub[models.Session](),
		current:  models.UnknownSession(),
	}
}

// Start begins relaying provider session events. When the provider can
// restore a persisted credential, Restore produces the first event.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.watch != nil {
		m.mu.Unlock()
		return nil
	}
	sub := m.provider.WatchSession()
	relayed := make(chan struct{})
	m.watch = sub
	m.relayed = relayed
	m.mu.Unlock()

	go m.relay(sub, relayed)

	if r, ok := m.provider.(identity.Restorer); ok {
		if err := r.Restore(ctx); err != nil {
			m.logger.Warn("session_restore_failed", zap.Error(err))
			return errs.ClassifyAuth(err)
		}
	}
	return nil
}

// Stop ends the provider relay. Subscribers stay registered.
func (m *Manager) Stop() {
	m.mu.Lock()
	sub, relayed := m.watch, m.relayed
	m.watch, m.relayed = nil, nil
	m.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Unsubscribe()
	<-relayed
}

func (m *Manager) relay(sub *notify.Subscription[identity.Event], relayed chan struct{}) {
	defer close(relayed)
	seq, _ := m.provider.(identity.Sequencer)
	for ev := range sub.C() {
		next := models.AnonymousSession()
		if ev.User != nil {
			next = models.AuthenticatedSession(*ev.User)
		}
		m.applyIf(next, "provider", func() bool { return !superseded(seq, ev) })
	}
}

// superseded reports whether the provider emitted a newer event than ev.
// Local transitions already reflect that newer state, and the newer event
// itself is still queued behind ev.
func superseded(seq identity.Sequencer, ev identity.Event) bool {
	return seq != nil && ev.Seq != 0 && ev.Seq < seq.SessionSeq()
}

// apply replaces the current session and notifies subscribers when it changed.
// Unknown is never re-entered.
func (m *Manager) apply(next models.Session, source string) {
	m.applyIf(next, source, nil)
}

// applyIf is apply guarded by ok, which is evaluated under the session lock
func (m *Manager) applyIf(next models.Session, source string, ok func() bool) {
	if next.Status == models.SessionUnknown {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok != nil && !ok() {
		m.logger.Debug("session_event_superseded", zap.String("source", source))
		return
	}
	if sameSession(m.current, next) {
		return
	}
	prev := m.current.Status
	m.current = next
	m.hub.Publish(next)

	m.logger.Info("session_changed",
		zap.String("source", source),
		zap.String("from", string(prev)),
		zap.String("to", string(next.Status)),
		zap.String("user_id", logger.SanitizeUserID(next.UserID())),
	)
}

func sameSession(a, b models.Session) bool {
	if a.Status != b.Status {
		return false
	}
	if a.User == nil || b.User == nil {
		return a.User == nil && b.User == nil
	}
	return a.User.ID == b.User.ID && a.User.DisplayName == b.User.DisplayName
}

// Session returns the current session
func (m *Manager) Session() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers for session changes. The current session is
// delivered first; Unsubscribe stops delivery deterministically.
func (m *Manager) Subscribe() *notify.Subscription[models.Session] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub.SubscribeWith(m.current)
}

// Login checks the credentials with the provider. On failure the session is unchanged.
func (m *Manager) Login(ctx context.Context, email, password string) (models.Session, error) {
	email = strings.TrimSpace(email)
	cred, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.logger.Info("login_failed",
			zap.String("email", logger.SanitizeEmail(email)),
			zap.String("reason", logger.SanitizeError(err)),
		)
		return m.Session(), errs.ClassifyAuth(err)
	}

	session := models.AuthenticatedSession(cred.User)
	m.apply(session, "login")
	return session, nil
}

// Signup creates the provider account, sets its display name and writes
// the profile document. Failures after account creation do not undo the
// sign-in; they are reported in SignupResult.Warning.
func (m *Manager) Signup(ctx context.Context, email, password, displayName string) (*SignupResult, error) {
	email = strings.TrimSpace(email)
	displayName = validation.SanitizeText(displayName)
	if err := validation.ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	cred, err := m.provider.CreateAccount(ctx, email, password)
	if err != nil {
		m.logger.Info("signup_failed",
			zap.String("email", logger.SanitizeEmail(email)),
			zap.String("reason", logger.SanitizeError(err)),
		)
		return nil, errs.ClassifyAuth(err)
	}

	result := &SignupResult{AccountCreated: true}
	user := cred.User
	user.DisplayName = displayName

	var failures []error
	stage := ""
	if err := m.provider.UpdateProfile(ctx, cred, displayName); err != nil {
		failures = append(failures, err)
		stage = StageDisplayName
	}

	profile := &models.User{ID: user.ID, Email: user.Email, DisplayName: displayName}
	if m.users == nil {
		failures = append(failures, errors.New("no profile store configured"))
		stage = StageProfileDocument
	} else if err := m.users.CreateUser(ctx, profile); err != nil {
		failures = append(failures, err)
		stage = StageProfileDocument
	} else {
		result.ProfilePersisted = true
		user.CreatedAt = profile.CreatedAt
	}

	if len(failures) > 0 {
		result.Warning = &errs.ProfileWarning{UserID: user.ID, Stage: stage, Err: errors.Join(failures...)}
		m.logger.Warn("signup_profile_incomplete",
			zap.String("user_id", logger.SanitizeUserID(user.ID)),
			zap.String("stage", stage),
			zap.Error(result.Warning),
		)
	}

	result.Session = models.AuthenticatedSession(user)
	m.apply(result.Session, "signup")
	return result, nil
}

// Logout signs out with the provider. The session always ends Anonymous;
// a provider failure is still returned, classified.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.provider.SignOut(ctx)
	m.apply(models.AnonymousSession(), "logout")
	if err != nil {
		m.logger.Warn("logout_provider_failed", zap.String("reason", logger.SanitizeError(err)))
		return errs.ClassifyAuth(err)
	}
	return nil
}

// ForceSignOut signs the user out locally after the backend rejected the
// bearer credential. It never fails.
func (m *Manager) ForceSignOut(ctx context.Context, cause error) {
	m.logger.Warn("forced_sign_out",
		zap.String("user_id", logger.SanitizeUserID(m.Session().UserID())),
		zap.String("cause", logger.SanitizeError(cause)),
	)
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("forced_sign_out_provider_failed", zap.String("reason", logger.SanitizeError(err)))
	}
	m.apply(models.AnonymousSession(), "forced")
}
