package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/identity"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// mockProvider implements identity.Provider with func fields
type mockProvider struct {
	hub *notify.Hub[identity.Event]

	signInFunc        func(ctx context.Context, email, password string) (*models.Credential, error)
	createAccountFunc func(ctx context.Context, email, password string) (*models.Credential, error)
	updateProfileFunc func(ctx context.Context, cred *models.Credential, displayName string) error
	signOutFunc       func(ctx context.Context) error
}

func newMockProvider() *mockProvider {
	return &mockProvider{hub: notify.NewHub[identity.Event]()}
}

func (m *mockProvider) SignIn(ctx context.Context, email, password string) (*models.Credential, error) {
	if m.signInFunc != nil {
		return m.signInFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockProvider) CreateAccount(ctx context.Context, email, password string) (*models.Credential, error) {
	if m.createAccountFunc != nil {
		return m.createAccountFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockProvider) UpdateProfile(ctx context.Context, cred *models.Credential, displayName string) error {
	if m.updateProfileFunc != nil {
		return m.updateProfileFunc(ctx, cred, displayName)
	}
	return nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	if m.signOutFunc != nil {
		return m.signOutFunc(ctx)
	}
	return nil
}

func (m *mockProvider) WatchSession() *notify.Subscription[identity.Event] {
	return m.hub.Subscribe()
}

func (m *mockProvider) SendResetLink(context.Context, string, string) error { return nil }
func (m *mockProvider) ValidateResetToken(context.Context, string) (string, error) {
	return "", nil
}
func (m *mockProvider) ConsumeResetToken(context.Context, string, string) error { return nil }

// mockUserStore implements docstore.UserStore with func fields
type mockUserStore struct {
	createUserFunc func(ctx context.Context, user *models.User) error
}

func (m *mockUserStore) CreateUser(ctx context.Context, user *models.User) error {
	if m.createUserFunc != nil {
		return m.createUserFunc(ctx, user)
	}
	return nil
}

func (m *mockUserStore) GetUser(context.Context, string) (*models.User, error) {
	return nil, errs.ErrNotFound
}

func (m *mockUserStore) UpdateUser(context.Context, string, models.UserPatch) error { return nil }

func credentialFor(email string) *models.Credential {
	return &models.Credential{
		User:    models.User{ID: uuid.NewString(), Email: email},
		IDToken: "token",
	}
}

func wrongPassword(context.Context, string, string) (*models.Credential, error) {
	return nil, errs.NewAuthError(errs.AuthInvalidCredential, "INVALID_PASSWORD", nil)
}

// startAnonymous returns a manager that already received an anonymous provider event
func startAnonymous(t *testing.T, p *mockProvider) *Manager {
	t.Helper()
	m := NewManager(p, &mockUserStore{}, zap.NewNop())
	sub := m.Subscribe()
	t.Cleanup(sub.Unsubscribe)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(m.Stop)

	<-sub.C() // unknown
	p.hub.Publish(identity.Event{})
	waitStatus(t, sub, models.SessionAnonymous)
	return m
}

func waitStatus(t *testing.T, sub *notify.Subscription[models.Session], want models.SessionStatus) models.Session {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case s := <-sub.C():
			if s.Status == want {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func TestManager_StartsUnknown(t *testing.T) {
	t.Parallel()

	m := NewManager(newMockProvider(), nil, nil)
	if got := m.Session().Status; got != models.SessionUnknown {
		t.Errorf("initial status = %s, want unknown", got)
	}
}

func TestManager_Login(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		signIn     func(ctx context.Context, email, password string) (*models.Credential, error)
		wantStatus models.SessionStatus
		wantCode   errs.AuthCode
	}{
		{
			name: "accepted credentials",
			signIn: func(_ context.Context, email, _ string) (*models.Credential, error) {
				return credentialFor(email), nil
			},
			wantStatus: models.SessionAuthenticated,
		},
		{
			name:       "wrong password",
			signIn:     wrongPassword,
			wantStatus: models.SessionAnonymous,
			wantCode:   errs.AuthInvalidCredential,
		},
		{
			name: "unclassified provider failure",
			signIn: func(context.Context, string, string) (*models.Credential, error) {
				return nil, errors.New("boom")
			},
			wantStatus: models.SessionAnonymous,
			wantCode:   errs.AuthUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newMockProvider()
			p.signInFunc = tt.signIn
			m := startAnonymous(t, p)

			session, err := m.Login(context.Background(), " a@b.com ", "secret1")
			if tt.wantCode != "" {
				var authErr *errs.AuthError
				if !errors.As(err, &authErr) || authErr.Code != tt.wantCode {
					t.Fatalf("Login() error = %v, want code %s", err, tt.wantCode)
				}
			} else if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			if m.Session().Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", m.Session().Status, tt.wantStatus)
			}
			if tt.wantStatus == models.SessionAuthenticated && session.User.Email != "a@b.com" {
				t.Errorf("session user email = %q, want trimmed a@b.com", session.User.Email)
			}
		})
	}
}

func TestManager_RepeatedFailedLoginsStayAnonymous(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.signInFunc = wrongPassword
	m := startAnonymous(t, p)

	for i := 0; i < 2; i++ {
		_, err := m.Login(context.Background(), "a@b.com", "wrong")
		var authErr *errs.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("attempt %d: error = %v, want *errs.AuthError", i+1, err)
		}
		if m.Session().Status != models.SessionAnonymous {
			t.Fatalf("attempt %d: status = %s, want anonymous", i+1, m.Session().Status)
		}
	}
}

func TestManager_Signup(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		updateProfile func(ctx context.Context, cred *models.Credential, displayName string) error
		createUser    func(ctx context.Context, user *models.User) error
		wantPersisted bool
		wantStage     string
	}{
		{
			name: "all steps succeed",
			createUser: func(_ context.Context, user *models.User) error {
				if user.Age != nil || user.Gender != nil {
					t.Errorf("age/gender must be unset on signup")
				}
				user.CreatedAt = created
				return nil
			},
			wantPersisted: true,
		},
		{
			name: "profile document write fails",
			createUser: func(context.Context, *models.User) error {
				return errs.NewStoreError("create_user", errors.New("permission denied"))
			},
			wantPersisted: false,
			wantStage:     StageProfileDocument,
		},
		{
			name: "display name update fails",
			updateProfile: func(context.Context, *models.Credential, string) error {
				return errors.New("provider unavailable")
			},
			wantPersisted: true,
			wantStage:     StageDisplayName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newMockProvider()
			p.createAccountFunc = func(_ context.Context, email, _ string) (*models.Credential, error) {
				return credentialFor(email), nil
			}
			p.updateProfileFunc = tt.updateProfile
			m := NewManager(p, &mockUserStore{createUserFunc: tt.createUser}, nil)

			result, err := m.Signup(context.Background(), "new@b.com", "secret1", "Alex")
			if err != nil {
				t.Fatalf("Signup() error = %v", err)
			}
			if !result.AccountCreated {
				t.Error("AccountCreated = false")
			}
			if result.ProfilePersisted != tt.wantPersisted {
				t.Errorf("ProfilePersisted = %v, want %v", result.ProfilePersisted, tt.wantPersisted)
			}
			if m.Session().Status != models.SessionAuthenticated {
				t.Errorf("status = %s, want authenticated", m.Session().Status)
			}
			if m.Session().User.DisplayName != "Alex" {
				t.Errorf("display name = %q, want Alex", m.Session().User.DisplayName)
			}

			if tt.wantStage == "" {
				if result.Warning != nil {
					t.Errorf("Warning = %v, want nil", result.Warning)
				}
				return
			}
			var warn *errs.ProfileWarning
			if !errors.As(result.Warning, &warn) {
				t.Fatalf("Warning = %v, want *errs.ProfileWarning", result.Warning)
			}
			if warn.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", warn.Stage, tt.wantStage)
			}
		})
	}
}

func TestManager_SignupRejected(t *testing.T) {
	t.Parallel()

	t.Run("empty fields never reach the provider", func(t *testing.T) {
		t.Parallel()
		p := newMockProvider()
		p.createAccountFunc = func(context.Context, string, string) (*models.Credential, error) {
			t.Error("CreateAccount should not be called")
			return nil, nil
		}
		_, err := NewManager(p, nil, nil).Signup(context.Background(), " ", "", "Alex")
		if !errs.IsValidation(err) {
			t.Fatalf("Signup() error = %v, want validation error", err)
		}
	})

	t.Run("email in use", func(t *testing.T) {
		t.Parallel()
		p := newMockProvider()
		p.createAccountFunc = func(context.Context, string, string) (*models.Credential, error) {
			return nil, errs.NewAuthError(errs.AuthEmailInUse, "EMAIL_EXISTS", nil)
		}
		m := NewManager(p, nil, nil)
		_, err := m.Signup(context.Background(), "a@b.com", "secret1", "Alex")
		var authErr *errs.AuthError
		if !errors.As(err, &authErr) || authErr.Code != errs.AuthEmailInUse {
			t.Fatalf("Signup() error = %v, want email_in_use", err)
		}
		if m.Session().Status != models.SessionUnknown {
			t.Errorf("status = %s, want unchanged", m.Session().Status)
		}
	})
}

func TestManager_LogoutAlwaysAnonymous(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		signOut func(ctx context.Context) error
		wantErr bool
	}{
		{name: "provider succeeds"},
		{name: "provider fails", signOut: func(context.Context) error { return errors.New("offline") }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newMockProvider()
			p.signInFunc = func(_ context.Context, email, _ string) (*models.Credential, error) {
				return credentialFor(email), nil
			}
			p.signOutFunc = tt.signOut
			m := NewManager(p, nil, nil)
			if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			err := m.Logout(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Logout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if m.Session().Status != models.SessionAnonymous {
				t.Errorf("status = %s, want anonymous", m.Session().Status)
			}
		})
	}
}

func TestManager_ProviderEventsRelayedInOrder(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	m := NewManager(p, nil, nil)
	sub := m.Subscribe()
	defer sub.Unsubscribe()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	if s := <-sub.C(); s.Status != models.SessionUnknown {
		t.Fatalf("first delivery = %s, want unknown", s.Status)
	}

	alice := models.User{ID: "alice"}
	bob := models.User{ID: "bob"}
	p.hub.Publish(identity.Event{User: &alice})
	p.hub.Publish(identity.Event{})
	p.hub.Publish(identity.Event{User: &bob})

	want := []string{"alice", "", "bob"}
	for i, id := range want {
		select {
		case s := <-sub.C():
			if s.UserID() != id {
				t.Fatalf("delivery %d user = %q, want %q", i, s.UserID(), id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
}

func TestManager_ForceSignOut(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	signOuts := 0
	p.signInFunc = func(_ context.Context, email, _ string) (*models.Credential, error) {
		return credentialFor(email), nil
	}
	p.signOutFunc = func(context.Context) error {
		signOuts++
		return errors.New("already signed out")
	}
	m := NewManager(p, nil, nil)
	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	m.ForceSignOut(context.Background(), errs.ErrUnauthorized)

	if m.Session().Status != models.SessionAnonymous {
		t.Errorf("status = %s, want anonymous", m.Session().Status)
	}
	if signOuts != 1 {
		t.Errorf("provider sign-outs = %d, want 1", signOuts)
	}
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	p := newMockProvider()
	p.signInFunc = func(_ context.Context, email, _ string) (*models.Credential, error) {
		return credentialFor(email), nil
	}
	m := NewManager(p, nil, nil)
	sub := m.Subscribe()
	<-sub.C()
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("delivery after Unsubscribe")
	}
}

// sequencedProvider numbers its session events like the REST provider does
type sequencedProvider struct {
	*mockProvider

	mu  sync.Mutex
	seq uint64
}

func newSequencedProvider() *sequencedProvider {
	return &sequencedProvider{mockProvider: newMockProvider()}
}

func (p *sequencedProvider) emit(user *models.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.hub.Publish(identity.Event{User: user, Seq: p.seq})
}

func (p *sequencedProvider) SessionSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// userIDsUntil collects delivered user ids up to and including last
func userIDsUntil(t *testing.T, sub *notify.Subscription[models.Session], last string) []string {
	t.Helper()
	var ids []string
	timeout := time.After(time.Second)
	for {
		select {
		case s := <-sub.C():
			ids = append(ids, s.UserID())
			if s.UserID() == last {
				return ids
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q, got %v", last, ids)
		}
	}
}

func TestManager_SupersededProviderEventDropped(t *testing.T) {
	t.Parallel()

	p := newSequencedProvider()
	m := NewManager(p, nil, nil)
	sub := m.Subscribe()
	defer sub.Unsubscribe()

	// alice's sign-in is already superseded when it is relayed
	p.seq = 3
	alice := models.User{ID: "alice"}
	bob := models.User{ID: "bob"}
	p.hub.Publish(identity.Event{User: &alice, Seq: 2})
	p.hub.Publish(identity.Event{User: &bob, Seq: 3})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	got := userIDsUntil(t, sub, "bob")
	want := []string{"", "bob"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
}

func TestManager_LoginThenLogoutHasNoExtraFlip(t *testing.T) {
	t.Parallel()

	p := newSequencedProvider()
	alice := models.User{ID: "alice", Email: "a@b.com"}
	p.signInFunc = func(context.Context, string, string) (*models.Credential, error) {
		p.emit(&alice)
		return &models.Credential{User: alice, IDToken: "token"}, nil
	}
	p.signOutFunc = func(context.Context) error {
		p.emit(nil)
		return nil
	}

	m := NewManager(p, nil, nil)
	sub := m.Subscribe()
	defer sub.Unsubscribe()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()
	<-sub.C() // unknown
	p.emit(nil)
	waitStatus(t, sub, models.SessionAnonymous)

	for i := 0; i < 20; i++ {
		if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if err := m.Logout(context.Background()); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
	}
	bob := models.User{ID: "bob"}
	p.emit(&bob)

	got := userIDsUntil(t, sub, "bob")
	if len(got) != 41 {
		t.Fatalf("got %d deliveries, want 41 (one sign-in and one sign-out per round, then bob): %v", len(got), got)
	}
	for i, id := range got[:40] {
		want := "alice"
		if i%2 == 1 {
			want = ""
		}
		if id != want {
			t.Fatalf("delivery %d = %q, want %q (all: %v)", i, id, want, got)
		}
	}
}
