package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
	"github.com/benvon/wellness-tracker/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RESTConfig configures the Identity Toolkit style REST provider
type RESTConfig struct {
	BaseURL        string // e.g. https://identitytoolkit.googleapis.com/v1
	SecureTokenURL string // e.g. https://securetoken.googleapis.com/v1/token
	APIKey         string
	HTTPClient     *http.Client
}

// RESTProvider implements Provider against the identity REST API. The
// current credential is kept in memory and mirrored to a CredentialStore.
type RESTProvider struct {
	cfg      RESTConfig
	client   *http.Client
	store    CredentialStore
	verifier TokenVerifier
	logger   *zap.Logger
	now      func() time.Time

	hub *notify.Hub[Event]

	mu       sync.Mutex
	current  *models.Credential
	restored bool
	seq      uint64

	refreshMu sync.Mutex
}

// Option customizes a RESTProvider
type Option func(*RESTProvider)

// WithVerifier makes the provider verify every ID token it accepts
func WithVerifier(v TokenVerifier) Option {
	return func(p *RESTProvider) { p.verifier = v }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *RESTProvider) { p.now = now }
}

// NewRESTProvider creates a provider. store may be nil for an in-memory store.
func NewRESTProvider(cfg RESTConfig, store CredentialStore, log *zap.Logger, opts ...Option) *RESTProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if store == nil {
		store = NewMemoryCredentialStore()
	}
	p := &RESTProvider{
		cfg:    cfg,
		client: client,
		store:  store,
		logger: logger.OrNop(log),
		now:    time.Now,
		hub:    notify.NewHub[Event](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ Provider = (*RESTProvider)(nil)
var _ Restorer = (*RESTProvider)(nil)

// WatchSession implements Provider. Once the provider knows the session
// state, a new subscription first receives the current state.
func (p *RESTProvider) WatchSession() *notify.Subscription[Event] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.restored {
		return p.hub.Subscribe()
	}
	return p.hub.SubscribeWith(p.eventLocked())
}

func (p *RESTProvider) eventLocked() Event {
	if p.current == nil {
		return Event{Seq: p.seq}
	}
	u := p.current.User
	return Event{User: &u, Seq: p.seq}
}

// setCredential replaces the current credential and emits the change
func (p *RESTProvider) setCredential(cred *models.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = cred
	p.restored = true
	p.seq++
	p.hub.Publish(p.eventLocked())
}

// SessionSeq implements Sequencer
func (p *RESTProvider) SessionSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Current returns a copy of the signed-in credential, or nil
func (p *RESTProvider) Current() *models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	c := *p.current
	return &c
}

// Restore loads the persisted credential and emits the first session event.
// An expired credential is refreshed; a refresh the provider rejects
// signs the user out.
func (p *RESTProvider) Restore(ctx context.Context) error {
	cred, err := p.store.Load(ctx)
	if err != nil {
		p.logger.Warn("credential_load_failed", zap.Error(err))
		p.setCredential(nil)
		return err
	}
	if cred == nil {
		p.setCredential(nil)
		return nil
	}

	if cred.Expired(p.now()) {
		refreshed, err := p.refresh(ctx, cred)
		if err != nil {
			var netErr *errs.NetworkError
			if errors.As(err, &netErr) {
				// Keep the user signed in; the bearer transport refreshes later.
				p.setCredential(cred)
				return err
			}
			p.logger.Info("persisted_credential_rejected", zap.String("reason", logger.SanitizeError(err)))
			_ = p.store.Clear(ctx)
			p.setCredential(nil)
			return nil
		}
		cred = refreshed
	}

	p.setCredential(cred)
	return nil
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// SignIn implements Provider
func (p *RESTProvider) SignIn(ctx context.Context, email, password string) (cred *models.Credential, err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.sign_in")
	defer func() { telemetry.EndSpan(span, err) }()

	return p.authenticate(ctx, "signInWithPassword", email, password)
}

// CreateAccount implements Provider
func (p *RESTProvider) CreateAccount(ctx context.Context, email, password string) (cred *models.Credential, err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.create_account")
	defer func() { telemetry.EndSpan(span, err) }()

	return p.authenticate(ctx, "signUp", email, password)
}

func (p *RESTProvider) authenticate(ctx context.Context, method, email, password string) (*models.Credential, error) {
	var resp signInResponse
	req := signInRequest{Email: email, Password: password, ReturnSecureToken: true}
	if err := p.call(ctx, method, req, &resp); err != nil {
		return nil, classifyAuth(err)
	}

	cred := &models.Credential{
		User: models.User{
			ID:          resp.LocalID,
			Email:       resp.Email,
			DisplayName: resp.DisplayName,
		},
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    p.expiry(resp.ExpiresIn),
	}

	if err := p.verify(ctx, cred); err != nil {
		return nil, err
	}

	if err := p.store.Save(ctx, cred); err != nil {
		p.logger.Warn("credential_save_failed", zap.Error(err))
	}
	p.setCredential(cred)

	p.logger.Info("identity_signed_in",
		zap.String("method", method),
		zap.String("user_id", logger.SanitizeUserID(cred.User.ID)),
	)
	c := *cred
	return &c, nil
}

func (p *RESTProvider) verify(ctx context.Context, cred *models.Credential) error {
	if p.verifier == nil {
		return nil
	}
	claims, err := p.verifier.Verify(ctx, cred.IDToken)
	if err != nil {
		return errs.NewAuthError(errs.AuthUnknown, "id token rejected", err)
	}
	if claims.Sub != cred.User.ID {
		return errs.NewAuthError(errs.AuthUnknown, "id token subject mismatch", nil)
	}
	return nil
}

func (p *RESTProvider) expiry(expiresIn string) time.Time {
	secs, err := strconv.Atoi(strings.TrimSpace(expiresIn))
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return p.now().Add(time.Duration(secs) * time.Second)
}

// UpdateProfile implements Provider
func (p *RESTProvider) UpdateProfile(ctx context.Context, cred *models.Credential, displayName string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.update_profile")
	defer func() { telemetry.EndSpan(span, err) }()

	if cred == nil {
		return errs.ErrNotAuthenticated
	}

	req := struct {
		IDToken           string `json:"idToken"`
		DisplayName       string `json:"displayName"`
		ReturnSecureToken bool   `json:"returnSecureToken"`
	}{IDToken: cred.IDToken, DisplayName: displayName}
	if err := p.call(ctx, "update", req, nil); err != nil {
		return classifyAuth(err)
	}

	p.mu.Lock()
	if p.current != nil && p.current.User.ID == cred.User.ID {
		p.current.User.DisplayName = displayName
		updated := *p.current
		p.mu.Unlock()
		if err := p.store.Save(ctx, &updated); err != nil {
			p.logger.Warn("credential_save_failed", zap.Error(err))
		}
		return nil
	}
	p.mu.Unlock()
	return nil
}

// SignOut implements Provider. The in-memory session is always cleared.
func (p *RESTProvider) SignOut(ctx context.Context) error {
	err := p.store.Clear(ctx)
	p.setCredential(nil)
	if err != nil {
		return errs.ClassifyAuth(err)
	}
	return nil
}

// SendResetLink implements Provider
func (p *RESTProvider) SendResetLink(ctx context.Context, email, returnURL string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.send_reset_link")
	defer func() { telemetry.EndSpan(span, err) }()

	req := struct {
		RequestType string `json:"requestType"`
		Email       string `json:"email"`
		ContinueURL string `json:"continueUrl,omitempty"`
	}{RequestType: "PASSWORD_RESET", Email: email, ContinueURL: returnURL}
	if err := p.call(ctx, "sendOobCode", req, nil); err != nil {
		return classifyRecovery(err)
	}
	return nil
}

type resetPasswordResponse struct {
	Email       string `json:"email"`
	RequestType string `json:"requestType"`
}

// ValidateResetToken implements Provider
func (p *RESTProvider) ValidateResetToken(ctx context.Context, token string) (email string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.validate_reset_token")
	defer func() { telemetry.EndSpan(span, err) }()

	var resp resetPasswordResponse
	req := struct {
		OOBCode string `json:"oobCode"`
	}{OOBCode: token}
	if err := p.call(ctx, "resetPassword", req, &resp); err != nil {
		return "", classifyRecovery(err)
	}
	return resp.Email, nil
}

// ConsumeResetToken implements Provider
func (p *RESTProvider) ConsumeResetToken(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "identity.consume_reset_token")
	defer func() { telemetry.EndSpan(span, err) }()

	req := struct {
		OOBCode     string `json:"oobCode"`
		NewPassword string `json:"newPassword"`
	}{OOBCode: token, NewPassword: newPassword}
	if err := p.call(ctx, "resetPassword", req, nil); err != nil {
		return classifyRecovery(err)
	}
	return nil
}

// call POSTs body to accounts:<method> and decodes the response into out
func (p *RESTProvider) call(ctx context.Context, method string, body, out any) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("identity.method", method))

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/accounts:%s?key=%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), method, url.QueryEscape(p.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &errs.NetworkError{Op: method, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&eb); decodeErr != nil || eb.Error.Message == "" {
			return &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &apiError{Status: resp.StatusCode, Message: eb.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}
