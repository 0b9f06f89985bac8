// Package recovery implements the forgot-password flow: requesting a
// reset link, validating the code carried by that link and submitting
// the new password.
package recovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/notify"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

// Phase is the position of the flow in its state machine
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEmailSent  Phase = "email_sent"
	PhaseValidating Phase = "validating"
	PhaseValid      Phase = "valid"
	PhaseInvalid    Phase = "invalid"
	PhaseSubmitting Phase = "submitting"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further transition is possible without Reset
func (p Phase) Terminal() bool {
	return p == PhaseInvalid || p == PhaseFailed || p == PhaseCompleted
}

const (
	// EmailClearDelay is how long the host keeps the email field after a link was sent
	EmailClearDelay = 2 * time.Second
	// RedirectDelay is how long the host waits before leaving a completed flow
	RedirectDelay = 2 * time.Second
	// MinPasswordLength is the shortest accepted new password
	MinPasswordLength = 6
)

// Reset link parameters
const (
	ParamCode         = "oobCode"
	ParamCodeAlias    = "code"
	ParamMode         = "mode"
	ModeResetPassword = "resetPassword"
)

// User-facing messages
const (
	MsgEmailRequired    = "Please enter your email."
	MsgEmailSent        = "Password reset email sent. Click the link in the email to choose a new password."
	MsgSendFailed       = "Failed to send the password reset email."
	MsgInvalidLink      = "This password reset link is invalid or has expired."
	MsgVerifyFailed     = "An error occurred while verifying the link."
	MsgPasswordRequired = "Please enter a new password."
	MsgPasswordMismatch = "The new passwords do not match."
	MsgPasswordTooShort = "Password must be at least 6 characters."
	MsgMissingCode      = "Invalid link. Please start again from the email."
	MsgPasswordChanged  = "Password changed. Redirecting to login."
	MsgResetFailed      = "Failed to change the password."
	MsgTooManyRequests  = "Too many reset requests. Try again later."
)

// ErrWrongPhase is returned when an operation does not apply to the current phase
var ErrWrongPhase = errors.New("operation not allowed in current recovery phase")

// State is a snapshot of the flow
type State struct {
	Phase         Phase
	Email         string
	EmailReadOnly bool
	// Message is the transient user-facing success or failure text
	Message string
	Err     error
}

// Provider is the part of the identity provider the flow needs
type Provider interface {
	SendResetLink(ctx context.Context, email, returnURL string) error
	ValidateResetToken(ctx context.Context, token string) (string, error)
	ConsumeResetToken(ctx context.Context, token, newPassword string) error
}

// Flow is one password recovery attempt
type Flow struct {
	provider  Provider
	returnURL string
	limiter   *limiter.Limiter
	logger    *zap.Logger
	hub       *notify.Hub[State]

	mu    sync.Mutex
	state State
}

// Option customizes a Flow
type Option func(*Flow)

// WithLimiter throttles RequestReset per email address
func WithLimiter(l *limiter.Limiter) Option {
	return func(f *Flow) { f.limiter = l }
}

// WithLogger sets the flow logger
func WithLogger(log *zap.Logger) Option {
	return func(f *Flow) { f.logger = logger.OrNop(log) }
}

// NewFlow creates an idle flow. returnURL is the page reset links point back to.
func NewFlow(provider Provider, returnURL string, opts ...Option) *Flow {
	f := &Flow{
		provider:  provider,
		returnURL: returnURL,
		logger:    zap.NewNop(),
		hub:       notify.NewHub[State](),
		state:     State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current snapshot
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Watch subscribes to state changes, starting with the current state
func (f *Flow) Watch() *notify.Subscription[State] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hub.SubscribeWith(f.state)
}

// Reset returns the flow to Idle
func (f *Flow) Reset() {
	f.set(State{Phase: PhaseIdle})
}

func (f *Flow) set(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(s)
}

func (f *Flow) setLocked(s State) {
	prev := f.state.Phase
	f.state = s
	f.hub.Publish(s)
	if prev != s.Phase {
		f.logger.Debug("recovery_phase_changed",
			zap.String("from", string(prev)),
			zap.String("to", string(s.Phase)),
		)
	}
}

// fail records a local validation failure without changing the phase
func (f *Flow) fail(err *errs.RecoveryError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	s.Message = err.Message
	s.Err = err
	f.setLocked(s)
	return err
}

// RequestReset asks the provider to email a reset link for email
func (f *Flow) RequestReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)

	f.mu.Lock()
	phase := f.state.Phase
	f.mu.Unlock()
	switch phase {
	case PhaseIdle, PhaseEmailSent, PhaseInvalid:
	default:
		return ErrWrongPhase
	}

	if email == "" {
		return f.fail(errs.NewRecoveryError(errs.RecoveryEmptyField, MsgEmailRequired,
			&errs.ValidationError{Field: "email", Message: "is required"}))
	}

	if f.limiter != nil {
		lctx, err := f.limiter.Get(ctx, "reset:"+strings.ToLower(email))
		if err != nil {
			f.logger.Warn("reset_limiter_unavailable", zap.Error(err))
		} else if lctx.Reached {
			f.logger.Info("reset_request_throttled", zap.String("email", logger.SanitizeEmail(email)))
			return f.fail(errs.NewRecoveryError(errs.RecoveryRateLimited, MsgTooManyRequests, nil))
		}
	}

	if err := f.provider.SendResetLink(ctx, email, f.returnURL); err != nil {
		f.logger.Warn("reset_link_failed",
			zap.String("email", logger.SanitizeEmail(email)),
			zap.String("reason", logger.SanitizeError(err)),
		)
		recErr := asRecoveryError(err, MsgSendFailed)
		return f.fail(recErr)
	}

	f.set(State{Phase: PhaseEmailSent, Email: email, Message: MsgEmailSent})
	return nil
}

// CodeFromParams extracts the reset code from link parameters. oobCode
// wins over code; a mode=resetPassword link triggers validation even
// without either, in which case the code falls back to the code parameter.
func CodeFromParams(params url.Values) (string, bool) {
	code := params.Get(ParamCode)
	if code == "" {
		code = params.Get(ParamCodeAlias)
	}
	mode := params.Get(ParamMode)

	if code != "" || mode == ModeResetPassword {
		if code == "" {
			code = params.Get(ParamCodeAlias)
		}
		return code, true
	}
	return "", false
}

// Begin inspects the entry parameters and validates the code when the
// link asks for it. triggered is false when the parameters carry no reset intent.
func (f *Flow) Begin(ctx context.Context, params url.Values) (code string, triggered bool, err error) {
	code, triggered = CodeFromParams(params)
	if !triggered {
		return "", false, nil
	}
	_, err = f.ValidateCode(ctx, code)
	return code, true, err
}

// ValidateCode checks a reset code with the provider and pre-fills the
// email it belongs to.
func (f *Flow) ValidateCode(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	phase := f.state.Phase
	if phase.Terminal() {
		f.mu.Unlock()
		return "", errs.ErrFlowFinished
	}
	if phase == PhaseValidating || phase == PhaseSubmitting {
		f.mu.Unlock()
		return "", ErrWrongPhase
	}
	f.setLocked(State{Phase: PhaseValidating})
	f.mu.Unlock()

	email, err := f.provider.ValidateResetToken(ctx, token)
	if err != nil {
		message := MsgInvalidLink
		var netErr *errs.NetworkError
		if errors.As(err, &netErr) {
			message = MsgVerifyFailed
		}
		f.logger.Info("reset_code_rejected", zap.String("reason", logger.SanitizeError(err)))
		recErr := errs.NewRecoveryError(recoveryCode(err, errs.RecoveryInvalidCode), message, err)
		f.set(State{Phase: PhaseInvalid, Message: message, Err: recErr})
		return "", recErr
	}

	f.set(State{Phase: PhaseValid, Email: email, EmailReadOnly: true})
	return email, nil
}

// CheckNewPassword runs the local checks in order: non-empty, matching, long enough
func CheckNewPassword(newPassword, confirmPassword string) error {
	if err := checkNewPassword(newPassword, confirmPassword); err != nil {
		return err
	}
	return nil
}

func checkNewPassword(newPassword, confirmPassword string) *errs.RecoveryError {
	if strings.TrimSpace(newPassword) == "" {
		return errs.NewRecoveryError(errs.RecoveryEmptyField, MsgPasswordRequired,
			&errs.ValidationError{Field: "new_password", Message: "is required"})
	}
	if newPassword != confirmPassword {
		return errs.NewRecoveryError(errs.RecoveryMismatch, MsgPasswordMismatch,
			&errs.ValidationError{Field: "confirm_password", Message: "does not match"})
	}
	if len([]rune(newPassword)) < MinPasswordLength {
		return errs.NewRecoveryError(errs.RecoveryTooShort, MsgPasswordTooShort,
			&errs.ValidationError{Field: "new_password", Message: "must be at least 6 characters"})
	}
	return nil
}

// SubmitNewPassword sets the new password with the reset code. Local
// checks run first and leave the phase unchanged; only then is the
// provider called.
func (f *Flow) SubmitNewPassword(ctx context.Context, token, newPassword, confirmPassword string) error {
	f.mu.Lock()
	phase := f.state.Phase
	f.mu.Unlock()
	if phase.Terminal() {
		return errs.ErrFlowFinished
	}
	if phase != PhaseValid && phase != PhaseIdle {
		return ErrWrongPhase
	}

	if err := checkNewPassword(newPassword, confirmPassword); err != nil {
		return f.fail(err)
	}

	if token == "" {
		return f.fail(errs.NewRecoveryError(errs.RecoveryMissingCode, MsgMissingCode, nil))
	}

	f.mu.Lock()
	submitting := f.state
	submitting.Phase = PhaseSubmitting
	submitting.Message = ""
	submitting.Err = nil
	f.setLocked(submitting)
	f.mu.Unlock()

	if err := f.provider.ConsumeResetToken(ctx, token, newPassword); err != nil {
		f.logger.Warn("password_reset_failed", zap.String("reason", logger.SanitizeError(err)))
		recErr := asRecoveryError(err, MsgResetFailed)
		failed := submitting
		failed.Phase = PhaseFailed
		failed.Message = recErr.Message
		failed.Err = recErr
		f.set(failed)
		return recErr
	}

	done := submitting
	done.Phase = PhaseCompleted
	done.Message = MsgPasswordChanged
	f.set(done)
	f.logger.Info("password_reset_completed", zap.String("email", logger.SanitizeEmail(done.Email)))
	return nil
}

// asRecoveryError keeps the provider's message when it has one
func asRecoveryError(err error, fallback string) *errs.RecoveryError {
	var recErr *errs.RecoveryError
	if errors.As(err, &recErr) {
		if recErr.Message == "" {
			return errs.NewRecoveryError(recErr.Code, fallback, recErr.Err)
		}
		return recErr
	}
	return errs.NewRecoveryError(errs.RecoveryProviderFailure, fallback, err)
}

func recoveryCode(err error, fallback errs.RecoveryCode) errs.RecoveryCode {
	var recErr *errs.RecoveryError
	if errors.As(err, &recErr) {
		return recErr.Code
	}
	return fallback
}
