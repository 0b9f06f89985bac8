// Package errs holds the error taxonomy shared by the session, recovery,
// live query and record writer components. Collaborator failures are
// classified into these types at the call site.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized indicates the backend rejected the bearer credential
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates the requested document does not exist
	ErrNotFound = errors.New("not found")
	// ErrNotAuthenticated indicates an operation needs a signed-in user
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrFlowFinished indicates the recovery flow reached a terminal phase
	ErrFlowFinished = errors.New("recovery flow already finished")
)

// AuthCode classifies identity provider failures
type AuthCode string

const (
	AuthInvalidCredential AuthCode = "invalid_credential"
	AuthAccountDisabled   AuthCode = "account_disabled"
	AuthWeakPassword      AuthCode = "weak_password"
	AuthEmailInUse        AuthCode = "email_in_use"
	AuthTooManyAttempts   AuthCode = "too_many_attempts"
	AuthUnknown           AuthCode = "unknown"
)

var authMessages = map[AuthCode]string{
	AuthInvalidCredential: "The email or password is incorrect.",
	AuthAccountDisabled:   "This account has been disabled.",
	AuthWeakPassword:      "The password is too weak.",
	AuthEmailInUse:        "An account with this email already exists.",
	AuthTooManyAttempts:   "Too many attempts. Try again later.",
	AuthUnknown:           "Authentication failed.",
}

// AuthError is a classified identity provider failure
type AuthError struct {
	Code    AuthCode
	Message string // provider message, may be empty
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth error (%s)", e.Code)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError wrapping cause
func NewAuthError(code AuthCode, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: cause}
}

// RecoveryCode classifies password recovery failures
type RecoveryCode string

const (
	RecoveryInvalidCode     RecoveryCode = "invalid_code"
	RecoveryExpiredCode     RecoveryCode = "expired_code"
	RecoveryMissingCode     RecoveryCode = "missing_code"
	RecoveryEmptyField      RecoveryCode = "empty_field"
	RecoveryMismatch        RecoveryCode = "password_mismatch"
	RecoveryTooShort        RecoveryCode = "password_too_short"
	RecoveryRateLimited     RecoveryCode = "rate_limited"
	RecoveryProviderFailure RecoveryCode = "provider_failure"
)

// RecoveryError is a password recovery failure. Message is user-facing.
type RecoveryError struct {
	Code    RecoveryCode
	Message string
	Err     error
}

func (e *RecoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recovery error (%s): %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("recovery error (%s): %s", e.Code, e.Message)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// NewRecoveryError builds a RecoveryError wrapping cause
func NewRecoveryError(code RecoveryCode, message string, cause error) *RecoveryError {
	return &RecoveryError{Code: code, Message: message, Err: cause}
}

// StoreError is a read or write failure against the document store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is already classified
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr *NetworkError
	var storeErr *StoreError
	if errors.As(err, &netErr) || errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// NetworkError is a transport failure reaching a collaborator
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a purely local input failure; it never reaches a collaborator
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors groups several field failures
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Fields returns the names of the failing fields
func (v ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v))
	for _, e := range v {
		fields = append(fields, e.Field)
	}
	return fields
}

// ProfileWarning reports that the provider account exists but the profile
// document (or display name) could not be written. The session stays authenticated.
type ProfileWarning struct {
	UserID string
	Stage  string
	Err    error
}

func (w *ProfileWarning) Error() string {
	return fmt.Sprintf("account %s created but %s failed: %v", w.UserID, w.Stage, w.Err)
}

func (w *ProfileWarning) Unwrap() error { return w.Err }

// ClassifyAuth returns err as an AuthError unless it is already classified
func ClassifyAuth(err error) error {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	var netErr *NetworkError
	if errors.As(err, &authErr) || errors.As(err, &netErr) {
		return err
	}
	return &AuthError{Code: AuthUnknown, Message: err.Error(), Err: err}
}

// IsAuthorizationFailure reports whether err means the bearer credential was rejected
func IsAuthorizationFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsValidation reports whether err is a local validation failure
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var v *ValidationError
	var vs ValidationErrors
	return errors.As(err, &v) || errors.As(err, &vs)
}

// UserMessage returns a human-readable message for any error produced by this module
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var recErr *RecoveryError
	if errors.As(err, &recErr) && recErr.Message != "" {
		return recErr.Message
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if msg, ok := authMessages[authErr.Code]; ok {
			return msg
		}
		return authMessages[AuthUnknown]
	}
	var warn *ProfileWarning
	if errors.As(err, &warn) {
		return "Your account was created, but your profile could not be saved."
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Error()
	}
	var vs ValidationErrors
	if errors.As(err, &vs) {
		return vs.Error()
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Could not reach the server. Check your connection."
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return "Could not save or load your data."
	}
	if errors.Is(err, ErrUnauthorized) {
		return "Your session has expired. Please sign in again."
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return "Please sign in first."
	}
	return "An unknown error occurred."
}
