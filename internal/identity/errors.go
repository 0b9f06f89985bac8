package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benvon/wellness-tracker/internal/errs"
)

// apiError is the error body returned by the identity REST API
type apiError struct {
	Status  int
	Message string // e.g. "WEAK_PASSWORD : Password should be at least 6 characters"
}

func (e *apiError) Error() string {
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Message)
}

// Reason returns the machine-readable prefix of the message
func (e *apiError) Reason() string {
	reason, _, _ := strings.Cut(e.Message, " : ")
	return strings.TrimSpace(reason)
}

// Detail returns the human-readable suffix of the message, if any
func (e *apiError) Detail() string {
	_, detail, _ := strings.Cut(e.Message, " : ")
	return strings.TrimSpace(detail)
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var authCodes = map[string]errs.AuthCode{
	"EMAIL_NOT_FOUND":             errs.AuthInvalidCredential,
	"INVALID_PASSWORD":            errs.AuthInvalidCredential,
	"INVALID_LOGIN_CREDENTIALS":   errs.AuthInvalidCredential,
	"INVALID_EMAIL":               errs.AuthInvalidCredential,
	"MISSING_PASSWORD":            errs.AuthInvalidCredential,
	"USER_DISABLED":               errs.AuthAccountDisabled,
	"EMAIL_EXISTS":                errs.AuthEmailInUse,
	"WEAK_PASSWORD":               errs.AuthWeakPassword,
	"TOO_MANY_ATTEMPTS_TRY_LATER": errs.AuthTooManyAttempts,
}

var recoveryCodes = map[string]errs.RecoveryCode{
	"INVALID_OOB_CODE":            errs.RecoveryInvalidCode,
	"EXPIRED_OOB_CODE":            errs.RecoveryExpiredCode,
	"MISSING_OOB_CODE":            errs.RecoveryMissingCode,
	"WEAK_PASSWORD":               errs.RecoveryTooShort,
	"TOO_MANY_ATTEMPTS_TRY_LATER": errs.RecoveryRateLimited,
}

// classifyAuth maps provider failures of sign-in/sign-up/profile calls
func classifyAuth(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return errs.ClassifyAuth(err)
	}
	code, ok := authCodes[apiErr.Reason()]
	if !ok {
		code = errs.AuthUnknown
	}
	return errs.NewAuthError(code, apiErr.Message, err)
}

// classifyRecovery maps provider failures of reset-code calls
func classifyRecovery(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		var netErr *errs.NetworkError
		if errors.As(err, &netErr) {
			return err
		}
		return errs.NewRecoveryError(errs.RecoveryProviderFailure, "", err)
	}
	code, ok := recoveryCodes[apiErr.Reason()]
	if !ok {
		code = errs.RecoveryProviderFailure
	}
	message := apiErr.Detail()
	if message == "" {
		message = apiErr.Reason()
	}
	return errs.NewRecoveryError(code, message, err)
}
