package identity

import (
	"errors"
	"testing"

	"github.com/benvon/wellness-tracker/internal/errs"
)

func TestClassifyRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantCode    errs.RecoveryCode
		wantMessage string
	}{
		{
			name:     "invalid code",
			err:      &apiError{Status: 400, Message: "INVALID_OOB_CODE"},
			wantCode: errs.RecoveryInvalidCode, wantMessage: "INVALID_OOB_CODE",
		},
		{
			name:     "weak password with detail",
			err:      &apiError{Status: 400, Message: "WEAK_PASSWORD : Password should be at least 6 characters"},
			wantCode: errs.RecoveryTooShort, wantMessage: "Password should be at least 6 characters",
		},
		{
			name:     "unmapped provider error",
			err:      &apiError{Status: 400, Message: "OPERATION_NOT_ALLOWED"},
			wantCode: errs.RecoveryProviderFailure, wantMessage: "OPERATION_NOT_ALLOWED",
		},
		{
			name:     "unexpected failure",
			err:      errors.New("decode failed"),
			wantCode: errs.RecoveryProviderFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var recErr *errs.RecoveryError
			if !errors.As(classifyRecovery(tt.err), &recErr) {
				t.Fatalf("classifyRecovery() did not return *errs.RecoveryError")
			}
			if recErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", recErr.Code, tt.wantCode)
			}
			if recErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", recErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestClassifyRecoveryKeepsNetworkErrors(t *testing.T) {
	t.Parallel()

	netErr := &errs.NetworkError{Op: "resetPassword", Err: errors.New("connection refused")}
	if got := classifyRecovery(netErr); got != netErr {
		t.Errorf("classifyRecovery() = %v, want the network error unchanged", got)
	}
}
