package commands

import (
	"testing"

	"github.com/benvon/wellness-tracker/internal/recovery"
)

func TestResetParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		link      string
		code      string
		wantCode  string
		wantMode  string
		wantError bool
	}{
		{name: "code flag", code: "abc", wantCode: "abc"},
		{
			name:     "full link",
			link:     "http://localhost:3000/forgot-password?mode=resetPassword&oobCode=xyz&apiKey=k",
			wantCode: "xyz",
			wantMode: recovery.ModeResetPassword,
		},
		{name: "nothing given", wantError: true},
		{name: "bad link", link: "http://[::1", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params, err := resetParams(tt.link, tt.code)
			if (err != nil) != tt.wantError {
				t.Fatalf("resetParams() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				return
			}
			if got := params.Get(recovery.ParamCode); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if got := params.Get(recovery.ParamMode); got != tt.wantMode {
				t.Errorf("mode = %q, want %q", got, tt.wantMode)
			}
		})
	}
}
