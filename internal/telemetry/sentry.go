package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryFlushTimeout bounds how long shutdown waits for queued events
const sentryFlushTimeout = 2 * time.Second

// InitSentry enables error reporting when dsn is set. The returned func
// flushes queued events and is safe to call when reporting is disabled.
func InitSentry(dsn, environment, release string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		EnableTracing:    false,
		AttachStacktrace: true,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}

// CaptureError reports err when Sentry is enabled. It is a no-op otherwise.
func CaptureError(err error, tags map[string]string) {
	if err == nil || sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}
