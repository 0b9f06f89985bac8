package backend

import (
	"net/http"
	"time"

	"github.com/benvon/wellness-tracker/internal/logger"
	"go.uber.org/zap"
)

// MaxResponseSize caps how much of a response body is decoded (1MB)
const MaxResponseSize int64 = 1 << 20

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Logging wraps next so every backend request is logged with its status and duration
func Logging(next http.RoundTripper, log *zap.Logger) http.RoundTripper {
	log = logger.OrNop(log)
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", logger.SanitizeString(r.URL.Path, 200)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil {
			log.Warn("backend_request_failed", append(fields, zap.String("error", logger.SanitizeError(err)))...)
			return nil, err
		}
		log.Info("backend_request", append(fields, zap.Int("status_code", resp.StatusCode))...)
		return resp, nil
	})
}
