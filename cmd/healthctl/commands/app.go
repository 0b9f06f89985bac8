package commands

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/benvon/wellness-tracker/internal/backend"
	"github.com/benvon/wellness-tracker/internal/config"
	"github.com/benvon/wellness-tracker/internal/dashboard"
	"github.com/benvon/wellness-tracker/internal/database"
	"github.com/benvon/wellness-tracker/internal/identity"
	"github.com/benvon/wellness-tracker/internal/livequery"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/queue"
	"github.com/benvon/wellness-tracker/internal/records"
	"github.com/benvon/wellness-tracker/internal/recovery"
	"github.com/benvon/wellness-tracker/internal/session"
	"github.com/benvon/wellness-tracker/internal/telemetry"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// sessionWait bounds how long a command waits for the restored session
const sessionWait = 10 * time.Second

// App holds the components a command runs against
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *database.Store
	Provider  *identity.RESTProvider
	Sessions  *session.Manager
	Recovery  *recovery.Flow
	Writer    *records.Writer
	Live      *livequery.Handle
	Dashboard *dashboard.Dashboard
	Backend   *backend.Client

	closers []func()
}

// NewApp connects to every collaborator named in cfg and restores the saved session
func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (app *App, err error) {
	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	if cfg.OTELEnabled {
		tp, tpErr := telemetry.InitTracer(ctx, "healthctl", cfg.OTELEndpoint)
		if tpErr != nil {
			log.Warn("telemetry_init_failed", zap.Error(tpErr))
		} else {
			app.onClose(func() { shutdownTracer(tp, log) })
		}
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.onClose(func() { _ = db.Close() })

	redisClient := connectRedis(ctx, cfg, log)
	if redisClient != nil {
		app.onClose(func() { _ = redisClient.Close() })
	}

	feed, err := newChangeFeed(cfg, db, redisClient, log)
	if err != nil {
		return nil, err
	}
	app.onClose(func() { _ = feed.Close() })
	app.Store = database.NewStore(db, feed, log)

	var credentials identity.CredentialStore
	if redisClient != nil {
		credentials = identity.NewRedisCredentialStore(redisClient, cfg.Profile)
	} else {
		log.Warn("credential_store_in_memory", zap.String("reason", "redis unavailable; sign-in will not persist"))
	}
	app.Provider = newProvider(cfg, credentials, log)

	app.Sessions = session.NewManager(app.Provider, app.Store, log)
	if err := app.Sessions.Start(ctx); err != nil {
		log.Warn("session_start_degraded", zap.String("error", logger.SanitizeError(err)))
	}
	app.onClose(app.Sessions.Stop)

	app.Recovery = newRecoveryFlow(cfg, app.Provider, redisClient, log)

	var writerOpts []records.Option
	if cfg.RabbitMQURL != "" {
		events, qErr := queue.NewRabbitMQQueue(cfg.RabbitMQURL, log)
		if qErr != nil {
			log.Warn("record_events_disabled", zap.Error(qErr))
		} else {
			app.onClose(func() { _ = events.Close() })
			writerOpts = append(writerOpts, records.WithPublisher(events))
		}
	}
	app.Writer = records.NewWriter(app.Store, log, writerOpts...)

	app.Live = livequery.New(app.Store, log)
	app.Dashboard = dashboard.New(app.Sessions, app.Live, app.Writer, log)

	app.Backend = backend.New(cfg.BackendURL, app.Provider.TokenSource(ctx), log,
		backend.WithUnauthorizedHandler(app.Sessions.ForceSignOut))

	return app, nil
}

// NewRecoveryApp builds only what password recovery needs: the identity
// provider and the reset flow. It never touches the database.
func NewRecoveryApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log}
	redisClient := connectRedis(ctx, cfg, log)
	if redisClient != nil {
		app.onClose(func() { _ = redisClient.Close() })
	}
	app.Provider = newProvider(cfg, nil, log)
	app.Recovery = newRecoveryFlow(cfg, app.Provider, redisClient, log)
	return app, nil
}

func newProvider(cfg *config.Config, credentials identity.CredentialStore, log *zap.Logger) *identity.RESTProvider {
	var opts []identity.Option
	if cfg.IdentityJWKSURL != "" && cfg.IdentityIssuer != "" {
		verifier := identity.NewVerifier(identity.NewJWKSManager(nil), cfg.IdentityJWKSURL, cfg.IdentityIssuer, audienceFromIssuer(cfg.IdentityIssuer))
		opts = append(opts, identity.WithVerifier(verifier))
	}
	return identity.NewRESTProvider(identity.RESTConfig{
		BaseURL:        cfg.IdentityBaseURL,
		SecureTokenURL: cfg.SecureTokenURL,
		APIKey:         cfg.IdentityAPIKey,
	}, credentials, log, opts...)
}

// newRecoveryFlow throttles reset requests through redis when it is reachable
func newRecoveryFlow(cfg *config.Config, provider recovery.Provider, redisClient *redis.Client, log *zap.Logger) *recovery.Flow {
	opts := []recovery.Option{recovery.WithLogger(log)}
	if lim, err := recovery.NewRequestLimiter(redisClient, cfg.ResetRequestRate); err != nil {
		log.Warn("reset_limiter_disabled", zap.Error(err))
	} else {
		opts = append(opts, recovery.WithLimiter(lim))
	}
	return recovery.NewFlow(provider, cfg.ResetReturnURL, opts...)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases everything NewApp opened, newest first
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// AwaitSession waits until the session leaves the unknown state
func (a *App) AwaitSession(ctx context.Context) (models.Session, error) {
	sub := a.Sessions.Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, sessionWait)
	defer cancel()
	for {
		select {
		case s, ok := <-sub.C():
			if !ok {
				return a.Sessions.Session(), nil
			}
			if s.Status != models.SessionUnknown {
				return s, nil
			}
		case <-ctx.Done():
			return a.Sessions.Session(), fmt.Errorf("timed out waiting for the session: %w", ctx.Err())
		}
	}
}

// RequireUser returns the signed-in user or an error telling the caller to log in
func (a *App) RequireUser(ctx context.Context) (*models.User, error) {
	s, err := a.AwaitSession(ctx)
	if err != nil {
		return nil, err
	}
	if !s.IsAuthenticated() {
		return nil, fmt.Errorf("not signed in; run `healthctl login` first")
	}
	return s.User, nil
}

func connectRedis(ctx context.Context, cfg *config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	client, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis_unavailable", zap.Error(err))
		return nil
	}
	return client
}

func newChangeFeed(cfg *config.Config, db *database.DB, redisClient *redis.Client, log *zap.Logger) (database.ChangeFeed, error) {
	if cfg.ChangeFeed == config.ChangeFeedRedis {
		if redisClient == nil {
			return nil, fmt.Errorf("CHANGE_FEED=redis requires a reachable REDIS_URL")
		}
		return database.NewRedisFeed(redisClient, log), nil
	}
	feed, err := database.NewPostgresFeed(db, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start change feed: %w", err)
	}
	return feed, nil
}

// audienceFromIssuer returns the project id at the end of an issuer URL
func audienceFromIssuer(issuer string) string {
	u, err := url.Parse(issuer)
	if err != nil || u.Path == "" {
		return ""
	}
	return path.Base(u.Path)
}

func shutdownTracer(tp *sdktrace.TracerProvider, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(ctx, tp); err != nil {
		log.Warn("telemetry_shutdown_failed", zap.Error(err))
	}
}
