// Package dashboard binds the signed-in user to a live view of their
// health records and refreshes it after every successful write.
package dashboard

import (
	"context"
	"sync"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/livequery"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
	"go.uber.org/zap"
)

// SessionSource reports session changes, current value first
type SessionSource interface {
	Subscribe() *notify.Subscription[models.Session]
}

// LiveView is the live record query the dashboard drives
type LiveView interface {
	Open(ctx context.Context, ownerID string, refreshToken uint64) uint64
	Close()
	State() livequery.State
	Watch() *notify.Subscription[livequery.State]
}

// RecordSubmitter persists records and announces successful writes
type RecordSubmitter interface {
	Submit(ctx context.Context, ownerID string, input models.HealthInput) (*models.HealthRecord, error)
	OnWritten(fn func(*models.HealthRecord)) (remove func())
}

// Dashboard is the host view for one signed-in user at a time
type Dashboard struct {
	sessions SessionSource
	live     LiveView
	writer   RecordSubmitter
	logger   *zap.Logger

	// bindMu is held from reading the bound user through the matching
	// live.Open or live.Close so a stale decision never reaches the view
	bindMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	user    *models.User
	refresh uint64
	started bool

	sub        *notify.Subscription[models.Session]
	removeHook func()
	done       chan struct{}
}

// New creates a dashboard; call Start to begin following the session
func New(sessions SessionSource, live LiveView, writer RecordSubmitter, log *zap.Logger) *Dashboard {
	return &Dashboard{
		sessions: sessions,
		live:     live,
		writer:   writer,
		logger:   logger.OrNop(log),
		ctx:      context.Background(),
	}
}

// Start follows session changes until Stop. ctx bounds the live queries.
func (d *Dashboard) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.ctx = ctx
	d.sub = d.sessions.Subscribe()
	d.removeHook = d.writer.OnWritten(func(*models.HealthRecord) { d.Refresh() })
	d.done = make(chan struct{})
	sub, done := d.sub, d.done
	d.mu.Unlock()

	go func() {
		defer close(done)
		for s := range sub.C() {
			d.apply(s)
		}
	}()
}

// Stop detaches from the session and closes the live query
func (d *Dashboard) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	sub, removeHook, done := d.sub, d.removeHook, d.done
	d.mu.Unlock()

	sub.Unsubscribe()
	removeHook()
	<-done

	d.bindMu.Lock()
	defer d.bindMu.Unlock()
	d.mu.Lock()
	d.user = nil
	d.mu.Unlock()
	d.live.Close()
}

func (d *Dashboard) apply(s models.Session) {
	d.bindMu.Lock()
	defer d.bindMu.Unlock()

	switch {
	case s.IsAuthenticated():
		d.mu.Lock()
		user := *s.User
		d.user = &user
		ctx, refresh := d.ctx, d.refresh
		d.mu.Unlock()
		gen := d.live.Open(ctx, user.ID, refresh)
		d.logger.Debug("dashboard_bound",
			zap.String("user_id", logger.SanitizeUserID(user.ID)),
			zap.Uint64("generation", gen),
		)
	case s.Status == models.SessionAnonymous:
		d.mu.Lock()
		d.user = nil
		d.mu.Unlock()
		d.live.Close()
		d.logger.Debug("dashboard_unbound")
	}
}

// Refresh re-opens the live query for the current user with a new refresh token
func (d *Dashboard) Refresh() {
	d.bindMu.Lock()
	defer d.bindMu.Unlock()

	d.mu.Lock()
	d.refresh++
	user, ctx, refresh := d.user, d.ctx, d.refresh
	d.mu.Unlock()
	if user == nil {
		return
	}
	d.live.Open(ctx, user.ID, refresh)
}

// User returns the bound user or nil
func (d *Dashboard) User() *models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.user == nil {
		return nil
	}
	u := *d.user
	return &u
}

// Submit writes a record for the bound user
func (d *Dashboard) Submit(ctx context.Context, input models.HealthInput) (*models.HealthRecord, error) {
	user := d.User()
	if user == nil {
		return nil, errs.ErrNotAuthenticated
	}
	return d.writer.Submit(ctx, user.ID, input)
}

// Records returns the current live query state
func (d *Dashboard) Records() livequery.State {
	return d.live.State()
}

// Watch subscribes to live query updates
func (d *Dashboard) Watch() *notify.Subscription[livequery.State] {
	return d.live.Watch()
}
