package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/livequery"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
	"github.com/google/uuid"
)

type fakeSessions struct {
	hub     *notify.Hub[models.Session]
	current models.Session
}

func newFakeSessions(initial models.Session) *fakeSessions {
	return &fakeSessions{hub: notify.NewHub[models.Session](), current: initial}
}

func (f *fakeSessions) Subscribe() *notify.Subscription[models.Session] {
	return f.hub.SubscribeWith(f.current)
}

type liveCall struct {
	op      string
	ownerID string
	refresh uint64
}

type fakeLive struct {
	calls chan liveCall
	hub   *notify.Hub[livequery.State]

	mu  sync.Mutex
	gen uint64
}

func newFakeLive() *fakeLive {
	return &fakeLive{calls: make(chan liveCall, 16), hub: notify.NewHub[livequery.State]()}
}

func (f *fakeLive) Open(ctx context.Context, ownerID string, refreshToken uint64) uint64 {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()
	f.calls <- liveCall{op: "open", ownerID: ownerID, refresh: refreshToken}
	return gen
}

func (f *fakeLive) Close() {
	f.calls <- liveCall{op: "close"}
}

func (f *fakeLive) State() livequery.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return livequery.State{Generation: f.gen}
}

func (f *fakeLive) Watch() *notify.Subscription[livequery.State] {
	return f.hub.Subscribe()
}

type fakeWriter struct {
	mu         sync.Mutex
	callbacks  []func(*models.HealthRecord)
	submitFunc func(ctx context.Context, ownerID string, input models.HealthInput) (*models.HealthRecord, error)
}

func (f *fakeWriter) Submit(ctx context.Context, ownerID string, input models.HealthInput) (*models.HealthRecord, error) {
	if f.submitFunc != nil {
		return f.submitFunc(ctx, ownerID, input)
	}
	record := input.Record(ownerID)
	record.ID = uuid.New()
	f.mu.Lock()
	callbacks := append([]func(*models.HealthRecord){}, f.callbacks...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(record)
	}
	return record, nil
}

func (f *fakeWriter) OnWritten(fn func(*models.HealthRecord)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.callbacks = nil
	}
}

func nextCall(t *testing.T, live *fakeLive) liveCall {
	t.Helper()
	select {
	case c := <-live.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live query call")
	}
	return liveCall{}
}

func user(id string) models.User {
	return models.User{ID: id, Email: id + "@example.com"}
}

func TestDashboard_FollowsSession(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions(models.UnknownSession())
	live := newFakeLive()
	d := New(sessions, live, &fakeWriter{}, nil)
	d.Start(context.Background())
	defer d.Stop()

	sessions.hub.Publish(models.AuthenticatedSession(user("alice")))
	if c := nextCall(t, live); c.op != "open" || c.ownerID != "alice" {
		t.Fatalf("call = %+v, want open for alice", c)
	}

	sessions.hub.Publish(models.AnonymousSession())
	if c := nextCall(t, live); c.op != "close" {
		t.Fatalf("call = %+v, want close", c)
	}

	sessions.hub.Publish(models.AuthenticatedSession(user("bob")))
	if c := nextCall(t, live); c.op != "open" || c.ownerID != "bob" {
		t.Fatalf("call = %+v, want open for bob", c)
	}
}

func TestDashboard_WriteRefreshesLiveQuery(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions(models.AuthenticatedSession(user("alice")))
	live := newFakeLive()
	writer := &fakeWriter{}
	d := New(sessions, live, writer, nil)
	d.Start(context.Background())
	defer d.Stop()

	first := nextCall(t, live)
	if first.op != "open" || first.ownerID != "alice" {
		t.Fatalf("call = %+v, want open for alice", first)
	}

	steps := 100.0
	record, err := d.Submit(context.Background(), models.HealthInput{Steps: &steps})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if record.OwnerID != "alice" {
		t.Errorf("OwnerID = %s, want alice", record.OwnerID)
	}

	second := nextCall(t, live)
	if second.op != "open" || second.ownerID != "alice" || second.refresh <= first.refresh {
		t.Fatalf("call = %+v, want re-open with newer refresh token than %d", second, first.refresh)
	}
}

func TestDashboard_SubmitWhileAnonymous(t *testing.T) {
	t.Parallel()

	called := false
	writer := &fakeWriter{submitFunc: func(context.Context, string, models.HealthInput) (*models.HealthRecord, error) {
		called = true
		return nil, nil
	}}
	d := New(newFakeSessions(models.AnonymousSession()), newFakeLive(), writer, nil)

	_, err := d.Submit(context.Background(), models.HealthInput{})
	if !errors.Is(err, errs.ErrNotAuthenticated) {
		t.Fatalf("Submit() error = %v, want ErrNotAuthenticated", err)
	}
	if called {
		t.Error("writer must not be called when anonymous")
	}
}

func TestDashboard_RefreshWhileAnonymousDoesNothing(t *testing.T) {
	t.Parallel()

	live := newFakeLive()
	d := New(newFakeSessions(models.AnonymousSession()), live, &fakeWriter{}, nil)
	d.Refresh()

	select {
	case c := <-live.calls:
		t.Fatalf("unexpected live call %+v", c)
	default:
	}
}

func TestDashboard_StopClosesLiveQuery(t *testing.T) {
	t.Parallel()

	live := newFakeLive()
	d := New(newFakeSessions(models.AuthenticatedSession(user("alice"))), live, &fakeWriter{}, nil)
	d.Start(context.Background())
	nextCall(t, live)

	d.Stop()
	d.Stop()

	if c := nextCall(t, live); c.op != "close" {
		t.Fatalf("call = %+v, want close", c)
	}
	select {
	case c := <-live.calls:
		t.Fatalf("unexpected live call after Stop %+v", c)
	default:
	}
}

// gatedLive holds the first Open made after arm until release is closed,
// so a session change can arrive while a refresh is mid-flight
type gatedLive struct {
	mu      sync.Mutex
	ops     []string
	armed   bool
	entered chan struct{}
	release chan struct{}
	closed  chan struct{}
	hub     *notify.Hub[livequery.State]
}

func newGatedLive() *gatedLive {
	return &gatedLive{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		closed:  make(chan struct{}, 16),
		hub:     notify.NewHub[livequery.State](),
	}
}

func (g *gatedLive) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

func (g *gatedLive) Open(ctx context.Context, ownerID string, refreshToken uint64) uint64 {
	g.mu.Lock()
	gated := g.armed
	g.armed = false
	g.mu.Unlock()
	if gated {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ops = append(g.ops, "open:"+ownerID)
	return uint64(len(g.ops))
}

func (g *gatedLive) Close() {
	g.mu.Lock()
	g.ops = append(g.ops, "close")
	g.mu.Unlock()
	g.closed <- struct{}{}
}

func (g *gatedLive) State() livequery.State { return livequery.State{} }

func (g *gatedLive) Watch() *notify.Subscription[livequery.State] { return g.hub.Subscribe() }

func (g *gatedLive) lastOp() (string, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ops := append([]string(nil), g.ops...)
	if len(ops) == 0 {
		return "", ops
	}
	return ops[len(ops)-1], ops
}

func waitOps(t *testing.T, g *gatedLive, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ops := g.lastOp(); len(ops) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	_, ops := g.lastOp()
	t.Fatalf("ops = %v, want at least %d", ops, n)
}

func TestDashboard_RefreshRacingSignOutLeavesViewClosed(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions(models.AuthenticatedSession(user("alice")))
	live := newGatedLive()
	d := New(sessions, live, &fakeWriter{}, nil)
	d.Start(context.Background())
	defer d.Stop()
	waitOps(t, live, 1)

	live.arm()
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		d.Refresh()
	}()
	<-live.entered

	sessions.hub.Publish(models.AnonymousSession())
	// give the session loop a chance to act while the refresh is in flight
	time.Sleep(20 * time.Millisecond)
	close(live.release)
	<-refreshed

	select {
	case <-live.closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}

	last, ops := live.lastOp()
	if last != "close" {
		t.Fatalf("ops = %v, want the view closed last", ops)
	}
	if u := d.User(); u != nil {
		t.Errorf("User() = %+v, want nil", u)
	}
}

func TestDashboard_RefreshRacingUserSwitchBindsNewUser(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions(models.AuthenticatedSession(user("alice")))
	live := newGatedLive()
	d := New(sessions, live, &fakeWriter{}, nil)
	d.Start(context.Background())
	defer d.Stop()
	waitOps(t, live, 1)

	live.arm()
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		d.Refresh()
	}()
	<-live.entered

	sessions.hub.Publish(models.AnonymousSession())
	sessions.hub.Publish(models.AuthenticatedSession(user("bob")))
	time.Sleep(20 * time.Millisecond)
	close(live.release)
	<-refreshed

	waitOps(t, live, 4)
	last, ops := live.lastOp()
	if last != "open:bob" {
		t.Fatalf("ops = %v, want bob bound last", ops)
	}
}

func TestDashboard_RefreshAfterStopDoesNotReopen(t *testing.T) {
	t.Parallel()

	live := newGatedLive()
	d := New(newFakeSessions(models.AuthenticatedSession(user("alice"))), live, &fakeWriter{}, nil)
	d.Start(context.Background())
	waitOps(t, live, 1)
	d.Stop()

	d.Refresh()

	if last, ops := live.lastOp(); last != "close" {
		t.Fatalf("ops = %v, want close last", ops)
	}
}
