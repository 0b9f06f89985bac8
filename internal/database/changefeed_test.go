package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type fakeNotificationSource struct {
	ch     chan *pq.Notification
	closed bool
}

func (f *fakeNotificationSource) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeNotificationSource) Close() error {
	f.closed = true
	return nil
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("listener channel closed, want signal")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change signal")
	}
}

func expectNoSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected change signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPostgresFeed_RoutesByOwner(t *testing.T) {
	t.Parallel()

	src := &fakeNotificationSource{ch: make(chan *pq.Notification)}
	feed := newPostgresFeed(nil, src, zap.NewNop())
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, err := feed.Listen(ctx, "alice")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	bob, err := feed.Listen(ctx, "bob")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	src.ch <- &pq.Notification{Channel: NotifyChannel, Extra: "alice"}
	waitSignal(t, alice)
	expectNoSignal(t, bob)

	// A nil notification means the connection was re-established.
	src.ch <- nil
	waitSignal(t, alice)
	waitSignal(t, bob)
}

func TestPostgresFeed_ListenerClosedOnCancel(t *testing.T) {
	t.Parallel()

	src := &fakeNotificationSource{ch: make(chan *pq.Notification)}
	feed := newPostgresFeed(nil, src, zap.NewNop())
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := feed.Listen(ctx, "alice")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("listener channel not closed after cancel")
	}
}

func TestPostgresFeed_CloseEndsListeners(t *testing.T) {
	t.Parallel()

	src := &fakeNotificationSource{ch: make(chan *pq.Notification)}
	feed := newPostgresFeed(nil, src, zap.NewNop())

	ch, err := feed.Listen(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if err := feed.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}
	if !src.closed {
		t.Error("notification source not closed")
	}
	if _, err := feed.Listen(context.Background(), "alice"); err == nil {
		t.Error("Listen() after Close should fail")
	}
}

func TestPostgresFeed_Notify(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	src := &fakeNotificationSource{ch: make(chan *pq.Notification)}
	feed := newPostgresFeed(db, src, zap.NewNop())
	t.Cleanup(func() { _ = feed.Close() })

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs(NotifyChannel, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := feed.Notify(context.Background(), "alice"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
