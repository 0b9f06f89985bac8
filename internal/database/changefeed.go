package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	logpkg "github.com/benvon/wellness-tracker/internal/logger"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NotifyChannel is the Postgres channel carrying record change events.
// The payload is the owner id.
const NotifyChannel = "health_records_changed"

// RedisChannelPrefix prefixes the per-owner Redis pub/sub channel
const RedisChannelPrefix = "health_records:"

// ChangeFeed signals that an owner's records changed. Signals carry no
// data; listeners re-query.
type ChangeFeed interface {
	Notify(ctx context.Context, ownerID string) error
	// Listen returns a channel that receives a signal per change (coalesced
	// when the reader lags). The channel is closed when ctx is done or the
	// feed fails.
	Listen(ctx context.Context, ownerID string) (<-chan struct{}, error)
	Close() error
}

// dispatcher fans owner-keyed signals out to listeners
type dispatcher struct {
	mu        sync.Mutex
	listeners map[string]map[chan struct{}]struct{}
	closed    bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{listeners: make(map[string]map[chan struct{}]struct{})}
}

func (d *dispatcher) register(ctx context.Context, ownerID string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("change feed closed")
	}
	set, ok := d.listeners[ownerID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		d.listeners[ownerID] = set
	}
	set[ch] = struct{}{}
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.unregister(ownerID, ch)
	}()

	return ch, nil
}

func (d *dispatcher) unregister(ownerID string, ch chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.listeners[ownerID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(d.listeners, ownerID)
	}
	close(ch)
}

func (d *dispatcher) signal(ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.listeners[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *dispatcher) signalAll() {
	d.mu.Lock()
	owners := make([]string, 0, len(d.listeners))
	for owner := range d.listeners {
		owners = append(owners, owner)
	}
	d.mu.Unlock()
	for _, owner := range owners {
		d.signal(owner)
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for owner, set := range d.listeners {
		for ch := range set {
			close(ch)
		}
		delete(d.listeners, owner)
	}
}

// notificationSource is the subset of *pq.Listener the feed consumes
type notificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// PostgresFeed delivers changes over LISTEN/NOTIFY
type PostgresFeed struct {
	db       *DB
	source   notificationSource
	dispatch *dispatcher
	logger   *zap.Logger
	done     chan struct{}
	once     sync.Once
}

// NewPostgresFeed opens a dedicated listener connection on NotifyChannel
func NewPostgresFeed(db *DB, databaseURL string, log *zap.Logger) (*PostgresFeed, error) {
	logger := logpkg.OrNop(log)
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("change_feed_listener_event",
				zap.Int("event", int(ev)),
				zap.Error(err),
			)
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	return newPostgresFeed(db, listener, logger), nil
}

func newPostgresFeed(db *DB, source notificationSource, logger *zap.Logger) *PostgresFeed {
	f := &PostgresFeed{
		db:       db,
		source:   source,
		dispatch: newDispatcher(),
		logger:   logpkg.OrNop(logger),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *PostgresFeed) run() {
	notifications := f.source.NotificationChannel()
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-notifications:
			if !ok {
				f.dispatch.close()
				return
			}
			if n == nil {
				// Reconnected; notifications may have been missed.
				f.dispatch.signalAll()
				continue
			}
			f.dispatch.signal(n.Extra)
		}
	}
}

// Notify publishes a change for ownerID through pg_notify
func (f *PostgresFeed) Notify(ctx context.Context, ownerID string) error {
	if _, err := f.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, ownerID); err != nil {
		return classify("notify", fmt.Errorf("failed to notify change: %w", err))
	}
	return nil
}

// Listen implements ChangeFeed
func (f *PostgresFeed) Listen(ctx context.Context, ownerID string) (<-chan struct{}, error) {
	return f.dispatch.register(ctx, ownerID)
}

// Close stops the listener and closes every listening channel
func (f *PostgresFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.source.Close()
		f.dispatch.close()
	})
	return err
}

// RedisFeed delivers changes over Redis pub/sub, one channel per owner
type RedisFeed struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisFeed creates a Redis-backed change feed
func NewRedisFeed(client *redis.Client, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logpkg.OrNop(logger)}
}

func redisChannel(ownerID string) string {
	return RedisChannelPrefix + ownerID
}

// Notify implements ChangeFeed
func (f *RedisFeed) Notify(ctx context.Context, ownerID string) error {
	if err := f.client.Publish(ctx, redisChannel(ownerID), "changed").Err(); err != nil {
		return classify("notify", fmt.Errorf("failed to publish change: %w", err))
	}
	return nil
}

// Listen implements ChangeFeed
func (f *RedisFeed) Listen(ctx context.Context, ownerID string) (<-chan struct{}, error) {
	pubsub := f.client.Subscribe(ctx, redisChannel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, classify("listen", fmt.Errorf("failed to subscribe: %w", err))
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					f.logger.Warn("change_feed_subscription_closed", zap.String("owner_id", ownerID))
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op; the Redis client is owned by the caller
func (f *RedisFeed) Close() error {
	return nil
}
