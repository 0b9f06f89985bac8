package database

import (
	"context"
	"errors"
	"sync"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"go.uber.org/zap"
)

var errFeedClosed = errs.NewStoreError("listen", errors.New("change feed closed"))

type recordLister interface {
	List(ctx context.Context, q models.RecordQuery) ([]*models.HealthRecord, error)
}

// LiveStore serves live queries by re-running the query on every change signal
type LiveStore struct {
	records recordLister
	feed    ChangeFeed
	logger  *zap.Logger
}

// NewLiveStore creates a live query source over records and feed
func NewLiveStore(records recordLister, feed ChangeFeed, log *zap.Logger) *LiveStore {
	return &LiveStore{records: records, feed: feed, logger: logger.OrNop(log)}
}

// SubscribeHealthRecords implements docstore.Subscriber. The feed is
// joined before the initial query so no change between the two is lost.
func (l *LiveStore) SubscribeHealthRecords(ctx context.Context, q models.RecordQuery) (docstore.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	changes, err := l.feed.Listen(ctx, q.OwnerID)
	if err != nil {
		cancel()
		return nil, err
	}

	initial, err := l.records.List(ctx, q)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &stream{
		out:    make(chan []*models.HealthRecord, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, l.records, q, initial, changes, l.logger)
	return s, nil
}

type stream struct {
	out    chan []*models.HealthRecord
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *stream) run(ctx context.Context, records recordLister, q models.RecordQuery, initial []*models.HealthRecord, changes <-chan struct{}, log *zap.Logger) {
	defer close(s.done)
	defer close(s.out)
	defer s.cancel()

	if !s.send(ctx, initial) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() == nil {
					s.fail(errFeedClosed)
				}
				return
			}
			snapshot, err := records.List(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("live_query_requery_failed", zap.Error(err))
				s.fail(err)
				return
			}
			if !s.send(ctx, snapshot) {
				return
			}
		}
	}
}

// send replaces any undelivered snapshot so the reader always sees the latest
func (s *stream) send(ctx context.Context, snapshot []*models.HealthRecord) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case s.out <- snapshot:
			return true
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}

func (s *stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stream) Snapshots() <-chan []*models.HealthRecord {
	return s.out
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
