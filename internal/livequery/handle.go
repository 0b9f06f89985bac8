// Package livequery binds an owner's records to a continuously updated,
// newest-first view. Every Open starts a new generation; deliveries from
// an older generation or after Close are dropped.
package livequery

import (
	"context"
	"errors"
	"sync"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/notify"
	"go.uber.org/zap"
)

// ErrStreamEnded is reported when the store ends a live query on its own
var ErrStreamEnded = errors.New("live query ended by the store")

// State is what the view renders
type State struct {
	Generation uint64
	OwnerID    string
	Records    []*models.HealthRecord
	Loading    bool
	// Err is terminal for its generation; the caller decides whether to re-open
	Err error
}

// Handle owns at most one live query at a time
type Handle struct {
	subscriber docstore.Subscriber
	logger     *zap.Logger
	hub        *notify.Hub[State]

	mu      sync.Mutex
	gen     uint64
	open    bool
	ownerID string
	refresh uint64
	cancel  context.CancelFunc
	state   State
}

// New creates a closed handle
func New(subscriber docstore.Subscriber, log *zap.Logger) *Handle {
	return &Handle{
		subscriber: subscriber,
		logger:     logger.OrNop(log),
		hub:        notify.NewHub[State](),
	}
}

// Open starts a live query for ownerID and returns its generation. Calling
// it again with the same owner and refresh token while healthy is a no-op;
// anything else closes the previous query first.
func (h *Handle) Open(ctx context.Context, ownerID string, refreshToken uint64) uint64 {
	h.mu.Lock()
	if h.open && h.ownerID == ownerID && h.refresh == refreshToken && h.state.Err == nil {
		gen := h.gen
		h.mu.Unlock()
		return gen
	}

	h.closeLocked()
	h.gen++
	gen := h.gen
	h.open = true
	h.ownerID = ownerID
	h.refresh = refreshToken

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.setLocked(State{Generation: gen, OwnerID: ownerID, Loading: true})
	h.mu.Unlock()

	h.logger.Debug("live_query_opened",
		zap.Uint64("generation", gen),
		zap.String("user_id", logger.SanitizeUserID(ownerID)),
		zap.Uint64("refresh", refreshToken),
	)

	go h.run(runCtx, gen, ownerID)
	return gen
}

// Close stops the current live query. It is immediate and idempotent;
// in-flight deliveries are discarded when they arrive.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return
	}
	h.closeLocked()
	h.setLocked(State{Generation: h.gen})
	h.logger.Debug("live_query_closed", zap.Uint64("generation", h.gen))
}

func (h *Handle) closeLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.open = false
}

// Generation returns the generation of the most recent Open
func (h *Handle) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// State returns the current view state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Watch subscribes to view states, starting with the current one
func (h *Handle) Watch() *notify.Subscription[State] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hub.SubscribeWith(h.state)
}

func (h *Handle) setLocked(s State) {
	h.state = s
	h.hub.Publish(s)
}

func (h *Handle) run(ctx context.Context, gen uint64, ownerID string) {
	stream, err := h.subscriber.SubscribeHealthRecords(ctx, models.NewestFirst(ownerID))
	if err != nil {
		h.fail(gen, err)
		return
	}
	defer func() { _ = stream.Close() }()

	snapshots := stream.Snapshots()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				if err := stream.Err(); err != nil {
					h.fail(gen, err)
				} else if ctx.Err() == nil {
					h.fail(gen, ErrStreamEnded)
				}
				return
			}
			h.deliver(gen, snapshot)
		}
	}
}

// currentLocked reports whether gen may still change the state
func (h *Handle) currentLocked(gen uint64) bool {
	return h.open && gen == h.gen
}

func (h *Handle) deliver(gen uint64, snapshot []*models.HealthRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.currentLocked(gen) {
		h.logger.Debug("live_query_snapshot_dropped",
			zap.Uint64("generation", gen),
			zap.Uint64("current", h.gen),
			zap.Bool("open", h.open),
		)
		return
	}
	h.setLocked(State{Generation: gen, OwnerID: h.ownerID, Records: snapshot})
}

func (h *Handle) fail(gen uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.currentLocked(gen) {
		h.logger.Debug("live_query_error_dropped", zap.Uint64("generation", gen), zap.Error(err))
		return
	}
	err = errs.NewStoreError("subscribe", err)
	h.logger.Warn("live_query_failed",
		zap.Uint64("generation", gen),
		zap.String("user_id", logger.SanitizeUserID(h.ownerID)),
		zap.Error(err),
	)
	s := h.state
	s.Loading = false
	s.Err = err
	h.setLocked(s)
}
