// Package records validates and persists health records submitted by a user.
package records

import (
	"context"
	"sync"
	"time"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/validation"
	"go.uber.org/zap"
)

// SuccessDismissDelay is how long the host view shows the success notice
const SuccessDismissDelay = 3 * time.Second

// EventPublisher announces stored records to downstream consumers
type EventPublisher interface {
	PublishRecordWritten(ctx context.Context, record *models.HealthRecord) error
}

// Option configures a Writer
type Option func(*Writer)

// WithPublisher sets the publisher notified after every successful write
func WithPublisher(p EventPublisher) Option {
	return func(w *Writer) { w.publisher = p }
}

// Writer submits health records for an owner
type Writer struct {
	store     docstore.RecordStore
	publisher EventPublisher
	logger    *zap.Logger

	mu        sync.Mutex
	nextID    int
	callbacks map[int]func(*models.HealthRecord)
}

// NewWriter creates a writer backed by store
func NewWriter(store docstore.RecordStore, log *zap.Logger, opts ...Option) *Writer {
	w := &Writer{
		store:     store,
		logger:    logger.OrNop(log),
		callbacks: make(map[int]func(*models.HealthRecord)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnWritten registers fn to run after every successful write.
// The returned func removes the registration.
func (w *Writer) OnWritten(fn func(*models.HealthRecord)) (remove func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.callbacks[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.callbacks, id)
			w.mu.Unlock()
		})
	}
}

// Submit stores input for ownerID. Omitted fields are stored as 0.
// Invalid input never reaches the store.
func (w *Writer) Submit(ctx context.Context, ownerID string, input models.HealthInput) (*models.HealthRecord, error) {
	record := input.Record(ownerID)
	if err := validation.ValidateRecord(record); err != nil {
		w.logger.Debug("health_record_rejected",
			zap.String("user_id", logger.SanitizeUserID(ownerID)),
			zap.String("reason", logger.SanitizeError(err)),
		)
		return nil, err
	}

	if err := w.store.CreateHealthRecord(ctx, record); err != nil {
		w.logger.Warn("health_record_write_failed",
			zap.String("user_id", logger.SanitizeUserID(ownerID)),
			zap.String("error", logger.SanitizeError(err)),
		)
		return nil, errs.NewStoreError("create health record", err)
	}

	w.logger.Info("health_record_written",
		zap.String("user_id", logger.SanitizeUserID(ownerID)),
		zap.String("record_id", record.ID.String()),
	)

	for _, fn := range w.snapshotCallbacks() {
		fn(record)
	}

	if w.publisher != nil {
		if err := w.publisher.PublishRecordWritten(ctx, record); err != nil {
			w.logger.Warn("record_event_publish_failed",
				zap.String("record_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}

	return record, nil
}

// SubmitForm parses raw form values and submits them
func (w *Writer) SubmitForm(ctx context.Context, ownerID string, values map[string]string) (*models.HealthRecord, error) {
	input, err := models.ParseHealthInput(values)
	if err != nil {
		return nil, &errs.ValidationError{Message: err.Error()}
	}
	return w.Submit(ctx, ownerID, input)
}

// snapshotCallbacks copies the callbacks in registration order
func (w *Writer) snapshotCallbacks() []func(*models.HealthRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]func(*models.HealthRecord), 0, len(w.callbacks))
	for id := 0; id < w.nextID; id++ {
		if fn, ok := w.callbacks[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
