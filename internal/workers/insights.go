// Package workers consumes record events from the queue.
package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/queue"
	"go.uber.org/zap"
)

// Republisher puts a retried event back on the queue
type Republisher interface {
	Publish(ctx context.Context, event *queue.Event) error
}

// InsightProcessor turns record_written events into a summary of the
// owner's recent records. Insight generation beyond the summary is not implemented.
type InsightProcessor struct {
	records     docstore.RecordStore
	republisher Republisher
	logger      *zap.Logger
}

// NewInsightProcessor creates a processor. republisher may be nil, in which
// case failed events are requeued by the broker.
func NewInsightProcessor(records docstore.RecordStore, republisher Republisher, log *zap.Logger) *InsightProcessor {
	return &InsightProcessor{
		records:     records,
		republisher: republisher,
		logger:      logger.OrNop(log),
	}
}

// ProcessRecordWritten summarizes the recent records of the event's owner
func (p *InsightProcessor) ProcessRecordWritten(ctx context.Context, event *queue.Event) (*models.HealthSummary, error) {
	if event.OwnerID == "" {
		return nil, errors.New("owner_id is required for record_written event")
	}

	q := models.NewestFirst(event.OwnerID)
	q.Limit = models.SummaryWindow
	records, err := p.records.ListHealthRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list health records: %w", err)
	}

	summary := models.Summarize(records)
	p.logger.Info("health_insight_generated",
		zap.String("event_id", event.ID.String()),
		zap.String("user_id", logger.SanitizeUserID(event.OwnerID)),
		zap.String("record_id", event.RecordID.String()),
		zap.Int("days_tracked", summary.DaysTracked),
		zap.Float64("total_steps", summary.TotalSteps),
		zap.Float64("avg_heart_rate", summary.AvgHeartRate),
	)
	return &summary, nil
}

// ProcessMessage handles one delivery and settles it with the broker
func (p *InsightProcessor) ProcessMessage(ctx context.Context, msg queue.MessageInterface) error {
	event := msg.GetEvent()

	switch event.Type {
	case queue.EventRecordWritten:
		if _, err := p.ProcessRecordWritten(ctx, event); err != nil {
			return p.handleEventError(ctx, msg, event, err)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack event: %w", ackErr)
		}
		return nil

	default:
		// Unknown event type, send to DLQ
		if nackErr := msg.Nack(false); nackErr != nil {
			p.logger.Warn("event_nack_failed", zap.String("event_id", event.ID.String()), zap.Error(nackErr))
		}
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

func (p *InsightProcessor) handleEventError(ctx context.Context, msg queue.MessageInterface, event *queue.Event, err error) error {
	// A missing owner or a bad event never succeeds on retry
	if errors.Is(err, errs.ErrNotFound) || errs.IsValidation(err) || event.OwnerID == "" || !event.CanRetry() {
		p.logger.Warn("event_dead_lettered",
			zap.String("event_id", event.ID.String()),
			zap.Int("retry_count", event.RetryCount),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false); nackErr != nil {
			p.logger.Warn("event_nack_failed", zap.String("event_id", event.ID.String()), zap.Error(nackErr))
		}
		return fmt.Errorf("event failed (max retries): %w", err)
	}

	retry := *event
	retry.IncrementRetry()

	if p.republisher != nil {
		pubErr := p.republisher.Publish(ctx, &retry)
		if pubErr == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				p.logger.Warn("event_ack_failed", zap.String("event_id", event.ID.String()), zap.Error(ackErr))
			}
			p.logger.Info("event_republished",
				zap.String("event_id", event.ID.String()),
				zap.Int("retry_count", retry.RetryCount),
				zap.Int("max_retries", retry.MaxRetries),
			)
			return fmt.Errorf("event failed (will retry): %w", err)
		}
		p.logger.Warn("event_republish_failed", zap.String("event_id", event.ID.String()), zap.Error(pubErr))
	}

	// Fall back to a broker requeue; the retry count is not persisted this way
	if nackErr := msg.Nack(true); nackErr != nil {
		p.logger.Warn("event_nack_failed", zap.String("event_id", event.ID.String()), zap.Error(nackErr))
	}
	return fmt.Errorf("event failed (will retry): %w", err)
}
