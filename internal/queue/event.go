package queue

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened
type EventType string

const (
	// EventRecordWritten is published after a health record is stored
	EventRecordWritten EventType = "record_written"
)

// DefaultMaxRetries bounds how often a failing event is redelivered
const DefaultMaxRetries = 3

// Event is a message on the record events queue
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       EventType  `json:"type"`
	OwnerID    string     `json:"owner_id"`
	RecordID   uuid.UUID  `json:"record_id"`
	NotAfter   *time.Time `json:"not_after,omitempty"` // Latest time to process (nil = no expiration)
	CreatedAt  time.Time  `json:"created_at"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
}

// NewRecordWritten creates a record_written event
func NewRecordWritten(ownerID string, recordID uuid.UUID) *Event {
	return &Event{
		ID:         uuid.New(),
		Type:       EventRecordWritten,
		OwnerID:    ownerID,
		RecordID:   recordID,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// IsExpired checks if the event is past NotAfter
func (e *Event) IsExpired() bool {
	if e.NotAfter == nil {
		return false
	}
	return time.Now().After(*e.NotAfter)
}

// CanRetry checks if the event can be redelivered
func (e *Event) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// IncrementRetry increments the retry count
func (e *Event) IncrementRetry() {
	e.RetryCount++
}
