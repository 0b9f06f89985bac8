// Package docstore defines the document store consumed by the session,
// live query and record writer components. The store is the system of
// record; clients hold eventually-consistent copies.
package docstore

import (
	"context"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errs.ErrNotFound

// UserStore persists profile documents
type UserStore interface {
	// CreateUser stores a new profile; CreatedAt is assigned by the store and written back.
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) error
}

// RecordStore persists health records
type RecordStore interface {
	// CreateHealthRecord stores record; ID is assigned by the store and written back, RecordedAt is not.
	CreateHealthRecord(ctx context.Context, record *models.HealthRecord) error
	ListHealthRecords(ctx context.Context, q models.RecordQuery) ([]*models.HealthRecord, error)
	UpdateHealthRecord(ctx context.Context, id uuid.UUID, patch models.HealthRecordPatch) error
	DeleteHealthRecord(ctx context.Context, id uuid.UUID) error
}

// Subscriber opens live queries over health records
type Subscriber interface {
	// SubscribeHealthRecords pushes the full result set of q now and after every matching change.
	SubscribeHealthRecords(ctx context.Context, q models.RecordQuery) (Stream, error)
}

// Stream is a live query in progress
type Stream interface {
	// Snapshots delivers full result sets. It is closed when the stream ends.
	Snapshots() <-chan []*models.HealthRecord
	// Err reports why the stream ended; nil after Close or context cancellation.
	Err() error
	// Close stops the stream. It is idempotent.
	Close() error
}
