package database

import (
	"context"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/logger"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/benvon/wellness-tracker/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Store is the Postgres-backed document store. Writes to health records
// are announced on the change feed so live queries re-run.
type Store struct {
	users   *UserRepository
	records *HealthRecordRepository
	live    *LiveStore
	feed    ChangeFeed
	logger  *zap.Logger
}

var (
	_ docstore.UserStore   = (*Store)(nil)
	_ docstore.RecordStore = (*Store)(nil)
	_ docstore.Subscriber  = (*Store)(nil)
)

// NewStore assembles the repositories and the live query source
func NewStore(db *DB, feed ChangeFeed, log *zap.Logger) *Store {
	log = logger.OrNop(log)
	records := NewHealthRecordRepository(db)
	return &Store{
		users:   NewUserRepository(db),
		records: records,
		live:    NewLiveStore(records, feed, log),
		feed:    feed,
		logger:  log,
	}
}

// CreateUser implements docstore.UserStore
func (s *Store) CreateUser(ctx context.Context, user *models.User) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.create_user", attribute.String("user.id", user.ID))
	defer func() { telemetry.EndSpan(span, err) }()
	return s.users.Create(ctx, user)
}

// GetUser implements docstore.UserStore
func (s *Store) GetUser(ctx context.Context, id string) (user *models.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.get_user", attribute.String("user.id", id))
	defer func() { telemetry.EndSpan(span, err) }()
	return s.users.GetByID(ctx, id)
}

// UpdateUser implements docstore.UserStore
func (s *Store) UpdateUser(ctx context.Context, id string, patch models.UserPatch) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.update_user", attribute.String("user.id", id))
	defer func() { telemetry.EndSpan(span, err) }()
	return s.users.Update(ctx, id, patch)
}

// CreateHealthRecord implements docstore.RecordStore
func (s *Store) CreateHealthRecord(ctx context.Context, record *models.HealthRecord) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.create_health_record", attribute.String("user.id", record.OwnerID))
	defer func() { telemetry.EndSpan(span, err) }()

	if err = s.records.Create(ctx, record); err != nil {
		return err
	}
	s.announce(ctx, record.OwnerID)
	return nil
}

// ListHealthRecords implements docstore.RecordStore
func (s *Store) ListHealthRecords(ctx context.Context, q models.RecordQuery) (records []*models.HealthRecord, err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.list_health_records", attribute.String("user.id", q.OwnerID))
	defer func() { telemetry.EndSpan(span, err) }()
	return s.records.List(ctx, q)
}

// UpdateHealthRecord implements docstore.RecordStore
func (s *Store) UpdateHealthRecord(ctx context.Context, id uuid.UUID, patch models.HealthRecordPatch) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.update_health_record", attribute.String("record.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	owner, err := s.records.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	s.announce(ctx, owner)
	return nil
}

// DeleteHealthRecord implements docstore.RecordStore
func (s *Store) DeleteHealthRecord(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "store.delete_health_record", attribute.String("record.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	owner, err := s.records.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.announce(ctx, owner)
	return nil
}

// SubscribeHealthRecords implements docstore.Subscriber
func (s *Store) SubscribeHealthRecords(ctx context.Context, q models.RecordQuery) (docstore.Stream, error) {
	return s.live.SubscribeHealthRecords(ctx, q)
}

// announce logs notify failures; the write itself already succeeded
func (s *Store) announce(ctx context.Context, ownerID string) {
	if err := s.feed.Notify(ctx, ownerID); err != nil {
		s.logger.Warn("change_notify_failed",
			zap.String("user_id", logger.SanitizeUserID(ownerID)),
			zap.Error(err),
		)
	}
}
