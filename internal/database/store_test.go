package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestStore_WritesAnnounceOwner(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	feed := newFakeFeed()
	store := NewStore(db, feed, zap.NewNop())
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO health_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM health_records")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice"))

	if err := store.CreateHealthRecord(context.Background(), &models.HealthRecord{OwnerID: "alice"}); err != nil {
		t.Fatalf("CreateHealthRecord() error = %v", err)
	}
	if err := store.DeleteHealthRecord(context.Background(), id); err != nil {
		t.Fatalf("DeleteHealthRecord() error = %v", err)
	}

	got := feed.owners()
	if len(got) != 2 || got[0] != "alice" || got[1] != "alice" {
		t.Errorf("notified owners = %v, want [alice alice]", got)
	}
}

func TestStore_NotifyFailureDoesNotFailWrite(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	feed := newFakeFeed()
	feed.notifyErr = errors.New("redis down")
	store := NewStore(db, feed, nil)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO health_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.NewString()))

	if err := store.CreateHealthRecord(context.Background(), &models.HealthRecord{OwnerID: "alice"}); err != nil {
		t.Fatalf("CreateHealthRecord() error = %v", err)
	}
}

func TestStore_FailedWriteIsNotAnnounced(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	feed := newFakeFeed()
	store := NewStore(db, feed, nil)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO health_records")).WillReturnError(errors.New("permission denied"))

	if err := store.CreateHealthRecord(context.Background(), &models.HealthRecord{OwnerID: "alice"}); err == nil {
		t.Fatal("CreateHealthRecord() expected error")
	}
	if got := feed.owners(); len(got) != 0 {
		t.Errorf("notified owners = %v, want none", got)
	}
}
