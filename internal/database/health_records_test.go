package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/google/uuid"
)

var recordColumns = []string{"id", "user_id", "steps", "heart_rate", "sleep_hours", "water_intake", "calories", "recorded_at"}

func TestHealthRecordRepository_Create(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewHealthRecordRepository(db)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO health_records")).
		WithArgs("uid-1", 1000.0, 70.0, 0.0, 0.0, 0.0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))

	rec := &models.HealthRecord{OwnerID: "uid-1", Steps: 1000, HeartRate: 70}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID != id {
		t.Errorf("ID = %v, want %v", rec.ID, id)
	}
	if rec.HasTimestamp() {
		t.Errorf("RecordedAt should stay unset until the record is read back")
	}
}

func TestHealthRecordRepository_List(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		query     models.RecordQuery
		wantSQL   string
		wantArgs  int
		wantCount int
	}{
		{
			name:      "newest first without limit",
			query:     models.NewestFirst("uid-1"),
			wantSQL:   "ORDER BY recorded_at DESC, id DESC",
			wantArgs:  1,
			wantCount: 2,
		},
		{
			name:      "oldest first with limit",
			query:     models.RecordQuery{OwnerID: "uid-1", Limit: 50},
			wantSQL:   "ORDER BY recorded_at ASC, id ASC LIMIT $2",
			wantArgs:  2,
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMockDB(t)
			rows := sqlmock.NewRows(recordColumns).
				AddRow(uuid.New().String(), "uid-1", 1000.0, 70.0, 7.5, 2.0, 1800.0, now).
				AddRow(uuid.New().String(), "uid-1", 0.0, 0.0, 0.0, 0.0, 0.0, now.Add(-time.Hour))

			expect := mock.ExpectQuery(regexp.QuoteMeta(tt.wantSQL))
			if tt.wantArgs == 1 {
				expect.WithArgs("uid-1")
			} else {
				expect.WithArgs("uid-1", tt.query.Limit)
			}
			expect.WillReturnRows(rows)

			got, err := NewHealthRecordRepository(db).List(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("List() returned %d records, want %d", len(got), tt.wantCount)
			}
			if got[0].SleepHours != 7.5 {
				t.Errorf("SleepHours = %v, want 7.5", got[0].SleepHours)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestHealthRecordRepository_ListQueryFailure(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("permission denied for table health_records"))

	_, err := NewHealthRecordRepository(db).List(context.Background(), models.NewestFirst("uid-1"))
	var storeErr *errs.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("List() error = %v, want *errs.StoreError", err)
	}
}

func TestHealthRecordRepository_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	steps := 500.0

	t.Run("update returns owner", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE health_records SET updated_at = now(), steps = $1 WHERE id = $2 RETURNING user_id")).
			WithArgs(steps, id).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("uid-1"))

		owner, err := NewHealthRecordRepository(db).Update(context.Background(), id, models.HealthRecordPatch{Steps: &steps})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if owner != "uid-1" {
			t.Errorf("owner = %q, want uid-1", owner)
		}
	})

	t.Run("delete missing record", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM health_records")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

		_, err := NewHealthRecordRepository(db).Delete(context.Background(), id)
		if !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("Delete() error = %v, want ErrNotFound", err)
		}
	})
}
