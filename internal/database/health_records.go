package database

import (
	"context"
	"fmt"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/google/uuid"
)

// HealthRecordRepository handles health record operations
type HealthRecordRepository struct {
	db *DB
}

// NewHealthRecordRepository creates a new health record repository
func NewHealthRecordRepository(db *DB) *HealthRecordRepository {
	return &HealthRecordRepository{db: db}
}

// Create inserts a record. The id and timestamp are assigned by the
// database; only the id is written back so callers learn the timestamp
// from the next query, the same as every other reader.
func (r *HealthRecordRepository) Create(ctx context.Context, record *models.HealthRecord) error {
	query := `
		INSERT INTO health_records (user_id, steps, heart_rate, sleep_hours, water_intake, calories)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		record.OwnerID,
		record.Steps,
		record.HeartRate,
		record.SleepHours,
		record.WaterIntake,
		record.Calories,
	).Scan(&record.ID)
	if err != nil {
		return classify("create_health_record", fmt.Errorf("failed to create health record: %w", err))
	}

	return nil
}

// List returns the owner's records ordered by timestamp. A non-positive
// limit returns every record.
func (r *HealthRecordRepository) List(ctx context.Context, q models.RecordQuery) ([]*models.HealthRecord, error) {
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, steps, heart_rate, sleep_hours, water_intake, calories, recorded_at
		FROM health_records
		WHERE user_id = $1
		ORDER BY recorded_at %s, id %s`, direction, direction)
	args := []any{q.OwnerID}
	if q.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list_health_records", fmt.Errorf("failed to query health records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	records := make([]*models.HealthRecord, 0)
	for rows.Next() {
		rec := &models.HealthRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&rec.Steps,
			&rec.HeartRate,
			&rec.SleepHours,
			&rec.WaterIntake,
			&rec.Calories,
			&rec.RecordedAt,
		); err != nil {
			return nil, classify("list_health_records", fmt.Errorf("failed to scan health record: %w", err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list_health_records", fmt.Errorf("failed to iterate health records: %w", err))
	}

	return records, nil
}

// Update applies the non-nil metric fields and returns the owner id so
// the caller can notify that owner's subscribers.
func (r *HealthRecordRepository) Update(ctx context.Context, id uuid.UUID, patch models.HealthRecordPatch) (string, error) {
	set := newSetClause()
	for _, f := range []struct {
		column string
		value  *float64
	}{
		{models.FieldSteps, patch.Steps},
		{models.FieldHeartRate, patch.HeartRate},
		{models.FieldSleepHours, patch.SleepHours},
		{models.FieldWaterIntake, patch.WaterIntake},
		{models.FieldCalories, patch.Calories},
	} {
		if f.value != nil {
			set.add(f.column, *f.value)
		}
	}

	query := "UPDATE health_records SET updated_at = now()"
	if len(set.parts) > 0 {
		query += ", " + set.sql()
	}
	query += fmt.Sprintf(" WHERE id = $%d RETURNING user_id", set.next())
	args := append(set.args, id)

	var ownerID string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ownerID); err != nil {
		if isNoRows(err) {
			return "", classify("update_health_record", fmt.Errorf("health record not found: %w", docstore.ErrNotFound))
		}
		return "", classify("update_health_record", fmt.Errorf("failed to update health record: %w", err))
	}

	return ownerID, nil
}

// Delete removes a record and returns its owner id
func (r *HealthRecordRepository) Delete(ctx context.Context, id uuid.UUID) (string, error) {
	var ownerID string
	err := r.db.QueryRowContext(ctx, `DELETE FROM health_records WHERE id = $1 RETURNING user_id`, id).Scan(&ownerID)
	if err != nil {
		if isNoRows(err) {
			return "", classify("delete_health_record", fmt.Errorf("health record not found: %w", docstore.ErrNotFound))
		}
		return "", classify("delete_health_record", fmt.Errorf("failed to delete health record: %w", err))
	}
	return ownerID, nil
}
