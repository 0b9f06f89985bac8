package backend

import (
	"net/http"
	"time"

	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/google/uuid"
)

// recordDoc is a listed record. The backend's id is opaque and its
// timestamp may be RFC 3339 or an HTTP date.
type recordDoc struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Steps       float64 `json:"steps"`
	HeartRate   float64 `json:"heart_rate"`
	SleepHours  float64 `json:"sleep_hours"`
	WaterIntake float64 `json:"water_intake"`
	Calories    float64 `json:"calories"`
	Timestamp   string  `json:"timestamp"`
}

func (d recordDoc) record() Record {
	r := Record{
		DocID: d.ID,
		HealthRecord: models.HealthRecord{
			OwnerID:     d.UserID,
			Steps:       d.Steps,
			HeartRate:   d.HeartRate,
			SleepHours:  d.SleepHours,
			WaterIntake: d.WaterIntake,
			Calories:    d.Calories,
			RecordedAt:  parseTimestamp(d.Timestamp),
		},
	}
	if id, err := uuid.Parse(d.ID); err == nil {
		r.ID = id
	}
	return r
}

// parseTimestamp returns the zero time when ts is empty or unreadable
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	if t, err := http.ParseTime(ts); err == nil {
		return t
	}
	return time.Time{}
}

// recordPayload is the body of a create request; the backend assigns id and timestamp
type recordPayload struct {
	UserID      string  `json:"user_id"`
	Steps       float64 `json:"steps"`
	HeartRate   float64 `json:"heart_rate"`
	SleepHours  float64 `json:"sleep_hours"`
	WaterIntake float64 `json:"water_intake"`
	Calories    float64 `json:"calories"`
}

func newRecordPayload(r *models.HealthRecord) recordPayload {
	return recordPayload{
		UserID:      r.OwnerID,
		Steps:       r.Steps,
		HeartRate:   r.HeartRate,
		SleepHours:  r.SleepHours,
		WaterIntake: r.WaterIntake,
		Calories:    r.Calories,
	}
}
