package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Health record field names as they appear in forms and events
const (
	FieldSteps       = "steps"
	FieldHeartRate   = "heart_rate"
	FieldSleepHours  = "sleep_hours"
	FieldWaterIntake = "water_intake"
	FieldCalories    = "calories"
)

// HealthFieldNames lists the numeric fields in display order
var HealthFieldNames = []string{FieldSteps, FieldHeartRate, FieldSleepHours, FieldWaterIntake, FieldCalories}

// HealthRecord is one time-series wellness entry owned by a user.
// ID and RecordedAt are assigned by the store.
type HealthRecord struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"user_id" validate:"required"`
	Steps       float64   `json:"steps" validate:"finite,gte=0"`
	HeartRate   float64   `json:"heart_rate" validate:"finite,gte=0"`
	SleepHours  float64   `json:"sleep_hours" validate:"finite,gte=0,lte=24"`
	WaterIntake float64   `json:"water_intake" validate:"finite,gte=0"`
	Calories    float64   `json:"calories" validate:"finite,gte=0"`
	RecordedAt  time.Time `json:"timestamp"`
}

// HasTimestamp reports whether the server already assigned RecordedAt
func (r *HealthRecord) HasTimestamp() bool {
	return !r.RecordedAt.IsZero()
}

// HealthInput is the caller-supplied form of a record. A nil field was omitted.
type HealthInput struct {
	Steps       *float64 `json:"steps,omitempty"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
	SleepHours  *float64 `json:"sleep_hours,omitempty"`
	WaterIntake *float64 `json:"water_intake,omitempty"`
	Calories    *float64 `json:"calories,omitempty"`
}

// ParseHealthInput builds a HealthInput from raw form values keyed by field name.
// Missing, empty and whitespace-only values are treated as omitted.
func ParseHealthInput(values map[string]string) (HealthInput, error) {
	var in HealthInput
	targets := map[string]**float64{
		FieldSteps:       &in.Steps,
		FieldHeartRate:   &in.HeartRate,
		FieldSleepHours:  &in.SleepHours,
		FieldWaterIntake: &in.WaterIntake,
		FieldCalories:    &in.Calories,
	}
	for _, name := range HealthFieldNames {
		raw := strings.TrimSpace(values[name])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return HealthInput{}, fmt.Errorf("%s: %q is not a number", name, raw)
		}
		*targets[name] = &v
	}
	return in, nil
}

// Record converts the input into a record for ownerID, coercing omitted fields to 0
func (in HealthInput) Record(ownerID string) *HealthRecord {
	return &HealthRecord{
		OwnerID:     ownerID,
		Steps:       valueOrZero(in.Steps),
		HeartRate:   valueOrZero(in.HeartRate),
		SleepHours:  valueOrZero(in.SleepHours),
		WaterIntake: valueOrZero(in.WaterIntake),
		Calories:    valueOrZero(in.Calories),
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// HealthRecordPatch is a partial update of a record's numeric fields
type HealthRecordPatch struct {
	Steps       *float64 `json:"steps,omitempty"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
	SleepHours  *float64 `json:"sleep_hours,omitempty"`
	WaterIntake *float64 `json:"water_intake,omitempty"`
	Calories    *float64 `json:"calories,omitempty"`
}

// DefaultRecordLimit is the default page size for record listings
const DefaultRecordLimit = 50

// RecordQuery selects the records of one owner.
// The store always orders by recorded_at; Descending picks newest first.
type RecordQuery struct {
	OwnerID    string
	Descending bool
	Limit      int
}

// NewestFirst returns the query used by live views: owner filter, recorded_at descending
func NewestFirst(ownerID string) RecordQuery {
	return RecordQuery{OwnerID: ownerID, Descending: true}
}
