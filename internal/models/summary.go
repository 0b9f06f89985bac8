package models

import "math"

// SummaryWindow is how many of the most recent records a summary covers
const SummaryWindow = 30

// HealthSummary aggregates an owner's recent records
type HealthSummary struct {
	TotalSteps    float64 `json:"total_steps"`
	AvgHeartRate  float64 `json:"avg_heart_rate"`
	TotalSleep    float64 `json:"total_sleep"`
	TotalWater    float64 `json:"total_water"`
	TotalCalories float64 `json:"total_calories"`
	DaysTracked   int     `json:"days_tracked"`
}

// Summarize aggregates records, which are expected newest first.
// Only the first SummaryWindow records count. Heart rate and sleep are rounded to one decimal.
func Summarize(records []*HealthRecord) HealthSummary {
	if len(records) > SummaryWindow {
		records = records[:SummaryWindow]
	}
	var s HealthSummary
	var heartRate float64
	for _, r := range records {
		if r == nil {
			continue
		}
		s.TotalSteps += r.Steps
		heartRate += r.HeartRate
		s.TotalSleep += r.SleepHours
		s.TotalWater += r.WaterIntake
		s.TotalCalories += r.Calories
		s.DaysTracked++
	}
	if s.DaysTracked > 0 {
		s.AvgHeartRate = round1(heartRate / float64(s.DaysTracked))
	}
	s.TotalSleep = round1(s.TotalSleep)
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
