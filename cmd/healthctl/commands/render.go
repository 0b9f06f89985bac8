package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/benvon/wellness-tracker/internal/models"
)

// TimestampLayout renders record timestamps as YYYY-MM-DD HH:MM
const TimestampLayout = "2006-01-02 15:04"

// formatNumber drops a trailing .0 so whole values read like integers
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatSleep renders sleep hours with an h suffix; a zero value reads 0h
func formatSleep(hours float64) string {
	return formatNumber(hours) + "h"
}

// formatTimestamp renders t in local time, or "-" until the store assigned it
func formatTimestamp(r *models.HealthRecord) string {
	if !r.HasTimestamp() {
		return "-"
	}
	return r.RecordedAt.In(time.Local).Format(TimestampLayout)
}

// renderRecords writes records as an aligned table, in the order given
func renderRecords(w io.Writer, records []*models.HealthRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No health records yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tSTEPS\tHEART RATE\tSLEEP\tWATER\tCALORIES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTimestamp(r),
			formatNumber(r.Steps),
			formatNumber(r.HeartRate),
			formatSleep(r.SleepHours),
			formatNumber(r.WaterIntake),
			formatNumber(r.Calories),
		)
	}
	return tw.Flush()
}

// renderSummary writes an aggregate of recent records
func renderSummary(w io.Writer, s models.HealthSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Days tracked:\t%d\n", s.DaysTracked)
	fmt.Fprintf(tw, "Total steps:\t%s\n", formatNumber(s.TotalSteps))
	fmt.Fprintf(tw, "Avg heart rate:\t%s\n", formatNumber(s.AvgHeartRate))
	fmt.Fprintf(tw, "Total sleep:\t%s\n", formatSleep(s.TotalSleep))
	fmt.Fprintf(tw, "Total water:\t%s\n", formatNumber(s.TotalWater))
	fmt.Fprintf(tw, "Total calories:\t%s\n", formatNumber(s.TotalCalories))
	return tw.Flush()
}

// renderUser writes a profile document
func renderUser(w io.Writer, u *models.User) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", u.ID)
	fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
	fmt.Fprintf(tw, "Name:\t%s\n", u.DisplayName)
	if u.Age != nil {
		fmt.Fprintf(tw, "Age:\t%d\n", *u.Age)
	}
	if u.Gender != nil {
		fmt.Fprintf(tw, "Gender:\t%s\n", *u.Gender)
	}
	if !u.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "Member since:\t%s\n", u.CreatedAt.In(time.Local).Format(TimestampLayout))
	}
	return tw.Flush()
}
