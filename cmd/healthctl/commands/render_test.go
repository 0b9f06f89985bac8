package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/benvon/wellness-tracker/internal/models"
)

func TestFormatSleep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hours float64
		want  string
	}{
		{hours: 0, want: "0h"},
		{hours: 7, want: "7h"},
		{hours: 7.5, want: "7.5h"},
	}
	for _, tt := range tests {
		if got := formatSleep(tt.hours); got != tt.want {
			t.Errorf("formatSleep(%v) = %q, want %q", tt.hours, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	recorded := time.Date(2026, time.March, 4, 9, 5, 0, 0, time.Local)
	tests := []struct {
		name   string
		record *models.HealthRecord
		want   string
	}{
		{name: "pending server timestamp", record: &models.HealthRecord{}, want: "-"},
		{name: "assigned timestamp", record: &models.HealthRecord{RecordedAt: recorded}, want: "2026-03-04 09:05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatTimestamp(tt.record); got != tt.want {
				t.Errorf("formatTimestamp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := renderRecords(&buf, nil); err != nil {
		t.Fatalf("renderRecords: %v", err)
	}
	if !strings.Contains(buf.String(), "No health records yet.") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	records := []*models.HealthRecord{
		{Steps: 8000, HeartRate: 72, RecordedAt: time.Date(2026, time.March, 4, 9, 5, 0, 0, time.Local)},
		{Steps: 100},
	}
	if err := renderRecords(&buf, records); err != nil {
		t.Fatalf("renderRecords: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "2026-03-04 09:05") || !strings.Contains(lines[1], "8000") {
		t.Errorf("first row = %q", lines[1])
	}
	fields := strings.Fields(lines[2])
	if fields[0] != "-" || fields[3] != "0h" {
		t.Errorf("second row = %q", lines[2])
	}
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := renderSummary(&buf, models.HealthSummary{TotalSteps: 12000, AvgHeartRate: 70.5, TotalSleep: 14, DaysTracked: 2})
	if err != nil {
		t.Fatalf("renderSummary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Days tracked:", "12000", "70.5", "14h"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
