package period

import (
	"testing"
	"time"
)

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "wednesday rolls back to sunday",
			in:   time.Date(2026, 8, 26, 14, 30, 0, 0, time.Local), // Wednesday
			want: time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local),
		},
		{
			name: "sunday is its own week start",
			in:   time.Date(2026, 8, 23, 23, 59, 59, 0, time.Local),
			want: time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local),
		},
		{
			name: "saturday belongs to the preceding sunday",
			in:   time.Date(2026, 8, 29, 0, 0, 1, 0, time.Local),
			want: time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local),
		},
		{
			name: "week start crosses month boundary",
			in:   time.Date(2026, 9, 1, 8, 0, 0, 0, time.Local), // Tuesday
			want: time.Date(2026, 8, 30, 0, 0, 0, 0, time.Local),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.in)
			if !got.Equal(tt.want) {
				t.Fatalf("WeekStart(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWeekEnd(t *testing.T) {
	start := time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local)
	want := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local)
	if got := WeekEnd(start); !got.Equal(want) {
		t.Fatalf("WeekEnd = %v, want %v", got, want)
	}
}

func TestWeeksAreNonOverlapping(t *testing.T) {
	// Every day of two consecutive weeks maps to exactly one week start.
	first := time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local)
	for i := 0; i < 14; i++ {
		day := first.AddDate(0, 0, i)
		got := WeekStart(day)
		want := first
		if i >= 7 {
			want = first.AddDate(0, 0, 7)
		}
		if !got.Equal(want) {
			t.Fatalf("day %v: WeekStart = %v, want %v", day, got, want)
		}
	}
}

func TestMonthStart(t *testing.T) {
	in := time.Date(2026, 8, 31, 17, 4, 0, 0, time.Local)
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.Local)
	if got := MonthStart(in); !got.Equal(want) {
		t.Fatalf("MonthStart = %v, want %v", got, want)
	}
}

func TestKey(t *testing.T) {
	start := time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local)
	if got := Key(start); got != "2026-08-23" {
		t.Fatalf("Key = %q, want 2026-08-23", got)
	}
}
