package playbook

import (
	"errors"
	"testing"
	"time"
)

func mustUTC(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return loc
}

func TestNextOccurrenceDaily(t *testing.T) {
	t.Parallel()
	loc := mustUTC(t)
	s := &Schedule{Frequency: FreqDaily, Hour: 9, Minute: 30, Timezone: "UTC"}

	// Before today's time: fires today.
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, loc)
	got, err := NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want := time.Date(2025, 6, 10, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// After today's time: fires tomorrow.
	now = time.Date(2025, 6, 10, 9, 30, 0, 0, loc)
	got, err = NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want = time.Date(2025, 6, 11, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextOccurrenceWeekly(t *testing.T) {
	t.Parallel()
	loc := mustUTC(t)
	// 2025-06-11 is a Wednesday.
	tests := []struct {
		name string
		days []int
		now  time.Time
		want time.Time
	}{
		{
			name: "same day before time",
			days: []int{1, 3, 5}, // Mon/Wed/Fri
			now:  time.Date(2025, 6, 11, 8, 0, 0, 0, loc),
			want: time.Date(2025, 6, 11, 9, 0, 0, 0, loc),
		},
		{
			name: "same day after time moves to next configured day",
			days: []int{1, 3, 5},
			now:  time.Date(2025, 6, 11, 9, 30, 0, 0, loc),
			want: time.Date(2025, 6, 13, 9, 0, 0, 0, loc), // Friday
		},
		{
			name: "wraps to next week",
			days: []int{1}, // Monday only
			now:  time.Date(2025, 6, 11, 8, 0, 0, 0, loc),
			want: time.Date(2025, 6, 16, 9, 0, 0, 0, loc),
		},
		{
			name: "empty day set behaves like daily",
			days: nil,
			now:  time.Date(2025, 6, 11, 10, 0, 0, 0, loc),
			want: time.Date(2025, 6, 12, 9, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &Schedule{Frequency: FreqWeekly, Days: tt.days, Hour: 9, Timezone: "UTC"}
			got, err := NextOccurrence(s, tt.now)
			if err != nil {
				t.Fatalf("NextOccurrence: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextOccurrenceMonthlyClampsDay(t *testing.T) {
	t.Parallel()
	loc := mustUTC(t)
	s := &Schedule{Frequency: FreqMonthly, Hour: 9, Timezone: "UTC"}

	// Scheduled for the 31st at 09:00, already past: February has no 31st,
	// so the next occurrence is February's last day, not early March.
	now := time.Date(2025, 1, 31, 10, 0, 0, 0, loc)
	got, err := NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want := time.Date(2025, 2, 28, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Leap year.
	now = time.Date(2024, 1, 31, 10, 0, 0, 0, loc)
	got, err = NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want = time.Date(2024, 2, 29, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextOccurrenceBiweekly(t *testing.T) {
	t.Parallel()
	loc := mustUTC(t)
	s := &Schedule{Frequency: FreqBiweekly, Hour: 9, Timezone: "UTC"}
	now := time.Date(2025, 6, 11, 9, 0, 0, 0, loc)
	got, err := NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want := time.Date(2025, 6, 25, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextOccurrenceCustom(t *testing.T) {
	t.Parallel()
	loc := mustUTC(t)
	now := time.Date(2025, 6, 11, 10, 0, 0, 0, loc)

	// Cron-driven.
	s := &Schedule{Frequency: FreqCustom, CronSpec: "0 9 * * *", Timezone: "UTC"}
	got, err := NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want := time.Date(2025, 6, 12, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Caller-driven NextRun in the future passes through.
	s = &Schedule{Frequency: FreqCustom, NextRun: now.Add(time.Hour), Timezone: "UTC"}
	got, err = NextOccurrence(s, now)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	if !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("got %v, want %v", got, now.Add(time.Hour))
	}

	// Caller-driven NextRun in the past is rejected.
	s = &Schedule{Frequency: FreqCustom, NextRun: now.Add(-time.Hour), Timezone: "UTC"}
	if _, err := NextOccurrence(s, now); !errors.Is(err, ErrPastNextRun) {
		t.Fatalf("expected ErrPastNextRun, got %v", err)
	}

	// Bad cron spec.
	s = &Schedule{Frequency: FreqCustom, CronSpec: "not a spec", Timezone: "UTC"}
	if _, err := NextOccurrence(s, now); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestNextOccurrenceAlwaysFuture(t *testing.T) {
	t.Parallel()
	loc := mustUTC(t)
	schedules := []*Schedule{
		{Frequency: FreqDaily, Hour: 0, Minute: 0, Timezone: "UTC"},
		{Frequency: FreqDaily, Hour: 23, Minute: 59, Timezone: "UTC"},
		{Frequency: FreqWeekly, Days: []int{0}, Hour: 12, Timezone: "UTC"},
		{Frequency: FreqWeekly, Days: []int{0, 1, 2, 3, 4, 5, 6}, Hour: 12, Timezone: "UTC"},
		{Frequency: FreqWeekly, Days: nil, Hour: 12, Timezone: "UTC"},
		{Frequency: FreqBiweekly, Hour: 6, Minute: 15, Timezone: "UTC"},
		{Frequency: FreqMonthly, Hour: 9, Timezone: "UTC"},
		{Frequency: FreqCustom, CronSpec: "*/5 * * * *", Timezone: "UTC"},
	}

	// Sweep across a year of hourly nows.
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, loc)
	for _, s := range schedules {
		for i := 0; i < 365; i++ {
			now := start.Add(time.Duration(i) * 24 * time.Hour).Add(time.Duration(i%24) * time.Hour)
			got, err := NextOccurrence(s, now)
			if err != nil {
				t.Fatalf("NextOccurrence(%s, %v): %v", s.Frequency, now, err)
			}
			if !got.After(now) {
				t.Fatalf("NextOccurrence(%s, %v) = %v, not strictly after now", s.Frequency, now, got)
			}
		}
	}
}

func TestScheduleLocationFallback(t *testing.T) {
	t.Parallel()
	s := &Schedule{Timezone: "Not/AZone"}
	if s.Location() != time.Local {
		t.Fatal("invalid timezone should fall back to Local")
	}
	s = &Schedule{}
	if s.Location() != time.Local {
		t.Fatal("empty timezone should fall back to Local")
	}
}
