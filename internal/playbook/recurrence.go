package playbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field specs plus descriptors (@daily, @every 4h).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Location resolves the schedule's timezone, falling back to Local when the
// identifier is empty or invalid.
func (s *Schedule) Location() *time.Location {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// NextOccurrence computes the next firing time for a schedule, strictly after
// now. It is pure: same schedule + same now always yields the same result.
//
// The candidate is "today at Hour:Minute" in the schedule's timezone; when
// that has already passed, it advances per frequency:
//
//   - daily: +1 day
//   - weekly: the chronologically next configured day-of-week, wrapping to
//     next week; an empty day set behaves like daily
//   - biweekly: +14 days
//   - monthly: next month, day-of-month clamped to the month's last valid day
//     (a schedule anchored on the 31st fires on Feb 28/29, never rolls over)
//   - custom: the cron spec's next occurrence, or the caller-supplied NextRun
//     (validated future-only) when no spec is set
func NextOccurrence(s *Schedule, now time.Time) (time.Time, error) {
	loc := s.Location()
	now = now.In(loc)

	if s.Frequency == FreqCustom {
		if spec := strings.TrimSpace(s.CronSpec); spec != "" {
			sched, err := cronParser.Parse(spec)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
			}
			next := sched.Next(now)
			if next.IsZero() {
				return time.Time{}, fmt.Errorf("cron spec %q has no future occurrence", spec)
			}
			return next, nil
		}
		if !s.NextRun.After(now) {
			return time.Time{}, ErrPastNextRun
		}
		return s.NextRun.In(loc), nil
	}

	cand := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, loc)

	switch s.Frequency {
	case FreqDaily:
		if cand.After(now) {
			return cand, nil
		}
		return cand.AddDate(0, 0, 1), nil

	case FreqWeekly:
		return nextWeekly(s.Days, cand, now), nil

	case FreqBiweekly:
		if cand.After(now) {
			return cand, nil
		}
		return cand.AddDate(0, 0, 14), nil

	case FreqMonthly:
		if cand.After(now) {
			return cand, nil
		}
		return addMonthClamped(cand), nil

	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", s.Frequency)
	}
}

// nextWeekly picks today's candidate when today is a configured day and the
// time hasn't passed yet, otherwise the chronologically next configured day.
// An empty (or entirely invalid) day set falls back to daily behavior; the
// contract in either case is only "always strictly after now".
func nextWeekly(days []int, cand, now time.Time) time.Time {
	set := map[int]bool{}
	for _, d := range days {
		if d >= 0 && d <= 6 {
			set[d] = true
		}
	}
	if len(set) == 0 {
		if cand.After(now) {
			return cand
		}
		return cand.AddDate(0, 0, 1)
	}

	today := int(cand.Weekday())
	if set[today] && cand.After(now) {
		return cand
	}
	for off := 1; off <= 7; off++ {
		if set[(today+off)%7] {
			return cand.AddDate(0, 0, off)
		}
	}
	// Unreachable: a non-empty set always matches within 7 days.
	return cand.AddDate(0, 0, 7)
}

// addMonthClamped advances t by one month, clamping the day-of-month to the
// target month's last valid day instead of letting time.Date normalize
// (Jan 31 +1 month is Feb 28/29, not Mar 2/3).
func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, t.Hour(), t.Minute(), 0, 0, t.Location())
	if last := daysInMonth(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), 0, 0, t.Location())
}

func daysInMonth(y int, m time.Month) int {
	// Day 0 of the next month is the last day of m.
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
