package notification

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleKind tags the recurrence variant.
type RuleKind string

const (
	RuleOneTime RuleKind = "one_time"
	RuleDaily   RuleKind = "daily"
	RuleWeekly  RuleKind = "weekly"
	RuleMonthly RuleKind = "monthly"
)

// RecurrenceRule describes how often and when a notification fires.
//
// Which fields apply depends on Kind:
//   - one_time: At
//   - daily:    TimeOfDay, Timezone
//   - weekly:   TimeOfDay, Timezone, DaysOfWeek (non-empty)
//   - monthly:  TimeOfDay, Timezone, DayOfMonth (1..31, clamped to shorter months)
//
// TimeOfDay is local wall-clock "HH:MM" resolved against Timezone (IANA name),
// so DST transitions shift the absolute instant but not the local time of day.
type RecurrenceRule struct {
	Kind       RuleKind
	At         time.Time
	TimeOfDay  string
	Timezone   string
	DaysOfWeek []time.Weekday
	DayOfMonth int
}

// Recurring reports whether the rule re-arms after a dispatch cycle.
func (r RecurrenceRule) Recurring() bool { return r.Kind != RuleOneTime }

// Validate rejects malformed rules. All errors wrap ErrInvalidRecurrence.
func (r RecurrenceRule) Validate() error {
	switch r.Kind {
	case RuleOneTime:
		if r.At.IsZero() {
			return fmt.Errorf("%w: one_time rule needs a fire instant", ErrInvalidRecurrence)
		}
		return nil
	case RuleDaily, RuleWeekly, RuleMonthly:
		// fallthrough to the shared wall-clock checks below
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecurrence, string(r.Kind))
	}

	if _, _, err := parseHHMM(r.TimeOfDay); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(r.Timezone)); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidRecurrence, r.Timezone)
	}

	switch r.Kind {
	case RuleWeekly:
		if len(r.DaysOfWeek) == 0 {
			return fmt.Errorf("%w: weekly rule needs at least one weekday", ErrInvalidRecurrence)
		}
		for _, d := range r.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRecurrence, int(d))
			}
		}
	case RuleMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month %d out of range 1..31", ErrInvalidRecurrence, r.DayOfMonth)
		}
	}
	return nil
}

// NextFireAt computes the earliest fire instant strictly after the given
// reference. It reports false when the rule is exhausted (a one_time rule
// whose instant has passed) or malformed.
//
// The function is pure: identical inputs always yield the same instant, so
// re-arming after a crash or restart is idempotent.
func (r RecurrenceRule) NextFireAt(after time.Time) (time.Time, bool) {
	if r.Kind == RuleOneTime {
		if r.At.After(after) {
			return r.At, true
		}
		return time.Time{}, false
	}

	hour, minute, err := parseHHMM(r.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(strings.TrimSpace(r.Timezone))
	if err != nil {
		return time.Time{}, false
	}
	local := after.In(loc)
	y, m, d := local.Date()

	switch r.Kind {
	case RuleDaily:
		// Today's occurrence if still in the future, else tomorrow's.
		// time.Date normalizes day overflow, which keeps this DST-safe.
		cand := time.Date(y, m, d, hour, minute, 0, 0, loc)
		if cand.After(after) {
			return cand, true
		}
		return time.Date(y, m, d+1, hour, minute, 0, 0, loc), true

	case RuleWeekly:
		if len(r.DaysOfWeek) == 0 {
			return time.Time{}, false
		}
		days := map[time.Weekday]bool{}
		for _, wd := range r.DaysOfWeek {
			days[wd] = true
		}
		// Bounded scan: any non-empty weekday set matches within 7 days.
		for i := 0; i <= 7; i++ {
			cand := time.Date(y, m, d+i, hour, minute, 0, 0, loc)
			if days[cand.Weekday()] && cand.After(after) {
				return cand, true
			}
		}
		return time.Time{}, false

	case RuleMonthly:
		cand := time.Date(y, m, clampDay(y, m, r.DayOfMonth), hour, minute, 0, 0, loc)
		if cand.After(after) {
			return cand, true
		}
		ny, nm := y, m+1
		if nm > time.December {
			ny, nm = y+1, time.January
		}
		return time.Date(ny, nm, clampDay(ny, nm, r.DayOfMonth), hour, minute, 0, 0, loc), true
	}
	return time.Time{}, false
}

// clampDay limits day to the length of the given month (day 31 on a 30-day
// month becomes 30).
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
