// Package cron parses standard 5-field cron expressions for job schedules.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSet holds the matching values of one cron field as a bitmask.
// Bit i is set when value i matches. 64 bits cover the largest field (minutes).
type fieldSet uint64

func (s fieldSet) has(v int) bool { return s&(1<<uint(v)) != 0 }

func (s *fieldSet) add(v int) { *s |= 1 << uint(v) }

// full returns a set containing every value in [min, max]
func full(min, max int) fieldSet {
	var s fieldSet
	for v := min; v <= max; v++ {
		s.add(v)
	}
	return s
}

// Schedule is a parsed cron expression
type Schedule struct {
	minute fieldSet // 0-59
	hour   fieldSet // 0-23
	dom    fieldSet // 1-31
	month  fieldSet // 1-12
	dow    fieldSet // 0-6, 0 is Sunday

	// Whether day-of-month and day-of-week were written as wildcards.
	// Standard cron matches EITHER day field when both are restricted.
	domWild bool
	dowWild bool

	expr string
}

// Parse parses a 5-field cron expression: minute hour day-of-month month
// day-of-week. It supports wildcards, single values, ranges (1-5), lists
// (1,3,5) and steps (*/15, 10-50/10). Expressions naming dates that can
// never occur, such as day 31 in months with at most 30 days, are rejected.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	spec := []struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 6},
	}

	parsed := make([]fieldSet, 5)
	for i, field := range fields {
		set, err := parseField(field, spec[i].min, spec[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron: %s field: %w", spec[i].name, err)
		}
		parsed[i] = set
	}

	schedule := &Schedule{
		minute:  parsed[0],
		hour:    parsed[1],
		dom:     parsed[2],
		month:   parsed[3],
		dow:     parsed[4],
		domWild: fields[2] == "*",
		dowWild: fields[4] == "*",
		expr:    expr,
	}

	if err := schedule.validateDates(); err != nil {
		return nil, err
	}

	return schedule, nil
}

// String returns the original expression
func (s *Schedule) String() string { return s.expr }

// validateDates rejects schedules that can never fire because every
// selected day-of-month exceeds the length of every selected month.
// Day-of-week selections always fire eventually, so a restricted
// day-of-week field makes any expression satisfiable.
func (s *Schedule) validateDates() error {
	if s.domWild || !s.dowWild {
		return nil
	}

	for month := 1; month <= 12; month++ {
		if !s.month.has(month) {
			continue
		}
		for day := 1; day <= monthDays(month); day++ {
			if s.dom.has(day) {
				return nil
			}
		}
	}

	return fmt.Errorf("cron: %q can never occur", s.expr)
}

// Matches reports whether the schedule fires at the given minute
func (s *Schedule) Matches(t time.Time) bool {
	if !s.minute.has(t.Minute()) || !s.hour.has(t.Hour()) || !s.month.has(int(t.Month())) {
		return false
	}
	return s.matchesDay(t)
}

// matchesDay applies the standard cron day rule: when both day fields are
// restricted, either one matching is enough
func (s *Schedule) matchesDay(t time.Time) bool {
	domMatch := s.dom.has(t.Day())
	dowMatch := s.dow.has(int(t.Weekday()))

	switch {
	case !s.domWild && !s.dowWild:
		return domMatch || dowMatch
	case !s.domWild:
		return domMatch
	case !s.dowWild:
		return dowMatch
	default:
		return true
	}
}

// Next returns the first scheduled time strictly after the given instant,
// evaluated in its location. The search is bounded so a valid schedule
// spanning leap years still resolves.
func (s *Schedule) Next(after time.Time) time.Time {
	// Five years of minutes covers the rarest valid schedule (Feb 29)
	const searchLimit = 5 * 366 * 24 * 60

	current := after.Truncate(time.Minute)
	for i := 0; i < searchLimit; i++ {
		current = current.Add(time.Minute)
		if s.Matches(current) {
			return current
		}
	}

	return time.Time{}
}

// parseField expands one cron field into the set of matching values
func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet

	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("empty list element")
		}

		base := part
		step := 1
		if slash := strings.IndexByte(part, '/'); slash >= 0 {
			parsed, err := strconv.Atoi(part[slash+1:])
			if err != nil || parsed <= 0 {
				return 0, fmt.Errorf("bad step in %q", part)
			}
			base, step = part[:slash], parsed
		}

		lo, hi := min, max
		switch {
		case base == "*":
			// full range
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			var err error
			if lo, err = strconv.Atoi(bounds[0]); err != nil {
				return 0, fmt.Errorf("bad range start in %q", part)
			}
			if hi, err = strconv.Atoi(bounds[1]); err != nil {
				return 0, fmt.Errorf("bad range end in %q", part)
			}
			if lo > hi {
				return 0, fmt.Errorf("descending range %q", part)
			}
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			if step != 1 {
				return 0, fmt.Errorf("step requires a range in %q", part)
			}
			lo, hi = v, v
		}

		if lo < min || hi > max {
			return 0, fmt.Errorf("%q out of bounds [%d, %d]", part, min, max)
		}

		for v := lo; v <= hi; v += step {
			set.add(v)
		}
	}

	return set, nil
}

// monthDays returns the longest possible length of a month.
// February counts 29 so leap-day schedules stay valid.
func monthDays(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}
