package rule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
type CronSchedule struct {
	minutes  [60]bool
	hours    [24]bool
	days     [32]bool // 1..31
	months   [13]bool // 1..12
	weekdays [7]bool  // 0=Sunday

	anyDay     bool // day-of-month field was "*"
	anyWeekday bool // day-of-week field was "*"
}

// ParseCron parses a 5-field cron expression. Each field supports "*",
// numbers, lists ("1,3,5"), ranges ("1-5") and steps ("*/15", "0-30/10").
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression needs 5 fields, got %d in %q", len(fields), expr)
	}

	s := &CronSchedule{}
	specs := []struct {
		field    string
		min, max int
		set      func(int)
	}{
		{fields[0], 0, 59, func(v int) { s.minutes[v] = true }},
		{fields[1], 0, 23, func(v int) { s.hours[v] = true }},
		{fields[2], 1, 31, func(v int) { s.days[v] = true }},
		{fields[3], 1, 12, func(v int) { s.months[v] = true }},
		{fields[4], 0, 6, func(v int) { s.weekdays[v] = true }},
	}
	for i, spec := range specs {
		if err := parseCronField(spec.field, spec.min, spec.max, spec.set); err != nil {
			return nil, fmt.Errorf("cron field %d: %w", i+1, err)
		}
	}
	s.anyDay = fields[2] == "*"
	s.anyWeekday = fields[4] == "*"
	return s, nil
}

// parseCronField expands one comma-separated field into the set function.
func parseCronField(field string, min, max int, set func(int)) error {
	for _, part := range strings.Split(field, ",") {
		step := 1
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid step in %q", part)
			}
			step = n
			part = part[:idx]
		}

		lo, hi := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			var err error
			if lo, err = strconv.Atoi(bounds[0]); err != nil {
				return fmt.Errorf("invalid range start %q", bounds[0])
			}
			if hi, err = strconv.Atoi(bounds[1]); err != nil {
				return fmt.Errorf("invalid range end %q", bounds[1])
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return fmt.Errorf("invalid value %q", part)
			}
			lo, hi = n, n
		}

		if lo < min || hi > max || lo > hi {
			return fmt.Errorf("value out of range in %q (%d-%d)", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set(v)
		}
	}
	return nil
}

// Next returns the earliest time strictly after t that matches the schedule.
// Standard cron semantics: when both day-of-month and day-of-week are
// restricted, a day matching either fires.
func (s *CronSchedule) Next(t time.Time) time.Time {
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)

	// Bounded search; 4 years covers any satisfiable standard expression.
	limit := t.AddDate(4, 0, 0)
	for t.Before(limit) {
		if !s.months[int(t.Month())] {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			continue
		}
		if !s.hours[t.Hour()] {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if !s.minutes[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func (s *CronSchedule) dayMatches(t time.Time) bool {
	dom := s.days[t.Day()]
	dow := s.weekdays[int(t.Weekday())]
	switch {
	case s.anyDay && s.anyWeekday:
		return true
	case s.anyDay:
		return dow
	case s.anyWeekday:
		return dom
	default:
		return dom || dow
	}
}
