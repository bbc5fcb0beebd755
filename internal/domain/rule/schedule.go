package rule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoFutureDates indicates a custom schedule has no timestamps left; the
// caller deactivates the rule.
var ErrNoFutureDates = errors.New("no future dates remain in schedule")

// NextExecution computes the earliest execution time strictly after now for
// the rule's schedule. A malformed config yields an error; the caller treats
// that as a schedule-compute failure and deactivates the rule rather than
// retrying it forever.
func (r *AutoPostingRule) NextExecution(now time.Time) (time.Time, error) {
	switch r.ScheduleType {
	case ScheduleDaily:
		return nextDaily(r.ScheduleConfig, now)
	case ScheduleWeekly:
		return nextWeekly(r.ScheduleConfig, now)
	case ScheduleCustom:
		return nextCustom(r.ScheduleConfig, now)
	case ScheduleCron:
		sched, err := ParseCron(r.ScheduleConfig.CronExpression)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", r.ScheduleType)
	}
}

// nextDaily finds the earliest listed time-of-day on a listed weekday that is
// strictly after now.
func nextDaily(cfg ScheduleConfig, now time.Time) (time.Time, error) {
	if len(cfg.Times) == 0 {
		return time.Time{}, errors.New("daily schedule requires at least one time")
	}
	days := cfg.DaysOfWeek
	if len(days) == 0 {
		days = []int{0, 1, 2, 3, 4, 5, 6}
	}
	allowed := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return time.Time{}, fmt.Errorf("invalid day_of_week %d", d)
		}
		allowed[time.Weekday(d)] = true
	}

	times := make([]int, 0, len(cfg.Times))
	for _, s := range cfg.Times {
		h, m, err := parseHHMM(s)
		if err != nil {
			return time.Time{}, err
		}
		times = append(times, h*60+m)
	}
	sort.Ints(times)

	now = now.UTC()
	for offset := 0; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		if !allowed[day.Weekday()] {
			continue
		}
		for _, mins := range times {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, time.UTC)
			if candidate.After(now) {
				return candidate, nil
			}
		}
	}
	return time.Time{}, errors.New("daily schedule produced no occurrence within 7 days")
}

// nextWeekly finds the next occurrence of day_of_week at the configured time.
func nextWeekly(cfg ScheduleConfig, now time.Time) (time.Time, error) {
	if cfg.DayOfWeek < 0 || cfg.DayOfWeek > 6 {
		return time.Time{}, fmt.Errorf("invalid day_of_week %d", cfg.DayOfWeek)
	}
	h, m, err := parseHHMM(cfg.Time)
	if err != nil {
		return time.Time{}, err
	}

	now = now.UTC()
	for offset := 0; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		if day.Weekday() != time.Weekday(cfg.DayOfWeek) {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC)
		if candidate.After(now) {
			return candidate, nil
		}
	}
	// Today matched but the time already passed; next week it is.
	day := now.AddDate(0, 0, 7)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC), nil
}

// nextCustom returns the earliest explicit timestamp strictly after now.
func nextCustom(cfg ScheduleConfig, now time.Time) (time.Time, error) {
	if len(cfg.Dates) == 0 {
		return time.Time{}, ErrNoFutureDates
	}
	dates := make([]time.Time, len(cfg.Dates))
	copy(dates, cfg.Dates)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, d := range dates {
		if d.After(now) {
			return d.UTC(), nil
		}
	}
	return time.Time{}, ErrNoFutureDates
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return h, m, nil
}
