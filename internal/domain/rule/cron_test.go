package rule_test

import (
	"testing"
	"time"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/rule"
)

func TestParseCronErrors(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"too few fields", "0 9 * *"},
		{"too many fields", "0 9 * * 1 2026"},
		{"minute out of range", "60 * * * *"},
		{"bad step", "*/0 * * * *"},
		{"inverted range", "30-10 * * * *"},
		{"not a number", "x * * * *"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := rule.ParseCron(tc.expr); err == nil {
				t.Errorf("ParseCron(%q) accepted", tc.expr)
			}
		})
	}
}

func TestCronNext(t *testing.T) {
	cases := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			"every 15 minutes",
			"*/15 * * * *",
			date(1, 10, 7),
			date(1, 10, 15),
		},
		{
			"same minute is strictly after",
			"30 14 * * *",
			date(1, 14, 30),
			date(2, 14, 30),
		},
		{
			"business hours weekdays",
			"0 9-17 * * 1-5",
			date(3, 20, 0), // Saturday evening
			date(5, 9, 0),  // Monday 09:00
		},
		{
			"range with step",
			"0-30/10 8 * * *",
			date(1, 8, 11),
			date(1, 8, 20),
		},
		{
			"month rollover",
			"0 0 1 * *",
			time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := rule.ParseCron(tc.expr)
			if err != nil {
				t.Fatalf("ParseCron(%q): %v", tc.expr, err)
			}
			if got := s.Next(tc.from); !got.Equal(tc.want) {
				t.Errorf("Next(%v) = %v, want %v", tc.from, got, tc.want)
			}
		})
	}
}

func TestCronNextDayOfMonthOrWeekday(t *testing.T) {
	// With both day fields restricted, a day matching either one fires.
	s, err := rule.ParseCron("0 0 1 * 1")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	// From Jan 1 2026 (Thursday): the next match is Monday Jan 5, before
	// the next 1st of the month.
	got := s.Next(date(1, 0, 0))
	if want := date(5, 0, 0); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestCronNextUnsatisfiable(t *testing.T) {
	// February 30th never exists.
	s, err := rule.ParseCron("0 0 30 2 *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	if got := s.Next(date(1, 0, 0)); !got.IsZero() {
		t.Errorf("Next for unsatisfiable schedule = %v, want zero", got)
	}
}
