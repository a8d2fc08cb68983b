package hours

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule opens the line on the listed days between Start and End ("HH:MM", end exclusive).
// Start after End wraps past midnight: the part after midnight belongs to the
// listed day it started on, so "fri 22:00-06:00" covers Saturday 01:00.
type Rule struct {
	Label string   `yaml:"label"`
	Days  []string `yaml:"days"`
	Start string   `yaml:"start"`
	End   string   `yaml:"end"`
}

// Schedule is the business-hours definition, usually loaded from YAML:
//
//	timezone: Europe/London
//	rules:
//	  - label: weekdays
//	    days: [mon, tue, wed, thu, fri]
//	    start: "09:00"
//	    end: "18:00"
//	closed_dates: ["2025-12-25"]
type Schedule struct {
	Timezone    string   `yaml:"timezone"`
	AlwaysOpen  bool     `yaml:"always_open"`
	Rules       []Rule   `yaml:"rules"`
	ClosedDates []string `yaml:"closed_dates"`

	loc     *time.Location
	closed  map[string]struct{}
	windows []window
}

// window is a compiled Rule, times in minutes since local midnight.
type window struct {
	label      string
	days       [7]bool // indexed by time.Weekday
	start, end int
}

func (w window) overnight() bool { return w.start > w.end }

func (w window) contains(day time.Weekday, minute int) bool {
	if !w.overnight() {
		return w.days[day] && minute >= w.start && minute < w.end
	}
	yesterday := (day + 6) % 7
	return (w.days[day] && minute >= w.start) || (w.days[yesterday] && minute < w.end)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// LoadSchedule reads and validates a YAML schedule. fallbackTZ is used when
// the file does not name a timezone.
func LoadSchedule(path, fallbackTZ string) (*Schedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hours: read schedule: %w", err)
	}
	return ParseSchedule(b, fallbackTZ)
}

func ParseSchedule(b []byte, fallbackTZ string) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("hours: parse schedule: %w", err)
	}
	if s.Timezone == "" {
		s.Timezone = fallbackTZ
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// AlwaysOpenSchedule is used when no schedule file is configured.
func AlwaysOpenSchedule(tz string) (*Schedule, error) {
	s := &Schedule{Timezone: tz, AlwaysOpen: true}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schedule) compile() error {
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("hours: timezone %q: %w", s.Timezone, err)
	}
	s.loc = loc

	var errs []error
	if !s.AlwaysOpen && len(s.Rules) == 0 {
		errs = append(errs, errors.New("hours: schedule has no rules and is not always_open"))
	}
	s.windows = s.windows[:0]
	for i, r := range s.Rules {
		w := window{label: r.Label}
		if len(r.Days) == 0 {
			errs = append(errs, fmt.Errorf("hours: rule %d has no days", i))
		}
		for _, d := range r.Days {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				errs = append(errs, fmt.Errorf("hours: rule %d: unknown day %q", i, d))
				continue
			}
			w.days[wd] = true
		}
		var startErr, endErr error
		w.start, startErr = minuteOfDay(r.Start)
		if startErr != nil {
			errs = append(errs, fmt.Errorf("hours: rule %d: bad start %q", i, r.Start))
		}
		w.end, endErr = minuteOfDay(r.End)
		if endErr != nil {
			errs = append(errs, fmt.Errorf("hours: rule %d: bad end %q", i, r.End))
		}
		if startErr == nil && endErr == nil && w.start == w.end {
			errs = append(errs, fmt.Errorf("hours: rule %d: empty range %s-%s", i, r.Start, r.End))
		}
		s.windows = append(s.windows, w)
	}

	s.closed = make(map[string]struct{}, len(s.ClosedDates))
	for _, d := range s.ClosedDates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			errs = append(errs, fmt.Errorf("hours: closed date %q: %w", d, err))
			continue
		}
		s.closed[d] = struct{}{}
	}
	return errors.Join(errs...)
}

// Match reports whether t falls inside the schedule and which rule matched.
func (s *Schedule) Match(t time.Time) (string, bool) {
	local := t.In(s.loc)
	if _, closed := s.closed[local.Format(time.DateOnly)]; closed {
		return "", false
	}
	if s.AlwaysOpen {
		return "always_open", true
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range s.windows {
		if w.contains(local.Weekday(), minute) {
			return w.label, true
		}
	}
	return "", false
}

func (s *Schedule) Location() *time.Location { return s.loc }

// minuteOfDay parses a 24h "HH:MM" clock time.
func minuteOfDay(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
