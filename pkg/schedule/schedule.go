package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/shutter/pkg/types"
)

// window is an inclusive range of minutes within one day
type window struct {
	start int
	end   int
}

// Weekly is a parsed weekly schedule
type Weekly struct {
	days       map[time.Weekday][]window
	continuous bool
}

// Continuous returns a schedule that is always active
func Continuous() *Weekly {
	return &Weekly{continuous: true}
}

// Parse validates a weekly schedule. Day names are matched case-insensitively.
func Parse(s types.Schedule) (*Weekly, error) {
	if len(s) == 0 {
		return Continuous(), nil
	}

	w := &Weekly{days: make(map[time.Weekday][]window)}
	for name, ranges := range s {
		day, err := parseWeekday(name)
		if err != nil {
			return nil, err
		}
		for _, r := range ranges {
			win, err := parseWindow(r)
			if err != nil {
				return nil, fmt.Errorf("invalid window %q for %s: %w", r, name, err)
			}
			w.days[day] = append(w.days[day], win)
		}
	}
	return w, nil
}

// Active reports whether t, seen in loc, falls inside a schedule window
func (w *Weekly) Active(t time.Time, loc *time.Location) bool {
	if w == nil || w.continuous {
		return true
	}
	if loc != nil {
		t = t.In(loc)
	}
	minute := t.Hour()*60 + t.Minute()
	for _, win := range w.days[t.Weekday()] {
		if minute >= win.start && minute <= win.end {
			return true
		}
	}
	return false
}

// LoadLocation resolves a timezone name, defaulting to UTC
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "UTC", "Etc/UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

func parseWindow(r string) (window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(r), "-")
	if !ok {
		return window{}, fmt.Errorf("expected HH:MM-HH:MM")
	}
	start, err := parseClock(from)
	if err != nil {
		return window{}, err
	}
	end, err := parseClock(to)
	if err != nil {
		return window{}, err
	}
	if end < start {
		return window{}, fmt.Errorf("window must not wrap midnight")
	}
	return window{start: start, end: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
