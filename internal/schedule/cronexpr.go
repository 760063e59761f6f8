package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Seconds are always present after normalization; descriptors ("@daily") pass through.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a cron expression into a schedule.
//
// Supported forms:
//   - Quartz, 6 or 7 fields: "0 15 9 ? * WED,SAT *" (seconds first, optional
//     year, day-of-week 1=SUN..7=SAT, "?" for "no specific value")
//   - Unix, 5 fields: "15 9 * * 3,6" (day-of-week 0=SUN..6=SAT)
//   - Descriptors: "@daily", "@weekly", ...
//
// Quartz-only tokens L, W and # are rejected.
func ParseCron(expr string) (cron.Schedule, error) {
	spec, years, err := normalizeCron(expr)
	if err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if len(years) == 0 {
		return sched, nil
	}
	return &yearFilteredSchedule{base: sched, years: years}, nil
}

// normalizeCron rewrites expr into the 6-field robfig/cron dialect and
// returns the year constraint (if any) separately.
func normalizeCron(expr string) (string, []yearRange, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return "", nil, fmt.Errorf("cron expression required")
	}
	if strings.HasPrefix(s, "@") {
		return s, nil, nil
	}
	fields := strings.Fields(s)
	switch len(fields) {
	case 5:
		// Unix crontab: seconds default to 0, day-of-week already 0-based.
		if err := rejectQuartzOnly(fields[2], fields[4]); err != nil {
			return "", nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		return "0 " + strings.Join(fields, " "), nil, nil
	case 6, 7:
	default:
		return "", nil, fmt.Errorf("invalid cron expression %q: expected 5, 6 or 7 fields, got %d", expr, len(fields))
	}

	if err := rejectQuartzOnly(fields[3], fields[5]); err != nil {
		return "", nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	dow, err := quartzDowToCron(fields[5])
	if err != nil {
		return "", nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	out := append([]string(nil), fields[:5]...)
	out = append(out, dow)

	var years []yearRange
	if len(fields) == 7 {
		years, err = parseYears(fields[6])
		if err != nil {
			return "", nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	}
	return strings.Join(out, " "), years, nil
}

func rejectQuartzOnly(dom, dow string) error {
	if strings.ContainsAny(strings.ToUpper(dom), "LW#") {
		return fmt.Errorf("day-of-month %q: L, W and # are not supported", dom)
	}
	if strings.ContainsAny(strings.ToUpper(dow), "L#") {
		return fmt.Errorf("day-of-week %q: L and # are not supported", dow)
	}
	return nil
}

// quartzDowToCron shifts numeric Quartz day-of-week values (1=SUN..7=SAT)
// to robfig/cron values (0=SUN..6=SAT). Names and wildcards are kept.
func quartzDowToCron(field string) (string, error) {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(base, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue // name or wildcard
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}

type yearRange struct{ from, to int }

func parseYears(field string) ([]yearRange, error) {
	if field == "*" || field == "?" {
		return nil, nil
	}
	var out []yearRange
	for _, part := range strings.Split(field, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("year %q: %w", part, err)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("year %q: %w", part, err)
			}
		}
		if from < 1970 || to < from {
			return nil, fmt.Errorf("year range %q is invalid", part)
		}
		out = append(out, yearRange{from: from, to: to})
	}
	return out, nil
}

// yearFilteredSchedule restricts a cron schedule to a set of years.
type yearFilteredSchedule struct {
	base  cron.Schedule
	years []yearRange
}

func (s *yearFilteredSchedule) Next(t time.Time) time.Time {
	for {
		next := s.base.Next(t)
		if next.IsZero() {
			return next
		}
		y := next.Year()
		jump := 0
		for _, r := range s.years {
			if y >= r.from && y <= r.to {
				return next
			}
			if r.from > y && (jump == 0 || r.from < jump) {
				jump = r.from
			}
		}
		if jump == 0 {
			return time.Time{}
		}
		// Skip straight to the last second before the next allowed year.
		t = time.Date(jump, time.January, 1, 0, 0, 0, 0, next.Location()).Add(-time.Second)
	}
}
