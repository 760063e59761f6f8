package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is an ISO-8601 duration ("P1D", "PT12H", "P2W", "P1M").
//
// Date components are applied with calendar semantics in the time's own
// location, so adding P1D across a DST change keeps the wall-clock time.
type Period struct {
	Years  int
	Months int
	Weeks  int
	Days   int
	Clock  time.Duration
}

// DaysPeriod returns a Period of n calendar days.
func DaysPeriod(n int) Period { return Period{Days: n} }

// HoursPeriod returns a Period of n clock hours.
func HoursPeriod(n int) Period { return Period{Clock: time.Duration(n) * time.Hour} }

// ParsePeriod parses an ISO-8601 duration. Fractional values are only allowed
// for seconds.
func ParsePeriod(raw string) (Period, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Period{}, nil
	}
	if !strings.HasPrefix(s, "P") || len(s) == 1 {
		return Period{}, fmt.Errorf("invalid period %q (use ISO-8601 like 'P1D' or 'PT12H')", raw)
	}
	var p Period
	inTime := false
	seen := false
	num := ""
	for _, r := range s[1:] {
		switch {
		case r == 'T':
			if inTime || num != "" {
				return Period{}, fmt.Errorf("invalid period %q", raw)
			}
			inTime = true
			continue
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
			continue
		}
		if num == "" {
			return Period{}, fmt.Errorf("invalid period %q: missing number before %q", raw, r)
		}
		if !inTime {
			n, err := strconv.Atoi(num)
			if err != nil {
				return Period{}, fmt.Errorf("invalid period %q: %w", raw, err)
			}
			switch r {
			case 'Y':
				p.Years = n
			case 'M':
				p.Months = n
			case 'W':
				p.Weeks = n
			case 'D':
				p.Days = n
			default:
				return Period{}, fmt.Errorf("invalid period %q: unknown date unit %q", raw, r)
			}
		} else {
			switch r {
			case 'H', 'M':
				n, err := strconv.Atoi(num)
				if err != nil {
					return Period{}, fmt.Errorf("invalid period %q: %w", raw, err)
				}
				unit := time.Hour
				if r == 'M' {
					unit = time.Minute
				}
				p.Clock += time.Duration(n) * unit
			case 'S':
				f, err := strconv.ParseFloat(num, 64)
				if err != nil {
					return Period{}, fmt.Errorf("invalid period %q: %w", raw, err)
				}
				p.Clock += time.Duration(f * float64(time.Second))
			default:
				return Period{}, fmt.Errorf("invalid period %q: unknown time unit %q", raw, r)
			}
		}
		num = ""
		seen = true
	}
	if num != "" || !seen {
		return Period{}, fmt.Errorf("invalid period %q", raw)
	}
	return p, nil
}

// MustParsePeriod is ParsePeriod for literals known to be valid.
func MustParsePeriod(raw string) Period {
	p, err := ParsePeriod(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) IsZero() bool { return p == Period{} }

// AddTo returns t advanced by p.
func (p Period) AddTo(t time.Time) time.Time {
	if p.Years != 0 || p.Months != 0 || p.Weeks != 0 || p.Days != 0 {
		t = t.AddDate(p.Years, p.Months, p.Weeks*7+p.Days)
	}
	return t.Add(p.Clock)
}

// ShorterThanDay reports whether p is non-zero and spans less than one day.
func (p Period) ShorterThanDay() bool {
	if p.IsZero() {
		return false
	}
	return p.Years == 0 && p.Months == 0 && p.Weeks == 0 && p.Days == 0 && p.Clock < 24*time.Hour
}

// Negative reports whether any component is below zero.
func (p Period) Negative() bool {
	return p.Years < 0 || p.Months < 0 || p.Weeks < 0 || p.Days < 0 || p.Clock < 0
}

func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteString("P")
	writeUnit := func(n int, unit string) {
		if n != 0 {
			b.WriteString(strconv.Itoa(n))
			b.WriteString(unit)
		}
	}
	writeUnit(p.Years, "Y")
	writeUnit(p.Months, "M")
	writeUnit(p.Weeks, "W")
	writeUnit(p.Days, "D")
	if p.Clock != 0 {
		b.WriteString("T")
		rest := p.Clock
		h := rest / time.Hour
		rest -= h * time.Hour
		m := rest / time.Minute
		rest -= m * time.Minute
		writeUnit(int(h), "H")
		writeUnit(int(m), "M")
		if rest != 0 {
			b.WriteString(strconv.FormatFloat(rest.Seconds(), 'f', -1, 64))
			b.WriteString("S")
		}
	}
	return b.String()
}

func (p Period) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	v, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
