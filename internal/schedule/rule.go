package schedule

import (
	"fmt"
	"strings"
	"time"

	"studysched/internal/validation"
)

// DefaultEventID anchors schedules that do not name an event.
const DefaultEventID = "enrollment"

type ScheduleType string

const (
	Once      ScheduleType = "once"
	Recurring ScheduleType = "recurring"
)

func (t *ScheduleType) UnmarshalText(b []byte) error {
	switch v := ScheduleType(strings.ToLower(strings.TrimSpace(string(b)))); v {
	case Once, Recurring, "":
		*t = v
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", string(b))
	}
}

// Engine identifies the expansion algorithm a schedule runs.
type Engine int

const (
	EngineInterval Engine = iota
	EngineCron
)

func (e Engine) String() string {
	switch e {
	case EngineCron:
		return "cron"
	default:
		return "interval"
	}
}

// Schedule is a recurrence rule: how a set of activities repeats relative to
// a participant life-cycle event. Schedules are read-only inputs; nothing in
// this package mutates one.
type Schedule struct {
	Label          string       `json:"label,omitempty"`
	Type           ScheduleType `json:"type"`
	EventID        string       `json:"event_id,omitempty"`
	CronExpression string       `json:"cron,omitempty"`
	Interval       Period       `json:"interval,omitzero"`
	TimesOfDay     []TimeOfDay  `json:"times,omitempty"`
	Delay          Period       `json:"delay,omitzero"`
	WindowStart    *time.Time   `json:"starts_on,omitempty"`
	WindowEnd      *time.Time   `json:"ends_on,omitempty"`
	ExpiresAfter   Period       `json:"expires,omitzero"`
	Activities     []Activity   `json:"activities"`
}

// EventIDs returns the candidate anchor events in priority order.
func (s Schedule) EventIDs() []string {
	var out []string
	for _, id := range strings.Split(s.EventID, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return []string{DefaultEventID}
	}
	return out
}

// Engine is the single dispatch point between the two expansion algorithms.
func (s Schedule) Engine() Engine {
	if strings.TrimSpace(s.CronExpression) != "" {
		return EngineCron
	}
	return EngineInterval
}

// Validate records every problem with s under the current path of v.
func (s Schedule) Validate(v *validation.Errors) {
	switch s.Type {
	case Once, Recurring:
	case "":
		v.Reject("type", "is required")
	default:
		v.Reject("type", "must be once or recurring")
	}

	if len(s.Activities) == 0 {
		v.Reject("activities", "must have at least one activity")
	}
	for i, a := range s.Activities {
		v.PushIndex("activities", i)
		a.validate(v)
		v.Pop()
	}

	hasCron := strings.TrimSpace(s.CronExpression) != ""
	hasInterval := !s.Interval.IsZero()
	if hasCron && hasInterval {
		v.RejectHere("cannot have both a cron expression and an interval")
	}
	if hasCron {
		if _, err := ParseCron(s.CronExpression); err != nil {
			v.Reject("cron", "%v", err)
		}
		if len(s.TimesOfDay) > 0 {
			v.Reject("times", "cannot be combined with a cron expression")
		}
	}
	if s.Type == Recurring && !hasCron && !hasInterval {
		v.RejectHere("recurring schedules need a cron expression or an interval")
	}
	if hasInterval {
		if s.Interval.Negative() {
			v.Reject("interval", "must be positive")
		} else if s.Interval.Years == 0 && s.Interval.Months == 0 && s.Interval.Weeks == 0 && s.Interval.Days == 0 {
			v.Reject("interval", "must be at least one day")
		}
	}
	if s.Delay.Negative() {
		v.Reject("delay", "must not be negative")
	}
	if s.ExpiresAfter.Negative() {
		v.Reject("expires", "must not be negative")
	}
	if s.WindowStart != nil && s.WindowEnd != nil && s.WindowEnd.Before(*s.WindowStart) {
		v.Reject("ends_on", "must not be before starts_on")
	}
	seen := map[TimeOfDay]bool{}
	for i, t := range s.TimesOfDay {
		if seen[t] {
			v.Reject(fmt.Sprintf("times[%d]", i), "duplicates %s", t)
		}
		seen[t] = true
	}
}
