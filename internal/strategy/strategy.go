// Package strategy picks which recurrence rule applies to a participant.
//
// A Strategy is a tagged union over three variants:
//   - simple: one schedule, always selected
//   - ab_test: weighted groups; a participant lands in a group by a
//     deterministic draw from the plan and participant identifiers
//   - criteria: ordered (criteria, schedule) pairs; first match wins
//
// Selection is a pure function of (plan guid, context): repeated scheduling
// requests for the same participant always resolve to the same schedule.
package strategy

import (
	"fmt"
	"strings"

	"studysched/internal/schedule"
	"studysched/internal/validation"
)

type Kind string

const (
	KindSimple   Kind = "simple"
	KindABTest   Kind = "ab_test"
	KindCriteria Kind = "criteria"
)

func (k *Kind) UnmarshalText(b []byte) error {
	switch v := Kind(strings.ToLower(strings.TrimSpace(string(b)))); v {
	case KindSimple, KindABTest, KindCriteria:
		*k = v
		return nil
	case "weighted", "weighted_random":
		*k = KindABTest
		return nil
	default:
		return fmt.Errorf("unknown strategy type %q", string(b))
	}
}

// Group is one arm of an A/B test.
type Group struct {
	Percentage int               `json:"percentage"`
	Schedule   schedule.Schedule `json:"schedule"`
}

// CriteriaSchedule pairs a schedule with the participants it applies to.
type CriteriaSchedule struct {
	Criteria Criteria           `json:"criteria"`
	Schedule *schedule.Schedule `json:"schedule"`
}

// Strategy holds exactly the fields of its Kind; the others stay empty.
type Strategy struct {
	Kind     Kind               `json:"type"`
	Schedule *schedule.Schedule `json:"schedule,omitempty"`
	Groups   []Group            `json:"groups,omitempty"`
	Rules    []CriteriaSchedule `json:"rules,omitempty"`
}

func Simple(s schedule.Schedule) Strategy {
	return Strategy{Kind: KindSimple, Schedule: &s}
}

func ABTest(groups ...Group) Strategy {
	return Strategy{Kind: KindABTest, Groups: groups}
}

func ByCriteria(rules ...CriteriaSchedule) Strategy {
	return Strategy{Kind: KindCriteria, Rules: rules}
}

// Select returns the schedule for the participant in ctx, or ok=false when the
// strategy assigns none.
func (s Strategy) Select(planGUID string, ctx schedule.Context) (schedule.Schedule, bool) {
	switch s.Kind {
	case KindSimple:
		if s.Schedule == nil {
			return schedule.Schedule{}, false
		}
		return *s.Schedule, true
	case KindABTest:
		return s.selectGroup(planGUID, ctx.HealthID())
	case KindCriteria:
		for _, r := range s.Rules {
			if r.Schedule != nil && r.Criteria.Matches(ctx) {
				return *r.Schedule, true
			}
		}
		return schedule.Schedule{}, false
	default:
		return schedule.Schedule{}, false
	}
}

func (s Strategy) selectGroup(planGUID, healthID string) (schedule.Schedule, bool) {
	if len(s.Groups) == 0 || strings.TrimSpace(healthID) == "" {
		return schedule.Schedule{}, false
	}
	i := Bucket(planGUID, healthID)
	for _, g := range s.Groups {
		i -= g.Percentage
		if i <= 0 {
			return g.Schedule, true
		}
	}
	// Only reachable when percentages do not add up to 100.
	return schedule.Schedule{}, false
}

// AllSchedules enumerates every schedule the strategy could ever select,
// independent of any participant.
func (s Strategy) AllSchedules() ([]schedule.Schedule, error) {
	switch s.Kind {
	case KindSimple:
		if s.Schedule == nil {
			return nil, nil
		}
		return []schedule.Schedule{*s.Schedule}, nil
	case KindABTest:
		out := make([]schedule.Schedule, 0, len(s.Groups))
		for _, g := range s.Groups {
			out = append(out, g.Schedule)
		}
		return out, nil
	case KindCriteria:
		out := make([]schedule.Schedule, 0, len(s.Rules))
		for _, r := range s.Rules {
			if r.Schedule != nil {
				out = append(out, *r.Schedule)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", s.Kind)
	}
}

// Validate records every problem under the current path of v. dataGroups is
// the set of groups the study declares; criteria may only reference those.
func (s Strategy) Validate(v *validation.Errors, dataGroups map[string]bool) {
	switch s.Kind {
	case KindSimple:
		if s.Schedule == nil {
			v.Reject("schedule", "is required")
			return
		}
		v.Push("schedule")
		s.Schedule.Validate(v)
		v.Pop()
	case KindABTest:
		if len(s.Groups) == 0 {
			v.Reject("groups", "must have at least one group")
			return
		}
		total := 0
		for i, g := range s.Groups {
			v.PushIndex("groups", i)
			if g.Percentage < 0 || g.Percentage > 100 {
				v.Reject("percentage", "must be between 0 and 100")
			}
			v.Push("schedule")
			g.Schedule.Validate(v)
			v.Pop()
			v.Pop()
			total += g.Percentage
		}
		if total != 100 {
			v.Reject("groups", "groups must add up to 100%% (currently %d%%)", total)
		}
	case KindCriteria:
		if len(s.Rules) == 0 {
			v.Reject("rules", "must have at least one rule")
			return
		}
		for i, r := range s.Rules {
			v.PushIndex("rules", i)
			v.Push("criteria")
			r.Criteria.Validate(v, dataGroups)
			v.Pop()
			if r.Schedule == nil {
				v.Reject("schedule", "is required")
			} else {
				v.Push("schedule")
				r.Schedule.Validate(v)
				v.Pop()
			}
			v.Pop()
		}
	case "":
		v.Reject("type", "is required")
	default:
		v.Reject("type", "unknown strategy type %q", s.Kind)
	}
}
