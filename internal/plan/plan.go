// Package plan holds schedule plans: a strategy plus the study and app
// versions it applies to.
package plan

import (
	"strings"
	"time"

	"studysched/internal/config"
	"studysched/internal/schedule"
	"studysched/internal/strategy"
	"studysched/internal/validation"
)

type Plan struct {
	GUID          string            `json:"guid"`
	StudyID       string            `json:"study_id"`
	Label         string            `json:"label"`
	MinAppVersion string            `json:"min_app_version,omitempty"`
	MaxAppVersion string            `json:"max_app_version,omitempty"`
	ModifiedOn    time.Time         `json:"modified_on,omitzero"`
	Strategy      strategy.Strategy `json:"strategy"`
}

// SelectSchedule returns the schedule the plan assigns to the participant.
func (p Plan) SelectSchedule(ctx schedule.Context) (schedule.Schedule, bool) {
	return p.Strategy.Select(p.GUID, ctx)
}

// AppliesTo reports whether a client falls in the plan's app version range.
// Clients without a version always qualify.
func (p Plan) AppliesTo(ci schedule.ClientInfo) bool {
	return strategy.InVersionRange(ci.AppVersion, p.MinAppVersion, p.MaxAppVersion)
}

// Validate checks the whole plan against the study and returns a
// *validation.Errors listing every problem, or nil.
func (p Plan) Validate(study config.StudyConfig) error {
	v := validation.New("plan")
	if strings.TrimSpace(p.GUID) == "" {
		v.Reject("guid", "is required")
	}
	if strings.TrimSpace(p.Label) == "" {
		v.Reject("label", "is required")
	}
	switch {
	case strings.TrimSpace(p.StudyID) == "":
		v.Reject("study_id", "is required")
	case study.ID != "" && p.StudyID != study.ID:
		v.Reject("study_id", "does not match study %q", study.ID)
	}
	strategy.ValidateVersionRange(v, p.MinAppVersion, p.MaxAppVersion)

	v.Push("strategy")
	p.Strategy.Validate(v, study.DataGroupSet())
	v.Pop()
	return v.Err()
}
