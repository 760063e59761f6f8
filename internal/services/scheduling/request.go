package scheduling

import (
	"strings"
	"time"

	"studysched/internal/schedule"
	"studysched/internal/validation"
)

// Request asks for a participant's activities over the next DaysAhead days.
type Request struct {
	StudyID    string
	HealthID   string
	ClientInfo schedule.ClientInfo
	TimeZone   *time.Location
	// DaysAhead is the number of whole local days after today to cover.
	// Zero uses the configured default.
	DaysAhead          int
	MinimumPerSchedule int
	DataGroups         []string
	AccountCreatedOn   time.Time
	// Now overrides the service clock.
	Now time.Time
}

func (r Request) validate(cfg Config) error {
	v := validation.New("request")
	if strings.TrimSpace(r.StudyID) == "" {
		v.Reject("studyId", "is required")
	}
	if strings.TrimSpace(r.HealthID) == "" {
		v.Reject("healthId", "is required")
	}
	if r.TimeZone == nil {
		v.Reject("timeZone", "is required")
	}
	if r.DaysAhead < 0 || r.DaysAhead > cfg.MaxWindowDays {
		v.Reject("daysAhead", "must be between 0 and %d", cfg.MaxWindowDays)
	}
	if r.MinimumPerSchedule < 0 || r.MinimumPerSchedule > cfg.MaxMinimumPerSchedule {
		v.Reject("minimumPerSchedule", "must be between 0 and %d", cfg.MaxMinimumPerSchedule)
	}
	return v.Err()
}

// windowEnd is the last instant of the local day daysAhead days after now.
func windowEnd(now time.Time, loc *time.Location, daysAhead int) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+daysAhead+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}
