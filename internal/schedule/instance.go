package schedule

import (
	"time"

	"cloud.google.com/go/civil"
)

// Status is the participant-facing state of a ScheduledActivity at a given time.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusAvailable Status = "available"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusExpired   Status = "expired"
	StatusDeleted   Status = "deleted"
)

// Visible reports whether instances in this status are shown to participants.
func (s Status) Visible() bool {
	switch s {
	case StatusScheduled, StatusAvailable, StatusStarted:
		return true
	default:
		return false
	}
}

// HidesNever is the HidesAfter value of instances that have not been finished.
var HidesNever = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

const localDateTimeLayout = "2006-01-02T15:04:05.000"

// InstanceGUID derives the natural key of an instance: the activity guid plus
// the local scheduled date-time. Regenerating the same rule for the same
// participant yields the same key.
func InstanceGUID(activityGUID string, localScheduledOn civil.DateTime) string {
	return activityGUID + ":" + localScheduledOn.In(time.UTC).Format(localDateTimeLayout)
}

// ScheduledActivity is one concrete, timestamped occurrence of an activity for
// a participant. Values are treated as immutable; the With* methods return
// modified copies.
type ScheduledActivity struct {
	GUID             string          `json:"guid"`
	HealthID         string          `json:"health_id"`
	SchedulePlanGUID string          `json:"schedule_plan_guid,omitempty"`
	Activity         Activity        `json:"activity"`
	LocalScheduledOn civil.DateTime  `json:"local_scheduled_on"`
	LocalExpiresOn   *civil.DateTime `json:"local_expires_on,omitempty"`
	TimeZone         string          `json:"time_zone"`
	// UTCOffset is set, in seconds, when TimeZone cannot be loaded back by
	// name, as with fixed offset zones.
	UTCOffset  *int       `json:"utc_offset,omitempty"`
	StartedOn  *time.Time `json:"started_on,omitempty"`
	FinishedOn *time.Time `json:"finished_on,omitempty"`
}

// Location resolves the instance zone: the fixed offset when one is recorded,
// else TimeZone by name, else UTC.
func (a ScheduledActivity) Location() *time.Location {
	if a.UTCOffset != nil {
		return time.FixedZone(a.TimeZone, *a.UTCOffset)
	}
	if a.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// zoneOf records loc for an instance firing at fire. byName is loc loaded
// back from its name, nil when that failed; the offset is kept whenever the
// name alone would resolve to a different offset.
func zoneOf(loc, byName *time.Location, fire time.Time) (string, *int) {
	_, off := fire.In(loc).Zone()
	if byName != nil {
		if _, o := fire.In(byName).Zone(); o == off {
			return loc.String(), nil
		}
	}
	return loc.String(), &off
}

// ScheduledOn is the absolute instant the activity is scheduled for.
func (a ScheduledActivity) ScheduledOn() time.Time {
	return a.LocalScheduledOn.In(a.Location())
}

// ExpiresOn is the absolute expiration instant; ok is false when the activity
// never expires.
func (a ScheduledActivity) ExpiresOn() (time.Time, bool) {
	if a.LocalExpiresOn == nil {
		return time.Time{}, false
	}
	return a.LocalExpiresOn.In(a.Location()), true
}

// HidesAfter is the instant after which storage no longer returns the
// instance: never until it is finished (or dismissed), then the finish time.
func (a ScheduledActivity) HidesAfter() time.Time {
	if a.FinishedOn != nil {
		return *a.FinishedOn
	}
	return HidesNever
}

func (a ScheduledActivity) Started() bool { return a.StartedOn != nil }

// Status evaluates the instance at now.
func (a ScheduledActivity) Status(now time.Time) Status {
	switch {
	case a.FinishedOn != nil && a.StartedOn == nil:
		return StatusDeleted
	case a.FinishedOn != nil:
		return StatusFinished
	case a.StartedOn != nil:
		return StatusStarted
	}
	if exp, ok := a.ExpiresOn(); ok && !now.Before(exp) {
		return StatusExpired
	}
	if now.Before(a.ScheduledOn()) {
		return StatusScheduled
	}
	return StatusAvailable
}

func (a ScheduledActivity) WithStarted(at time.Time) ScheduledActivity {
	at = at.UTC()
	a.StartedOn = &at
	return a
}

func (a ScheduledActivity) WithFinished(at time.Time) ScheduledActivity {
	at = at.UTC()
	a.FinishedOn = &at
	return a
}

func (a ScheduledActivity) WithActivity(act Activity) ScheduledActivity {
	a.Activity = act
	return a
}
