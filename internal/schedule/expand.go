package schedule

import (
	"time"

	"cloud.google.com/go/civil"
)

// Expand turns s into concrete instances for the participant described by ctx.
//
// It returns no instances (and no error) when none of the schedule's anchor
// events has occurred yet. The only error is an unparseable cron expression,
// which plan validation normally rules out.
func (s Schedule) Expand(planGUID string, ctx Context) ([]ScheduledActivity, error) {
	anchor, ok := s.anchor(ctx)
	if !ok {
		return nil, nil
	}
	x := &expansion{rule: s, planGUID: planGUID, ctx: ctx, loc: ctx.TimeZone()}
	if name := x.loc.String(); name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			x.byName = l
		}
	}
	switch s.Engine() {
	case EngineCron:
		sched, err := ParseCron(s.CronExpression)
		if err != nil {
			return nil, err
		}
		x.runCron(anchor, sched)
	case EngineInterval:
		x.runInterval(anchor)
	}
	return x.trimmed(), nil
}

// anchor resolves the first occurred candidate event in the participant's
// zone, with the schedule delay applied.
func (s Schedule) anchor(ctx Context) (time.Time, bool) {
	for _, id := range s.EventIDs() {
		if at, ok := ctx.Event(id); ok {
			return s.Delay.AddTo(at.In(ctx.TimeZone())), true
		}
	}
	return time.Time{}, false
}

type expansion struct {
	rule     Schedule
	planGUID string
	ctx      Context
	loc      *time.Location
	byName   *time.Location
	out      []ScheduledActivity
}

// shouldContinue is the loop predicate shared by both engines: keep going
// while the fire time is inside the requested window or the per-schedule
// floor has not been reached. Without a floor, never go past the window.
func (x *expansion) shouldContinue(fire time.Time) bool {
	if x.rule.Type == Once && len(x.out) >= len(x.rule.Activities) {
		return false
	}
	if x.rule.WindowEnd != nil && fire.After(*x.rule.WindowEnd) {
		return false
	}
	end := x.ctx.WindowEnd()
	floor := x.ctx.MinimumPerSchedule()
	if fire.After(end) && floor == 0 {
		return false
	}
	return fire.Before(end) || len(x.out) < floor
}

func (x *expansion) inWindow(fire time.Time) bool {
	if x.rule.WindowStart != nil && fire.Before(*x.rule.WindowStart) {
		return false
	}
	if x.rule.WindowEnd != nil && fire.After(*x.rule.WindowEnd) {
		return false
	}
	if !x.rule.ExpiresAfter.IsZero() && !x.rule.ExpiresAfter.AddTo(fire).After(x.ctx.Now()) {
		return false
	}
	return true
}

// addAt emits one instance per activity at the local date-time, if the fire
// time passes window filtering.
func (x *expansion) addAt(local civil.DateTime) {
	fire := local.In(x.loc)
	if !x.inWindow(fire) {
		return
	}
	scheduledOn := civil.DateTimeOf(fire)
	var expiresOn *civil.DateTime
	if !x.rule.ExpiresAfter.IsZero() {
		e := civil.DateTimeOf(x.rule.ExpiresAfter.AddTo(fire))
		expiresOn = &e
	}
	zone, offset := zoneOf(x.loc, x.byName, fire)
	for _, act := range x.rule.Activities {
		x.out = append(x.out, ScheduledActivity{
			GUID:             InstanceGUID(act.GUID, scheduledOn),
			HealthID:         x.ctx.HealthID(),
			SchedulePlanGUID: x.planGUID,
			Activity:         act,
			LocalScheduledOn: scheduledOn,
			LocalExpiresOn:   expiresOn,
			TimeZone:         zone,
			UTCOffset:        offset,
		})
	}
}

// addForAllTimes expands one fire date into every time of day and returns
// the last time of day used.
//
// Without declared times the instance lands at midnight, unless the schedule
// expires in under a day: then it keeps the anchor's own time so a short-lived
// one-time activity is not moved to a midnight that has already expired.
func (x *expansion) addForAllTimes(day civil.Date, anchorTime civil.Time) civil.Time {
	if len(x.rule.TimesOfDay) == 0 {
		tod := civil.Time{}
		if x.rule.ExpiresAfter.ShorterThanDay() {
			tod = anchorTime
		}
		x.addAt(civil.DateTime{Date: day, Time: tod})
		return tod
	}
	for _, t := range x.rule.TimesOfDay {
		x.addAt(civil.DateTime{Date: day, Time: t.Time})
	}
	return x.rule.TimesOfDay[len(x.rule.TimesOfDay)-1].Time
}

func (x *expansion) trimmed() []ScheduledActivity {
	if x.rule.Type == Once && len(x.out) > len(x.rule.Activities) {
		return x.out[:len(x.rule.Activities)]
	}
	return x.out
}
