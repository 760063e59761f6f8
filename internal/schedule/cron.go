package schedule

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
)

// runCron asks the cron schedule for each fire time strictly after the
// previous one, starting at the anchor. Each fire keeps its own wall-clock
// time; times of day do not apply.
func (x *expansion) runCron(anchor time.Time, sched cron.Schedule) {
	fire := sched.Next(anchor.In(x.loc))
	for !fire.IsZero() && x.shouldContinue(fire) {
		x.addAt(civil.DateTimeOf(fire.In(x.loc)))
		fire = sched.Next(fire)
	}
}
