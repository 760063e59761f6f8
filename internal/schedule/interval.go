package schedule

import (
	"time"

	"cloud.google.com/go/civil"
)

// runInterval fires on the anchor date and then every Interval after it.
//
// Before adding the interval the working time is reset to the last time of
// day used on the current date; adding the interval to the raw anchor would
// drift when a schedule has several times per day.
func (x *expansion) runInterval(anchor time.Time) {
	cur := anchor
	for x.shouldContinue(cur) {
		day := civil.DateOf(cur)
		last := x.addForAllTimes(day, civil.TimeOf(cur))
		if x.rule.Interval.IsZero() {
			return
		}
		cur = x.rule.Interval.AddTo(civil.DateTime{Date: day, Time: last}.In(x.loc))
	}
}
