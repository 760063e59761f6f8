package storage

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"

	"studysched/internal/schedule"
)

func encodeActivity(a schedule.ScheduledActivity) ([]byte, error) {
	return json.Marshal(a)
}

func decodeActivity(b []byte) (schedule.ScheduledActivity, error) {
	var a schedule.ScheduledActivity
	err := json.Unmarshal(b, &a)
	return a, err
}

func visibleAt(a schedule.ScheduledActivity, now time.Time) bool {
	return a.HidesAfter().After(now)
}

func sortByScheduledOn(acts []schedule.ScheduledActivity) {
	slices.SortFunc(acts, func(a, b schedule.ScheduledActivity) int {
		if c := a.ScheduledOn().Compare(b.ScheduledOn()); c != 0 {
			return c
		}
		return cmp.Compare(a.GUID, b.GUID)
	})
}
