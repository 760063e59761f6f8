package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studysched/internal/eventbus"
	"studysched/internal/schedule"
	"studysched/internal/storage"
	logx "studysched/pkg/logx"
)

// Result is a participant's progress report on one instance. Nil times are
// left unchanged.
type Result struct {
	GUID       string
	StartedOn  *time.Time
	FinishedOn *time.Time
}

// FinishedEventID is the life-cycle event recorded when an activity is
// finished. Schedules can anchor on it.
func FinishedEventID(activityGUID string) string {
	return "activity:" + activityGUID + ":finished"
}

// ReportResult applies r to the participant's stored instance. Finishing an
// instance records FinishedEventID for its activity and publishes
// activity.finished.
func (s *Service) ReportResult(ctx context.Context, healthID string, r Result) (schedule.ScheduledActivity, error) {
	cur, err := s.deps.Activities.Get(ctx, healthID, r.GUID)
	if errors.Is(err, storage.ErrNotFound) {
		return schedule.ScheduledActivity{}, fmt.Errorf("%s: %w", r.GUID, ErrNoSuchActivity)
	}
	if err != nil {
		return schedule.ScheduledActivity{}, fmt.Errorf("load activity %s: %w", r.GUID, err)
	}

	next := cur
	if r.StartedOn != nil {
		next = next.WithStarted(*r.StartedOn)
	}
	if r.FinishedOn != nil {
		next = next.WithFinished(*r.FinishedOn)
	}
	if err := s.deps.Activities.Save(ctx, []schedule.ScheduledActivity{next}); err != nil {
		return schedule.ScheduledActivity{}, fmt.Errorf("save activity %s: %w", r.GUID, err)
	}

	data := eventbus.ActivityData{InstanceGUID: next.GUID, ActivityGUID: next.Activity.GUID}
	if r.StartedOn != nil && cur.StartedOn == nil {
		s.publish(eventbus.Event{Type: eventbus.TypeActivityStarted, Time: *next.StartedOn, HealthID: healthID, Data: data})
	}
	if r.FinishedOn != nil {
		id := FinishedEventID(next.Activity.GUID)
		if err := s.deps.Events.PutEvent(ctx, healthID, id, *next.FinishedOn); err != nil {
			return next, fmt.Errorf("record %s: %w", id, err)
		}
		data.EventID = id
		s.publish(eventbus.Event{Type: eventbus.TypeActivityFinished, Time: *next.FinishedOn, HealthID: healthID, Data: data})
		s.log.Debug("activity finished",
			logx.String("health_id", healthID),
			logx.String("guid", next.GUID),
			logx.String("event_id", id),
		)
	}
	return next, nil
}

// RecordEvent stores a participant life-cycle event such as enrollment.
// A later event with the same id replaces the earlier one.
func (s *Service) RecordEvent(ctx context.Context, healthID, eventID string, at time.Time) error {
	if strings.TrimSpace(healthID) == "" || strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("record event: health id and event id are required")
	}
	if at.IsZero() {
		at = s.deps.Now()
	}
	if err := s.deps.Events.PutEvent(ctx, healthID, eventID, at); err != nil {
		return fmt.Errorf("record %s: %w", eventID, err)
	}
	s.log.Debug("event recorded", logx.String("health_id", healthID), logx.String("event_id", eventID), logx.Time("at", at))
	return nil
}
