package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"studysched/internal/eventbus"
	"studysched/internal/plan"
	"studysched/internal/reconcile"
	"studysched/internal/schedule"
	"studysched/internal/storage"
	"studysched/internal/survey"
	logx "studysched/pkg/logx"
)

// EnrollmentSource supplies an enrollment date for participants whose
// enrollment event was never recorded, typically their consent date.
type EnrollmentSource interface {
	EnrolledOn(ctx context.Context, healthID string) (time.Time, bool, error)
}

type Deps struct {
	Plans      plan.Store
	Activities storage.ActivityStore
	Events     storage.EventStore
	// Surveys pins floating survey references before save. Optional.
	Surveys survey.Resolver
	// Enrollment is consulted when a participant has no enrollment event. Optional.
	Enrollment EnrollmentSource
	// Bus receives life-cycle events. Optional.
	Bus eventbus.Bus
	// Now is the service clock; nil means time.Now.
	Now func() time.Time
}

type Service struct {
	mu  sync.RWMutex
	cfg Config

	deps Deps
	log  logx.Logger
	warn *degradedWarner
}

func New(cfg Config, deps Deps, log logx.Logger) (*Service, error) {
	if deps.Plans == nil {
		return nil, ErrNoPlans
	}
	if deps.Activities == nil || deps.Events == nil {
		return nil, ErrNoStore
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:  cfg,
		deps: deps,
		log:  log,
		warn: newDegradedWarner(log, cfg.DegradedWarnEvery),
	}, nil
}

// Apply swaps in new limits. Requests already running keep the old ones.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()
	if old.DegradedWarnEvery != cfg.DegradedWarnEvery {
		s.warn.setEvery(cfg.DegradedWarnEvery)
	}
	s.log.Debug("scheduling config applied",
		logx.Int("max_window_days", cfg.MaxWindowDays),
		logx.Int("default_window_days", cfg.DefaultWindowDays),
		logx.Int("max_minimum_per_schedule", cfg.MaxMinimumPerSchedule),
	)
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// GetScheduledActivities computes the participant's schedule, persists the
// changes and returns the visible instances ordered by scheduled time.
func (s *Service) GetScheduledActivities(ctx context.Context, req Request) ([]schedule.ScheduledActivity, error) {
	cfg := s.config()
	if err := req.validate(cfg); err != nil {
		return nil, err
	}
	now := req.Now
	if now.IsZero() {
		now = s.deps.Now()
	}
	days := req.DaysAhead
	if days == 0 {
		days = cfg.DefaultWindowDays
	}
	log := s.log.With(logx.String("health_id", req.HealthID), logx.String("study_id", req.StudyID))

	events, err := s.deps.Events.EventMap(ctx, req.HealthID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	events = s.withEnrollment(ctx, req, events)

	sctx := schedule.NewContext(schedule.ContextOptions{
		StudyID:            req.StudyID,
		HealthID:           req.HealthID,
		ClientInfo:         req.ClientInfo,
		TimeZone:           req.TimeZone,
		Now:                now,
		WindowEnd:          windowEnd(now, req.TimeZone, days),
		MinimumPerSchedule: req.MinimumPerSchedule,
		DataGroups:         req.DataGroups,
		Events:             events,
		AccountCreatedOn:   req.AccountCreatedOn,
	})
	if err := sctx.Validate(); err != nil {
		return nil, err
	}

	generated, err := s.generate(ctx, sctx, log)
	if err != nil {
		return nil, err
	}

	persisted, err := s.deps.Activities.Persisted(ctx, req.HealthID, now)
	if err != nil {
		return nil, fmt.Errorf("load persisted activities: %w", err)
	}
	persisted, err = s.withHidden(ctx, req.HealthID, generated, persisted)
	if err != nil {
		return nil, err
	}

	res, err := reconcile.Reconcile(ctx, generated, persisted, reconcile.Options{Now: now, Resolver: s.deps.Surveys})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	var errs []error
	if len(res.ToSave) > 0 {
		if err := s.deps.Activities.Save(ctx, res.ToSave); err != nil {
			errs = append(errs, fmt.Errorf("save activities: %w", err))
		}
	}
	if len(res.ToDelete) > 0 {
		if err := s.deps.Activities.Delete(ctx, res.ToDelete); err != nil {
			errs = append(errs, fmt.Errorf("delete activities: %w", err))
		}
	}
	if len(errs) > 0 {
		log.Error("persisting reconciled activities failed", logx.Err(errors.Join(errs...)))
		return nil, errors.Join(errs...)
	}

	log.Debug("schedule reconciled",
		logx.Int("generated", len(generated)),
		logx.Int("persisted", len(persisted)),
		logx.Int("saved", len(res.ToSave)),
		logx.Int("deleted", len(res.ToDelete)),
		logx.Int("visible", len(res.Visible)),
	)
	s.publish(eventbus.Event{
		Type:     eventbus.TypeReconciled,
		Time:     now,
		HealthID: req.HealthID,
		Data:     eventbus.ReconciledData{Saved: len(res.ToSave), Deleted: len(res.ToDelete), Visible: len(res.Visible)},
	})
	return res.Visible, nil
}

// generate expands the schedule every applicable plan selects.
func (s *Service) generate(ctx context.Context, sctx schedule.Context, log logx.Logger) ([]schedule.ScheduledActivity, error) {
	plans, err := s.deps.Plans.Plans(ctx, sctx.ClientInfo(), sctx.StudyID())
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	var out []schedule.ScheduledActivity
	for _, p := range plans {
		sched, ok := p.SelectSchedule(sctx)
		if !ok {
			log.Trace("plan selected no schedule", logx.String("plan", p.GUID))
			continue
		}
		insts, err := sched.Expand(p.GUID, sctx)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.GUID, err)
		}
		out = append(out, insts...)
	}
	return out, nil
}

// withHidden adds the stored copies of generated instances that Persisted
// skipped because they are already hidden, so a finished instance is never
// regenerated as new.
func (s *Service) withHidden(ctx context.Context, healthID string, generated, persisted []schedule.ScheduledActivity) ([]schedule.ScheduledActivity, error) {
	known := make(map[string]bool, len(persisted))
	for _, p := range persisted {
		known[p.GUID] = true
	}
	var missing []string
	for _, g := range generated {
		if !known[g.GUID] {
			known[g.GUID] = true
			missing = append(missing, g.GUID)
		}
	}
	if len(missing) == 0 {
		return persisted, nil
	}
	hidden, err := s.deps.Activities.GetMany(ctx, healthID, missing)
	if err != nil {
		return nil, fmt.Errorf("load hidden activities: %w", err)
	}
	return append(persisted, hidden...), nil
}

// withEnrollment fills in a missing enrollment event from the fallback
// sources: the enrollment source first, then the account creation time. A
// missing enrollment is a degraded path and is always reported, whether or
// not a fallback was found.
func (s *Service) withEnrollment(ctx context.Context, req Request, events map[string]time.Time) map[string]time.Time {
	if _, ok := events[schedule.DefaultEventID]; ok {
		return events
	}
	var (
		at     time.Time
		source = "none"
		fields = []logx.Field{logx.String("health_id", req.HealthID)}
	)
	if s.deps.Enrollment != nil {
		got, ok, err := s.deps.Enrollment.EnrolledOn(ctx, req.HealthID)
		switch {
		case err != nil:
			fields = append(fields, logx.Err(err))
		case ok:
			at, source = got, "enrollment_source"
		}
	}
	if at.IsZero() && !req.AccountCreatedOn.IsZero() {
		at, source = req.AccountCreatedOn, "account_created_on"
	}
	fields = append(fields, logx.String("source", source))
	if at.IsZero() {
		s.warn.warn("enrollment event missing; no fallback available", fields...)
		return events
	}
	s.warn.warn("enrollment event missing; using fallback", append(fields, logx.Time("enrolled_on", at))...)
	if events == nil {
		events = map[string]time.Time{}
	}
	events[schedule.DefaultEventID] = at
	return events
}

func (s *Service) publish(e eventbus.Event) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(e)
	}
}

// degradedWarner rate-limits warnings about degraded paths and counts the
// ones it swallowed.
type degradedWarner struct {
	log        logx.Logger
	limiter    *rate.Limiter
	mu         sync.Mutex
	suppressed int
}

func newDegradedWarner(log logx.Logger, every time.Duration) *degradedWarner {
	return &degradedWarner{log: log, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

func (w *degradedWarner) setEvery(every time.Duration) {
	w.limiter.SetLimit(rate.Every(every))
}

func (w *degradedWarner) warn(msg string, fields ...logx.Field) {
	if !w.limiter.Allow() {
		w.mu.Lock()
		w.suppressed++
		w.mu.Unlock()
		return
	}
	w.mu.Lock()
	n := w.suppressed
	w.suppressed = 0
	w.mu.Unlock()
	if n > 0 {
		fields = append(fields, logx.Int("suppressed", n))
	}
	w.log.Warn(msg, fields...)
}
