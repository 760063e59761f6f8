// Package reconcile merges freshly generated activity instances with the ones
// already persisted for a participant.
//
// Instances are matched by guid. A persisted instance always wins over its
// generated twin, persisted instances the rules no longer produce are retired
// unless the participant already started them, and new instances are saved.
// Running the merge again on its own output changes nothing.
package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"studysched/internal/schedule"
	"studysched/internal/survey"
)

type Options struct {
	// Now decides which instances are visible. Zero means time.Now().
	Now time.Time
	// Resolver pins floating survey references on instances about to be
	// saved. Nil leaves references as generated.
	Resolver survey.Resolver
}

type Result struct {
	ToSave   []schedule.ScheduledActivity
	ToDelete []schedule.ScheduledActivity
	// Visible is every retained instance in a visible status, ordered by
	// scheduled instant then guid.
	Visible []schedule.ScheduledActivity
}

// Reconcile computes what to save, what to delete and what to show. It does
// not touch storage.
func Reconcile(ctx context.Context, generated, persisted []schedule.ScheduledActivity, opts Options) (Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	pins := survey.NewCache(opts.Resolver)

	stored := make(map[string]schedule.ScheduledActivity, len(persisted))
	for _, p := range persisted {
		if _, dup := stored[p.GUID]; !dup {
			stored[p.GUID] = p
		}
	}

	var res Result
	retained := make([]schedule.ScheduledActivity, 0, len(generated)+len(persisted))
	produced := make(map[string]bool, len(generated))
	for _, g := range generated {
		if produced[g.GUID] {
			continue
		}
		produced[g.GUID] = true
		if p, ok := stored[g.GUID]; ok {
			retained = append(retained, p)
			continue
		}
		pinned, err := pin(ctx, pins, g)
		if err != nil {
			return Result{}, err
		}
		res.ToSave = append(res.ToSave, pinned)
		retained = append(retained, pinned)
	}

	seen := make(map[string]bool, len(persisted))
	for _, p := range persisted {
		if produced[p.GUID] || seen[p.GUID] {
			continue
		}
		seen[p.GUID] = true
		if p.Started() {
			retained = append(retained, p)
		} else {
			res.ToDelete = append(res.ToDelete, p)
		}
	}

	res.Visible = Visible(retained, now)
	return res, nil
}

func pin(ctx context.Context, pins *survey.Cache, a schedule.ScheduledActivity) (schedule.ScheduledActivity, error) {
	if a.Activity.Survey == nil || a.Activity.Survey.Pinned() {
		return a, nil
	}
	ref, err := pins.Pin(ctx, *a.Activity.Survey)
	if err != nil {
		return a, fmt.Errorf("pin survey for %s: %w", a.GUID, err)
	}
	return a.WithActivity(a.Activity.WithSurvey(ref)), nil
}

// Visible filters instances to the visible statuses at now and orders them by
// scheduled instant, breaking ties by guid.
func Visible(instances []schedule.ScheduledActivity, now time.Time) []schedule.ScheduledActivity {
	out := make([]schedule.ScheduledActivity, 0, len(instances))
	for _, a := range instances {
		if a.Status(now).Visible() {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b schedule.ScheduledActivity) int {
		if c := a.ScheduledOn().Compare(b.ScheduledOn()); c != 0 {
			return c
		}
		return cmp.Compare(a.GUID, b.GUID)
	})
	return out
}
