package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"studysched/internal/schedule"
	"studysched/internal/survey"
)

// build turns generator output into instances; bit i of started marks
// persisted slot i as started.
func build(slots []int, started uint32, kind string) []schedule.ScheduledActivity {
	out := make([]schedule.ScheduledActivity, 0, len(slots))
	for i, s := range slots {
		var a schedule.ScheduledActivity
		if s%3 == 0 {
			a = surveyInstance(fmt.Sprintf("act%d", s%4), "s1", s-8)
		} else {
			a = instance(fmt.Sprintf("act%d", s%4), s-8)
		}
		if kind == "persisted" && started&(1<<uint(i%32)) != 0 {
			a = a.WithStarted(now.Add(-time.Minute))
		}
		out = append(out, a)
	}
	return out
}

func applyResult(persisted []schedule.ScheduledActivity, res Result) []schedule.ScheduledActivity {
	deleted := map[string]bool{}
	for _, d := range res.ToDelete {
		deleted[d.GUID] = true
	}
	var out []schedule.ScheduledActivity
	for _, p := range persisted {
		if !deleted[p.GUID] {
			out = append(out, p)
		}
	}
	return append(out, res.ToSave...)
}

func TestReconcileConverges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	resolver := survey.NewCatalog(survey.Version{GUID: "s1", CreatedOn: now.Add(-48 * time.Hour), Published: true})

	properties.Property("second run is a no-op", prop.ForAll(
		func(gen0, pers0 []int, started uint32) bool {
			generated := build(gen0, 0, "generated")
			persisted := build(pers0, started, "persisted")
			opts := Options{Now: now, Resolver: resolver}

			first, err := Reconcile(context.Background(), generated, persisted, opts)
			if err != nil {
				return false
			}
			second, err := Reconcile(context.Background(), generated, applyResult(persisted, first), opts)
			if err != nil {
				return false
			}
			return len(second.ToSave) == 0 &&
				len(second.ToDelete) == 0 &&
				fmt.Sprint(guids(first.Visible)) == fmt.Sprint(guids(second.Visible))
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.UInt32(),
	))

	properties.Property("started instances are never deleted", prop.ForAll(
		func(gen0, pers0 []int, started uint32) bool {
			res, err := Reconcile(context.Background(), build(gen0, 0, "generated"), build(pers0, started, "persisted"), Options{Now: now, Resolver: resolver})
			if err != nil {
				return false
			}
			for _, d := range res.ToDelete {
				if d.Started() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
